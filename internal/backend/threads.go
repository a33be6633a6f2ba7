package backend

import (
	"context"
	"net/http"

	"github.com/prepdeck/prepdeck/internal/domain"
	"github.com/prepdeck/prepdeck/internal/stream"
)

// Actor is the identity a conversation belongs to: an authenticated user or
// an anonymous session. Both stamp their identity onto outbound requests;
// nothing above this package branches on the actor kind.
type Actor interface {
	// Key is the actor component of the (actor, subject) conversation key.
	Key() string
	stamp(req *http.Request)
}

// UserActor identifies an authenticated user by their stable user id.
type UserActor struct {
	UserID string
}

func (a UserActor) Key() string { return "user:" + a.UserID }

func (a UserActor) stamp(req *http.Request) {
	req.Header.Set(UserHeaderName, a.UserID)
}

// AnonActor identifies an anonymous demo session by a locally generated,
// durably stored session id.
type AnonActor struct {
	SessionID string
}

func (a AnonActor) Key() string { return "anon:" + a.SessionID }

func (a AnonActor) stamp(req *http.Request) {
	req.Header.Set(SessionHeaderName, a.SessionID)
}

// Threads is the actor-scoped capability over conversations: resolve,
// append, hydrate, and clear, plus opening the feedback stream. One
// implementation is bound per actor at construction.
type Threads interface {
	stream.Transport

	// Resolve returns the active conversation for subject, creating it on
	// first use. Pre-existing conversations come back with their history.
	Resolve(ctx context.Context, subject string) (domain.ConversationID, []domain.Message, error)

	// Append persists one message to a conversation.
	Append(ctx context.Context, id domain.ConversationID, msg domain.Message) error

	// Hydrate fetches the full persisted history of a conversation.
	Hydrate(ctx context.Context, id domain.ConversationID) ([]domain.Message, error)

	// Clear wipes the conversation for subject and returns the fresh
	// replacement conversation id.
	Clear(ctx context.Context, subject string) (domain.ConversationID, error)

	// ActorKey identifies the bound actor.
	ActorKey() string
}

type actorThreads struct {
	client *Client
	actor  Actor
}

// NewUserThreads binds the client to an authenticated user.
func NewUserThreads(client *Client, userID string) (Threads, error) {
	if userID == "" {
		return nil, errEmptyActorKey
	}
	return &actorThreads{client: client, actor: UserActor{UserID: userID}}, nil
}

// NewAnonThreads binds the client to an anonymous demo session.
func NewAnonThreads(client *Client, sessionID string) (Threads, error) {
	if sessionID == "" {
		return nil, errEmptyActorKey
	}
	return &actorThreads{client: client, actor: AnonActor{SessionID: sessionID}}, nil
}

func (t *actorThreads) Resolve(ctx context.Context, subject string) (domain.ConversationID, []domain.Message, error) {
	return t.client.resolve(ctx, t.actor, subject)
}

func (t *actorThreads) Append(ctx context.Context, id domain.ConversationID, msg domain.Message) error {
	return t.client.appendMessage(ctx, t.actor, id, msg)
}

func (t *actorThreads) Hydrate(ctx context.Context, id domain.ConversationID) ([]domain.Message, error) {
	return t.client.hydrate(ctx, t.actor, id)
}

func (t *actorThreads) Clear(ctx context.Context, subject string) (domain.ConversationID, error) {
	return t.client.clear(ctx, t.actor, subject)
}

func (t *actorThreads) OpenStream(ctx context.Context, req stream.Request) (*http.Response, error) {
	return t.client.openStream(ctx, t.actor, req)
}

func (t *actorThreads) ActorKey() string { return t.actor.Key() }
