package conversation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prepdeck/prepdeck/internal/backend"
	"github.com/prepdeck/prepdeck/internal/domain"
	"github.com/prepdeck/prepdeck/internal/journal"
)

// Log is the authoritative in-memory mirror of one conversation's messages,
// merged from local optimistic writes and server-confirmed history. Read-out
// is always sorted ascending by timestamp; messages appended in the same
// instant keep their insertion order.
//
// Appends are optimistic: the message becomes visible locally first, then is
// persisted. A persistence failure never rolls the message back and never
// surfaces to the caller; it is journaled for later reconciliation.
type Log struct {
	threads backend.Threads
	journal journal.Journal
	logger  *slog.Logger

	mu             sync.Mutex
	conversationID domain.ConversationID
	entries        []logEntry
}

type logEntry struct {
	msg    domain.Message
	synced bool
}

// NewLog creates an empty, unbound log.
func NewLog(threads backend.Threads, jrnl journal.Journal, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{threads: threads, journal: jrnl, logger: logger}
}

// Bind attaches the log to a conversation, replacing local state with the
// server history. Messages appended optimistically before the conversation
// id existed are kept and persisted now. Rebinding to the currently bound
// conversation is a no-op.
func (l *Log) Bind(ctx context.Context, id domain.ConversationID, history []domain.Message) {
	l.mu.Lock()
	if l.conversationID == id && id != "" {
		l.mu.Unlock()
		return
	}

	var pending []domain.Message
	for _, e := range l.entries {
		if !e.synced {
			pending = append(pending, e.msg)
		}
	}

	l.conversationID = id
	l.entries = l.entries[:0]
	for _, m := range history {
		l.entries = append(l.entries, logEntry{msg: m, synced: true})
	}
	for _, m := range pending {
		l.entries = append(l.entries, logEntry{msg: m})
	}
	l.sortLocked()
	l.mu.Unlock()

	for _, m := range pending {
		l.persist(ctx, id, m)
	}
}

// Hydrate fetches the full persisted history for id and replaces the local
// log wholesale, establishing the baseline before further appends.
func (l *Log) Hydrate(ctx context.Context, id domain.ConversationID) error {
	history, err := l.threads.Hydrate(ctx, id)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.conversationID = id
	l.entries = l.entries[:0]
	for _, m := range history {
		l.entries = append(l.entries, logEntry{msg: m, synced: true})
	}
	l.sortLocked()
	l.mu.Unlock()
	return nil
}

// Append inserts msg into the ordered log and persists it. The local insert
// always succeeds; persistence failures are journaled, not returned, since
// the user's visible conversation wins over strict backend consistency.
func (l *Log) Append(ctx context.Context, msg domain.Message) {
	l.mu.Lock()
	id := l.conversationID
	l.entries = append(l.entries, logEntry{msg: msg})
	l.sortLocked()
	l.mu.Unlock()

	if id == "" {
		// Not bound yet; Bind will persist this message once the
		// conversation id is known.
		return
	}
	l.persist(ctx, id, msg)
}

func (l *Log) persist(ctx context.Context, id domain.ConversationID, msg domain.Message) {
	err := l.threads.Append(ctx, id, msg)

	l.mu.Lock()
	for i := range l.entries {
		if l.entries[i].msg.ID == msg.ID {
			l.entries[i].synced = err == nil
			break
		}
	}
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("message persistence failed, keeping local copy",
			"actor", l.threads.ActorKey(),
			"conversation_id", string(id),
			"message_id", msg.ID,
			"error", err,
		)
		l.journal.Record(journal.Event{
			Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
			ActorKey:       l.threads.ActorKey(),
			ConversationID: string(id),
			MessageID:      msg.ID,
			Role:           string(msg.Role),
			Type:           string(msg.Type),
			Content:        msg.Content,
			Reason:         err.Error(),
		})
	}
}

// Messages returns the ordered read-out of the log.
func (l *Log) Messages() []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Message, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.msg)
	}
	return out
}

// Len returns the number of messages in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// ConversationID returns the bound conversation id, or "" if unbound.
func (l *Log) ConversationID() domain.ConversationID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conversationID
}

// Remove deletes a message from the local log by id, reporting whether it
// was present. Used to undo an optimistic append when the exchange it
// belonged to was rejected before streaming began.
func (l *Log) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].msg.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// ClearLocal empties the visible thread while staying bound to the same
// conversation. Used when a fresh answer submission starts a new exchange.
func (l *Log) ClearLocal() {
	l.mu.Lock()
	l.entries = l.entries[:0]
	l.mu.Unlock()
}

// Detach empties the log and unbinds it from any conversation.
func (l *Log) Detach() {
	l.mu.Lock()
	l.conversationID = ""
	l.entries = l.entries[:0]
	l.mu.Unlock()
}

// sortLocked re-sorts entries by timestamp. The sort is stable, so messages
// with equal timestamps keep insertion order.
func (l *Log) sortLocked() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		return l.entries[i].msg.Timestamp.Before(l.entries[j].msg.Timestamp)
	})
}
