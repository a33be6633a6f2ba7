package feedback

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/prepdeck/prepdeck/internal/domain"
	"github.com/prepdeck/prepdeck/internal/stream"
)

// fakeThreads scripts the backend: canned resolution results and one SSE
// body per opened stream. The last body is reused once the script runs out.
type fakeThreads struct {
	mu sync.Mutex

	resolveCalls int
	resolveErr   error
	resolveGate  chan struct{} // when set, Resolve blocks until closed
	resolveID    domain.ConversationID
	history      []domain.Message

	appends   []domain.Message
	appendErr error

	clearCalls int
	clearErr   error

	streamBodies []string
	streamStatus int
	streamHold   chan struct{}
	holdThrough  bool // held body survives request cancellation
	opened       []stream.Request
}

func (f *fakeThreads) Resolve(ctx context.Context, subject string) (domain.ConversationID, []domain.Message, error) {
	f.mu.Lock()
	f.resolveCalls++
	gate := f.resolveGate
	id := f.resolveID
	resolveErr := f.resolveErr
	history := append([]domain.Message(nil), f.history...)
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if resolveErr != nil {
		return "", nil, resolveErr
	}
	if id == "" {
		id = "conv-main"
	}
	return id, history, nil
}

func (f *fakeThreads) Append(ctx context.Context, id domain.ConversationID, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appends = append(f.appends, msg)
	return nil
}

func (f *fakeThreads) Hydrate(ctx context.Context, id domain.ConversationID) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.history...), nil
}

func (f *fakeThreads) Clear(ctx context.Context, subject string) (domain.ConversationID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	if f.clearErr != nil {
		return "", f.clearErr
	}
	return "conv-fresh", nil
}

func (f *fakeThreads) OpenStream(ctx context.Context, req stream.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, req)
	body := ""
	if len(f.streamBodies) > 0 {
		body = f.streamBodies[0]
		if len(f.streamBodies) > 1 {
			f.streamBodies = f.streamBodies[1:]
		}
	}
	status := f.streamStatus
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body: &scriptedBody{
			ctx:         ctx,
			r:           strings.NewReader(body),
			hold:        f.streamHold,
			holdThrough: f.holdThrough,
		},
	}, nil
}

func (f *fakeThreads) ActorKey() string { return "user:test" }

func (f *fakeThreads) appended() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.appends...)
}

func (f *fakeThreads) openedRequests() []stream.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stream.Request(nil), f.opened...)
}

// scriptedBody serves the canned payload, then either reports EOF or, when
// hold is set, blocks until hold closes or the request context ends. With
// holdThrough the body outlives cancellation, like a transport slow to tear
// a connection down.
type scriptedBody struct {
	ctx         context.Context
	r           io.Reader
	hold        <-chan struct{}
	holdThrough bool
}

func (b *scriptedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if n > 0 || !errors.Is(err, io.EOF) {
		return n, err
	}
	if b.hold == nil {
		return 0, io.EOF
	}
	if b.holdThrough {
		<-b.hold
		return 0, io.EOF
	}
	select {
	case <-b.hold:
		return 0, io.EOF
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	}
}

func (b *scriptedBody) Close() error { return nil }
