package conversation

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prepdeck/prepdeck/internal/domain"
	"github.com/prepdeck/prepdeck/internal/journal"
	"github.com/prepdeck/prepdeck/internal/stream"
)

// fakeThreads is an in-memory backend.Threads for tests.
type fakeThreads struct {
	mu           sync.Mutex
	resolveCalls int
	appendCalls  []domain.Message
	appendErr    error
	hydrateMsgs  []domain.Message
	clearCalls   int
	nextID       int

	// resolveGate, when non-nil, blocks Resolve until released.
	resolveGate chan struct{}
	resolveErr  error
	resolveHist []domain.Message
}

func (f *fakeThreads) Resolve(ctx context.Context, subject string) (domain.ConversationID, []domain.Message, error) {
	f.mu.Lock()
	f.resolveCalls++
	gate := f.resolveGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		err := f.resolveErr
		f.resolveErr = nil
		return "", nil, err
	}
	f.nextID++
	return domain.ConversationID("conv-" + string(rune('0'+f.nextID))), f.resolveHist, nil
}

func (f *fakeThreads) Append(ctx context.Context, id domain.ConversationID, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appendCalls = append(f.appendCalls, msg)
	return nil
}

func (f *fakeThreads) Hydrate(ctx context.Context, id domain.ConversationID) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hydrateMsgs, nil
}

func (f *fakeThreads) Clear(ctx context.Context, subject string) (domain.ConversationID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	f.nextID++
	return domain.ConversationID("conv-" + string(rune('0'+f.nextID))), nil
}

func (f *fakeThreads) OpenStream(ctx context.Context, req stream.Request) (*http.Response, error) {
	return nil, errors.New("fakeThreads does not stream")
}

func (f *fakeThreads) ActorKey() string { return "anon:test" }

func (f *fakeThreads) resolveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveCalls
}

func (f *fakeThreads) appended() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.appendCalls...)
}

// captureJournal records events synchronously for assertions.
type captureJournal struct {
	mu     sync.Mutex
	events []journal.Event
}

func (c *captureJournal) Record(e journal.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureJournal) Close() error { return nil }

func (c *captureJournal) all() []journal.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]journal.Event(nil), c.events...)
}
