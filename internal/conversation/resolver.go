// Package conversation maintains the client-side view of a conversation:
// single-flight resolution of the active conversation record and a
// chronologically ordered mirror of its messages.
package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prepdeck/prepdeck/internal/backend"
	"github.com/prepdeck/prepdeck/internal/domain"
)

// Resolver maps subjects to their single active conversation for one actor,
// creating conversations lazily on first use. Concurrent resolves for the
// same subject share one backend call: the pending entry is published to the
// cache before the network round-trip starts, so the race window between
// deciding to create and creation completing is covered by the cache.
type Resolver struct {
	threads backend.Threads
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*resolveEntry
}

type resolveEntry struct {
	done    chan struct{}
	id      domain.ConversationID
	history []domain.Message
	err     error
}

// NewResolver creates a resolver bound to one actor's threads.
func NewResolver(threads backend.Threads, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		threads: threads,
		logger:  logger,
		entries: make(map[string]*resolveEntry),
	}
}

// Resolve returns the active conversation id for subject, creating the
// conversation on first use. Callers arriving while a creation is in flight
// wait for it and receive the same id; a second creation is never issued.
func (r *Resolver) Resolve(ctx context.Context, subject string) (domain.ConversationID, []domain.Message, error) {
	r.mu.Lock()
	if e, ok := r.entries[subject]; ok {
		r.mu.Unlock()
		select {
		case <-e.done:
			return e.id, e.history, e.err
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
	e := &resolveEntry{done: make(chan struct{})}
	r.entries[subject] = e
	r.mu.Unlock()

	id, history, err := r.threads.Resolve(ctx, subject)
	e.id, e.history, e.err = id, history, err
	if err != nil {
		// A failed creation must not pin the subject to the failure; the
		// next resolve retries from scratch. Only this call's own entry is
		// dropped: a Clear during the round-trip may have installed a
		// fresh one that must survive.
		r.mu.Lock()
		if r.entries[subject] == e {
			delete(r.entries, subject)
		}
		r.mu.Unlock()
		r.logger.Warn("conversation resolution failed",
			"actor", r.threads.ActorKey(),
			"subject", subject,
			"error", err,
		)
	} else {
		r.logger.Info("conversation resolved",
			"actor", r.threads.ActorKey(),
			"subject", subject,
			"conversation_id", string(id),
			"history_len", len(history),
		)
	}
	close(e.done)
	return id, history, err
}

// Invalidate drops the cache entry for subject. The next Resolve call will
// create a fresh conversation; nothing is created eagerly.
func (r *Resolver) Invalidate(subject string) {
	r.mu.Lock()
	delete(r.entries, subject)
	r.mu.Unlock()
}

// Clear wipes the backend conversation for subject and caches the fresh
// replacement id the backend returns. On failure the cache entry is dropped
// so the next Resolve starts over.
func (r *Resolver) Clear(ctx context.Context, subject string) (domain.ConversationID, error) {
	id, err := r.threads.Clear(ctx, subject)
	if err != nil {
		r.Invalidate(subject)
		return "", err
	}

	e := &resolveEntry{done: make(chan struct{}), id: id}
	close(e.done)
	r.mu.Lock()
	r.entries[subject] = e
	r.mu.Unlock()

	r.logger.Info("conversation cleared",
		"actor", r.threads.ActorKey(),
		"subject", subject,
		"conversation_id", string(id),
	)
	return id, nil
}
