// Package feedback is the top-level facade of the streaming feedback engine.
// For each user action it resolves the conversation, opens a streaming
// exchange, and commits the resulting message pair to the conversation log,
// exposing live display state to the presentation layer.
package feedback

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prepdeck/prepdeck/internal/backend"
	"github.com/prepdeck/prepdeck/internal/conversation"
	"github.com/prepdeck/prepdeck/internal/domain"
	"github.com/prepdeck/prepdeck/internal/journal"
	"github.com/prepdeck/prepdeck/internal/stream"
)

// State is the orchestrator's lifecycle state for the bound subject.
type State int

const (
	// StateIdle means no exchange has started or the last one was reset.
	StateIdle State = iota
	// StateResolving means the conversation record is being resolved.
	StateResolving
	// StateStreaming means feedback frames are arriving.
	StateStreaming
	// StateSettled means the last exchange completed successfully.
	StateSettled
	// StateError means the last exchange failed; the error text is also
	// recorded in the conversation log.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "awaiting_resolution"
	case StateStreaming:
		return "streaming"
	case StateSettled:
		return "settled"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ErrExchangeInFlight rejects a submit/question/explanation issued while an
// exchange is already resolving or streaming.
var ErrExchangeInFlight = errors.New("feedback exchange already in progress")

var errEmptySubject = errors.New("subject is empty")

// Config configures an Orchestrator.
type Config struct {
	// Threads is the actor-bound conversation capability.
	Threads backend.Threads
	// Subject is the problem id this orchestrator's exchanges discuss.
	Subject string
	// Journal receives persistence failures; nil disables journaling.
	Journal journal.Journal
	// OnChange, when set, is invoked after every externally visible state
	// change (display text, category, lifecycle state). Called without
	// internal locks held; implementations must be fast or hand off.
	OnChange func()
	Logger   *slog.Logger
}

// Orchestrator drives streaming feedback exchanges for one subject.
type Orchestrator struct {
	threads    backend.Threads
	resolver   *conversation.Resolver
	log        *conversation.Log
	controller *stream.Controller
	logger     *slog.Logger
	subject    string
	onChange   func()

	mu          sync.Mutex
	state       State
	sessionID   string
	cancel      context.CancelFunc
	doneCh      chan struct{}
	displayText string
	category    domain.Category
	lastErr     *stream.Error
}

// New creates an orchestrator for one subject.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Threads == nil {
		return nil, errors.New("threads capability is required")
	}
	if cfg.Subject == "" {
		return nil, errEmptySubject
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	jrnl := cfg.Journal
	if jrnl == nil {
		jrnl, _ = journal.New(journal.Config{Enabled: false}, logger)
	}
	return &Orchestrator{
		threads:    cfg.Threads,
		resolver:   conversation.NewResolver(cfg.Threads, logger),
		log:        conversation.NewLog(cfg.Threads, jrnl, logger),
		controller: stream.NewController(cfg.Threads, logger),
		logger:     logger,
		subject:    cfg.Subject,
		onChange:   cfg.OnChange,
	}, nil
}

// Submit starts a fresh exchange for a submitted answer. The visible
// feedback thread is cleared first: a new answer starts a new exchange.
func (o *Orchestrator) Submit(ctx context.Context, content string) error {
	return o.start(ctx, domain.TypeAnswer, content)
}

// AskQuestion sends a follow-up question, extending the existing thread.
func (o *Orchestrator) AskQuestion(ctx context.Context, content string) error {
	return o.start(ctx, domain.TypeQuestion, content)
}

// RequestExplanation asks for an explanation, extending the existing thread.
func (o *Orchestrator) RequestExplanation(ctx context.Context, content string) error {
	return o.start(ctx, domain.TypeExplanation, content)
}

func (o *Orchestrator) start(ctx context.Context, kind domain.MessageType, content string) error {
	o.mu.Lock()
	if o.state == StateResolving || o.state == StateStreaming {
		o.mu.Unlock()
		return ErrExchangeInFlight
	}
	sessID := uuid.NewString()
	streamCtx, cancel := context.WithCancel(ctx)
	o.sessionID = sessID
	o.cancel = cancel
	o.doneCh = make(chan struct{})
	o.state = StateResolving
	o.lastErr = nil
	if kind == domain.TypeAnswer {
		o.displayText = ""
		o.category = domain.CategoryUnclassified
	}
	o.mu.Unlock()
	o.notify()

	if kind == domain.TypeAnswer {
		o.log.ClearLocal()
	}

	// The optimistic user message goes in before the stream opens, so
	// assistant output can never be observed without its prompt.
	userMsg := domain.NewMessage(domain.RoleUser, kind, content)
	o.log.Append(streamCtx, userMsg)

	convID, history, err := o.resolver.Resolve(streamCtx, o.subject)
	if err != nil {
		o.settleError(streamCtx, sessID, &stream.Error{
			Category:  stream.ErrorTransport,
			Message:   "Could not prepare the conversation. Please try again.",
			Retryable: true,
			Err:       err,
		})
		return err
	}
	o.mu.Lock()
	if o.sessionID != sessID {
		// Reset won while we were resolving; the abandoned exchange may
		// not touch the log or open a stream.
		o.mu.Unlock()
		cancel()
		return nil
	}
	o.state = StateStreaming
	o.mu.Unlock()
	o.notify()

	if kind == domain.TypeAnswer {
		// A fresh answer starts a fresh visible thread; server history is
		// not re-imported into the display.
		history = nil
	}
	o.log.Bind(streamCtx, convID, history)

	err = o.controller.Open(streamCtx, stream.Request{
		SessionID:      sessID,
		Subject:        o.subject,
		ConversationID: convID,
		Kind:           kind,
		Content:        content,
	}, stream.Callbacks{
		OnToken:    func(text string) { o.onToken(sessID, text) },
		OnCategory: func(c domain.Category) { o.onCategory(sessID, c) },
		OnDone:     func(final string) { o.onDone(streamCtx, sessID, final) },
		OnError:    func(serr *stream.Error) { o.settleError(streamCtx, sessID, serr) },
	})
	if err != nil {
		// The controller is still draining an abandoned exchange. Reject
		// the submission outright: undo the optimistic message and return
		// the state machine to idle, leaving no trace in the log.
		o.log.Remove(userMsg.ID)
		o.mu.Lock()
		var done chan struct{}
		if o.sessionID == sessID {
			o.sessionID = ""
			o.cancel = nil
			o.state = StateIdle
			done = o.doneCh
			o.doneCh = nil
		}
		o.mu.Unlock()
		cancel()
		if done != nil {
			close(done)
		}
		o.notify()
		return ErrExchangeInFlight
	}
	return nil
}

func (o *Orchestrator) onToken(sessID, text string) {
	o.mu.Lock()
	if o.sessionID != sessID || o.state != StateStreaming {
		o.mu.Unlock()
		return
	}
	o.displayText = text
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) onCategory(sessID string, c domain.Category) {
	o.mu.Lock()
	if o.sessionID != sessID || o.state != StateStreaming {
		o.mu.Unlock()
		return
	}
	o.category = c
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) onDone(ctx context.Context, sessID, final string) {
	o.mu.Lock()
	if o.sessionID != sessID {
		o.mu.Unlock()
		return
	}
	o.displayText = final
	o.state = StateSettled
	o.sessionID = ""
	cancel := o.cancel
	o.cancel = nil
	done := o.doneCh
	o.mu.Unlock()

	o.log.Append(ctx, domain.NewMessage(domain.RoleAssistant, domain.TypeFeedback, final))
	if cancel != nil {
		cancel()
	}
	o.notify()
	close(done)
}

// settleError is the single failure path: it records the error, makes it
// visible in the conversation log, and leaves the state machine in a state
// the user can act on. Stale sessions are fenced out.
func (o *Orchestrator) settleError(ctx context.Context, sessID string, serr *stream.Error) {
	o.mu.Lock()
	if o.sessionID != sessID {
		o.mu.Unlock()
		return
	}
	if serr.Partial != "" {
		o.displayText = serr.Partial
	}
	o.lastErr = serr
	o.state = StateError
	o.sessionID = ""
	cancel := o.cancel
	o.cancel = nil
	done := o.doneCh
	o.mu.Unlock()

	o.logger.Warn("feedback exchange failed",
		"subject", o.subject,
		"category", serr.Category,
		"error", serr.Error(),
	)
	// The failure stays visible in the conversation, not just in
	// transient UI state.
	o.log.Append(ctx, domain.NewMessage(domain.RoleAssistant, domain.TypeOther, serr.Message))
	if cancel != nil {
		cancel()
	}
	o.notify()
	close(done)
}

// Reset clears live display state, detaches any in-flight exchange, and
// replaces the conversation with a fresh empty one. Frames still arriving
// from the abandoned exchange are discarded by the session fence.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	done := o.doneCh
	o.doneCh = nil
	inFlight := o.state == StateResolving || o.state == StateStreaming
	o.sessionID = ""
	o.state = StateIdle
	o.displayText = ""
	o.category = domain.CategoryUnclassified
	o.lastErr = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if inFlight && done != nil {
		close(done)
	}
	o.log.Detach()
	o.notify()

	id, err := o.resolver.Clear(ctx, o.subject)
	if err != nil {
		// Lazy fallback: the next submit re-resolves from scratch.
		o.resolver.Invalidate(o.subject)
		return err
	}
	o.log.Bind(ctx, id, nil)
	return nil
}

// Wait blocks until the current exchange reaches a terminal state. It
// returns immediately when no exchange is in flight.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.doneCh
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// DisplayText returns the live feedback text accumulated so far. It is
// valid to read mid-stream.
func (o *Orchestrator) DisplayText() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.displayText
}

// Category returns the current feedback classification.
func (o *Orchestrator) Category() domain.Category {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.category
}

// LastError returns the terminal error of the last exchange, if any.
func (o *Orchestrator) LastError() *stream.Error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Messages returns the ordered conversation read-out.
func (o *Orchestrator) Messages() []domain.Message {
	return o.log.Messages()
}

// ConversationID returns the bound conversation id, or "" before the first
// resolution.
func (o *Orchestrator) ConversationID() domain.ConversationID {
	return o.log.ConversationID()
}

func (o *Orchestrator) notify() {
	if o.onChange != nil {
		o.onChange()
	}
}
