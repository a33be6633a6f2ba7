// Package stream drives one streaming feedback exchange against the
// feedback service: it submits the request, decodes the response body
// incrementally, and reports progress through callbacks.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prepdeck/prepdeck/internal/domain"
	"github.com/prepdeck/prepdeck/internal/protocol"
)

// ErrInFlight is returned by Open while another exchange is still streaming.
// Rapid double submissions are rejected instead of racing two streams.
var ErrInFlight = errors.New("a feedback stream is already open")

// Request describes one streaming feedback exchange.
type Request struct {
	// SessionID is the caller-minted identity token of this exchange. It is
	// sent with the request and lets the caller fence callbacks of an
	// exchange it has since abandoned.
	SessionID      string
	Subject        string
	ConversationID domain.ConversationID
	Kind           domain.MessageType
	Content        string
}

// Callbacks receive exchange progress. OnToken is invoked with the full
// display text accumulated so far, not just the new fragment. Exactly one
// of OnDone or OnError fires per exchange.
type Callbacks struct {
	OnToken    func(text string)
	OnCategory func(c domain.Category)
	OnDone     func(finalText string)
	OnError    func(serr *Error)
}

// Transport opens the streaming endpoint and returns the raw response.
// The controller owns status mapping and body decoding.
type Transport interface {
	OpenStream(ctx context.Context, req Request) (*http.Response, error)
}

// Controller runs streaming exchanges one at a time.
type Controller struct {
	transport Transport
	logger    *slog.Logger

	mu     sync.Mutex
	active bool
}

// NewController creates a controller. A nil logger falls back to slog.Default().
func NewController(transport Transport, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{transport: transport, logger: logger}
}

// Open starts the exchange and returns once it is admitted; frames are
// decoded on a background goroutine and delivered through cb. A second Open
// while one exchange is in flight returns ErrInFlight.
func (c *Controller) Open(ctx context.Context, req Request, cb Callbacks) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrInFlight
	}
	c.active = true
	c.mu.Unlock()

	go c.run(ctx, req, cb)
	return nil
}

func (c *Controller) run(ctx context.Context, req Request, cb Callbacks) {
	defer func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
	}()

	resp, err := c.transport.OpenStream(ctx, req)
	if err != nil {
		c.logger.Warn("feedback stream failed to open",
			"session_id", req.SessionID,
			"subject", req.Subject,
			"error", err,
		)
		c.emitError(cb, &Error{
			Category:  ErrorTransport,
			Message:   "Could not reach the feedback service. Check your connection and try again.",
			Retryable: true,
			Err:       err,
		})
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close stream body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := classifyStatus(resp.StatusCode)
		c.logger.Warn("feedback stream rejected",
			"session_id", req.SessionID,
			"status", resp.StatusCode,
			"category", serr.Category,
		)
		c.emitError(cb, serr)
		return
	}

	c.decode(ctx, req, resp.Body, cb)
}

// decode reads the body to completion, feeding the frame decoder and
// dispatching callbacks. It guarantees exactly one terminal callback.
func (c *Controller) decode(ctx context.Context, req Request, body io.Reader, cb Callbacks) {
	dec := protocol.NewDecoder(c.logger)
	text := ""
	buf := make([]byte, 4096)

	apply := func(frames []protocol.Frame) (terminal bool) {
		for _, f := range frames {
			switch f.Kind {
			case protocol.FrameToken:
				text += f.Text
				if cb.OnToken != nil {
					cb.OnToken(text)
				}
			case protocol.FrameSnapshot:
				// Snapshots are authoritative over accumulated tokens.
				text = f.Text
				if cb.OnToken != nil {
					cb.OnToken(text)
				}
			case protocol.FrameCategory:
				if cb.OnCategory != nil {
					cb.OnCategory(domain.ParseCategory(f.Text))
				}
			case protocol.FrameDone:
				c.logger.Info("feedback stream completed",
					"session_id", req.SessionID,
					"subject", req.Subject,
					"text_len", len(text),
				)
				if cb.OnDone != nil {
					cb.OnDone(text)
				}
				return true
			case protocol.FrameError:
				c.emitError(cb, &Error{
					Category:  ErrorStream,
					Message:   f.Text,
					Partial:   text,
					Retryable: true,
				})
				return true
			}
		}
		return false
	}

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if apply(dec.Feed(string(buf[:n]))) {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			if apply(dec.Flush()) {
				return
			}
			// The stream ended without a terminal frame: treat it as a
			// truncated exchange, keeping the partial text.
			c.emitError(cb, &Error{
				Category:  ErrorTransport,
				Message:   "The feedback stream ended unexpectedly. Please try again.",
				Partial:   text,
				Retryable: true,
			})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			c.logger.Warn("feedback stream read failed",
				"session_id", req.SessionID,
				"error", err,
			)
			c.emitError(cb, &Error{
				Category:  ErrorTransport,
				Message:   "The connection dropped while streaming feedback. Please try again.",
				Partial:   text,
				Retryable: true,
				Err:       err,
			})
			return
		}
	}
}

func (c *Controller) emitError(cb Callbacks, serr *Error) {
	if cb.OnError != nil {
		cb.OnError(serr)
	}
}
