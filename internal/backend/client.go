// Package backend talks to the conversation/feedback collaborator service
// over its fixed REST and streaming contract.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prepdeck/prepdeck/internal/domain"
	"github.com/prepdeck/prepdeck/internal/stream"
)

// Identity headers stamped onto every request. Exactly one of the two is
// set, depending on the actor kind.
const (
	UserHeaderName    = "X-Prepdeck-User-ID"
	SessionHeaderName = "X-Prepdeck-Session-ID"
	// StreamHeaderName carries the stream session identity token for tracing.
	StreamHeaderName = "X-Prepdeck-Stream-ID"
)

var (
	errEmptyBaseURL  = errors.New("backend base URL is empty")
	errStatus        = errors.New("unexpected backend status")
	errEmptyConvID   = errors.New("backend returned empty conversation id")
	errEmptySubject  = errors.New("subject is empty")
	errEmptyActorKey = errors.New("actor identity is empty")
)

// ClientConfig configures the backend client.
type ClientConfig struct {
	BaseURL string
	// Plan is the actor's subscription tier, forwarded with stream requests.
	Plan string
	// Timeout bounds non-streaming calls. Streaming requests only honor the
	// caller's context, never a fixed timeout.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the HTTP client for the collaborator contract.
type Client struct {
	baseURL string
	plan    string
	timeout time.Duration
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient validates the configuration and builds a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errEmptyBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse backend base URL: %w", err)
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		plan:    cfg.Plan,
		timeout: timeout,
		httpc:   httpc,
		logger:  logger,
	}, nil
}

// Wire types for the collaborator contract.

type conversationEnvelope struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []wireMessage `json:"messages"`
}

type wireMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func toWire(m domain.Message) wireMessage {
	return wireMessage{
		ID:        m.ID,
		Role:      string(m.Role),
		Type:      string(m.Type),
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func fromWire(w wireMessage) domain.Message {
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		ts = time.Time{}
	}
	return domain.Message{
		ID:        w.ID,
		Role:      domain.Role(w.Role),
		Type:      domain.MessageType(w.Type),
		Content:   w.Content,
		Timestamp: ts,
	}
}

func fromWireAll(ws []wireMessage) []domain.Message {
	if len(ws) == 0 {
		return nil
	}
	msgs := make([]domain.Message, 0, len(ws))
	for _, w := range ws {
		msgs = append(msgs, fromWire(w))
	}
	return msgs
}

// doJSON issues a JSON request, stamps the actor identity, and decodes the
// response into out (when out is non-nil).
func (c *Client) doJSON(ctx context.Context, actor Actor, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	actor.stamp(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %d", errStatus, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func (c *Client) resolve(ctx context.Context, actor Actor, subject string) (domain.ConversationID, []domain.Message, error) {
	if subject == "" {
		return "", nil, errEmptySubject
	}
	var env conversationEnvelope
	body := map[string]string{"subject": subject}
	if err := c.doJSON(ctx, actor, http.MethodPost, "/api/conversations/resolve", body, &env); err != nil {
		return "", nil, err
	}
	if env.ConversationID == "" {
		return "", nil, errEmptyConvID
	}
	return domain.ConversationID(env.ConversationID), fromWireAll(env.Messages), nil
}

func (c *Client) appendMessage(ctx context.Context, actor Actor, id domain.ConversationID, msg domain.Message) error {
	path := "/api/conversations/" + url.PathEscape(string(id)) + "/messages"
	return c.doJSON(ctx, actor, http.MethodPost, path, toWire(msg), nil)
}

func (c *Client) hydrate(ctx context.Context, actor Actor, id domain.ConversationID) ([]domain.Message, error) {
	var env conversationEnvelope
	path := "/api/conversations/" + url.PathEscape(string(id))
	if err := c.doJSON(ctx, actor, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return fromWireAll(env.Messages), nil
}

func (c *Client) clear(ctx context.Context, actor Actor, subject string) (domain.ConversationID, error) {
	if subject == "" {
		return "", errEmptySubject
	}
	var env conversationEnvelope
	body := map[string]string{"subject": subject}
	if err := c.doJSON(ctx, actor, http.MethodPost, "/api/conversations/clear", body, &env); err != nil {
		return "", err
	}
	if env.ConversationID == "" {
		return "", errEmptyConvID
	}
	return domain.ConversationID(env.ConversationID), nil
}

// openStream issues the streaming feedback request. The response is handed
// back raw: status mapping and body decoding belong to the stream controller.
func (c *Client) openStream(ctx context.Context, actor Actor, req stream.Request) (*http.Response, error) {
	payload, err := json.Marshal(map[string]string{
		"subject":         req.Subject,
		"conversation_id": string(req.ConversationID),
		"kind":            string(req.Kind),
		"content":         req.Content,
		"plan":            c.plan,
	})
	if err != nil {
		return nil, fmt.Errorf("encode stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/feedback/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.SessionID != "" {
		httpReq.Header.Set(StreamHeaderName, req.SessionID)
	}
	actor.stamp(httpReq)

	return c.httpc.Do(httpReq)
}
