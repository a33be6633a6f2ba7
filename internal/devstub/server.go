// Package devstub is an in-memory implementation of the collaborator
// contract, used for local development and integration tests. It serves the
// conversation routes and a scripted feedback stream behind the same REST
// surface the real service exposes.
package devstub

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/prepdeck/prepdeck/internal/backend"
	"github.com/prepdeck/prepdeck/internal/middleware"
)

// Reply scripts one streamed feedback response.
type Reply struct {
	// Chunks are streamed as individual token frames.
	Chunks []string
	// Category, when non-empty, is emitted as a category frame before done.
	Category string
}

// Options configures the stub server.
type Options struct {
	// Respond produces the streamed reply for a feedback request. Nil uses
	// a canned echo responder.
	Respond func(kind, content string) Reply
	// TokenDelay spaces out token frames to make streaming visible.
	TokenDelay time.Duration
	Logger     *slog.Logger
}

// Server holds all conversations in memory, keyed by (actor, subject).
type Server struct {
	respond    func(kind, content string) Reply
	tokenDelay time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	convs map[string]*conversationState // actor key + "\x00" + subject
	byID  map[string]*conversationState
}

type conversationState struct {
	id     string
	msgs   []storedMessage
	seen   map[string]bool // message ids, for idempotent appends
	actor  string
	subjct string
}

type storedMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewServer creates the stub with empty state.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	respond := opts.Respond
	if respond == nil {
		respond = defaultRespond
	}
	return &Server{
		respond:    respond,
		tokenDelay: opts.TokenDelay,
		logger:     logger,
		convs:      make(map[string]*conversationState),
		byID:       make(map[string]*conversationState),
	}
}

func defaultRespond(kind, content string) Reply {
	switch kind {
	case "answer":
		return Reply{
			Chunks:   []string{"Thanks. ", "Your answer covers the main idea, ", "but walk through one edge case."},
			Category: "weakly_right",
		}
	case "question":
		return Reply{Chunks: []string{"Good question. ", "Think about what dominates the runtime."}}
	default:
		return Reply{Chunks: []string{"Here is another way to look at it: ", "start from the invariant."}}
	}
}

// Router builds the chi router serving the collaborator contract.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	r.Post("/api/conversations/resolve", s.handleResolve)
	r.Post("/api/conversations/clear", s.handleClear)
	r.Get("/api/conversations/{id}", s.handleHydrate)
	r.Post("/api/conversations/{id}/messages", s.handleAppend)
	r.Post("/api/feedback/stream", s.handleStream)
	return r
}

// actorKey extracts the caller identity from the contract headers.
func actorKey(r *http.Request) string {
	if userID := r.Header.Get(backend.UserHeaderName); userID != "" {
		return "user:" + userID
	}
	if sessionID := r.Header.Get(backend.SessionHeaderName); sessionID != "" {
		return "anon:" + sessionID
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	actor := actorKey(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "missing identity header")
		return
	}
	var req struct {
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Subject) == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	s.mu.Lock()
	conv := s.lookupOrCreateLocked(actor, req.Subject)
	resp := s.envelopeLocked(conv)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	actor := actorKey(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "missing identity header")
		return
	}
	var req struct {
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Subject) == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	s.mu.Lock()
	key := actor + "\x00" + req.Subject
	if old, ok := s.convs[key]; ok {
		delete(s.byID, old.id)
	}
	delete(s.convs, key)
	conv := s.lookupOrCreateLocked(actor, req.Subject)
	resp := s.envelopeLocked(conv)
	s.mu.Unlock()

	s.logger.Info("conversation cleared", "actor", actor, "subject", req.Subject, "conversation_id", resp.ConversationID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHydrate(w http.ResponseWriter, r *http.Request) {
	actor := actorKey(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "missing identity header")
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	conv, ok := s.byID[id]
	if ok && conv.actor != actor {
		ok = false
	}
	var resp envelope
	if ok {
		resp = s.envelopeLocked(conv)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	actor := actorKey(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "missing identity header")
		return
	}
	id := chi.URLParam(r, "id")
	var msg storedMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.ID == "" {
		writeError(w, http.StatusBadRequest, "message id is required")
		return
	}

	s.mu.Lock()
	conv, ok := s.byID[id]
	if ok && conv.actor != actor {
		ok = false
	}
	duplicate := false
	if ok {
		if conv.seen[msg.ID] {
			duplicate = true
		} else {
			conv.seen[msg.ID] = true
			conv.msgs = append(conv.msgs, msg)
		}
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if duplicate {
		// Retried append; already stored.
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	actor := actorKey(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "missing identity header")
		return
	}
	var req struct {
		Subject        string `json:"subject"`
		ConversationID string `json:"conversation_id"`
		Kind           string `json:"kind"`
		Content        string `json:"content"`
		Plan           string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	reply := s.respond(req.Kind, req.Content)
	s.logger.Info("streaming feedback",
		"actor", actor,
		"subject", req.Subject,
		"kind", req.Kind,
		"stream_id", r.Header.Get(backend.StreamHeaderName),
		"chunks", len(reply.Chunks),
	)

	for _, chunk := range reply.Chunks {
		if s.tokenDelay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.tokenDelay):
			}
		}
		if err := writeToken(w, chunk); err != nil {
			s.logger.Warn("failed to write token frame", "error", err)
			return
		}
		flusher.Flush()
	}
	if reply.Category != "" {
		if err := writeSSE(w, "category", reply.Category); err != nil {
			s.logger.Warn("failed to write category frame", "error", err)
			return
		}
		flusher.Flush()
	}
	if err := writeSSE(w, "done", ""); err != nil {
		s.logger.Warn("failed to write done frame", "error", err)
		return
	}
	flusher.Flush()
}

func (s *Server) lookupOrCreateLocked(actor, subject string) *conversationState {
	key := actor + "\x00" + subject
	if conv, ok := s.convs[key]; ok {
		return conv
	}
	conv := &conversationState{
		id:     "conv_" + uuid.NewString(),
		seen:   make(map[string]bool),
		actor:  actor,
		subjct: subject,
	}
	s.convs[key] = conv
	s.byID[conv.id] = conv
	return conv
}

type envelope struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []storedMessage `json:"messages"`
}

func (s *Server) envelopeLocked(conv *conversationState) envelope {
	return envelope{
		ConversationID: conv.id,
		Messages:       append([]storedMessage(nil), conv.msgs...),
	}
}

func writeToken(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", text)
	return err
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
