// Package identity provides anonymous actor identity for demo sessions.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// SessionStore persists the anonymous session id so the same identity
// survives process restarts, the way a browser client survives reloads.
type SessionStore interface {
	AnonSessionID(ctx context.Context) (string, error)
	SaveAnonSessionID(ctx context.Context, id string) error
}

// NewAnonID generates a fresh anonymous session id.
func NewAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidAnonID reports whether id has the expected shape.
func IsValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// LoadOrCreateAnon returns the stored anonymous session id, minting and
// persisting a fresh one when none exists or the stored value is corrupt.
func LoadOrCreateAnon(ctx context.Context, store SessionStore, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	stored, err := store.AnonSessionID(ctx)
	if err != nil {
		return "", fmt.Errorf("load anonymous session id: %w", err)
	}
	if IsValidAnonID(stored) {
		return stored, nil
	}
	if stored != "" {
		logger.Warn("stored anonymous session id is invalid, minting a new one")
	}

	id, err := NewAnonID()
	if err != nil {
		return "", err
	}
	if err := store.SaveAnonSessionID(ctx, id); err != nil {
		return "", fmt.Errorf("save anonymous session id: %w", err)
	}
	logger.Info("anonymous session id created", "session_id", id)
	return id, nil
}
