// Package store provides local client-side persistence: the anonymous
// session identity and a queue of messages whose backend append failed.
package store

import (
	"context"
	"time"
)

// UnsyncedMessage is a locally-visible message the backend never confirmed.
// It stays queued until a reconciliation pass replays or discards it.
type UnsyncedMessage struct {
	ID             int64
	ConversationID string
	MessageID      string
	Role           string
	Type           string
	Content        string
	Timestamp      time.Time
	FailedAt       time.Time
	Reason         string
}

// Store is the local persistence interface.
type Store interface {
	// AnonSessionID returns the stored anonymous session id, or "" if none.
	AnonSessionID(ctx context.Context) (string, error)

	// SaveAnonSessionID stores the anonymous session id, replacing any
	// previous value.
	SaveAnonSessionID(ctx context.Context, id string) error

	// EnqueueUnsynced records a message whose backend append failed.
	EnqueueUnsynced(ctx context.Context, msg UnsyncedMessage) error

	// UnsyncedMessages lists queued messages, oldest first, up to limit.
	UnsyncedMessages(ctx context.Context, limit int) ([]UnsyncedMessage, error)

	// DeleteUnsynced removes a queued message after reconciliation.
	DeleteUnsynced(ctx context.Context, id int64) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close closes the store.
	Close() error
}
