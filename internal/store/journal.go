package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/prepdeck/prepdeck/internal/journal"
)

// queueJournal mirrors journaled persistence failures into the local store
// so a later sync pass can replay them against the backend.
type queueJournal struct {
	store  Store
	logger *slog.Logger
}

// NewQueueJournal adapts the store's unsynced queue to the journal interface.
func NewQueueJournal(st Store, logger *slog.Logger) journal.Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &queueJournal{store: st, logger: logger}
}

func (q *queueJournal) Record(event journal.Event) {
	ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg := UnsyncedMessage{
		ConversationID: event.ConversationID,
		MessageID:      event.MessageID,
		Role:           event.Role,
		Type:           event.Type,
		Content:        event.Content,
		Timestamp:      ts,
		FailedAt:       time.Now().UTC(),
		Reason:         event.Reason,
	}
	err = q.store.EnqueueUnsynced(ctx, msg)
	if isSQLiteConflict(err) {
		time.Sleep(50 * time.Millisecond)
		err = q.store.EnqueueUnsynced(ctx, msg)
	}
	if err != nil {
		q.logger.Warn("failed to queue unsynced message",
			"conversation_id", event.ConversationID,
			"message_id", event.MessageID,
			"error", err,
		)
	}
}

func (q *queueJournal) Close() error { return nil }
