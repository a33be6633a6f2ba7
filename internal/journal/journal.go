// Package journal records backend persistence failures as NDJSON so a later
// reconciliation pass can replay messages the backend never confirmed.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one journaled persistence failure.
type Event struct {
	Timestamp      string `json:"ts"`
	ActorKey       string `json:"actor"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Role           string `json:"role"`
	Type           string `json:"type"`
	Content        string `json:"content"`
	Reason         string `json:"reason"`
}

// Journal accepts events without blocking the caller.
type Journal interface {
	Record(event Event)
	Close() error
}

// Config controls the journal.
type Config struct {
	Enabled   bool
	Path      string
	QueueSize int
}

// New creates a journal. When disabled it returns a no-op implementation.
func New(cfg Config, logger *slog.Logger) (Journal, error) {
	if !cfg.Enabled {
		return noopJournal{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	j := &fileJournal{
		file:   f,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go j.drain()
	return j, nil
}

type fileJournal struct {
	file   *os.File
	queue  chan Event
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Record enqueues an event. When the queue is full the event is dropped
// with a warning rather than blocking the streaming path.
func (j *fileJournal) Record(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case j.queue <- event:
	default:
		j.logger.Warn("journal queue full, event dropped",
			"conversation_id", event.ConversationID,
			"message_id", event.MessageID,
		)
	}
}

func (j *fileJournal) drain() {
	defer close(j.done)
	for event := range j.queue {
		line, err := json.Marshal(event)
		if err != nil {
			j.logger.Warn("failed to marshal journal event", "error", err)
			continue
		}
		if _, err := j.file.Write(append(line, '\n')); err != nil {
			j.logger.Warn("failed to write journal event", "error", err)
		}
	}
}

// Close flushes queued events and closes the file.
func (j *fileJournal) Close() error {
	j.closeOnce.Do(func() {
		close(j.queue)
		<-j.done
		j.closeErr = j.file.Close()
	})
	return j.closeErr
}

type noopJournal struct{}

func (noopJournal) Record(Event) {}
func (noopJournal) Close() error { return nil }

// Multi fans each event out to every journal. Close closes them all and
// reports the first failure.
func Multi(journals ...Journal) Journal {
	return multiJournal(journals)
}

type multiJournal []Journal

func (m multiJournal) Record(event Event) {
	for _, j := range m {
		j.Record(event)
	}
}

func (m multiJournal) Close() error {
	var firstErr error
	for _, j := range m {
		if err := j.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
