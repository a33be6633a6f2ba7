package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed store at dbPath, creating parent
// directories and the schema as needed.
func NewSQLite(dbPath string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL keeps concurrent reads cheap while the journal queue writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS client_identity (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		anon_session_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS unsynced_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		role TEXT NOT NULL,
		msg_type TEXT NOT NULL,
		content TEXT NOT NULL,
		ts INTEGER NOT NULL,
		failed_at INTEGER NOT NULL,
		reason TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_unsynced_failed_at ON unsynced_messages(failed_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AnonSessionID returns the stored anonymous session id, or "" if none.
func (s *SQLiteStore) AnonSessionID(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT anon_session_id FROM client_identity WHERE id = 1`)
	var id string
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scan anonymous session id: %w", err)
	}
	return id, nil
}

// SaveAnonSessionID stores the anonymous session id.
func (s *SQLiteStore) SaveAnonSessionID(ctx context.Context, id string) error {
	query := `
		INSERT INTO client_identity (id, anon_session_id, created_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET anon_session_id = excluded.anon_session_id`
	if _, err := s.db.ExecContext(ctx, query, id, time.Now().Unix()); err != nil {
		return fmt.Errorf("save anonymous session id: %w", err)
	}
	return nil
}

// EnqueueUnsynced records a message whose backend append failed.
func (s *SQLiteStore) EnqueueUnsynced(ctx context.Context, msg UnsyncedMessage) error {
	query := `
		INSERT INTO unsynced_messages
			(conversation_id, message_id, role, msg_type, content, ts, failed_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		msg.ConversationID, msg.MessageID, msg.Role, msg.Type, msg.Content,
		msg.Timestamp.UnixNano(), msg.FailedAt.Unix(), msg.Reason,
	)
	if err != nil {
		return fmt.Errorf("enqueue unsynced message: %w", err)
	}
	return nil
}

// UnsyncedMessages lists queued messages, oldest first.
func (s *SQLiteStore) UnsyncedMessages(ctx context.Context, limit int) ([]UnsyncedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, conversation_id, message_id, role, msg_type, content, ts, failed_at, reason
		FROM unsynced_messages ORDER BY failed_at ASC, id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsynced messages: %w", err)
	}
	defer rows.Close()

	var msgs []UnsyncedMessage
	for rows.Next() {
		var m UnsyncedMessage
		var ts, failedAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MessageID, &m.Role, &m.Type, &m.Content, &ts, &failedAt, &m.Reason); err != nil {
			return nil, fmt.Errorf("scan unsynced message: %w", err)
		}
		m.Timestamp = time.Unix(0, ts)
		m.FailedAt = time.Unix(failedAt, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unsynced messages: %w", err)
	}
	return msgs, nil
}

// DeleteUnsynced removes a queued message.
func (s *SQLiteStore) DeleteUnsynced(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM unsynced_messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete unsynced message: %w", err)
	}
	return nil
}
