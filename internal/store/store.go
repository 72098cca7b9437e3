// Package store provides a SQLite-backed store for conversation history and
// per-query metrics. Conversations are keyed by session so a client can hold
// several independent threads; metrics feed the query statistics endpoint.
// Everything is persisted across server restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a message sent by the human operator.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model.
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	// Role is the author of the message.
	Role Role
	// Content is the text of the message.
	Content string
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time
}

// QueryRecord captures one answered question for the metrics endpoint.
type QueryRecord struct {
	// Question is the raw user question.
	Question string
	// NumSources is how many context chunks retrieval supplied.
	NumSources int
	// LatencyMS is the end-to-end answer time in milliseconds.
	LatencyMS int64
	// Success reports whether generation completed.
	Success bool
	// CreatedAt is when the query was recorded.
	CreatedAt time.Time
}

// QueryStats aggregates the recorded queries.
type QueryStats struct {
	// TotalQueries is the number of recorded queries.
	TotalQueries int64 `json:"total_queries"`
	// SuccessRate is the fraction of successful queries, 0..1.
	SuccessRate float64 `json:"success_rate"`
	// AvgLatencyMS is the mean end-to-end latency in milliseconds.
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	// AvgSources is the mean number of context chunks per query.
	AvgSources float64 `json:"avg_sources"`
}

// ConversationStore persists and retrieves conversation history keyed by
// session ID. Implementations must be safe for concurrent use.
type ConversationStore interface {
	// Append persists a single message for the given session.
	Append(ctx context.Context, sessionID string, role Role, content string) error
	// Recent returns the most recent n messages for the session, ordered
	// oldest-first so they can be replayed into the prompt directly.
	// If fewer than n messages exist, all are returned.
	Recent(ctx context.Context, sessionID string, n int) ([]Message, error)
	// Close releases any resources held by the store.
	Close() error
}

// MetricsStore records answered queries and aggregates them.
type MetricsStore interface {
	// RecordQuery persists one answered question.
	RecordQuery(ctx context.Context, rec QueryRecord) error
	// Stats aggregates all recorded queries.
	Stats(ctx context.Context) (QueryStats, error)
}

// SQLiteStore implements ConversationStore and MetricsStore over a local
// SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the history database.
// It resolves to ~/.docqa/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS conversations (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session      TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_conversations_session_created
    ON conversations (session, created_at);

CREATE TABLE IF NOT EXISTS query_metrics (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    question     TEXT    NOT NULL,
    num_sources  INTEGER NOT NULL,
    latency_ms   INTEGER NOT NULL,
    success      INTEGER NOT NULL,
    created_at   INTEGER NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists a single message for the given session.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, role Role, content string) error {
	const q = `INSERT INTO conversations (session, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sessionID, string(role), content, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n messages for the session, ordered
// oldest-first. Uses a subquery to select the tail then re-order for replay.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	const q = `
SELECT role, content, created_at FROM (
    SELECT id, role, content, created_at
    FROM   conversations
    WHERE  session = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		var role string
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return msgs, nil
}

// RecordQuery persists one answered question for the metrics endpoint.
func (s *SQLiteStore) RecordQuery(ctx context.Context, rec QueryRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	success := 0
	if rec.Success {
		success = 1
	}
	const q = `INSERT INTO query_metrics (question, num_sources, latency_ms, success, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, rec.Question, rec.NumSources, rec.LatencyMS, success, created.Unix()); err != nil {
		return fmt.Errorf("store: record query: %w", err)
	}
	return nil
}

// Stats aggregates all recorded queries. An empty table yields zero values.
func (s *SQLiteStore) Stats(ctx context.Context) (QueryStats, error) {
	const q = `
SELECT COUNT(*),
       COALESCE(AVG(success), 0),
       COALESCE(AVG(latency_ms), 0),
       COALESCE(AVG(num_sources), 0)
FROM   query_metrics`

	var st QueryStats
	err := s.db.QueryRowContext(ctx, q).Scan(&st.TotalQueries, &st.SuccessRate, &st.AvgLatencyMS, &st.AvgSources)
	if err != nil {
		return QueryStats{}, fmt.Errorf("store: stats: %w", err)
	}
	return st, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
