package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/truthguard-chat/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	deleteMaxRetries     = 3
	deleteRetryBaseDelay = 100 * time.Millisecond
)

// Ensure SQLiteStore implements Repository.
var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_last_seen ON chat_sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS chat_deliveries (
		delivery_id TEXT PRIMARY KEY,
		session_key TEXT NOT NULL,
		source TEXT NOT NULL,
		model TEXT,
		rule TEXT,
		input_length INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		tier_errors_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_deliveries_session ON chat_deliveries(session_key, created_at);
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
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session record by key.
func (s *SQLiteStore) GetSession(ctx context.Context, key string) (*domain.ChatSession, error) {
	query := `
		SELECT session_key, user_id, session_id, message_count, created_at, last_seen_at
		FROM chat_sessions WHERE session_key = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// UpsertSession creates or updates a session record.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.ChatSession) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO chat_sessions (session_key, user_id, session_id, message_count, created_at, last_seen_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_key) DO UPDATE SET
		message_count = excluded.message_count,
		last_seen_at = excluded.last_seen_at`

	_, err := s.db.ExecContext(ctx, query,
		session.Key, session.UserID, session.SessionID, session.MessageCount,
		session.CreatedAt.Unix(), session.LastSeenAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// TouchSession updates last_seen_at and the message count for a session.
func (s *SQLiteStore) TouchSession(ctx context.Context, key string, lastSeen time.Time, messageCount int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `UPDATE chat_sessions SET last_seen_at = ?, message_count = ? WHERE session_key = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), messageCount, key)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchSession affected 0 rows", "session_key", key)
	}
	return nil
}

// DeleteSession removes a session and its deliveries.
// Retries with exponential backoff on SQLITE_BUSY and SQLITE_LOCKED.
func (s *SQLiteStore) DeleteSession(ctx context.Context, key string) error {
	var err error
	for i := 0; i < deleteMaxRetries; i++ {
		err = s.deleteSessionOnce(ctx, key)
		if err == nil {
			return nil
		}
		if !isConflict(err) || i == deleteMaxRetries-1 {
			break
		}

		delay := deleteRetryBaseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("DeleteSession hit a lock conflict, retrying",
			"session_key", key,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("delete session %s: %w", key, err)
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_deliveries WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("delete deliveries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// GetExpiredSessions retrieves sessions idle for longer than ttl.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT session_key, user_id, session_id, message_count, created_at, last_seen_at
		FROM chat_sessions WHERE last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.ChatSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return sessions, nil
}

// RecordDelivery stores the audit record of one delivery.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, d *domain.Delivery) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var tierErrors interface{}
	if len(d.TierErrors) > 0 {
		data, err := json.Marshal(d.TierErrors)
		if err != nil {
			return fmt.Errorf("marshal tier errors: %w", err)
		}
		tierErrors = string(data)
	}

	query := `
	INSERT INTO chat_deliveries (
		delivery_id, session_key, source, model, rule,
		input_length, duration_ms, tier_errors_json, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.SessionKey, string(d.Source), d.Model, d.Rule,
		d.InputLength, d.DurationMs, tierErrors, d.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the most recent deliveries of a session, newest first.
func (s *SQLiteStore) ListDeliveries(ctx context.Context, key string, limit int) ([]*domain.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT delivery_id, session_key, source, model, rule,
		       input_length, duration_ms, tier_errors_json, created_at
		FROM chat_deliveries WHERE session_key = ?
		ORDER BY created_at DESC, delivery_id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, key, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close deliveries rows", "error", closeErr)
		}
	}()

	var deliveries []*domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var source string
		var model, rule, tierErrors sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&d.ID, &d.SessionKey, &source, &model, &rule,
			&d.InputLength, &d.DurationMs, &tierErrors, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}

		d.Source = domain.Source(source)
		d.Model = model.String
		d.Rule = rule.String
		d.CreatedAt = time.UnixMilli(createdAt)
		if tierErrors.Valid && tierErrors.String != "" {
			if err := json.Unmarshal([]byte(tierErrors.String), &d.TierErrors); err != nil {
				return nil, fmt.Errorf("decode tier errors: %w", err)
			}
		}
		deliveries = append(deliveries, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return deliveries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var createdAt, lastSeen int64

	if err := row.Scan(
		&session.Key, &session.UserID, &session.SessionID, &session.MessageCount,
		&createdAt, &lastSeen,
	); err != nil {
		return nil, err
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.LastSeenAt = time.Unix(lastSeen, 0)
	return &session, nil
}
