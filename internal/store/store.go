// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/truthguard-chat/internal/domain"
)

// Repository defines the interface for persisting chat session metadata and
// delivery audit records.
type Repository interface {
	// GetSession retrieves a session record by key. It returns nil, nil when
	// the session does not exist.
	GetSession(ctx context.Context, key string) (*domain.ChatSession, error)

	// UpsertSession creates or updates a session record.
	UpsertSession(ctx context.Context, session *domain.ChatSession) error

	// TouchSession updates last_seen_at and the message count for a session.
	TouchSession(ctx context.Context, key string, lastSeen time.Time, messageCount int) error

	// DeleteSession removes a session record and its delivery records.
	DeleteSession(ctx context.Context, key string) error

	// GetExpiredSessions retrieves sessions idle for longer than ttl.
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error)

	// RecordDelivery stores the audit record of one delivery.
	RecordDelivery(ctx context.Context, d *domain.Delivery) error

	// ListDeliveries returns the most recent deliveries of a session, newest first.
	ListDeliveries(ctx context.Context, key string, limit int) ([]*domain.Delivery, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
