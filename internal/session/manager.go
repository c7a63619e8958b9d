// Package session keeps one live chat session per (anonymous user, tab)
// pair and evicts sessions that have been idle past their TTL.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/truthguard-chat/internal/chat"
	"github.com/ashureev/truthguard-chat/internal/domain"
	"github.com/ashureev/truthguard-chat/internal/store"
)

// EvictCallback is called with the session key after a session is evicted.
type EvictCallback func(key string)

type entry struct {
	session  *chat.Session
	lastSeen time.Time
}

// Manager is the registry of live chat sessions.
type Manager struct {
	seq     *chat.Sequencer
	repo    store.Repository
	ttl     time.Duration
	onEvict EvictCallback
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// Option configures a Manager.
type Option func(*Manager)

// WithEvictCallback registers fn to run after each eviction.
func WithEvictCallback(fn EvictCallback) Option {
	return func(m *Manager) { m.onEvict = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a session registry. Sessions idle for longer than ttl
// are evicted by Sweep.
func NewManager(seq *chat.Sequencer, repo store.Repository, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		seq:      seq,
		repo:     repo,
		ttl:      ttl,
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns the live session for the pair, creating it on first use,
// and marks it as seen.
func (m *Manager) Acquire(ctx context.Context, userID, sessionID string) (*chat.Session, error) {
	key := domain.SessionKey(userID, sessionID)
	now := m.now()

	m.mu.Lock()
	e, ok := m.sessions[key]
	if !ok {
		e = &entry{session: m.seq.NewSession(key)}
		m.sessions[key] = e
	}
	e.lastSeen = now
	m.mu.Unlock()

	if !ok {
		if err := m.ensureRecord(ctx, key, userID, sessionID, now); err != nil {
			// Drop the entry so the next Acquire retries the insert.
			m.mu.Lock()
			if m.sessions[key] == e {
				delete(m.sessions, key)
			}
			m.mu.Unlock()
			return nil, err
		}
		m.logger.Info("Chat session created", "session_key", key)
		return e.session, nil
	}

	if err := m.repo.TouchSession(ctx, key, now, e.session.Len()); err != nil {
		return nil, fmt.Errorf("touch session %s: %w", key, err)
	}
	return e.session, nil
}

// Lookup returns the live session for the pair without creating one or
// writing to the repository. Read-only endpoints use it so a stray request
// cannot create sessions.
func (m *Manager) Lookup(userID, sessionID string) (*chat.Session, bool) {
	key := domain.SessionKey(userID, sessionID)
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[key]
	if !ok {
		return nil, false
	}
	e.lastSeen = m.now()
	return e.session, true
}

// ensureRecord persists the session metadata unless a record survives from
// an earlier process, in which case it is touched.
func (m *Manager) ensureRecord(ctx context.Context, key, userID, sessionID string, now time.Time) error {
	existing, err := m.repo.GetSession(ctx, key)
	if err != nil {
		return fmt.Errorf("get session %s: %w", key, err)
	}
	if existing != nil {
		if err := m.repo.TouchSession(ctx, key, now, 0); err != nil {
			return fmt.Errorf("touch session %s: %w", key, err)
		}
		return nil
	}

	if err := m.repo.UpsertSession(ctx, &domain.ChatSession{
		Key:        key,
		UserID:     userID,
		SessionID:  sessionID,
		CreatedAt:  now,
		LastSeenAt: now,
	}); err != nil {
		return fmt.Errorf("create session %s: %w", key, err)
	}
	return nil
}

// Touch records the current message count of s after a mutation.
func (m *Manager) Touch(ctx context.Context, s *chat.Session) {
	now := m.now()
	m.mu.Lock()
	if e, ok := m.sessions[s.ID()]; ok {
		e.lastSeen = now
	}
	m.mu.Unlock()

	if err := m.repo.TouchSession(ctx, s.ID(), now, s.Len()); err != nil {
		m.logger.Warn("failed to touch session", "session_key", s.ID(), "error", err)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts live sessions idle past the TTL and deletes expired records,
// including records left behind by an earlier process. Sessions with a
// delivery in flight are kept until the next sweep. It returns the number
// of evicted sessions.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()
	expired := make(map[string]struct{})

	m.mu.Lock()
	for key, e := range m.sessions {
		if now.Sub(e.lastSeen) > m.ttl && !e.session.InFlight() {
			expired[key] = struct{}{}
		}
	}
	m.mu.Unlock()

	records, err := m.repo.GetExpiredSessions(ctx, m.ttl)
	if err != nil {
		m.logger.Error("Session sweeper failed to get expired sessions", "error", err)
	}
	for _, rec := range records {
		expired[rec.Key] = struct{}{}
	}

	if len(expired) == 0 {
		return 0
	}
	m.logger.Info("Session sweeper found expired sessions", "count", len(expired))

	evicted := 0
	for key := range expired {
		m.mu.Lock()
		e, live := m.sessions[key]
		if live && (now.Sub(e.lastSeen) <= m.ttl || e.session.InFlight()) {
			// Seen again or busy since the scan.
			m.mu.Unlock()
			continue
		}
		delete(m.sessions, key)
		m.mu.Unlock()

		if err := m.repo.DeleteSession(ctx, key); err != nil {
			m.logger.Warn("Session sweeper failed to delete session record",
				"error", err,
				"session_key", key)
		}
		if m.onEvict != nil {
			m.onEvict(key)
		}
		evicted++
	}

	m.logger.Info("Session sweeper cleanup completed", "evicted", evicted)
	return evicted
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.logger.Info("Session sweeper started", "interval", interval, "ttl", m.ttl)

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-ctx.Done():
			m.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}
