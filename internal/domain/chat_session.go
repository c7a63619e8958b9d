package domain

import (
	"time"
)

// ChatSession is the persisted record of one (user, tab) chat session.
// Message text is kept in memory only and never stored here.
type ChatSession struct {
	Key          string    `json:"key"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	MessageCount int       `json:"message_count"`
}

// SessionKey joins a user ID and a tab session ID into a registry key.
func SessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// IdleFor returns how long the session has been idle at now.
func (s *ChatSession) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(s.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}

// Delivery is the audit record of one delivery sequence.
type Delivery struct {
	ID          string    `json:"id"`
	SessionKey  string    `json:"session_key"`
	Source      Source    `json:"source"`
	Model       string    `json:"model,omitempty"`
	Rule        string    `json:"rule,omitempty"`
	InputLength int       `json:"input_length"`
	DurationMs  int64     `json:"duration_ms"`
	TierErrors  []string  `json:"tier_errors,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
