// Package domain contains core domain types for the TruthGuard chat service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Sender names shown next to chat messages.
const (
	SenderUser = "You"
	SenderBot  = "TruthGuard AI"
)

// Source identifies where a message came from.
type Source string

const (
	// SourceUser marks the user's own message.
	SourceUser Source = "user"
	// SourcePrimary marks a reply from the primary chat endpoint.
	SourcePrimary Source = "primary"
	// SourceSecondary marks a reply from the simple chat endpoint.
	SourceSecondary Source = "secondary"
	// SourceFallback marks a canned reply from the fallback responder.
	SourceFallback Source = "fallback"
)

// Message is one entry of a chat session. Messages are never mutated after
// creation.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsBot     bool      `json:"is_bot"`
	Source    Source    `json:"source"`
	Model     string    `json:"model,omitempty"`
}

// NewUserMessage creates the echo of a user's submission.
func NewUserMessage(text string, at time.Time) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Sender:    SenderUser,
		Text:      text,
		Timestamp: at,
		Source:    SourceUser,
	}
}

// NewBotMessage creates a bot reply tagged with the tier that produced it.
func NewBotMessage(text string, source Source, model string, at time.Time) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Sender:    SenderBot,
		Text:      text,
		Timestamp: at,
		IsBot:     true,
		Source:    source,
		Model:     model,
	}
}

// ClockTime formats the message time the way the chat widget shows it.
func (m Message) ClockTime() string {
	return m.Timestamp.Format("15:04")
}
