// Package history holds the ordered message log of a single chat session.
package history

import (
	"slices"
	"sync"

	"github.com/ashureev/truthguard-chat/internal/domain"
)

// Store is an ordered, in-memory log of chat messages. Implementations must
// be safe for concurrent use.
type Store interface {
	// Append adds a message at the end of the log.
	Append(msg domain.Message)
	// List returns a copy of the log in insertion order.
	List() []domain.Message
	// PopLastBot removes the most recent bot message, if any.
	PopLastBot() (domain.Message, bool)
	// Clear empties the log.
	Clear()
	// Len returns the number of messages in the log.
	Len() int
}

type memoryStore struct {
	mu       sync.RWMutex
	messages []domain.Message
}

// NewMemory creates a Store backed by a slice.
func NewMemory() Store {
	return &memoryStore{}
}

func (s *memoryStore) Append(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *memoryStore) List() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

func (s *memoryStore) PopLastBot() (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].IsBot {
			msg := s.messages[i]
			s.messages = slices.Delete(s.messages, i, i+1)
			return msg, true
		}
	}
	return domain.Message{}, false
}

func (s *memoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

func (s *memoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
