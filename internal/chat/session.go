package chat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ashureev/truthguard-chat/internal/domain"
	"github.com/ashureev/truthguard-chat/internal/history"
)

// Session is the chat state of one user session: its message history, the
// last user message, and the single-flight guard.
type Session struct {
	id       string
	seq      *Sequencer
	history  history.Store
	inFlight atomic.Bool

	mu       sync.Mutex
	lastUser string
}

// ID returns the session identifier sent to the primary endpoint.
func (s *Session) ID() string {
	return s.id
}

// StartFunc is called once a delivery has been accepted, after the user
// message is in the history and before any endpoint is called.
type StartFunc func(user domain.Message)

// Deliver appends text as a user message, obtains a reply and appends it.
// Validation failures and concurrent calls return an ErrValidation error and
// leave the session unchanged.
func (s *Session) Deliver(ctx context.Context, text string) (domain.Message, error) {
	return s.DeliverWithStart(ctx, text, nil)
}

// DeliverWithStart is Deliver with a hook that fires when the delivery starts.
func (s *Session) DeliverWithStart(ctx context.Context, text string, onStart StartFunc) (domain.Message, error) {
	text, err := s.seq.validate(text)
	if err != nil {
		return domain.Message{}, err
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return domain.Message{}, ErrInFlight
	}
	defer s.inFlight.Store(false)

	return s.deliverLocked(ctx, text, onStart), nil
}

// Regenerate drops the most recent bot reply and delivers the last user
// message again.
func (s *Session) Regenerate(ctx context.Context) (domain.Message, error) {
	return s.RegenerateWithStart(ctx, nil)
}

// RegenerateWithStart is Regenerate with a hook that fires when the delivery
// starts.
func (s *Session) RegenerateWithStart(ctx context.Context, onStart StartFunc) (domain.Message, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return domain.Message{}, ErrInFlight
	}
	defer s.inFlight.Store(false)

	// Read under the flag so a delivery finishing just before cannot leave
	// a stale text behind.
	last := s.LastUserMessage()
	if last == "" {
		return domain.Message{}, ErrNoPriorMessage
	}

	s.history.PopLastBot()
	return s.deliverLocked(ctx, last, onStart), nil
}

func (s *Session) deliverLocked(ctx context.Context, text string, onStart StartFunc) domain.Message {
	user := domain.NewUserMessage(text, s.seq.now())
	s.history.Append(user)
	s.mu.Lock()
	s.lastUser = text
	s.mu.Unlock()

	if onStart != nil {
		onStart(user)
	}

	reply := s.seq.resolve(ctx, s.id, text)
	msg := domain.NewBotMessage(reply.Text, reply.Source, reply.Model, s.seq.now())
	s.history.Append(msg)
	return msg
}

// Clear empties the history. The last user message is kept so a cleared
// chat can still be regenerated.
func (s *Session) Clear() {
	s.history.Clear()
}

// Messages returns the history in order.
func (s *Session) Messages() []domain.Message {
	return s.history.List()
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	return s.history.Len()
}

// InFlight reports whether a delivery is running.
func (s *Session) InFlight() bool {
	return s.inFlight.Load()
}

// LastUserMessage returns the most recent text passed to Deliver.
func (s *Session) LastUserMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUser
}

// Transcript renders the history as plain text, one line per message. User
// text is stored raw, so only bot replies have their markup removed.
func (s *Session) Transcript() string {
	msgs := s.history.List()
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text := m.Text
		if m.IsBot {
			text = PlainText(text)
		}
		text = strings.Join(strings.Fields(text), " ")
		lines = append(lines, m.Sender+" ("+m.ClockTime()+"): "+text)
	}
	return strings.Join(lines, "\n")
}
