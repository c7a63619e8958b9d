// Package chat implements chat delivery: each user message is offered to the
// primary endpoint, then the simple endpoint, then the fallback responder, and
// the first answer is recorded in the session's history.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ashureev/truthguard-chat/internal/domain"
	"github.com/ashureev/truthguard-chat/internal/fallback"
	"github.com/ashureev/truthguard-chat/internal/history"
)

// DeliveryRecorder stores an audit record per completed delivery.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, d *domain.Delivery) error
}

// Sequencer holds the tier chain shared by all sessions. It carries no
// per-session state.
type Sequencer struct {
	tiers     []Tier
	responder *fallback.Responder
	recorder  DeliveryRecorder
	logger    *slog.Logger
	now       func() time.Time
	maxLength int
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithRecorder sets the delivery audit recorder.
func WithRecorder(r DeliveryRecorder) Option {
	return func(s *Sequencer) { s.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxMessageLength rejects messages longer than n characters. Zero
// disables the limit.
func WithMaxMessageLength(n int) Option {
	return func(s *Sequencer) { s.maxLength = n }
}

// NewSequencer creates a Sequencer that tries tiers in order before falling
// back to responder.
func NewSequencer(responder *fallback.Responder, tiers []Tier, opts ...Option) *Sequencer {
	if responder == nil {
		responder = fallback.NewResponder(false)
	}
	s := &Sequencer{
		tiers:     tiers,
		responder: responder,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSession creates a session with an empty in-memory history.
func (s *Sequencer) NewSession(id string) *Session {
	return &Session{
		id:      id,
		seq:     s,
		history: history.NewMemory(),
	}
}

// MaxMessageLength returns the configured limit, zero when unlimited.
func (s *Sequencer) MaxMessageLength() int {
	return s.maxLength
}

func (s *Sequencer) validate(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if s.maxLength > 0 && utf8.RuneCountInString(text) > s.maxLength {
		return "", ErrMessageTooLong
	}
	return text, nil
}

// resolve walks the tier chain. It always returns a reply.
func (s *Sequencer) resolve(ctx context.Context, sessionID, text string) Reply {
	start := s.now()
	req := Request{SessionID: sessionID, Message: text}

	var tierErrors []string
	for _, tier := range s.tiers {
		reply, err := tier.Reply(ctx, req)
		if err == nil {
			s.logger.Info("Chat reply delivered",
				"session_id", sessionID,
				"source", reply.Source,
				"model", reply.Model,
			)
			s.record(ctx, sessionID, text, reply, "", start, tierErrors)
			return reply
		}
		s.logger.Warn("Chat tier failed, trying next",
			"session_id", sessionID,
			"tier", tier.Source(),
			"error", err,
		)
		tierErrors = append(tierErrors, fmt.Sprintf("%s: %v", tier.Source(), err))
	}

	reply := Reply{
		Text:   s.responder.Respond(text),
		Model:  modelFallback,
		Source: domain.SourceFallback,
	}
	rule := s.responder.Rule(text)
	s.logger.Info("Chat reply from fallback responder",
		"session_id", sessionID,
		"rule", rule,
		"tier_failures", len(tierErrors),
	)
	s.record(ctx, sessionID, text, reply, rule, start, tierErrors)
	return reply
}

func (s *Sequencer) record(ctx context.Context, sessionID, text string, reply Reply, rule string, start time.Time, tierErrors []string) {
	if s.recorder == nil {
		return
	}
	d := &domain.Delivery{
		ID:          uuid.Must(uuid.NewV7()).String(),
		SessionKey:  sessionID,
		Source:      reply.Source,
		Model:       reply.Model,
		Rule:        rule,
		InputLength: utf8.RuneCountInString(text),
		DurationMs:  s.now().Sub(start).Milliseconds(),
		TierErrors:  tierErrors,
		CreatedAt:   s.now(),
	}
	// The audit write must not be lost when the caller's request ends.
	if err := s.recorder.RecordDelivery(context.WithoutCancel(ctx), d); err != nil {
		s.logger.Warn("failed to record delivery", "session_id", sessionID, "error", err)
	}
}
