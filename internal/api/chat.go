package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/truthguard-chat/internal/chat"
	"github.com/ashureev/truthguard-chat/internal/config"
	"github.com/ashureev/truthguard-chat/internal/domain"
	"github.com/ashureev/truthguard-chat/internal/fallback"
	"github.com/ashureev/truthguard-chat/internal/identity"
	"github.com/ashureev/truthguard-chat/internal/session"
	"github.com/ashureev/truthguard-chat/internal/store"
)

const (
	defaultDeliveryLimit = 20
	maxDeliveryLimit     = 100
)

// ChatHandler serves the session-scoped chat endpoints.
type ChatHandler struct {
	sessions    *session.Manager
	repo        store.Repository
	cfg         *config.Config
	rateLimiter *RateLimiter
}

// NewChatHandler creates a chat handler. Call Close to release the rate
// limiter.
func NewChatHandler(sessions *session.Manager, repo store.Repository, cfg *config.Config) *ChatHandler {
	return &ChatHandler{
		sessions:    sessions,
		repo:        repo,
		cfg:         cfg,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
	}
}

// Close releases handler resources.
func (h *ChatHandler) Close() {
	h.rateLimiter.Close()
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Route("/session", func(r chi.Router) {
			r.Get("/messages", h.ListMessages)
			r.Post("/messages", h.SendMessage)
			r.Delete("/messages", h.ClearMessages)
			r.Post("/regenerate", h.Regenerate)
			r.Get("/transcript", h.Transcript)
			r.Get("/deliveries", h.ListDeliveries)
		})
	})
}

// SendRequest is the body of POST /api/session/messages.
type SendRequest struct {
	Message string `json:"message"`
}

// SendResponse reports whether a send or regenerate was accepted. Rejected
// calls are no-ops and carry a reason instead of a message.
type SendResponse struct {
	Accepted bool            `json:"accepted"`
	Reason   string          `json:"reason,omitempty"`
	Message  *domain.Message `json:"message,omitempty"`
}

// GetConfig returns what the widget needs to render its initial state.
func (h *ChatHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"ai_available":       h.cfg.Chat.AIAvailable,
		"model":              h.cfg.ModelLabel(),
		"max_message_length": h.cfg.Chat.MaxMessageLength,
		"welcome":            fallback.Welcome(h.cfg.ModelLabel()),
		"suggestions":        fallback.Suggestions,
	})
}

// ListMessages returns the session history and its loading state.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	messages := []domain.Message{}
	inFlight := false
	if s != nil {
		messages = s.Messages()
		inFlight = s.InFlight()
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"messages":  messages,
		"in_flight": inFlight,
	})
}

// SendMessage delivers one user message and returns the bot reply.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !h.allow(w, userID) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Timeout.MaxRequestBodySize)
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	slog.Info("Chat message request",
		"user_id", userID,
		"session_key", s.ID(),
		"message_length", len(req.Message),
	)
	msg, err := s.Deliver(r.Context(), req.Message)
	h.respondDelivery(w, r, s, msg, err)
}

// Regenerate replaces the last bot reply with a fresh one.
func (h *ChatHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !h.allow(w, userID) {
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	slog.Info("Chat regenerate request", "user_id", userID, "session_key", s.ID())
	msg, err := s.Regenerate(r.Context())
	h.respondDelivery(w, r, s, msg, err)
}

func (h *ChatHandler) respondDelivery(w http.ResponseWriter, r *http.Request, s *chat.Session, msg domain.Message, err error) {
	if errors.Is(err, chat.ErrValidation) {
		slog.Debug("Chat request ignored", "session_key", s.ID(), "reason", chat.Reason(err))
		JSON(w, http.StatusOK, SendResponse{Accepted: false, Reason: chat.Reason(err)})
		return
	}
	if err != nil {
		slog.Error("Chat delivery failed", "session_key", s.ID(), "error", err)
		Error(w, http.StatusInternalServerError, "delivery failed")
		return
	}

	h.sessions.Touch(r.Context(), s)
	JSON(w, http.StatusOK, SendResponse{Accepted: true, Message: &msg})
}

// ClearMessages empties the session history.
func (h *ChatHandler) ClearMessages(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if s != nil {
		s.Clear()
		h.sessions.Touch(r.Context(), s)
	}

	JSON(w, http.StatusOK, map[string]string{
		"status":  "cleared",
		"welcome": fallback.Welcome(h.cfg.ModelLabel()),
	})
}

// Transcript returns the plain-text copy of the chat.
func (h *ChatHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var transcript string
	if s != nil {
		transcript = s.Transcript()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(transcript)); err != nil {
		slog.Warn("failed to write transcript", "error", err)
	}
}

// ListDeliveries returns the recent delivery audit records of the session.
func (h *ChatHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !h.allow(w, userID) {
		return
	}
	key := domain.SessionKey(userID, identity.SessionIDFromContext(r.Context()))

	limit := defaultDeliveryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxDeliveryLimit)
	}

	deliveries, err := h.repo.ListDeliveries(r.Context(), key, limit)
	if err != nil {
		slog.Error("Failed to list deliveries", "session_key", key, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []*domain.Delivery{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"deliveries": deliveries})
}

func (h *ChatHandler) allow(w http.ResponseWriter, userID string) bool {
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// lookup returns the live session, or nil when the pair has none yet.
func (h *ChatHandler) lookup(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	s, _ := h.sessions.Lookup(userID, identity.SessionIDFromContext(r.Context()))
	return s, true
}

func (h *ChatHandler) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	s, err := h.sessions.Acquire(r.Context(), userID, identity.SessionIDFromContext(r.Context()))
	if err != nil {
		slog.Error("Failed to acquire chat session", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return s, true
}
