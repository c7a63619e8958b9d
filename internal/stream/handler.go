package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/truthguard-chat/internal/chat"
	"github.com/ashureev/truthguard-chat/internal/domain"
	"github.com/ashureev/truthguard-chat/internal/fallback"
	"github.com/ashureev/truthguard-chat/internal/identity"
	"github.com/ashureev/truthguard-chat/internal/session"
)

// Inbound frame types.
const (
	TypeSend       = "send"
	TypeRegenerate = "regenerate"
	TypeClear      = "clear"
	TypeHistory    = "history"
	TypePing       = "ping"
)

// Outbound frame types. TypeHistory is shared with inbound.
const (
	TypeMessage = "message"
	TypeLoading = "loading"
	TypeCleared = "cleared"
	TypeIgnored = "ignored"
	TypeError   = "error"
	TypePong    = "pong"
)

// InFrame is a client to server frame.
type InFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// OutFrame is a server to client frame.
type OutFrame struct {
	Type     string           `json:"type"`
	Message  *domain.Message  `json:"message,omitempty"`
	Messages []domain.Message `json:"messages,omitempty"`
	InFlight bool             `json:"in_flight"`
	Reason   string           `json:"reason,omitempty"`
	Welcome  string           `json:"welcome,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Limiter throttles deliveries per user.
type Limiter interface {
	Allow(key string) bool
}

// WebSocketHandler serves /ws/chat.
type WebSocketHandler struct {
	sessions      *session.Manager
	hub           *Hub
	limiter       Limiter
	modelLabel    string
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. limiter may be nil.
func NewWebSocketHandler(sessions *session.Manager, hub *Hub, limiter Limiter, modelLabel, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:      sessions,
		hub:           hub,
		limiter:       limiter,
		modelLabel:    modelLabel,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("Chat stream connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s, err := h.sessions.Acquire(ctx, userID, sessionID)
	if err != nil {
		slog.Error("Failed to acquire chat session", "error", err, "user_id", userID)
		h.write(ctx, ws, OutFrame{Type: TypeError, Error: "session_unavailable"})
		return
	}

	h.hub.Register(s.ID(), ws)
	defer h.hub.Unregister(s.ID(), ws)

	h.write(ctx, ws, h.historyFrame(s))

	var wg sync.WaitGroup
	h.readLoop(ctx, ws, s, userID, &wg)
	// Pending deliveries stop waiting on remote endpoints and fall back.
	cancel()
	wg.Wait()
	slog.Info("Chat stream ended", "user_id", userID, "session_key", s.ID())
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, s *chat.Session, userID string, wg *sync.WaitGroup) {
	for {
		var frame InFrame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		switch frame.Type {
		case TypeSend, TypeRegenerate:
			if h.limiter != nil && !h.limiter.Allow(userID) {
				h.write(ctx, ws, OutFrame{Type: TypeIgnored, Reason: "rate_limited", InFlight: s.InFlight()})
				continue
			}
			wg.Add(1)
			go func(frame InFrame) {
				defer wg.Done()
				h.deliver(ctx, ws, s, frame)
			}(frame)
		case TypeClear:
			s.Clear()
			h.sessions.Touch(ctx, s)
			h.broadcast(ctx, s.ID(), OutFrame{Type: TypeCleared, Welcome: fallback.Welcome(h.modelLabel), InFlight: s.InFlight()})
		case TypeHistory:
			h.write(ctx, ws, h.historyFrame(s))
		case TypePing:
			h.write(ctx, ws, OutFrame{Type: TypePong, InFlight: s.InFlight()})
		default:
			h.write(ctx, ws, OutFrame{Type: TypeIgnored, Reason: "unknown_type", InFlight: s.InFlight()})
		}
	}
}

// deliver runs one send or regenerate. Other connections of the session see
// the user message and loading state as soon as the delivery is accepted.
func (h *WebSocketHandler) deliver(ctx context.Context, ws *websocket.Conn, s *chat.Session, frame InFrame) {
	// The reply is still recorded if the connection drops mid-delivery.
	bg := context.WithoutCancel(ctx)

	var msg domain.Message
	var err error
	if frame.Type == TypeSend {
		msg, err = s.DeliverWithStart(ctx, frame.Content, func(user domain.Message) {
			h.broadcast(bg, s.ID(), OutFrame{Type: TypeMessage, Message: &user, InFlight: true})
			h.broadcast(bg, s.ID(), OutFrame{Type: TypeLoading, InFlight: true})
		})
	} else {
		msg, err = s.RegenerateWithStart(ctx, func(domain.Message) {
			frame := h.historyFrame(s)
			frame.InFlight = true
			h.broadcast(bg, s.ID(), frame)
			h.broadcast(bg, s.ID(), OutFrame{Type: TypeLoading, InFlight: true})
		})
	}

	if errors.Is(err, chat.ErrValidation) {
		h.write(ctx, ws, OutFrame{Type: TypeIgnored, Reason: chat.Reason(err), InFlight: s.InFlight()})
		return
	}
	if err != nil {
		slog.Error("Chat stream delivery failed", "session_key", s.ID(), "error", err)
		h.write(ctx, ws, OutFrame{Type: TypeError, Error: "delivery_failed"})
		return
	}

	h.sessions.Touch(bg, s)
	h.broadcast(bg, s.ID(), OutFrame{Type: TypeMessage, Message: &msg})
	h.broadcast(bg, s.ID(), OutFrame{Type: TypeLoading})
}

func (h *WebSocketHandler) historyFrame(s *chat.Session) OutFrame {
	return OutFrame{Type: TypeHistory, Messages: s.Messages(), InFlight: s.InFlight()}
}

func (h *WebSocketHandler) broadcast(ctx context.Context, key string, frame OutFrame) {
	if err := h.hub.Broadcast(ctx, key, frame); err != nil {
		slog.Warn("Failed to broadcast chat frame", "session_key", key, "type", frame.Type, "error", err)
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, frame OutFrame) {
	writeCtx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, ws, frame); err != nil {
		slog.Debug("Failed to write chat frame", "type", frame.Type, "error", err)
	}
}
