// Package stream pushes conversation events to connected presentation
// shells over WebSocket, so they can subscribe instead of polling the
// snapshot endpoint.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/HenshawMike/fx-agent/internal/conversation"
	"github.com/HenshawMike/fx-agent/internal/domain"
	"github.com/HenshawMike/fx-agent/internal/identity"
	"github.com/HenshawMike/fx-agent/internal/session"
	"github.com/coder/websocket"
)

// Handler upgrades conversation stream requests to WebSocket.
type Handler struct {
	sessions      *session.Manager
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new conversation stream handler.
func NewHandler(sessions *session.Manager, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		sessions:      sessions,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsEvent is the wire shape of one stream frame.
type wsEvent struct {
	Type     string            `json:"type"`
	Message  *domain.Message   `json:"message,omitempty"`
	Messages []*domain.Message `json:"messages,omitempty"`
}

// wsClientMessage is what a shell may send upstream; only pings are expected.
type wsClientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("Conversation stream request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

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
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	eng := h.sessions.Get(userID, sessionID)
	events, unsubscribe := eng.Store.Subscribe()
	defer unsubscribe()

	// Initial snapshot so the shell starts from the canonical log.
	if err := h.writeEvent(ctx, ws, wsEvent{Type: "snapshot", Messages: eng.Store.Snapshot()}); err != nil {
		slog.Debug("Failed to send snapshot", "error", err, "user_id", userID)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Read loop: shell -> service (pings and close detection).
	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, userID)
	}()

	// Write loop: store events -> shell.
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, events, userID)
	}()

	wg.Wait()
	slog.Info("Conversation stream ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
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
	slog.Warn("Stream origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Stream closed by client", "user_id", userID)
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.writeEvent(ctx, ws, wsEvent{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, events <-chan conversation.Event, userID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeEvent(ctx, ws, wsEvent{Type: string(ev.Type), Message: ev.Message}); err != nil {
				slog.Debug("Stream write failed", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *Handler) writeEvent(ctx context.Context, ws *websocket.Conn, ev wsEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
