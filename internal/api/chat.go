package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/HenshawMike/fx-agent/internal/chat"
	"github.com/HenshawMike/fx-agent/internal/conversation"
	"github.com/HenshawMike/fx-agent/internal/identity"
	"github.com/HenshawMike/fx-agent/internal/session"
	"github.com/go-chi/chi/v5"
)

// maxPromptBodySize caps the send request body (64KB is generous for a prompt).
const maxPromptBodySize = 64 << 10

// ChatHandler exposes the conversation engine to presentation shells.
type ChatHandler struct {
	sessions    *session.Manager
	rateLimiter *RateLimiter
}

// NewChatHandler creates the chat handler. rateLimiter may be nil to
// disable send throttling.
func NewChatHandler(sessions *session.Manager, rateLimiter *RateLimiter) *ChatHandler {
	return &ChatHandler{sessions: sessions, rateLimiter: rateLimiter}
}

// RegisterRoutes registers conversation routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat/send", h.Send)
		r.Get("/chat/messages", h.Messages)
		r.Post("/proposals/{messageID}/confirm", h.Confirm)
		r.Post("/proposals/{messageID}/decline", h.Decline)
	})
}

type sendRequest struct {
	Prompt string `json:"prompt"`
}

// Send handles POST /api/chat/send. The response carries the outcome
// message: the agent reply, or the system message describing the failure.
// An empty prompt is a no-op and answers 204.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPromptBodySize)
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	eng := h.sessions.Get(userID, sessionID)
	outcome, err := eng.Dispatcher.Send(r.Context(), req.Prompt)
	if errors.Is(err, chat.ErrBusy) {
		Error(w, http.StatusConflict, "dispatch_in_progress")
		return
	}
	if err != nil {
		slog.Error("Send failed unexpectedly", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "send failed")
		return
	}
	if outcome == nil {
		// Whitespace-only prompt: nothing appended, nothing dispatched.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"message": outcome,
	})
}

// Messages handles GET /api/chat/messages and returns the canonical-order
// conversation snapshot.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	eng := h.sessions.Get(userID, sessionID)
	JSON(w, http.StatusOK, map[string]interface{}{
		"messages": eng.Store.Snapshot(),
		"busy":     eng.Dispatcher.Busy(),
	})
}

// Confirm handles POST /api/proposals/{messageID}/confirm.
func (h *ChatHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// Decline handles POST /api/proposals/{messageID}/decline.
func (h *ChatHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *ChatHandler) decide(w http.ResponseWriter, r *http.Request, confirm bool) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	messageID := chi.URLParam(r, "messageID")
	eng := h.sessions.Get(userID, sessionID)

	var outcome interface{}
	var err error
	if confirm {
		outcome, err = eng.Proposals.Confirm(r.Context(), messageID)
	} else {
		outcome, err = eng.Proposals.Decline(r.Context(), messageID)
	}

	switch {
	case errors.Is(err, conversation.ErrNotFound):
		Error(w, http.StatusNotFound, "no proposal for message")
	case errors.Is(err, conversation.ErrInvalidState):
		// Double submission guard: the proposal already has a decision.
		// No extra system message; the shell should just refresh.
		Error(w, http.StatusConflict, "proposal_not_pending")
	case err != nil:
		slog.Error("Proposal decision failed unexpectedly", "error", err, "message_id", messageID)
		Error(w, http.StatusInternalServerError, "proposal decision failed")
	default:
		JSON(w, http.StatusOK, map[string]interface{}{
			"message": outcome,
		})
	}
}
