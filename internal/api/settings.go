package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/HenshawMike/fx-agent/internal/backend"
	"github.com/go-chi/chi/v5"
)

const maxSettingsBodySize = 64 << 10

// CredentialsRelay is the settings side of the backend client. The payload
// is opaque: broker connectivity is owned by the backend and the engine
// never gates confirm/decline on it.
type CredentialsRelay interface {
	GetCredentials(ctx context.Context) (json.RawMessage, error)
	UpdateCredentials(ctx context.Context, body json.RawMessage) (json.RawMessage, error)
}

// SettingsHandler relays MT5 credential requests to the backend.
type SettingsHandler struct {
	relay CredentialsRelay
}

// NewSettingsHandler creates the settings relay handler.
func NewSettingsHandler(relay CredentialsRelay) *SettingsHandler {
	return &SettingsHandler{relay: relay}
}

// RegisterRoutes registers settings routes.
func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/mt5_credentials", h.GetCredentials)
		r.Post("/mt5_credentials", h.UpdateCredentials)
	})
}

// GetCredentials handles GET /api/settings/mt5_credentials.
func (h *SettingsHandler) GetCredentials(w http.ResponseWriter, r *http.Request) {
	body, err := h.relay.GetCredentials(r.Context())
	if err != nil {
		h.relayError(w, err)
		return
	}
	writeRaw(w, body)
}

// UpdateCredentials handles POST /api/settings/mt5_credentials.
func (h *SettingsHandler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSettingsBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	body, err := h.relay.UpdateCredentials(r.Context(), payload)
	if err != nil {
		h.relayError(w, err)
		return
	}
	writeRaw(w, body)
}

func (h *SettingsHandler) relayError(w http.ResponseWriter, err error) {
	var protoErr *backend.ProtocolError
	if errors.As(err, &protoErr) {
		slog.Warn("Settings relay protocol error", "status", protoErr.StatusCode, "detail", protoErr.Detail)
		Error(w, http.StatusBadGateway, protoErr.Detail)
		return
	}
	slog.Warn("Settings relay failed", "error", err)
	Error(w, http.StatusBadGateway, "backend unreachable")
}

func writeRaw(w http.ResponseWriter, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Debug("Failed to write settings response", "error", err)
	}
}
