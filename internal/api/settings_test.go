package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HenshawMike/fx-agent/internal/backend"
	"github.com/go-chi/chi/v5"
)

type fakeRelay struct {
	getBody    json.RawMessage
	getErr     error
	updateBody json.RawMessage
	updateErr  error
	lastUpdate json.RawMessage
}

func (f *fakeRelay) GetCredentials(ctx context.Context) (json.RawMessage, error) {
	return f.getBody, f.getErr
}

func (f *fakeRelay) UpdateCredentials(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	f.lastUpdate = body
	return f.updateBody, f.updateErr
}

func newSettingsRouter(relay CredentialsRelay) *chi.Mux {
	r := chi.NewRouter()
	NewSettingsHandler(relay).RegisterRoutes(r)
	return r
}

func TestSettingsHandler_GetPassesBodyThrough(t *testing.T) {
	t.Parallel()
	relay := &fakeRelay{getBody: json.RawMessage(`{"login":"12345","server":"Demo"}`)}
	router := newSettingsRouter(relay)

	req := httptest.NewRequest(http.MethodGet, "/api/settings/mt5_credentials", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"login":"12345","server":"Demo"}` {
		t.Errorf("Expected raw passthrough, got %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %s", ct)
	}
}

func TestSettingsHandler_UpdatePassesBodyThrough(t *testing.T) {
	t.Parallel()
	relay := &fakeRelay{updateBody: json.RawMessage(`{"success":true}`)}
	router := newSettingsRouter(relay)

	req := httptest.NewRequest(http.MethodPost, "/api/settings/mt5_credentials", strings.NewReader(`{"login":"67890"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if string(relay.lastUpdate) != `{"login":"67890"}` {
		t.Errorf("Expected request body relayed verbatim, got %s", relay.lastUpdate)
	}
}

func TestSettingsHandler_BackendProtocolErrorIs502(t *testing.T) {
	t.Parallel()
	relay := &fakeRelay{getErr: &backend.ProtocolError{StatusCode: 500, Detail: "mt5 bridge down"}}
	router := newSettingsRouter(relay)

	req := httptest.NewRequest(http.MethodGet, "/api/settings/mt5_credentials", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mt5 bridge down") {
		t.Errorf("Expected backend detail in response, got %s", rec.Body.String())
	}
}

func TestSettingsHandler_BackendUnreachableIs502(t *testing.T) {
	t.Parallel()
	relay := &fakeRelay{updateErr: errors.New("dial tcp: connection refused")}
	router := newSettingsRouter(relay)

	req := httptest.NewRequest(http.MethodPost, "/api/settings/mt5_credentials", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "backend unreachable") {
		t.Errorf("Expected generic unreachable error, got %s", rec.Body.String())
	}
}
