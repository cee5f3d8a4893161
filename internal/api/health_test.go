package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HenshawMike/fx-agent/internal/domain"
	"github.com/go-chi/chi/v5"
)

type fakeRepo struct {
	pingErr error
}

func (f *fakeRepo) SaveMessage(ctx context.Context, sessionKey string, msg *domain.Message) error {
	return nil
}

func (f *fakeRepo) UpdateProposalState(ctx context.Context, messageID string, state domain.ProposalState) error {
	return nil
}

func (f *fakeRepo) SessionTranscript(ctx context.Context, sessionKey string, limit int) ([]*domain.Message, error) {
	return nil, nil
}

func (f *fakeRepo) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeRepo) Close() error { return nil }

func healthRequest(t *testing.T, h *HealthHandler) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterHealth(r)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return rec, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	t.Parallel()
	rec, body := healthRequest(t, NewHealthHandler(&fakeRepo{}))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", body["status"])
	}
}

func TestHealthHandler_ArchiveDown(t *testing.T) {
	t.Parallel()
	rec, body := healthRequest(t, NewHealthHandler(&fakeRepo{pingErr: errors.New("disk full")}))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
	if body["status"] != "degraded" {
		t.Errorf("Expected degraded, got %v", body["status"])
	}
}

func TestHealthHandler_NoArchive(t *testing.T) {
	t.Parallel()
	rec, body := healthRequest(t, NewHealthHandler(nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	checks, ok := body["checks"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected checks map, got %v", body["checks"])
	}
	if _, present := checks["archive"]; present {
		t.Error("Expected no archive check when the archive is disabled")
	}
}
