package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func get(t *testing.T, hs *HealthService, path string) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return rec, resp
}

func TestLivenessOK(t *testing.T) {
	hs := NewHealthService(0)
	hs.RegisterLivenessCheck("orchestrator", CheckFunc(func(context.Context) error { return nil }))

	rec, resp := get(t, hs, "/health/live")
	if rec.Code != http.StatusOK || resp.Status != "ok" {
		t.Fatalf("expected ok, got %d %s", rec.Code, resp.Status)
	}
	if resp.Checks["orchestrator"].Status != "ok" {
		t.Fatalf("expected orchestrator check reported")
	}
}

func TestReadinessFailure(t *testing.T) {
	hs := NewHealthService(0)
	hs.RegisterReadinessCheck("orchestrator", CheckFunc(func(context.Context) error { return nil }))
	hs.RegisterReadinessCheck("database", CheckFunc(func(context.Context) error {
		return errors.New("database not healthy")
	}))

	rec, resp := get(t, hs, "/health/ready")
	if rec.Code != http.StatusServiceUnavailable || resp.Status != "failed" {
		t.Fatalf("expected failure, got %d %s", rec.Code, resp.Status)
	}
	if resp.Checks["database"].Error != "database not healthy" {
		t.Fatalf("expected database error, got %+v", resp.Checks["database"])
	}
	if resp.Checks["orchestrator"].Status != "ok" {
		t.Fatalf("expected passing check to stay ok")
	}
}
