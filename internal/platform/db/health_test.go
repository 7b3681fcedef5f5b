package db

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

func callHealth(t *testing.T, pool *pgxpool.Pool) (int, map[string]any) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	if err := HealthHandler(pool)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_Unreachable(t *testing.T) {
	// pgxpool connects lazily, so New succeeds and Ping fails.
	pool, err := pgxpool.New(context.Background(), "postgres://bedengine@127.0.0.1:1/bedengine?connect_timeout=1")
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	code, body := callHealth(t, pool)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if body["status"] != "unhealthy" || body["store"] != "postgres" {
		t.Errorf("unexpected body %v", body)
	}
	if msg, _ := body["error"].(string); msg == "" {
		t.Error("expected the ping error in the body")
	}
	if _, ok := body["ping_ms"]; ok {
		t.Error("ping_ms is only reported when the ping succeeds")
	}
	stats, ok := body["pool"].(map[string]any)
	if !ok {
		t.Fatalf("expected pool stats, got %v", body["pool"])
	}
	if stats["healthy"] != false {
		t.Errorf("expected pool healthy=false, got %v", stats["healthy"])
	}
}

func TestHealthHandler_Healthy(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := NewPool(context.Background(), url, 2, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	code, body := callHealth(t, pool)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, body)
	}
	if body["status"] != "healthy" || body["store"] != "postgres" {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["ping_ms"].(float64); !ok {
		t.Errorf("expected numeric ping_ms, got %v", body["ping_ms"])
	}
	stats := body["pool"].(map[string]any)
	if stats["max_conns"] != float64(2) {
		t.Errorf("expected max_conns 2, got %v", stats["max_conns"])
	}
}
