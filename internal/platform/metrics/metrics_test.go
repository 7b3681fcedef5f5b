package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.BedTransition("available", "occupied")
	m.Placement()
	m.Conflict("assign")
	m.SetOverdue(3)
	m.Dropped("audit")
	m.ObserveSince("assign", time.Now())
	if m.Registry() != nil {
		t.Error("expected nil registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.BedTransition("available", "occupied")
	m.BedTransition("available", "occupied")
	m.BedTransition("occupied", "cleaning")
	m.Placement()
	m.Conflict("waitlist.process")
	m.SetOverdue(2)

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("available", "occupied")); got != 2 {
		t.Errorf("expected 2 available->occupied, got %v", got)
	}
	if got := testutil.ToFloat64(m.placements); got != 1 {
		t.Errorf("expected 1 placement, got %v", got)
	}
	if got := testutil.ToFloat64(m.conflicts.WithLabelValues("waitlist.process")); got != 1 {
		t.Errorf("expected 1 conflict, got %v", got)
	}
	if got := testutil.ToFloat64(m.overdue); got != 2 {
		t.Errorf("expected overdue gauge 2, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.BedTransition("occupied", "cleaning")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := m.Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `bedengine_bed_transitions_total{from="occupied",to="cleaning"} 1`) {
		t.Errorf("expected transition counter in output, got:\n%s", rec.Body.String())
	}
}
