package waitlist

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func postJSON(e *echo.Echo, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestAddEntry_Handler(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	c, rec := postJSON(e, "/waitlist", `{"resident_id":"R1","priority":"urgent","special_requirements":["hoist"]}`)
	if err := h.AddEntry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, _ = postJSON(e, "/waitlist", `{"resident_id":"R1","priority":"low"}`)
	var he *echo.HTTPError
	if err := h.AddEntry(c); !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %v", err)
	}
}

func TestProcess_Handler(t *testing.T) {
	f := newFixture(t, standardBed("B1", "standard"))
	f.add(t, Entry{ResidentID: "R1", Priority: PriorityLow}, t0)
	h := NewHandler(f.svc)

	c, rec := postJSON(echo.New(), "/waitlist/process", "")
	if err := h.Process(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var report RunReport
	json.Unmarshal(rec.Body.Bytes(), &report)
	if len(report.Placements) != 1 || report.Placements[0].BedID != "B1" {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestGetEntry_BadID(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	req := httptest.NewRequest(http.MethodGet, "/waitlist/x", nil)
	c := echo.New().NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	var he *echo.HTTPError
	if err := h.GetEntry(c); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
