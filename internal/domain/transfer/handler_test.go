package transfer

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func requestContext(e *echo.Echo, method, target, body, id string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if id != "" {
		c.SetParamNames("id")
		c.SetParamValues(id)
	}
	return c, rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestRequestTransfer_Created(t *testing.T) {
	f := newFixture(t)
	h, e := NewHandler(f.svc), echo.New()

	c, rec := requestContext(e, http.MethodPost, "/transfers", `{"source_bed_id":"S1","reason":"family request","priority":"urgent"}`, "")
	if err := h.RequestTransfer(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Request
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusPending || got.Priority != PriorityUrgent {
		t.Errorf("unexpected body: %+v", got)
	}
}

func TestRequestTransfer_SourceNotOccupied(t *testing.T) {
	f := newFixture(t)
	h, e := NewHandler(f.svc), echo.New()
	c, _ := requestContext(e, http.MethodPost, "/transfers", `{"source_bed_id":"T1","reason":"x"}`, "")
	if code := httpCode(t, h.RequestTransfer(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestApproveTransfer_Flow(t *testing.T) {
	f := newFixture(t)
	h, e := NewHandler(f.svc), echo.New()
	req := f.request(t)

	c, rec := requestContext(e, http.MethodPost, "/transfers/"+req.ID.String()+"/approve", `{"target_bed_id":"T2"}`, req.ID.String())
	if err := h.ApproveTransfer(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = requestContext(e, http.MethodPost, "/transfers/"+req.ID.String()+"/reject", `{"reason":"late"}`, req.ID.String())
	if code := httpCode(t, h.RejectTransfer(c)); code != http.StatusConflict {
		t.Errorf("expected 409 rejecting approved request, got %d", code)
	}

	c, rec = requestContext(e, http.MethodPost, "/transfers/"+req.ID.String()+"/execute", "", req.ID.String())
	if err := h.ExecuteTransfer(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Request
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestGetTransfer_BadID(t *testing.T) {
	f := newFixture(t)
	h, e := NewHandler(f.svc), echo.New()
	c, _ := requestContext(e, http.MethodGet, "/transfers/nope", "", "nope")
	if code := httpCode(t, h.GetTransfer(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestListTransfers_StatusFilter(t *testing.T) {
	f := newFixture(t)
	h, e := NewHandler(f.svc), echo.New()
	f.request(t)

	c, rec := requestContext(e, http.MethodGet, "/transfers?status=pending", "", "")
	if err := h.ListTransfers(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one pending transfer, got %s", rec.Body.String())
	}

	c, _ = requestContext(e, http.MethodGet, "/transfers?status=lost", "", "")
	if code := httpCode(t, h.ListTransfers(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}
