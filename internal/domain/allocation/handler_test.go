package allocation

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/carehome/bedengine/internal/domain/bed"
)

func TestMatchHandler(t *testing.T) {
	src := &poolSource{beds: []*bed.Bed{available("B1", "standard"), available("B2", "premium", "bariatric")}}
	h := NewHandler(NewMatcher(src))
	e := echo.New()

	body := `{"preferred_bed_types":["premium"],"special_requirements":["bariatric"]}`
	req := httptest.NewRequest(http.MethodPost, "/allocation/match", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Match(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m Match
	json.Unmarshal(rec.Body.Bytes(), &m)
	if m.Bed == nil || m.Bed.ID != "B2" || m.Score != 160 || len(m.Reasons) != 3 {
		t.Errorf("unexpected match: %+v", m)
	}
}

func TestMatchHandler_NoMatch(t *testing.T) {
	h := NewHandler(NewMatcher(&poolSource{}))
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/allocation/match", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.Match(e.NewContext(req, rec))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
