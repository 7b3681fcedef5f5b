package middleware

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/api/v1/beds")
	called := false
	err := RequestTimeout(5 * time.Second)(func(c echo.Context) error {
		called = true
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestRequestTimeout_ReturnsGatewayTimeout(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/api/v1/waitlist/process")
	err := RequestTimeout(20 * time.Millisecond)(func(c echo.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	})(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRequestTimeout_SetsDeadline(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/api/v1/beds")
	RequestTimeout(time.Second)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected a deadline on the request context")
		}
		return nil
	})(c)
}

func TestRequestTimeout_SkipsWebSocketPaths(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/ws/beds")
	RequestTimeout(time.Second)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("websocket requests must not get a deadline")
		}
		return nil
	})(c)
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/api/v1/beds/x")
	want := echo.NewHTTPError(http.StatusNotFound, "bed x")
	err := RequestTimeout(time.Second)(func(c echo.Context) error { return want })(c)
	if err != want {
		t.Errorf("expected handler error, got %v", err)
	}
}
