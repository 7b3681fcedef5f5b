package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout sets a deadline on each request's context. Domain
// operations run inside a transaction that rolls back when the deadline
// passes, so a timed-out request leaves bed state unchanged. If the handler
// has not returned by the deadline the client gets 504.
//
// Paths under /ws/ are long-lived and skipped.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || strings.HasPrefix(c.Request().URL.Path, "/ws/") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				if errors.Is(err, context.DeadlineExceeded) {
					return gatewayTimeout()
				}
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return gatewayTimeout()
				}
				return ctx.Err()
			}
		}
	}
}

func gatewayTimeout() error {
	return echo.NewHTTPError(http.StatusGatewayTimeout, "request exceeded the allowed time limit")
}
