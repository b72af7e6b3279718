package middleware

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

// MaxDuration returns an Echo middleware that bounds the whole exchange,
// streaming included, by d. The request context carries the deadline, so
// the upstream call and the relay both stop when it passes. A non-positive
// d disables the bound.
func MaxDuration(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(c echo.Context) error {
			req := c.Request()
			ctx, cancel := context.WithTimeout(req.Context(), d)
			defer cancel()
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
