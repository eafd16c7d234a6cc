// Package middleware holds the Fiber middleware shared by every route.
package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tagapp/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// UserIDHeader optionally names the calling user. It only feeds logging and
// rate limiting; requests carry their acting user id in the body.
const UserIDHeader = "X-User-ID"

// ContextMiddleware copies the request id, caller id and trace id from Fiber
// locals into the request context so the context-aware logger sees them in
// the service layer.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		if rid, ok := c.Locals("requestid").(string); ok {
			ctx = context.WithValue(ctx, observability.RequestIDKey, rid)
		}

		uid, _ := c.Locals("userID").(string)
		if uid == "" {
			uid = strings.TrimSpace(c.Get(UserIDHeader))
		}
		if uid != "" {
			c.Locals("userID", uid)
			ctx = observability.WithUserID(ctx, uid)
		}

		if tid, ok := c.Locals("traceID").(string); ok {
			ctx = context.WithValue(ctx, observability.TraceIDKey, tid)
		}

		c.SetUserContext(ctx)
		return c.Next()
	}
}

// StructuredLogger logs one line per request through observability.Logger.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		fields := []any{
			slog.Int("status", c.Response().StatusCode()),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
			slog.String("user_agent", c.Get("User-Agent")),
		}

		if err != nil {
			fields = append(fields, slog.String("error", err.Error()))
			observability.Logger.ErrorContext(c.UserContext(), "request failed", fields...)
		} else {
			observability.Logger.InfoContext(c.UserContext(), "request processed", fields...)
		}
		return err
	}
}
