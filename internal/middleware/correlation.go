package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// CorrelationHeader carries the request identifier between the UI, the bridge and the backend.
	CorrelationHeader = "X-Correlation-ID"

	correlationLocal  = "correlation_id"
	maxCorrelationLen = 128
)

type correlationIDKey struct{}

var correlationKey = correlationIDKey{}

// CorrelationID tags every bridge request with an identifier. One supplied by the UI is reused
// so its logs line up with the bridge's and the backend's.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := normalizeCorrelation(c.Get(CorrelationHeader))
		if id == "" {
			id = normalizeCorrelation(c.Get("X-Request-ID"))
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(correlationLocal, id)
		c.Set(CorrelationHeader, id)
		c.SetUserContext(ContextWithCorrelation(c.UserContext(), id))

		return c.Next()
	}
}

// CorrelationIDFromContext extracts the correlation identifier from ctx, if present.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// GetCorrelationID returns the correlation identifier bound to the active request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(correlationLocal).(string); ok && id != "" {
		return id
	}
	return CorrelationIDFromContext(c.UserContext())
}

// ContextWithCorrelation attaches the correlation identifier to ctx. Outgoing backend calls
// forward it as CorrelationHeader.
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id := normalizeCorrelation(correlationID)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, id)
}

func normalizeCorrelation(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > maxCorrelationLen {
		value = value[:maxCorrelationLen]
	}
	return value
}
