package context

import (
	"context"
	"github.com/gofiber/fiber/v2"
)

const RequestIDKey = "request_id"

const headerRequestID = "X-Request-ID"

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	requestID, ok := ctx.Value(RequestIDKey).(string)
	if !ok || requestID == "" {
		return "unknown"
	}
	return requestID
}

// FromFiberCtx builds a request-scoped context detached from the fasthttp
// request, carrying only the request id.
func FromFiberCtx(c *fiber.Ctx) context.Context {
	ctx := context.Background()

	requestID, ok := c.Locals(headerRequestID).(string)
	if !ok || requestID == "" {
		requestID = c.Get(headerRequestID)

		if requestID == "" {
			requestID = "unknown"
		}
	}

	return WithRequestID(ctx, requestID)
}
