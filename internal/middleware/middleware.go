package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Middleware interface {
	NewRateLimiter(ctx *fiber.Ctx) error
	NewRequestIDMiddleware() fiber.Handler
	NewLoggingMiddleware() fiber.Handler
	GetRequestID(ctx *fiber.Ctx) string
}

type middleware struct {
	rateLimitter        *rateLimiter
	loggingMiddleware   *loggingMiddleware
	requestIDMiddleware fiber.Handler
	log                 *logrus.Logger
}

type Option func(*middleware)

// WithRateLimit sets the per-client rate. A non-positive rate disables
// limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(m *middleware) {
		if rps <= 0 {
			m.rateLimitter = nil
			return
		}
		m.rateLimitter = newRateLimiter(rate.Limit(rps), burst)
	}
}

func New(logger *logrus.Logger, opts ...Option) Middleware {
	m := &middleware{
		rateLimitter:        newRateLimiter(50, 100),
		loggingMiddleware:   newLoggingMiddleware(logger),
		requestIDMiddleware: NewRequestIDMiddleware(),
		log:                 logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *middleware) GetRequestID(ctx *fiber.Ctx) string {
	requestID, ok := ctx.Locals(RequestIDKey).(string)
	if !ok || requestID == "" {
		return "unknown"
	}
	return requestID
}

func (m *middleware) NewRequestIDMiddleware() fiber.Handler {
	return m.requestIDMiddleware
}
