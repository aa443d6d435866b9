package middleware

import (
	"TrafficSignAPI/pkg/log"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type loggingMiddleware struct {
	logger *logrus.Logger
}

func newLoggingMiddleware(logger *logrus.Logger) *loggingMiddleware {
	return &loggingMiddleware{
		logger: logger,
	}
}

// NewLoggingMiddleware logs one line per request once the handler chain has
// run. Upload bodies are summarized by size only.
func (m *middleware) NewLoggingMiddleware() fiber.Handler {
	return m.loggingMiddleware.handle
}

func (l *loggingMiddleware) handle(c *fiber.Ctx) error {
	start := time.Now()

	requestID, ok := c.Locals(RequestIDKey).(string)
	if !ok || requestID == "" {
		requestID = "unknown"
	}

	c.Locals(log.RequestIDKey, requestID)

	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
	}

	fields := logrus.Fields{
		log.RequestIDKey: requestID,
		"method":         c.Method(),
		"path":           c.Path(),
		"status":         status,
		"latency_ms":     time.Since(start).Milliseconds(),
		"ip":             c.IP(),
		"user_agent":     c.Get(fiber.HeaderUserAgent),
		"request_size":   len(c.Request().Body()),
		"response_size":  len(c.Response().Body()),
	}

	entry := l.logger.WithFields(fields)
	switch {
	case status >= 500:
		entry.Error("Server error")
	case status >= 400:
		entry.Warn("Client error")
	default:
		entry.Info("Success")
	}

	return err
}
