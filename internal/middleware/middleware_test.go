package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newApp(m Middleware) *fiber.App {
	app := fiber.New()
	app.Use(m.NewRequestIDMiddleware())
	app.Use(m.NewLoggingMiddleware())
	app.Post("/predict", m.NewRateLimiter, func(c *fiber.Ctx) error {
		return c.SendString(m.GetRequestID(c))
	})
	return app
}

func TestRequestIDIsGeneratedAndEchoed(t *testing.T) {
	app := newApp(New(quietLogger()))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/predict", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)

	id := resp.Header.Get(RequestIDKey)
	assert.Len(t, id, 26)
	assert.Equal(t, id, string(body))

	req := httptest.NewRequest(fiber.MethodPost, "/predict", nil)
	req.Header.Set(RequestIDKey, "caller-id")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "caller-id", resp.Header.Get(RequestIDKey))
}

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	app := newApp(New(quietLogger(), WithRateLimit(0.001, 2)))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/predict", nil))
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimiterCanBeDisabled(t *testing.T) {
	app := newApp(New(quietLogger(), WithRateLimit(0, 0)))

	for i := 0; i < 200; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/predict", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}
