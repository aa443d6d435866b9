package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"TrafficSignAPI/internal/entity"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentileMatchesLinearInterpolation(t *testing.T) {
	xs := []float64{10, 20, 30, 40}
	assert.InDelta(t, 25.0, percentile(xs, 50), 1e-9)
	assert.InDelta(t, 38.5, percentile(xs, 95), 1e-9)
	assert.Equal(t, 7.0, percentile([]float64{7}, 95))
}

func TestWindowKeepsMostRecentSamples(t *testing.T) {
	w := NewWindow(3)
	base := time.Unix(1000, 0)
	tick := 0
	w.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	w.Record(100, true)
	w.Record(1, true)
	w.Record(2, true)
	w.Record(3, true)

	stats := w.Stats()
	assert.Equal(t, 3, stats.Requests)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, 2.0, stats.AvgLatencyMs)
	assert.Equal(t, 2.0, stats.P50LatencyMs)
	assert.Equal(t, 1.5, stats.ThroughputRPS)
}

func TestWindowCountsErrors(t *testing.T) {
	w := NewWindow(10)
	w.Record(0, false)
	w.Record(12, true)

	stats := w.Stats()
	assert.Equal(t, 2, stats.Requests)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 12.0, stats.P95LatencyMs)
}

func TestEmptyWindow(t *testing.T) {
	assert.Equal(t, WindowStats{}, NewWindow(0).Stats())
}

func TestObserverCounters(t *testing.T) {
	m := New(10)
	m.Dropped()
	m.Dropped()
	m.Processed(time.Millisecond, nil)
	m.Processed(time.Millisecond, errors.New("down"))
	m.ModelLoaded()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.trackerDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trackerRuns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trackerRuns.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelLoads))
}

func TestObserveInferenceCountsClasses(t *testing.T) {
	m := New(10)
	m.ObserveInference("inference", &entity.InferenceResult{
		Boxes:     []entity.DetectionBox{{Class: "Stop"}, {Class: "Stop"}, {Class: "Yield"}},
		LatencyMs: 12,
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.boxes.WithLabelValues("Stop")))
	assert.Equal(t, 1, m.Window().Requests)
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New(10)
	m.TrackQueue(func() int { return 4 })

	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })
	app.Get("/boom", func(c *fiber.Ctx) error { return fiber.ErrTeapot })
	app.Get("/metrics", m.Handler())

	for _, path := range []string{"/healthz", "/healthz", "/boom"} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/healthz", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/boom", "418")))

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "traffic_sign_api_http_requests_total")
	assert.Contains(t, string(body), "traffic_sign_api_telemetry_queue_depth 4")
}
