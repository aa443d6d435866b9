// Package metrics exposes Prometheus collectors for the HTTP layer, the
// detector and the telemetry queue, plus a rolling latency window.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"TrafficSignAPI/internal/entity"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "traffic_sign_api"

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inference       *prometheus.HistogramVec
	boxes           *prometheus.CounterVec
	modelLoads      prometheus.Counter
	trackerDropped  prometheus.Counter
	trackerRuns     *prometheus.CounterVec
	trackerDuration prometheus.Histogram

	window *Window
}

func New(historySize int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "handler", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "handler"}),
		inference: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_latency_ms",
			Help:      "Per-image latency from resize through box mapping.",
			Buckets:   []float64{5, 10, 20, 40, 80, 160, 320, 640, 1280},
		}, []string{"run"}),
		boxes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detection boxes returned, by class.",
		}, []string{"class"}),
		modelLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Successful model loads.",
		}),
		trackerDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_dropped_total",
			Help:      "Telemetry events dropped because the queue was full or stopped.",
		}),
		trackerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_runs_total",
			Help:      "Telemetry events handed to the backend, by outcome.",
		}, []string{"outcome"}),
		trackerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "telemetry_backend_seconds",
			Help:      "Time spent recording one telemetry event.",
			Buckets:   prometheus.DefBuckets,
		}),
		window: NewWindow(historySize),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.inference,
		m.boxes,
		m.modelLoads,
		m.trackerDropped,
		m.trackerRuns,
		m.trackerDuration,
	)

	return m
}

// TrackQueue exports the current telemetry queue depth on every scrape.
func (m *Metrics) TrackQueue(depth func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "telemetry_queue_depth",
		Help:      "Telemetry events waiting for the worker.",
	}, func() float64 {
		return float64(depth())
	}))
}

func (m *Metrics) Handler() fiber.Handler {
	// Response compression is left to the server's compress middleware.
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:           m.registry,
		DisableCompression: true,
	}))
}

func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		route := c.Route().Path
		m.requests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())

		return err
	}
}

// ObserveInference records one image worth of results.
func (m *Metrics) ObserveInference(run string, result *entity.InferenceResult) {
	m.inference.WithLabelValues(run).Observe(result.LatencyMs)
	for _, b := range result.Boxes {
		m.boxes.WithLabelValues(b.Class).Inc()
	}
	m.window.Record(result.LatencyMs, true)
}

// ObserveFailure counts a failed prediction in the rolling window.
func (m *Metrics) ObserveFailure() {
	m.window.Record(0, false)
}

func (m *Metrics) ModelLoaded() {
	m.modelLoads.Inc()
}

func (m *Metrics) Dropped() {
	m.trackerDropped.Inc()
}

func (m *Metrics) Processed(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.trackerRuns.WithLabelValues(outcome).Inc()
	m.trackerDuration.Observe(d.Seconds())
}

func (m *Metrics) Window() WindowStats {
	return m.window.Stats()
}
