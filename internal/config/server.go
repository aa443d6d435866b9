package config

import (
	"TrafficSignAPI/internal/api/inference"
	inferenceHandler "TrafficSignAPI/internal/api/inference/handler"
	inferenceService "TrafficSignAPI/internal/api/inference/service"
	"TrafficSignAPI/internal/middleware"
	"TrafficSignAPI/pkg/audit"
	"TrafficSignAPI/pkg/metrics"
	"TrafficSignAPI/pkg/mltrack"
	"TrafficSignAPI/pkg/model"
	"TrafficSignAPI/pkg/utils"
	"context"
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/sirupsen/logrus"
)

const (
	appName    = "yolo-traffic-sign-api"
	appVersion = "1.0.0"
)

type ServerOption func(*Server) error

type Server struct {
	engine     *fiber.App
	log        *logrus.Logger
	settings   *Settings
	middleware middleware.Middleware
	validator  *validator.Validate
	utils      utils.IUtils
	handle     *model.Handle
	tracker    *mltrack.Tracker
	audit      audit.Sink
	metrics    *metrics.Metrics
	classNames []string
	handlers   []handler
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	if server.handle == nil {
		return nil, fmt.Errorf("model handle is required")
	}

	if server.validator == nil {
		server.validator = NewValidator()
	}
	if server.middleware == nil {
		server.middleware = middleware.New(server.log,
			middleware.WithRateLimit(server.settings.RateLimitRPS, server.settings.RateLimitBurst))
	}
	if server.utils == nil {
		server.utils = utils.NewWithLimit(int64(server.settings.MaxUploadMB) * 1024 * 1024)
	}
	if server.tracker == nil {
		server.tracker = mltrack.New(nil, mltrack.WithLogger(server.log))
	}
	if server.audit == nil {
		server.audit = audit.Discard
	}
	if server.metrics == nil {
		server.metrics = metrics.New(server.settings.MaxHistory)
	}
	if server.classNames == nil {
		server.classNames = append([]string(nil), DefaultClassNames...)
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithSettings(settings *Settings) ServerOption {
	return func(s *Server) error {
		s.settings = settings
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		if s.settings == nil {
			return fmt.Errorf("settings must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log,
			middleware.WithRateLimit(s.settings.RateLimitRPS, s.settings.RateLimitBurst))
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		if s.settings == nil {
			s.utils = utils.New()
			return nil
		}
		s.utils = utils.NewWithLimit(int64(s.settings.MaxUploadMB) * 1024 * 1024)
		return nil
	}
}

func WithModelHandle(handle *model.Handle) ServerOption {
	return func(s *Server) error {
		s.handle = handle
		return nil
	}
}

func WithTracker(tracker *mltrack.Tracker) ServerOption {
	return func(s *Server) error {
		s.tracker = tracker
		return nil
	}
}

// WithAuditLog opens the CSV audit sink at path.
func WithAuditLog(path string, opts ...audit.Option) ServerOption {
	return func(s *Server) error {
		sink, err := audit.NewCSV(path, opts...)
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to open audit log: %v", err)
			}
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		s.audit = sink
		return nil
	}
}

func WithAuditSink(sink audit.Sink) ServerOption {
	return func(s *Server) error {
		s.audit = sink
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

func WithClassNames(names []string) ServerOption {
	return func(s *Server) error {
		if len(names) == 0 {
			return fmt.Errorf("class names must not be empty")
		}
		s.classNames = names
		return nil
	}
}

func (s *Server) RegisterHandler() {
	s.setupMiddleware()

	// Inference Domain
	inferenceServices := inferenceService.New(s.log, s.handle, s.audit, s.tracker, s.metrics, inferenceService.Config{
		ClassNames: s.classNames,
		InputSize:  s.settings.Model.InputSize,
		Workers:    s.settings.Workers,
	})
	inferenceHandlers := inferenceHandler.New(s.log, s.validator, s.middleware, inferenceServices, s.utils, s.settings.Model.DefaultConf)

	s.setupHealthCheck()
	s.handlers = append(s.handlers, inferenceHandlers)

	for _, h := range s.handlers {
		h.Start(s.engine)
	}
}

func (s *Server) setupMiddleware() {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())
	s.engine.Use(s.metrics.Middleware())
	s.engine.Use(cors.New(cors.Config{
		AllowOrigins:  s.settings.CORSOrigins,
		AllowMethods:  "GET,POST,OPTIONS",
		ExposeHeaders: middleware.RequestIDKey,
	}))
	s.engine.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	s.metrics.TrackQueue(func() int {
		return s.tracker.Stats().Queued
	})
}

func (s *Server) App() *fiber.App {
	return s.engine
}

func (s *Server) Run() error {
	s.tracker.Start()

	s.log.WithFields(logrus.Fields{
		"port":      s.settings.Port,
		"weights":   s.handle.Path(),
		"telemetry": s.tracker.BackendName(),
	}).Info("Starting server")

	if err := s.engine.Listen(fmt.Sprintf(":%s", s.settings.Port)); err != nil {
		return err
	}

	return nil
}

// Shutdown stops accepting requests, drains the telemetry queue and releases
// the model. It keeps going after a failed step and reports every failure.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.engine.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http server: %w", err))
	}
	if err := s.tracker.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audit log: %w", err))
	}
	if err := s.handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close model: %w", err))
	}

	stats := s.tracker.Stats()
	s.log.WithFields(logrus.Fields{
		"enqueued":  stats.Enqueued,
		"dropped":   stats.Dropped,
		"processed": stats.Processed,
		"failed":    stats.Failed,
	}).Info("Telemetry drained")

	return errors.Join(errs...)
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/healthz", func(ctx *fiber.Ctx) error {
		return ctx.JSON(inference.HealthResponse{Status: "ok"})
	})

	s.engine.Get("/info", func(ctx *fiber.Ctx) error {
		return ctx.JSON(inference.InfoResponse{
			Name:    appName,
			Version: appVersion,
			Workers: s.settings.Workers,
		})
	})

	s.engine.Get("/stats", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"model_loaded": s.handle.Loaded(),
			"latency":      s.metrics.Window(),
			"telemetry": fiber.Map{
				"backend": s.tracker.BackendName(),
				"queue":   s.tracker.Stats(),
			},
		})
	})

	s.engine.Get("/metrics", s.metrics.Handler())
}
