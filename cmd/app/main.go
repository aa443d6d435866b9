package main

import (
	"TrafficSignAPI/internal/config"
	"TrafficSignAPI/pkg/audit"
	"TrafficSignAPI/pkg/log"
	"TrafficSignAPI/pkg/metrics"
	"TrafficSignAPI/pkg/mltrack"
	"TrafficSignAPI/pkg/model"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn(log.Fields{"error": err.Error()}, "Error loading .env file")
	}
	logger := log.NewLogger()

	settings, err := config.LoadSettings()
	if err != nil {
		logger.Fatal(err)
	}

	classNames, err := config.LoadClassNames(settings.ClassNamesFile)
	if err != nil {
		logger.Fatal(err)
	}

	recorder := metrics.New(settings.MaxHistory)

	loader, err := model.NewLoader(model.LoaderConfig{
		Backend:     settings.Model.Backend,
		WeightsPath: settings.Model.WeightsPath,
		LibraryPath: settings.Model.LibraryPath,
		ServerURL:   settings.Model.ServerURL,
		InputSize:   settings.Model.InputSize,
		NumClasses:  len(classNames),
		IoU:         settings.Model.IoU,
	}, logger)
	if err != nil {
		logger.Fatal(err)
	}
	handle := model.NewHandle(settings.Model.WeightsPath, loader, model.WithLoadHook(recorder.ModelLoaded))

	tracker := newTracker(logger, settings, recorder)

	fiberApp := config.NewFiber(logger, settings)
	validator := config.NewValidator()

	server, err := config.NewServer(
		config.WithFiber(fiberApp),
		config.WithLogger(logger),
		config.WithSettings(settings),
		config.WithValidator(validator),
		config.WithMiddleware(),
		config.WithUtils(),
		config.WithModelHandle(handle),
		config.WithTracker(tracker),
		config.WithAuditLog(settings.PredLog, audit.WithMaxSize(settings.PredLogMaxMB)),
		config.WithMetrics(recorder),
		config.WithClassNames(classNames),
	)
	if err != nil {
		logger.Fatal(err)
	}

	server.RegisterHandler()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	logger.Info("Server started successfully")

	<-sigChan
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		return
	}
	logger.Info("Server stopped")
}

// newTracker builds the telemetry pipeline. A backend that cannot be set up
// leaves telemetry disabled instead of stopping the service.
func newTracker(logger *logrus.Logger, settings *config.Settings, recorder *metrics.Metrics) *mltrack.Tracker {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	backend, err := mltrack.NewBackend(ctx, settings.Tracking, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"backend": settings.Tracking.Backend,
			"error":   err.Error(),
		}).Warn("Telemetry backend unavailable, telemetry disabled")
		backend = nil
	}

	return mltrack.New(backend,
		mltrack.WithQueueSize(settings.QueueSize),
		mltrack.WithLogger(logger),
		mltrack.WithObserver(recorder),
	)
}
