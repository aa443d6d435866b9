package model

import (
	"context"
	"fmt"
	"os"
	"time"

	"TrafficSignAPI/pkg/detector"
	"github.com/sirupsen/logrus"
)

const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

type LoaderConfig struct {
	Backend     string
	WeightsPath string
	LibraryPath string
	ServerURL   string
	InputSize   int
	NumClasses  int
	IoU         float64
}

// NewLoader picks the detector backend named in cfg.
func NewLoader(cfg LoaderConfig, log *logrus.Logger) (Loader, error) {
	switch cfg.Backend {
	case "", BackendONNX:
		return func(ctx context.Context) (detector.Detector, error) {
			if _, err := os.Stat(cfg.WeightsPath); err != nil {
				return nil, fmt.Errorf("weights not readable: %w", err)
			}

			start := time.Now()
			det, err := detector.NewONNX(detector.ONNXConfig{
				LibraryPath: cfg.LibraryPath,
				WeightsPath: cfg.WeightsPath,
				InputSize:   cfg.InputSize,
				NumClasses:  cfg.NumClasses,
				IoU:         cfg.IoU,
			})
			if err != nil {
				return nil, err
			}

			log.WithFields(logrus.Fields{
				"weights":    cfg.WeightsPath,
				"input_size": cfg.InputSize,
				"elapsed_ms": time.Since(start).Milliseconds(),
			}).Info("ONNX model loaded")
			return det, nil
		}, nil
	case BackendRemote:
		return func(ctx context.Context) (detector.Detector, error) {
			return detector.DialRemote(ctx, detector.RemoteConfig{
				URL:         cfg.ServerURL,
				WeightsPath: cfg.WeightsPath,
			}, log)
		}, nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}
