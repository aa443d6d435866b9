package mltrack

import (
	"context"
	"fmt"

	"TrafficSignAPI/pkg/redis"
	"TrafficSignAPI/pkg/s3"

	"github.com/sirupsen/logrus"
)

const (
	BackendMLflow   = "mlflow"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendNone     = "none"
)

type Config struct {
	Backend     string
	Experiment  string
	MLflowURI   string
	Redis       redis.Config
	RedisStream string
	RedisMaxLen int64
	DatabaseURL string
	S3          s3.Config
}

// NewBackend builds the configured backend. It returns nil, nil when
// telemetry is disabled: no backend named and no MLflow URI set.
func NewBackend(ctx context.Context, cfg Config, log *logrus.Logger) (Backend, error) {
	name := cfg.Backend
	if name == "" && cfg.MLflowURI != "" {
		name = BackendMLflow
	}

	switch name {
	case "", BackendNone:
		return nil, nil
	case BackendMLflow:
		if cfg.MLflowURI == "" {
			return nil, fmt.Errorf("MLFLOW_TRACKING_URI is required for the mlflow backend")
		}
		return NewMLflow(cfg.MLflowURI, cfg.Experiment), nil
	case BackendRedis:
		client := redis.New(cfg.Redis, log)
		return NewRedisStream(client, cfg.RedisStream, cfg.Experiment, cfg.RedisMaxLen), nil
	case BackendPostgres:
		pg, err := OpenPostgres(ctx, cfg.DatabaseURL, cfg.Experiment)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case BackendS3:
		client, err := s3.New(cfg.S3)
		if err != nil {
			return nil, err
		}
		return NewS3Archive(client, cfg.S3.Prefix, cfg.Experiment), nil
	default:
		return nil, fmt.Errorf("unknown tracking backend %q", name)
	}
}
