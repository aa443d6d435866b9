package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"TrafficSignAPI/pkg/mltrack"
	"TrafficSignAPI/pkg/redis"
	"TrafficSignAPI/pkg/s3"
)

type ModelSettings struct {
	Backend     string
	WeightsPath string
	LibraryPath string
	ServerURL   string
	InputSize   int
	IoU         float64
	DefaultConf float64
}

type Settings struct {
	Port           string
	Env            string
	Workers        int
	Model          ModelSettings
	ClassNamesFile string
	PredLog        string
	PredLogMaxMB   int
	MaxUploadMB    int
	Tracking       mltrack.Config
	QueueSize      int
	RateLimitRPS   float64
	RateLimitBurst int
	MaxHistory     int
	CORSOrigins    string
}

// LoadSettings reads the process environment. A .env file, when present, is
// expected to have been loaded before this is called.
func LoadSettings() (*Settings, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	floatVar := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	workers := os.Getenv("API_WORKERS")
	if workers == "" {
		workers = os.Getenv("WORKERS")
	}
	nWorkers := 1
	if workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			errs = append(errs, fmt.Sprintf("API_WORKERS: %q is not an integer", workers))
		} else {
			nWorkers = n
		}
	}

	s := &Settings{
		Port:    envString("APP_PORT", "8000"),
		Env:     envString("APP_ENV", "development"),
		Workers: nWorkers,
		Model: ModelSettings{
			Backend:     envString("MODEL_BACKEND", "onnx"),
			WeightsPath: envString("MODEL_WEIGHTS", "models/best.onnx"),
			LibraryPath: os.Getenv("ONNXRUNTIME_LIB"),
			ServerURL:   os.Getenv("MODEL_SERVER_URL"),
			InputSize:   intVar("INPUT_SIZE", 320),
			IoU:         floatVar("NMS_IOU", 0.7),
			DefaultConf: floatVar("DEFAULT_CONF", 0.25),
		},
		ClassNamesFile: os.Getenv("CLASS_NAMES_FILE"),
		PredLog:        envString("PRED_LOG", "artifacts/predict_log.csv"),
		PredLogMaxMB:   intVar("PRED_LOG_MAX_MB", 100),
		MaxUploadMB:    intVar("MAX_UPLOAD_MB", 20),
		Tracking: mltrack.Config{
			Backend:    strings.ToLower(os.Getenv("TRACKING_BACKEND")),
			Experiment: envString("MLFLOW_EXPERIMENT_NAME", "default"),
			MLflowURI:  os.Getenv("MLFLOW_TRACKING_URI"),
			Redis: redis.Config{
				Addr:     envString("TRACKING_REDIS_ADDR", "localhost:6379"),
				Password: os.Getenv("TRACKING_REDIS_PASSWORD"),
				DB:       intVar("TRACKING_REDIS_DB", 0),
			},
			RedisStream: envString("TRACKING_REDIS_STREAM", "mltrack:runs"),
			RedisMaxLen: int64(intVar("TRACKING_REDIS_MAXLEN", 100000)),
			DatabaseURL: os.Getenv("TRACKING_DATABASE_URL"),
			S3: s3.Config{
				Bucket:          os.Getenv("TRACKING_S3_BUCKET"),
				Prefix:          os.Getenv("TRACKING_S3_PREFIX"),
				Region:          envString("AWS_REGION", "us-east-1"),
				Endpoint:        os.Getenv("AWS_ENDPOINT"),
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			},
		},
		QueueSize:      intVar("TRACKING_QUEUE_SIZE", mltrack.DefaultQueueSize),
		RateLimitRPS:   floatVar("RATE_LIMIT_RPS", 50),
		RateLimitBurst: intVar("RATE_LIMIT_BURST", 100),
		MaxHistory:     intVar("MAX_HISTORY", 200),
		CORSOrigins:    envString("CORS_ORIGINS", "*"),
	}

	switch {
	case s.Workers < 1:
		errs = append(errs, "API_WORKERS must be at least 1")
	case s.Model.InputSize <= 0 || s.Model.InputSize%32 != 0:
		errs = append(errs, "INPUT_SIZE must be a positive multiple of 32")
	case s.Model.DefaultConf < 0 || s.Model.DefaultConf > 1:
		errs = append(errs, "DEFAULT_CONF must be within [0, 1]")
	case s.Model.IoU <= 0 || s.Model.IoU > 1:
		errs = append(errs, "NMS_IOU must be within (0, 1]")
	case s.QueueSize <= 0:
		errs = append(errs, "TRACKING_QUEUE_SIZE must be positive")
	case s.PredLogMaxMB <= 0:
		errs = append(errs, "PRED_LOG_MAX_MB must be positive")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return s, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a number", key, v)
	}
	return f, nil
}
