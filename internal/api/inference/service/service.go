package inferenceService

import (
	"TrafficSignAPI/internal/api/inference"
	"TrafficSignAPI/internal/entity"
	"TrafficSignAPI/pkg/audit"
	"TrafficSignAPI/pkg/metrics"
	"TrafficSignAPI/pkg/mltrack"
	"TrafficSignAPI/pkg/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

const (
	RunInference      = "inference"
	RunBatchInference = "batch_inference"
	RunStream         = "stream_inference"
)

type IInferenceService interface {
	PredictImage(ctx context.Context, data []byte, conf float64) (*entity.InferenceResult, error)
	Predict(ctx context.Context, upload inference.Upload, conf float64) (*inference.PredictResponse, error)
	PredictBatch(ctx context.Context, uploads []inference.Upload, conf float64) (*inference.BatchResponse, error)
	PredictFrame(ctx context.Context, frame inference.Upload, conf float64) (*inference.PredictResponse, error)
	Warmup(ctx context.Context) inference.WarmupResponse
}

type Config struct {
	ClassNames []string
	InputSize  int
	Workers    int
}

type inferenceService struct {
	log        *logrus.Logger
	handle     *model.Handle
	audit      audit.Sink
	tracker    *mltrack.Tracker
	metrics    *metrics.Metrics
	classNames []string
	inputSize  int
	workers    int
}

func New(
	log *logrus.Logger,
	handle *model.Handle,
	auditSink audit.Sink,
	tracker *mltrack.Tracker,
	recorder *metrics.Metrics,
	cfg Config,
) IInferenceService {
	return &inferenceService{
		log:        log,
		handle:     handle,
		audit:      auditSink,
		tracker:    tracker,
		metrics:    recorder,
		classNames: cfg.ClassNames,
		inputSize:  cfg.InputSize,
		workers:    cfg.Workers,
	}
}
