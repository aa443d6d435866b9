package inferenceService

import (
	"TrafficSignAPI/internal/api/inference"
	"TrafficSignAPI/internal/entity"
	contextPkg "TrafficSignAPI/pkg/context"
	"TrafficSignAPI/pkg/log"
	"TrafficSignAPI/pkg/mltrack"
	"TrafficSignAPI/pkg/response"
	"TrafficSignAPI/pkg/utils"
	"golang.org/x/net/context"
	"strconv"
	"time"
)

func (s *inferenceService) Predict(ctx context.Context, upload inference.Upload, conf float64) (*inference.PredictResponse, error) {
	return s.predictOne(ctx, upload, conf, RunInference)
}

func (s *inferenceService) PredictFrame(ctx context.Context, frame inference.Upload, conf float64) (*inference.PredictResponse, error) {
	return s.predictOne(ctx, frame, conf, RunStream)
}

func (s *inferenceService) predictOne(ctx context.Context, upload inference.Upload, conf float64, run string) (*inference.PredictResponse, error) {
	res, err := s.PredictImage(ctx, upload.Data, conf)
	if err != nil {
		s.metrics.ObserveFailure()
		return nil, err
	}

	if err := s.audit.Append(upload.Filename, res.Boxes, res.LatencyMs); err != nil {
		return nil, response.Wrap(inference.ErrAudit, err)
	}
	s.metrics.ObserveInference(run, res)

	metrics := map[string]float64{
		"latency_ms": res.LatencyMs,
		"n_boxes":    float64(len(res.Boxes)),
	}
	addClassCounts(metrics, res.ClassCounts())
	s.tracker.Enqueue(mltrack.Event{
		RunName: run,
		Metrics: metrics,
		Params:  s.params(conf),
	})

	s.log.WithFields(log.Fields{
		log.RequestIDKey: contextPkg.GetRequestID(ctx),
		"file":           upload.Filename,
		"boxes":          len(res.Boxes),
		"latency_ms":     res.LatencyMs,
	}).Debug("Prediction complete")

	return &inference.PredictResponse{
		File:          upload.Filename,
		ConfThreshold: conf,
		Boxes:         res.Boxes,
		LatencyMs:     utils.Round(res.LatencyMs, 3),
	}, nil
}

// PredictBatch runs the images one after another in input order. The first
// failure aborts the whole batch; nothing is audited or tracked for it.
func (s *inferenceService) PredictBatch(ctx context.Context, uploads []inference.Upload, conf float64) (*inference.BatchResponse, error) {
	if len(uploads) == 0 {
		return nil, inference.ErrNoFile
	}

	start := time.Now()
	results := make([]*entity.InferenceResult, 0, len(uploads))
	for _, up := range uploads {
		res, err := s.PredictImage(ctx, up.Data, conf)
		if err != nil {
			s.metrics.ObserveFailure()
			return nil, err
		}
		results = append(results, res)
	}
	elapsed := float64(time.Since(start).Nanoseconds()) / 1e6
	avg := elapsed / float64(len(uploads))

	items := make([]inference.BatchItem, 0, len(results))
	counts := make(map[string]int)
	totalBoxes := 0
	for i, res := range results {
		if err := s.audit.Append(uploads[i].Filename, res.Boxes, res.LatencyMs); err != nil {
			return nil, response.Wrap(inference.ErrAudit, err)
		}
		s.metrics.ObserveInference(RunBatchInference, res)

		for cls, n := range res.ClassCounts() {
			counts[cls] += n
		}
		totalBoxes += len(res.Boxes)

		items = append(items, inference.BatchItem{
			Filename:  uploads[i].Filename,
			Boxes:     res.Boxes,
			LatencyMs: res.LatencyMs,
		})
	}

	metrics := map[string]float64{
		"batch_latency_ms": utils.Round(elapsed, 2),
		"avg_latency_ms":   utils.Round(avg, 2),
		"batch_size":       float64(len(uploads)),
		"n_boxes_total":    float64(totalBoxes),
	}
	addClassCounts(metrics, counts)
	s.tracker.Enqueue(mltrack.Event{
		RunName: RunBatchInference,
		Metrics: metrics,
		Params:  s.params(conf),
	})

	s.log.WithFields(log.Fields{
		log.RequestIDKey:   contextPkg.GetRequestID(ctx),
		"batch_size":       len(uploads),
		"n_boxes_total":    totalBoxes,
		"batch_latency_ms": elapsed,
	}).Debug("Batch prediction complete")

	return &inference.BatchResponse{
		BatchSize:      len(uploads),
		Results:        items,
		BatchLatencyMs: utils.Round(elapsed, 2),
		AvgLatencyMs:   utils.Round(avg, 2),
	}, nil
}

func (s *inferenceService) Warmup(ctx context.Context) inference.WarmupResponse {
	if _, err := s.handle.Get(ctx); err != nil {
		s.log.WithFields(log.Fields{
			log.RequestIDKey: contextPkg.GetRequestID(ctx),
			"weights":        s.handle.Path(),
			"error":          err.Error(),
		}).Warn("Warmup failed")
		return inference.WarmupResponse{OK: false, Msg: "Warmup failed: " + err.Error()}
	}
	return inference.WarmupResponse{OK: true, Msg: "Model loaded"}
}

func (s *inferenceService) params(conf float64) map[string]string {
	return map[string]string{
		"conf":        strconv.FormatFloat(conf, 'f', -1, 64),
		"imgsz":       strconv.Itoa(s.inputSize),
		"api_workers": strconv.Itoa(s.workers),
	}
}

func addClassCounts(metrics map[string]float64, counts map[string]int) {
	for cls, n := range counts {
		metrics["class_"+cls+"_count"] = float64(n)
	}
}
