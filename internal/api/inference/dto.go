package inference

import "TrafficSignAPI/internal/entity"

// Upload is one image taken off a multipart form or a websocket frame.
type Upload struct {
	Filename string
	Data     []byte
}

type PredictQuery struct {
	Conf float64 `query:"conf" validate:"gte=0,lte=1"`
}

type PredictResponse struct {
	File          string                `json:"file"`
	ConfThreshold float64               `json:"conf_threshold"`
	Boxes         []entity.DetectionBox `json:"boxes"`
	LatencyMs     float64               `json:"latency_ms"`
}

type BatchItem struct {
	Filename  string                `json:"filename"`
	Boxes     []entity.DetectionBox `json:"boxes"`
	LatencyMs float64               `json:"latency_ms"`
}

type BatchResponse struct {
	BatchSize      int         `json:"batch_size"`
	Results        []BatchItem `json:"results"`
	BatchLatencyMs float64     `json:"batch_latency_ms"`
	AvgLatencyMs   float64     `json:"avg_latency_ms"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type WarmupResponse struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

type InfoResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Workers int    `json:"workers"`
}
