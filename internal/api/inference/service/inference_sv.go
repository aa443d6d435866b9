package inferenceService

import (
	"TrafficSignAPI/internal/api/inference"
	"TrafficSignAPI/internal/entity"
	"TrafficSignAPI/pkg/detector"
	"TrafficSignAPI/pkg/imageproc"
	"TrafficSignAPI/pkg/response"
	"TrafficSignAPI/pkg/utils"
	"golang.org/x/net/context"
	"strconv"
	"time"
)

// PredictImage decodes data, resizes it to the model input size and runs the
// detector once. LatencyMs covers resize, detection and box mapping; decode
// and the first model load are not included.
func (s *inferenceService) PredictImage(ctx context.Context, data []byte, conf float64) (*entity.InferenceResult, error) {
	img, err := imageproc.Decode(data)
	if err != nil {
		return nil, response.Wrap(inference.ErrDecode, err)
	}

	det, err := s.handle.Get(ctx)
	if err != nil {
		return nil, response.Wrap(inference.ErrModelLoad, err)
	}

	start := time.Now()
	resized := imageproc.ResizeSquare(img, s.inputSize)

	raw, err := det.Detect(ctx, resized, conf)
	if err != nil {
		return nil, response.Wrap(inference.ErrInference, err)
	}

	boxes := s.toBoxes(raw)
	latency := float64(time.Since(start).Nanoseconds()) / 1e6

	return &entity.InferenceResult{
		Boxes:     boxes,
		LatencyMs: latency,
	}, nil
}

func (s *inferenceService) toBoxes(raw []detector.Raw) []entity.DetectionBox {
	boxes := make([]entity.DetectionBox, 0, len(raw))
	for _, r := range raw {
		boxes = append(boxes, entity.DetectionBox{
			Class:      s.className(r.ClassID),
			Confidence: utils.Round(float64(r.Confidence), 4),
			X1:         int(r.X1),
			Y1:         int(r.Y1),
			X2:         int(r.X2),
			Y2:         int(r.Y2),
		})
	}
	return boxes
}

func (s *inferenceService) className(id int) string {
	if id >= 0 && id < len(s.classNames) {
		return s.classNames[id]
	}
	return strconv.Itoa(id)
}
