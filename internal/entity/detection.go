package entity

// DetectionBox is one detected sign in resized-image pixel coordinates.
type DetectionBox struct {
	Class      string  `json:"cls"`
	Confidence float64 `json:"conf"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
}

type InferenceResult struct {
	Boxes     []DetectionBox `json:"boxes"`
	LatencyMs float64        `json:"latency_ms"`
}

// ClassCounts returns the number of boxes per class name.
func (r *InferenceResult) ClassCounts() map[string]int {
	counts := make(map[string]int, len(r.Boxes))
	for _, b := range r.Boxes {
		counts[b.Class]++
	}
	return counts
}
