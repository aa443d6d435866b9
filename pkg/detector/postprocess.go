package detector

import "sort"

const maxDetections = 300

// AnchorCount returns the number of prediction rows a YOLOv8-style head emits
// for a square input of the given size (strides 8, 16 and 32).
func AnchorCount(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}

// decodeOutput turns a channel-major [4+numClasses, anchors] tensor into
// detections. Boxes are center/size encoded in input pixels.
func decodeOutput(out []float32, numClasses, anchors int, conf float32) []Raw {
	dets := make([]Raw, 0, 64)

	for i := 0; i < anchors; i++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < numClasses; c++ {
			score := out[(4+c)*anchors+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < conf {
			continue
		}

		cx := out[i]
		cy := out[anchors+i]
		w := out[2*anchors+i]
		h := out[3*anchors+i]

		dets = append(dets, Raw{
			ClassID:    bestClass,
			Confidence: bestScore,
			X1:         cx - w/2,
			Y1:         cy - h/2,
			X2:         cx + w/2,
			Y2:         cy + h/2,
		})
	}

	return dets
}

// nonMaxSuppression keeps the highest scoring box of every overlapping group
// of the same class. The result is ordered by descending confidence.
func nonMaxSuppression(dets []Raw, iouThreshold float32) []Raw {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	kept := make([]Raw, 0, len(dets))
	suppressed := make([]bool, len(dets))

	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		if len(kept) == maxDetections {
			break
		}
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].ClassID != dets[i].ClassID {
				continue
			}
			if iou(dets[i], dets[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

func iou(a, b Raw) float32 {
	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := (a.X2-a.X1)*(a.Y2-a.Y1) + (b.X2-b.X1)*(b.Y2-b.Y1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
