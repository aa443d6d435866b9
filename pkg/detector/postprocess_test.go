package detector

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 2100, AnchorCount(320))
	assert.Equal(t, 8400, AnchorCount(640))
}

// tensor builds a [4+numClasses, anchors] output with one row per anchor.
func tensor(numClasses int, rows [][]float32) []float32 {
	anchors := len(rows)
	out := make([]float32, (4+numClasses)*anchors)
	for i, row := range rows {
		for c, v := range row {
			out[c*anchors+i] = v
		}
	}
	return out
}

func TestDecodeOutputAppliesThreshold(t *testing.T) {
	out := tensor(3, [][]float32{
		{50, 50, 20, 10, 0.1, 0.9, 0.2},
		{10, 10, 4, 4, 0.2, 0.1, 0.1},
	})

	dets := decodeOutput(out, 3, 2, 0.25)

	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].ClassID)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, float32(40), dets[0].X1)
	assert.Equal(t, float32(45), dets[0].Y1)
	assert.Equal(t, float32(60), dets[0].X2)
	assert.Equal(t, float32(55), dets[0].Y2)
}

func TestNonMaxSuppressionIsClassAware(t *testing.T) {
	dets := []Raw{
		{ClassID: 0, Confidence: 0.6, X1: 0, Y1: 0, X2: 10, Y2: 10},
		{ClassID: 0, Confidence: 0.9, X1: 1, Y1: 1, X2: 11, Y2: 11},
		{ClassID: 1, Confidence: 0.7, X1: 1, Y1: 1, X2: 11, Y2: 11},
		{ClassID: 0, Confidence: 0.5, X1: 50, Y1: 50, X2: 60, Y2: 60},
	}

	kept := nonMaxSuppression(dets, 0.5)

	require.Len(t, kept, 3)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-6)
	assert.Equal(t, 1, kept[1].ClassID)
	assert.InDelta(t, 0.5, kept[2].Confidence, 1e-6)
}

func TestIoUDisjoint(t *testing.T) {
	a := Raw{X1: 0, Y1: 0, X2: 1, Y2: 1}
	b := Raw{X1: 2, Y1: 2, X2: 3, Y2: 3}
	assert.Zero(t, iou(a, b))
}

func TestFillCHW(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Pix = []uint8{
		255, 0, 0, 255, 0, 255, 0, 255,
		0, 0, 255, 255, 255, 255, 255, 255,
	}
	dst := make([]float32, 12)

	fillCHW(dst, img, 2)

	assert.Equal(t, []float32{1, 0, 0, 1}, dst[0:4])
	assert.Equal(t, []float32{0, 1, 0, 1}, dst[4:8])
	assert.Equal(t, []float32{0, 0, 1, 1}, dst[8:12])
}
