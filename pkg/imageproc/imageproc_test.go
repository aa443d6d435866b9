package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	src.SetNRGBA(1, 1, color.NRGBA{R: 200, G: 100, B: 50, A: 10})

	img, err := Decode(encodePNG(t, src))
	require.NoError(t, err)

	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 3, img.Bounds().Dy())
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 255}, img.NRGBAAt(1, 1))
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestResizeSquareIsDeterministic(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}

	a := ResizeSquare(src, 320)
	b := ResizeSquare(src, 320)

	assert.Equal(t, image.Rect(0, 0, 320, 320), a.Bounds())
	assert.Equal(t, a.Pix, b.Pix)
}
