package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

var ErrDecode = errors.New("cannot decode image")

// Decode reads an encoded image (png, jpeg, gif, bmp, tiff) into an opaque
// RGB pixel grid. Alpha is discarded, not composited.
func Decode(data []byte) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	rgb := imaging.Clone(img)
	for i := 3; i < len(rgb.Pix); i += 4 {
		rgb.Pix[i] = 0xff
	}
	return rgb, nil
}

// ResizeSquare stretches img to size x size with bilinear interpolation.
func ResizeSquare(img image.Image, size int) *image.NRGBA {
	return imaging.Resize(img, size, size, imaging.Linear)
}
