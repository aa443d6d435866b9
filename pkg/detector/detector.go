// Package detector holds the detection capability the API serves: an opaque
// model that turns a resized image into scored, classified boxes.
package detector

import (
	"context"
	"errors"
	"image"
)

var ErrClosed = errors.New("detector is closed")

// Raw is a single detection as produced by the model, in the coordinates of
// the image passed to Detect.
type Raw struct {
	ClassID    int
	Confidence float32
	X1         float32
	Y1         float32
	X2         float32
	Y2         float32
}

// Detector runs the model on an already resized image. Implementations must
// be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, img image.Image, conf float64) ([]Raw, error)
	Close() error
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, img image.Image, conf float64) ([]Raw, error)

func (f Func) Detect(ctx context.Context, img image.Image, conf float64) ([]Raw, error) {
	return f(ctx, img, conf)
}

func (f Func) Close() error { return nil }
