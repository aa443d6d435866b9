package detector

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

type ONNXConfig struct {
	LibraryPath string
	WeightsPath string
	InputSize   int
	NumClasses  int
	IoU         float64
	InputName   string
	OutputName  string
}

// ONNX runs an exported YOLO model in-process through onnxruntime. Input and
// output tensors are bound to the session, so Detect calls are serialized.
type ONNX struct {
	mu      sync.Mutex
	cfg     ONNXConfig
	anchors int
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	closed  bool
}

var ortInit sync.Mutex

func initEnvironment(libraryPath string) error {
	ortInit.Lock()
	defer ortInit.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if cfg.InputName == "" {
		cfg.InputName = "images"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output0"
	}

	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("error setting intra op threads: %w", err)
	}

	size := int64(cfg.InputSize)
	anchors := AnchorCount(cfg.InputSize)

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+cfg.NumClasses), int64(anchors)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.WeightsPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ONNX{
		cfg:     cfg,
		anchors: anchors,
		session: session,
		input:   inputTensor,
		output:  outputTensor,
	}, nil
}

func (o *ONNX) Detect(_ context.Context, img image.Image, conf float64) ([]Raw, error) {
	b := img.Bounds()
	if b.Dx() != o.cfg.InputSize || b.Dy() != o.cfg.InputSize {
		return nil, fmt.Errorf("image is %dx%d, model expects %dx%d", b.Dx(), b.Dy(), o.cfg.InputSize, o.cfg.InputSize)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}

	fillCHW(o.input.GetData(), img, o.cfg.InputSize)

	if err := o.session.Run(); err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("model inference: %w", err)
	}

	out := make([]float32, len(o.output.GetData()))
	copy(out, o.output.GetData())
	o.mu.Unlock()

	dets := decodeOutput(out, o.cfg.NumClasses, o.anchors, float32(conf))
	return nonMaxSuppression(dets, float32(o.cfg.IoU)), nil
}

func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true

	o.session.Destroy()
	o.input.Destroy()
	o.output.Destroy()
	return nil
}

// fillCHW writes img into dst as planar RGB scaled to [0,1].
func fillCHW(dst []float32, img image.Image, size int) {
	channelSize := size * size
	b := img.Bounds()

	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := 0; y < size; y++ {
			start := nrgba.PixOffset(b.Min.X, b.Min.Y+y)
			row := nrgba.Pix[start : start+size*4]
			offset := y * size
			for x := 0; x < size; x++ {
				i := offset + x
				dst[i] = float32(row[x*4]) / 255.0
				dst[channelSize+i] = float32(row[x*4+1]) / 255.0
				dst[channelSize*2+i] = float32(row[x*4+2]) / 255.0
			}
		}
		return
	}

	for y := 0; y < size; y++ {
		offset := y * size
		for x := 0; x < size; x++ {
			i := offset + x
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			dst[i] = float32(r>>8) / 255.0
			dst[channelSize+i] = float32(g>>8) / 255.0
			dst[channelSize*2+i] = float32(bl>>8) / 255.0
		}
	}
}
