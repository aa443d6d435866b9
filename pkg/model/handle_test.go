package model

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TrafficSignAPI/pkg/detector"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubDetector() detector.Detector {
	return detector.Func(func(ctx context.Context, img image.Image, conf float64) ([]detector.Raw, error) {
		return nil, nil
	})
}

func TestGetLoadsOnceUnderConcurrency(t *testing.T) {
	var calls atomic.Int32
	h := NewHandle("best.onnx", func(ctx context.Context) (detector.Detector, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return stubDetector(), nil
	})

	const callers = 32
	var wg sync.WaitGroup
	got := make([]detector.Detector, callers)
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = h.Get(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), h.Loads())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.NotNil(t, got[i])
	}
	assert.True(t, h.Loaded())
}

func TestGetRetriesAfterFailure(t *testing.T) {
	fail := true
	h := NewHandle("best.onnx", func(ctx context.Context) (detector.Detector, error) {
		if fail {
			return nil, errors.New("corrupt weights")
		}
		return stubDetector(), nil
	})

	_, err := h.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelLoad)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "best.onnx", loadErr.Path)
	assert.False(t, h.Loaded())

	fail = false
	det, err := h.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, det)
	assert.Equal(t, int64(1), h.Loads())
}

func TestNilDetectorIsALoadError(t *testing.T) {
	h := NewHandle("x", func(ctx context.Context) (detector.Detector, error) {
		return nil, nil
	})

	_, err := h.Get(context.Background())
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.False(t, h.Loaded())
}

func TestLoadHookAndClose(t *testing.T) {
	hooked := 0
	h := NewHandle("x", func(ctx context.Context) (detector.Detector, error) {
		return stubDetector(), nil
	}, WithLoadHook(func() { hooked++ }))

	for i := 0; i < 3; i++ {
		_, err := h.Get(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, hooked)

	require.NoError(t, h.Close())
	assert.False(t, h.Loaded())
	require.NoError(t, h.Close())
}

func TestONNXLoaderMissingWeights(t *testing.T) {
	load, err := NewLoader(LoaderConfig{
		Backend:     BackendONNX,
		WeightsPath: "/nonexistent/best.onnx",
		InputSize:   320,
		NumClasses:  10,
	}, logrus.New())
	require.NoError(t, err)

	h := NewHandle("/nonexistent/best.onnx", load)
	_, err = h.Get(context.Background())
	assert.ErrorIs(t, err, ErrModelLoad)
}

func TestUnknownBackend(t *testing.T) {
	_, err := NewLoader(LoaderConfig{Backend: "tensorrt"}, logrus.New())
	assert.Error(t, err)
}
