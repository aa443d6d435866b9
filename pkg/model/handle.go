// Package model owns the lazily loaded detector shared by all requests.
package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"TrafficSignAPI/pkg/detector"
)

var ErrModelLoad = errors.New("model load failed")

// LoadError reports a failed load of the weights at Path. It matches
// ErrModelLoad under errors.Is.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrModelLoad, e.Err}
}

// Loader builds a detector from its weights. It is called at most once per
// successful load.
type Loader func(ctx context.Context) (detector.Detector, error)

type loaded struct {
	det detector.Detector
}

// Handle is a lazy, once-only initialization cell around a Loader. Failed
// loads are not remembered, so a later Get tries again.
type Handle struct {
	path   string
	load   Loader
	mu     sync.Mutex
	cur    atomic.Pointer[loaded]
	loads  atomic.Int64
	onLoad func()
}

type Option func(*Handle)

// WithLoadHook registers a callback run after every successful load.
func WithLoadHook(fn func()) Option {
	return func(h *Handle) {
		h.onLoad = fn
	}
}

func NewHandle(path string, load Loader, opts ...Option) *Handle {
	h := &Handle{path: path, load: load}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Get returns the detector, loading it on first use. Concurrent callers
// during the first load wait for it and observe the same instance.
func (h *Handle) Get(ctx context.Context) (detector.Detector, error) {
	if l := h.cur.Load(); l != nil {
		return l.det, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if l := h.cur.Load(); l != nil {
		return l.det, nil
	}

	det, err := h.load(ctx)
	if err != nil {
		return nil, &LoadError{Path: h.path, Err: err}
	}
	if det == nil {
		return nil, &LoadError{Path: h.path, Err: errors.New("loader returned no detector")}
	}

	h.loads.Add(1)
	h.cur.Store(&loaded{det: det})
	if h.onLoad != nil {
		h.onLoad()
	}
	return det, nil
}

func (h *Handle) Loaded() bool {
	return h.cur.Load() != nil
}

// Loads reports how many times the loader has succeeded.
func (h *Handle) Loads() int64 {
	return h.loads.Load()
}

func (h *Handle) Path() string {
	return h.path
}

// Close releases the detector. Only meant for process shutdown.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	l := h.cur.Swap(nil)
	if l == nil {
		return nil
	}
	return l.det.Close()
}
