// Package mltrack forwards inference telemetry to an experiment tracker
// without ever slowing down or failing the request that produced it.
package mltrack

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultQueueSize = 10000

// Event is one logical run: a named set of metrics and parameters.
type Event struct {
	RunName   string
	Metrics   map[string]float64
	Params    map[string]string
	Timestamp time.Time
}

// Backend records a single run. Implementations may be slow or fail; the
// tracker never surfaces their errors.
type Backend interface {
	Name() string
	LogRun(ctx context.Context, ev Event) error
	Close() error
}

type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Dropped   uint64 `json:"dropped"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Queued    int    `json:"queued"`
}

// Observer is notified of tracker activity, typically to export metrics.
type Observer interface {
	Dropped()
	Processed(d time.Duration, err error)
}

// Tracker is a bounded, single-consumer queue in front of a Backend. A nil
// backend disables it: Enqueue becomes a no-op and no worker runs.
type Tracker struct {
	backend    Backend
	queue      chan *Event
	log        *logrus.Logger
	observer   Observer
	runTimeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}

	// sendMu orders every send against the stop signal, so nothing lands
	// behind it.
	sendMu  sync.Mutex
	stopped bool

	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
}

type Option func(*Tracker)

func WithQueueSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.queue = make(chan *Event, n)
		}
	}
}

func WithLogger(log *logrus.Logger) Option {
	return func(t *Tracker) {
		t.log = log
	}
}

func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		t.observer = o
	}
}

// WithRunTimeout bounds how long a single backend call may take.
func WithRunTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		t.runTimeout = d
	}
}

func New(backend Backend, opts ...Option) *Tracker {
	t := &Tracker{
		backend:    backend,
		queue:      make(chan *Event, DefaultQueueSize),
		log:        logrus.StandardLogger(),
		runTimeout: 30 * time.Second,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Enabled() bool {
	return t.backend != nil
}

func (t *Tracker) BackendName() string {
	if t.backend == nil {
		return "disabled"
	}
	return t.backend.Name()
}

// Start launches the worker. Calling it again has no effect.
func (t *Tracker) Start() {
	t.startOnce.Do(func() {
		if !t.Enabled() {
			close(t.done)
			return
		}
		t.started.Store(true)
		go t.run()
		t.log.WithFields(logrus.Fields{
			"backend":  t.backend.Name(),
			"capacity": cap(t.queue),
		}).Info("Telemetry worker started")
	})
}

// Enqueue hands ev to the worker without blocking. When the queue is full or
// the tracker is stopped the event is dropped.
func (t *Tracker) Enqueue(ev Event) {
	if !t.Enabled() {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if t.stopped {
		t.drop()
		return
	}
	select {
	case t.queue <- &ev:
		t.enqueued.Add(1)
	default:
		t.drop()
	}
}

func (t *Tracker) drop() {
	t.dropped.Add(1)
	if t.observer != nil {
		t.observer.Dropped()
	}
}

// Stop sends the poison value and waits for the worker to drain everything
// queued before it, or for ctx to expire.
func (t *Tracker) Stop(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}

	var err error
	t.stopOnce.Do(func() {
		t.sendMu.Lock()
		t.stopped = true
		t.sendMu.Unlock()

		if !t.started.Load() {
			t.Start()
		}
		select {
		case t.queue <- nil:
		case <-ctx.Done():
			err = fmt.Errorf("telemetry queue did not accept stop signal: %w", ctx.Err())
		}
	})
	if err != nil {
		return err
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		return fmt.Errorf("telemetry worker did not drain: %w", ctx.Err())
	}

	if cerr := t.backend.Close(); cerr != nil {
		t.log.WithError(cerr).Warn("Telemetry backend close failed")
	}
	return nil
}

func (t *Tracker) run() {
	defer close(t.done)

	for ev := range t.queue {
		if ev == nil {
			return
		}
		t.forward(ev)
	}
}

// forward sends one event and absorbs any failure, including panics.
func (t *Tracker) forward(ev *Event) {
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
		t.processed.Add(1)
		if err != nil {
			t.failed.Add(1)
			t.log.WithFields(logrus.Fields{
				"backend":  t.backend.Name(),
				"run_name": ev.RunName,
				"error":    err.Error(),
			}).Debug("Telemetry event not recorded")
		}
		if t.observer != nil {
			t.observer.Processed(time.Since(start), err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.runTimeout)
	defer cancel()

	err = t.backend.LogRun(ctx, *ev)
}

func (t *Tracker) Stats() Stats {
	return Stats{
		Enqueued:  t.enqueued.Load(),
		Dropped:   t.dropped.Load(),
		Processed: t.processed.Load(),
		Failed:    t.failed.Load(),
		Queued:    len(t.queue),
	}
}
