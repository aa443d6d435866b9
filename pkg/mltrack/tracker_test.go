package mltrack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	mu       sync.Mutex
	runs     []string
	inflight atomic.Int32
	overlap  atomic.Bool
	gate     chan struct{}
	fail     func(ev Event) error
	closed   atomic.Bool
}

func (b *recordingBackend) Name() string { return "recording" }

func (b *recordingBackend) LogRun(ctx context.Context, ev Event) error {
	if b.inflight.Add(1) > 1 {
		b.overlap.Store(true)
	}
	defer b.inflight.Add(-1)

	if b.gate != nil {
		<-b.gate
	}

	b.mu.Lock()
	b.runs = append(b.runs, ev.RunName)
	b.mu.Unlock()

	if b.fail != nil {
		return b.fail(ev)
	}
	return nil
}

func (b *recordingBackend) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *recordingBackend) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.runs...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func stopCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDisabledTrackerIsNoop(t *testing.T) {
	tr := New(nil, WithLogger(quietLogger()))
	tr.Start()
	tr.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2*DefaultQueueSize; i++ {
			tr.Enqueue(Event{RunName: "inference"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a disabled tracker")
	}

	assert.False(t, tr.Enabled())
	assert.Equal(t, "disabled", tr.BackendName())
	assert.Equal(t, Stats{}, tr.Stats())
	assert.NoError(t, tr.Stop(stopCtx(t)))
}

func TestEventsAreForwardedInOrder(t *testing.T) {
	backend := &recordingBackend{}
	tr := New(backend, WithLogger(quietLogger()))
	tr.Start()

	want := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("run-%03d", i)
		want = append(want, name)
		tr.Enqueue(Event{RunName: name})
	}

	require.NoError(t, tr.Stop(stopCtx(t)))

	assert.Equal(t, want, backend.names())
	stats := tr.Stats()
	assert.Equal(t, uint64(100), stats.Enqueued)
	assert.Equal(t, uint64(100), stats.Processed)
	assert.Zero(t, stats.Dropped)
	assert.True(t, backend.closed.Load())
}

func TestOverflowDropsNewestWithoutBlocking(t *testing.T) {
	backend := &recordingBackend{}
	tr := New(backend, WithQueueSize(3), WithLogger(quietLogger()))

	start := time.Now()
	for i := 0; i < 10; i++ {
		tr.Enqueue(Event{RunName: fmt.Sprintf("run-%d", i)})
	}
	assert.Less(t, time.Since(start), time.Second)

	stats := tr.Stats()
	assert.Equal(t, uint64(3), stats.Enqueued)
	assert.Equal(t, uint64(7), stats.Dropped)
	assert.Equal(t, 3, stats.Queued)

	tr.Start()
	require.NoError(t, tr.Stop(stopCtx(t)))
	assert.Equal(t, []string{"run-0", "run-1", "run-2"}, backend.names())
}

func TestProducersNeverWaitOnSlowBackend(t *testing.T) {
	backend := &recordingBackend{gate: make(chan struct{})}
	tr := New(backend, WithQueueSize(8), WithLogger(quietLogger()))
	tr.Start()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				tr.Enqueue(Event{RunName: "inference"})
			}
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("producers blocked behind the backend")
	}

	stats := tr.Stats()
	assert.Equal(t, uint64(8000), stats.Enqueued+stats.Dropped)
	assert.NotZero(t, stats.Dropped)

	close(backend.gate)
	require.NoError(t, tr.Stop(stopCtx(t)))
}

func TestBackendFailuresAreSwallowed(t *testing.T) {
	backend := &recordingBackend{fail: func(ev Event) error {
		switch ev.RunName {
		case "panic":
			panic("backend exploded")
		case "error":
			return errors.New("503 service unavailable")
		}
		return nil
	}}
	tr := New(backend, WithLogger(quietLogger()))
	tr.Start()

	tr.Enqueue(Event{RunName: "error"})
	tr.Enqueue(Event{RunName: "panic"})
	tr.Enqueue(Event{RunName: "ok"})

	require.NoError(t, tr.Stop(stopCtx(t)))

	assert.Equal(t, []string{"error", "panic", "ok"}, backend.names())
	stats := tr.Stats()
	assert.Equal(t, uint64(3), stats.Processed)
	assert.Equal(t, uint64(2), stats.Failed)
}

func TestStartIsIdempotent(t *testing.T) {
	backend := &recordingBackend{}
	tr := New(backend, WithLogger(quietLogger()))
	for i := 0; i < 5; i++ {
		tr.Start()
	}

	for i := 0; i < 500; i++ {
		tr.Enqueue(Event{RunName: "inference"})
	}
	require.NoError(t, tr.Stop(stopCtx(t)))

	assert.False(t, backend.overlap.Load())
	assert.Len(t, backend.names(), 500)
}

func TestEnqueueAfterStopIsDropped(t *testing.T) {
	backend := &recordingBackend{}
	tr := New(backend, WithLogger(quietLogger()))
	tr.Start()
	require.NoError(t, tr.Stop(stopCtx(t)))
	require.NoError(t, tr.Stop(stopCtx(t)))

	tr.Enqueue(Event{RunName: "late"})

	assert.Empty(t, backend.names())
	assert.Equal(t, uint64(1), tr.Stats().Dropped)
}

type countingObserver struct {
	dropped   atomic.Int32
	processed atomic.Int32
}

func (o *countingObserver) Dropped() { o.dropped.Add(1) }

func (o *countingObserver) Processed(time.Duration, error) { o.processed.Add(1) }

func TestObserverSeesDropsAndRuns(t *testing.T) {
	obs := &countingObserver{}
	tr := New(&recordingBackend{}, WithQueueSize(1), WithObserver(obs), WithLogger(quietLogger()))

	tr.Enqueue(Event{RunName: "a"})
	tr.Enqueue(Event{RunName: "b"})
	tr.Start()
	require.NoError(t, tr.Stop(stopCtx(t)))

	assert.Equal(t, int32(1), obs.dropped.Load())
	assert.Equal(t, int32(1), obs.processed.Load())
}

func TestConcurrentEnqueueDuringStopLeavesNothingQueued(t *testing.T) {
	backend := &recordingBackend{}
	tr := New(backend, WithLogger(quietLogger()), WithQueueSize(64))
	tr.Start()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					tr.Enqueue(Event{RunName: "inference"})
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tr.Stop(stopCtx(t)))
	close(stop)
	wg.Wait()

	stats := tr.Stats()
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, stats.Enqueued, stats.Processed)
	assert.Len(t, backend.names(), int(stats.Processed))
}
