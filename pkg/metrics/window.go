package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

type sample struct {
	latencyMs float64
	ok        bool
	at        time.Time
}

// WindowStats summarizes the most recent predictions.
type WindowStats struct {
	Requests      int     `json:"requests"`
	Errors        int     `json:"errors"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	ThroughputRPS float64 `json:"throughput_rps"`
}

// Window is a fixed-size ring of the latest prediction samples.
type Window struct {
	mu      sync.Mutex
	samples []sample
	next    int
	full    bool
	now     func() time.Time
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = 200
	}
	return &Window{
		samples: make([]sample, size),
		now:     time.Now,
	}
}

func (w *Window) Record(latencyMs float64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = sample{latencyMs: latencyMs, ok: ok, at: w.now()}
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

func (w *Window) Stats() WindowStats {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	snapshot := make([]sample, n)
	copy(snapshot, w.samples[:n])
	w.mu.Unlock()

	stats := WindowStats{Requests: len(snapshot)}
	if len(snapshot) == 0 {
		return stats
	}

	latencies := make([]float64, 0, len(snapshot))
	oldest, newest := snapshot[0].at, snapshot[0].at
	var sum float64
	for _, s := range snapshot {
		if s.at.Before(oldest) {
			oldest = s.at
		}
		if s.at.After(newest) {
			newest = s.at
		}
		if !s.ok {
			stats.Errors++
			continue
		}
		latencies = append(latencies, s.latencyMs)
		sum += s.latencyMs
	}
	if len(latencies) == 0 {
		return stats
	}

	sort.Float64s(latencies)
	stats.AvgLatencyMs = round2(sum / float64(len(latencies)))
	stats.P50LatencyMs = round2(percentile(latencies, 50))
	stats.P95LatencyMs = round2(percentile(latencies, 95))

	if elapsed := newest.Sub(oldest).Seconds(); elapsed > 0 {
		stats.ThroughputRPS = round2(float64(len(latencies)) / elapsed)
	}
	return stats
}

// percentile interpolates linearly between the closest ranks of sorted xs.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
