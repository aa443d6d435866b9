// Package audit appends one CSV line per detection box to a local,
// size-rotated file.
package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"TrafficSignAPI/internal/entity"
	"TrafficSignAPI/pkg/utils"

	"gopkg.in/natefinch/lumberjack.v2"
)

const timeLayout = "2006-01-02 15:04:05"

type Sink interface {
	Append(filename string, boxes []entity.DetectionBox, latencyMs float64) error
	Close() error
}

type Option func(*CSV)

// WithMaxSize sets the size in megabytes at which the file is rotated.
func WithMaxSize(mb int) Option {
	return func(c *CSV) {
		if lj, ok := c.out.(*lumberjack.Logger); ok {
			lj.MaxSize = mb
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *CSV) {
		c.now = now
	}
}

// CSV writes rows of timestamp, filename, class, conf, x1, y1, x2, y2,
// latency_ms. Appends from concurrent requests are serialized.
type CSV struct {
	mu  sync.Mutex
	out io.WriteCloser
	now func() time.Time
}

func NewCSV(path string, opts ...Option) (*CSV, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 5,
		LocalTime:  true,
	}
	c := &CSV{
		out: out,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *CSV) Append(filename string, boxes []entity.DetectionBox, latencyMs float64) error {
	if len(boxes) == 0 {
		return nil
	}

	ts := c.now().Format(timeLayout)
	latency := formatFloat(utils.Round(latencyMs, 3))

	// Rows are formatted apart from the file so a failed write only costs
	// this call.
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, b := range boxes {
		row := []string{
			ts,
			filename,
			b.Class,
			formatFloat(b.Confidence),
			strconv.Itoa(b.X1),
			strconv.Itoa(b.Y1),
			strconv.Itoa(b.X2),
			strconv.Itoa(b.Y2),
			latency,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("format audit row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("format audit row: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.out.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type discard struct{}

// Discard is a Sink that drops every record.
var Discard Sink = discard{}

func (discard) Append(string, []entity.DetectionBox, float64) error { return nil }

func (discard) Close() error { return nil }
