package homeostat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoSamples is returned by WindowSource when the window is empty. An idle
// service has no p99, and reporting 0 would drive the integral toward its
// lower bound.
var ErrNoSamples = errors.New("no latency samples")

// LatencyWindow keeps the most recent request latencies in a fixed ring.
// It is safe for concurrent use.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	total   uint64
}

// NewLatencyWindow creates a window holding up to size samples.
func NewLatencyWindow(size int) (*LatencyWindow, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: latency window size must be >= 1, got %d", ErrConfig, size)
	}
	return &LatencyWindow{samples: make([]time.Duration, size)}, nil
}

// Observe records one latency, overwriting the oldest when full.
func (w *LatencyWindow) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
	w.total++
}

// Len returns the number of samples currently held.
func (w *LatencyWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.len()
}

func (w *LatencyWindow) len() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Total returns the number of samples ever observed.
func (w *LatencyWindow) Total() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// Statistics returns mean, stddev and percentiles over the window.
func (w *LatencyWindow) Statistics() Statistics {
	w.mu.Lock()
	snapshot := make([]time.Duration, w.len())
	copy(snapshot, w.samples[:w.len()])
	w.mu.Unlock()

	return computeStatistics(snapshot)
}

// P99Millis returns the window's p99 in milliseconds (0 when empty).
func (w *LatencyWindow) P99Millis() float64 {
	return float64(w.Statistics().P99) / float64(time.Millisecond)
}

// WindowSource adapts a LatencyWindow into a TelemetrySource.
// Mode is read from ModeFunc on every sample so the loop follows the latest decision.
type WindowSource struct {
	Window   *LatencyWindow
	Lmax     float64
	ModeFunc func() Mode
}

// Sample implements TelemetrySource.
func (s WindowSource) Sample(ctx context.Context) (LoopSample, error) {
	if err := ctx.Err(); err != nil {
		return LoopSample{}, err
	}
	if s.Window.Len() == 0 {
		return LoopSample{}, ErrNoSamples
	}
	mode := Steady
	if s.ModeFunc != nil {
		mode = s.ModeFunc()
	}
	return LoopSample{
		LatencyP99: s.Window.P99Millis(),
		Lmax:       s.Lmax,
		Mode:       mode,
	}, nil
}
