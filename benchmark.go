package homeostat

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync"
	"time"
)

// DecisionFunc is one call of the decision path under measurement.
// Implementations must be safe for concurrent execution.
type DecisionFunc func(ctx context.Context) (Decision, error)

// LevelReport summarizes the decisions made at one concurrency level.
type LevelReport struct {
	Workers   int
	Elapsed   time.Duration
	Decisions int64   // Successful calls
	PerSecond float64 // Decisions per second of wall time
	Latencies []time.Duration

	Modes    map[Mode]int64   // Decided mode per successful call
	FastPath int64            // Successful calls routed to the fast path
	Failures map[string]int64 // Failed calls by ErrorKind
}

// Failed returns the number of failed calls.
func (r LevelReport) Failed() int64 {
	var n int64
	for _, c := range r.Failures {
		n += c
	}
	return n
}

// FastShare returns the fraction of successful calls routed fast.
func (r LevelReport) FastShare() float64 {
	if r.Decisions == 0 {
		return 0
	}
	return float64(r.FastPath) / float64(r.Decisions)
}

// Statistics summarizes the report's latencies.
func (r LevelReport) Statistics() Statistics {
	return computeStatistics(r.Latencies)
}

// Statistics contains percentile latency data.
type Statistics struct {
	Mean   time.Duration
	Stddev time.Duration
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
}

// BenchConfig controls benchmark execution.
type BenchConfig struct {
	Duration time.Duration // How long to run at each concurrency level
	Warmup   time.Duration // Warmup period before measurement
	Levels   []int         // Concurrency levels to test
	MaxProcs int           // GOMAXPROCS limit (0 = runtime default)
}

// DefaultBenchConfig returns a 2s run per level over [1,2,4,8].
func DefaultBenchConfig() BenchConfig {
	return BenchConfig{
		Duration: 2 * time.Second,
		Warmup:   200 * time.Millisecond,
		Levels:   []int{1, 2, 4, 8},
	}
}

// Bench calls fn from each level's worker count in turn and reports what was
// decided and how long it took. Only the pure path should be measured here:
// a controller tick would make workers contend on its mutex.
func Bench(ctx context.Context, fn DecisionFunc, cfg BenchConfig) ([]LevelReport, error) {
	if len(cfg.Levels) == 0 {
		return nil, fmt.Errorf("%w: at least one concurrency level is required", ErrConfig)
	}
	if i := slices.IndexFunc(cfg.Levels, func(n int) bool { return n < 1 }); i >= 0 {
		return nil, fmt.Errorf("%w: concurrency level must be >= 1, got %d", ErrConfig, cfg.Levels[i])
	}
	if cfg.MaxProcs > 0 {
		defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(cfg.MaxProcs))
	}

	reports := make([]LevelReport, 0, len(cfg.Levels))
	for _, n := range cfg.Levels {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("bench at %d workers: %w", n, err)
		}
		if cfg.Warmup > 0 {
			measure(ctx, fn, n, cfg.Warmup)
		}
		reports = append(reports, measure(ctx, fn, n, cfg.Duration))
	}
	return reports, nil
}

// tally is one worker's private record, merged after the level ends.
type tally struct {
	latencies []time.Duration
	modes     [3]int64 // Indexed by Mode+1
	fast      int64
	failures  map[string]int64
}

func (t *tally) record(d Decision, err error, took time.Duration) {
	if err != nil {
		t.failures[ErrorKind(err)]++
		return
	}
	t.latencies = append(t.latencies, took)
	if d.Mode.Valid() {
		t.modes[d.Mode+1]++
	}
	if d.Lambda.Path == FastPath {
		t.fast++
	}
}

func measure(ctx context.Context, fn DecisionFunc, workers int, d time.Duration) LevelReport {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	tallies := make([]tally, workers)
	var wg sync.WaitGroup
	start := time.Now()
	for i := range tallies {
		t := &tallies[i]
		t.failures = map[string]int64{}
		wg.Go(func() {
			for ctx.Err() == nil {
				began := time.Now()
				dec, err := fn(ctx)
				t.record(dec, err, time.Since(began))
			}
		})
	}
	wg.Wait()

	r := LevelReport{
		Workers:  workers,
		Elapsed:  time.Since(start),
		Modes:    map[Mode]int64{},
		Failures: map[string]int64{},
	}
	for _, t := range tallies {
		r.Latencies = append(r.Latencies, t.latencies...)
		for m := Unwrap; m <= Wrap; m++ {
			if c := t.modes[m+1]; c > 0 {
				r.Modes[m] += c
			}
		}
		r.FastPath += t.fast
		for kind, c := range t.failures {
			r.Failures[kind] += c
		}
	}
	r.Decisions = int64(len(r.Latencies))
	if r.Elapsed > 0 {
		r.PerSecond = float64(r.Decisions) / r.Elapsed.Seconds()
	}
	return r
}

// computeStatistics uses nearest-rank percentiles (index len·p/100) over a
// sorted copy, and a single-pass mean and population stddev.
func computeStatistics(latencies []time.Duration) Statistics {
	if len(latencies) == 0 {
		return Statistics{}
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var mean, m2 float64
	for i, d := range sorted {
		x := float64(d)
		delta := x - mean
		mean += delta / float64(i+1)
		m2 += delta * (x - mean)
	}

	rank := func(pct int) time.Duration { return sorted[len(sorted)*pct/100] }
	return Statistics{
		Mean:   time.Duration(math.Round(mean)),
		Stddev: time.Duration(math.Sqrt(m2 / float64(len(sorted)))),
		P50:    rank(50),
		P95:    rank(95),
		P99:    rank(99),
	}
}
