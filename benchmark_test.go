package homeostat

import (
	"context"
	"errors"
	"testing"
	"time"
)

func decideFunc(t *testing.T, snap TelemetrySnapshot, tw TimeWrapInput) DecisionFunc {
	t.Helper()
	core, err := NewCore(DefaultConfig(), quietLogger())
	if err != nil {
		t.Fatalf("NewCore failed: %v", err)
	}
	return func(ctx context.Context) (Decision, error) {
		return core.Decide(snap, tw)
	}
}

// TestBench_DecisionPath checks each level reports the decided mode and path.
func TestBench_DecisionPath(t *testing.T) {
	// Θ=0.7675 is Steady; Λ=10·ln(33)≈35ms is within the 50ms fast budget.
	fn := decideFunc(t, healthySnapshot(), TimeWrapInput{T1: 10, K: 1, P: 1})

	cfg := BenchConfig{Duration: 100 * time.Millisecond, Warmup: 10 * time.Millisecond, Levels: []int{1, 4}}
	reports, err := Bench(context.Background(), fn, cfg)
	if err != nil {
		t.Fatalf("Bench failed: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("Expected 2 reports, got %d", len(reports))
	}

	for i, r := range reports {
		if r.Workers != cfg.Levels[i] {
			t.Errorf("Expected %d workers, got %d", cfg.Levels[i], r.Workers)
		}
		if r.Decisions == 0 {
			t.Fatalf("No decisions at %d workers", r.Workers)
		}
		if r.Failed() != 0 {
			t.Errorf("Unexpected failures at %d workers: %v", r.Workers, r.Failures)
		}
		if r.Modes[Steady] != r.Decisions || len(r.Modes) != 1 {
			t.Errorf("Every decision should be Steady, got %v of %d", r.Modes, r.Decisions)
		}
		if r.FastShare() != 1 {
			t.Errorf("Every decision should route fast, got share %.3f", r.FastShare())
		}
		stats := r.Statistics()
		if stats.P99 < stats.P50 {
			t.Errorf("p99 (%v) below p50 (%v)", stats.P99, stats.P50)
		}
		t.Logf("✓ %d workers: %.0f decisions/sec, p50=%v p99=%v", r.Workers, r.PerSecond, stats.P50, stats.P99)
	}
}

func TestBench_FailuresByKind(t *testing.T) {
	// U ≤ 0 makes ln(U) undefined on every call.
	snap := healthySnapshot()
	snap.Throughput = 0
	snap.EnergyEfficiency = 0
	fn := decideFunc(t, snap, TimeWrapInput{T1: 10, K: 1, P: 1})

	reports, err := Bench(context.Background(), fn, BenchConfig{Duration: 50 * time.Millisecond, Levels: []int{2}})
	if err != nil {
		t.Fatalf("Bench failed: %v", err)
	}
	r := reports[0]
	if r.Decisions != 0 || len(r.Latencies) != 0 {
		t.Errorf("Failed calls must not count as decisions, got %d", r.Decisions)
	}
	if r.Failures[KindDomain] == 0 || r.Failed() != r.Failures[KindDomain] {
		t.Errorf("Expected only Domain failures, got %v", r.Failures)
	}
	if r.FastShare() != 0 {
		t.Errorf("FastShare without decisions should be 0, got %v", r.FastShare())
	}
}

func TestBench_ConfigErrors(t *testing.T) {
	fn := func(ctx context.Context) (Decision, error) { return Decision{}, nil }

	if _, err := Bench(context.Background(), fn, BenchConfig{Duration: time.Millisecond}); !errors.Is(err, ErrConfig) {
		t.Errorf("no levels: expected ErrConfig, got %v", err)
	}
	if _, err := Bench(context.Background(), fn, BenchConfig{Duration: time.Millisecond, Levels: []int{2, 0}}); !errors.Is(err, ErrConfig) {
		t.Errorf("level 0: expected ErrConfig, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Bench(ctx, fn, BenchConfig{Duration: time.Millisecond, Levels: []int{1}}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context: expected context.Canceled, got %v", err)
	}
}

func TestLevelReport_Statistics(t *testing.T) {
	r := LevelReport{
		Latencies: []time.Duration{
			500 * time.Microsecond,
			100 * time.Microsecond,
			300 * time.Microsecond,
			400 * time.Microsecond,
			200 * time.Microsecond,
		},
	}

	stats := r.Statistics()
	if stats.P50 != 300*time.Microsecond {
		t.Errorf("P50: expected 300µs, got %v", stats.P50)
	}
	if stats.Mean != 300*time.Microsecond {
		t.Errorf("Mean: expected 300µs, got %v", stats.Mean)
	}
	if stats.P99 != 500*time.Microsecond {
		t.Errorf("P99: expected 500µs, got %v", stats.P99)
	}
	// Population stddev of 100..500µs is √20000 µs.
	if want := time.Duration(141421); stats.Stddev < want-2 || stats.Stddev > want+2 {
		t.Errorf("Stddev: expected ≈%v, got %v", want, stats.Stddev)
	}
	if r.Latencies[0] != 500*time.Microsecond {
		t.Error("Statistics must not sort the report's latencies")
	}
}

func TestLevelReport_StatisticsEmpty(t *testing.T) {
	if stats := (LevelReport{}).Statistics(); stats != (Statistics{}) {
		t.Errorf("Expected zero statistics, got %+v", stats)
	}
}
