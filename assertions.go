package homeostat

import (
	"math"
	"sync"
	"testing"
)

// AssertModeBands verifies the decider's half-open bands at and around both edges:
// Θ_low and everything in [Θ_low, Θ_high) is Steady, Θ_high and above is Wrap,
// and anything below Θ_low is Unwrap.
func AssertModeBands(t *testing.T, d ModeDecider) {
	t.Helper()

	cases := []struct {
		theta float64
		want  Mode
	}{
		{d.High, Wrap},
		{math.Nextafter(d.High, math.Inf(1)), Wrap},
		{d.High + 1, Wrap},
		{math.Nextafter(d.High, math.Inf(-1)), Steady},
		{(d.Low + d.High) / 2, Steady},
		{d.Low, Steady},
		{math.Nextafter(d.Low, math.Inf(-1)), Unwrap},
		{d.Low - 1, Unwrap},
	}

	for _, c := range cases {
		got, err := d.Decide(c.theta)
		if err != nil {
			t.Errorf("Decide(%v) failed: %v", c.theta, err)
			continue
		}
		if got != c.want {
			t.Errorf("Decide(%v) = %s, want %s (band [%v, %v))", c.theta, got, c.want, d.Low, d.High)
		}
	}

	t.Logf("✓ Mode bands: Unwrap < %.2f ≤ Steady < %.2f ≤ Wrap", d.Low, d.High)
}

// AssertStateUnchanged verifies two control states are bit-identical.
func AssertStateUnchanged(t *testing.T, before, after ControlState) {
	t.Helper()

	if math.Float64bits(before.Integral) != math.Float64bits(after.Integral) {
		t.Errorf("Integral changed: %v → %v", before.Integral, after.Integral)
	}
	if math.Float64bits(before.PreviousError) != math.Float64bits(after.PreviousError) {
		t.Errorf("PreviousError changed: %v → %v", before.PreviousError, after.PreviousError)
	}
	if before.LastMode != after.LastMode {
		t.Errorf("LastMode changed: %s → %s", before.LastMode, after.LastMode)
	}
	if before.Ticks != after.Ticks {
		t.Errorf("Ticks changed: %d → %d", before.Ticks, after.Ticks)
	}
}

// AssertThrottleBounded verifies a tick result respects both saturation bands.
func AssertThrottleBounded(t *testing.T, cfg PIDConfig, res TickResult) {
	t.Helper()

	if res.ThrottleDelta < cfg.ThrottleMin || res.ThrottleDelta > cfg.ThrottleMax {
		t.Errorf("Throttle %v outside [%v, %v]", res.ThrottleDelta, cfg.ThrottleMin, cfg.ThrottleMax)
	}
	if res.Integral < cfg.IntegralMin || res.Integral > cfg.IntegralMax {
		t.Errorf("Integral %v outside anti-windup band [%v, %v]", res.Integral, cfg.IntegralMin, cfg.IntegralMax)
	}
}

// AssertInterleavingIndependent runs fn(0..n-1) sequentially, then again from
// n goroutines, and verifies every index produced the same value and error
// both times.
func AssertInterleavingIndependent(t *testing.T, n int, fn func(i int) (float64, error)) {
	t.Helper()

	type outcome struct {
		v   float64
		err string
	}
	run := func(i int) outcome {
		v, err := fn(i)
		if err != nil {
			return outcome{err: err.Error()}
		}
		return outcome{v: v}
	}

	sequential := make([]outcome, n)
	for i := 0; i < n; i++ {
		sequential[i] = run(i)
	}

	concurrent := make([]outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			concurrent[i] = run(i)
		}(i)
	}
	wg.Wait()

	mismatches := 0
	for i := 0; i < n; i++ {
		s, c := sequential[i], concurrent[i]
		if math.Float64bits(s.v) != math.Float64bits(c.v) || s.err != c.err {
			mismatches++
			t.Errorf("index %d: sequential=(%v, %q) concurrent=(%v, %q)", i, s.v, s.err, c.v, c.err)
		}
	}

	if mismatches == 0 {
		t.Logf("✓ %d concurrent calls matched their sequential results", n)
	}
}
