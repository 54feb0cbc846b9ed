package homeostat

import (
	"math"
	"testing"
	"time"
)

func fillWindow(t *testing.T, latencies ...time.Duration) *LatencyWindow {
	t.Helper()
	w, err := NewLatencyWindow(len(latencies))
	if err != nil {
		t.Fatalf("NewLatencyWindow: %v", err)
	}
	for _, d := range latencies {
		w.Observe(d)
	}
	return w
}

func repeat(d time.Duration, n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = d
	}
	return out
}

func TestTail_Empty(t *testing.T) {
	w, _ := NewLatencyWindow(8)
	ts := w.Tail()

	if ts.Samples != 0 || ts.Ratio != 1 || ts.Regime != TailThin {
		t.Errorf("empty window: %+v", ts)
	}
	if ts.ParetoAlpha != 0 {
		t.Errorf("alpha should be 0 without a tail, got %v", ts.ParetoAlpha)
	}
}

func TestTail_ThinWhenUniform(t *testing.T) {
	w := fillWindow(t, repeat(20*time.Millisecond, 100)...)
	ts := w.Tail()

	if ts.Ratio != 1 {
		t.Errorf("ratio = %v, want 1", ts.Ratio)
	}
	if ts.Regime != TailThin {
		t.Errorf("regime = %v, want thin", ts.Regime)
	}
	if ts.P999 != 20*time.Millisecond {
		t.Errorf("p999 = %v", ts.P999)
	}
}

func TestTail_HeavyWhenOutliersReachP99(t *testing.T) {
	// 98 fast samples and 2 black swans: index int(99*0.99)=98 lands on an outlier.
	lat := append(repeat(5*time.Millisecond, 98), time.Second, time.Second)
	ts := fillWindow(t, lat...).Tail()

	if ts.P50 != 5*time.Millisecond || ts.P99 != time.Second {
		t.Fatalf("p50=%v p99=%v", ts.P50, ts.P99)
	}
	if ts.Ratio != 200 {
		t.Errorf("ratio = %v, want 200", ts.Ratio)
	}
	if ts.Regime != TailHeavy {
		t.Errorf("regime = %v, want heavy", ts.Regime)
	}
	want := math.Log(50) / math.Log(200)
	if math.Abs(ts.ParetoAlpha-want) > 1e-12 {
		t.Errorf("alpha = %v, want %v", ts.ParetoAlpha, want)
	}
}

func TestTail_AlphaRecoversParetoIndex(t *testing.T) {
	// Exact Pareto quantiles with α=2 and xmin=1ms: p50 = √2 ms, p99 = 10 ms.
	alpha := 2.0
	q := func(p float64) time.Duration {
		return time.Duration(float64(time.Millisecond) * math.Pow(1-p, -1/alpha))
	}
	// 1001 samples put index 500 at q(0.50) and index 990 at q(0.99).
	lat := make([]time.Duration, 0, 1001)
	for i := 0; i < 1000; i++ {
		lat = append(lat, q(float64(i)/1000))
	}
	lat = append(lat, q(0.9995))
	ts := fillWindow(t, lat...).Tail()

	if math.Abs(ts.ParetoAlpha-alpha) > 1e-3 {
		t.Errorf("alpha = %.4f, want ≈ %.1f (ratio %.3f)", ts.ParetoAlpha, alpha, ts.Ratio)
	}
}

func TestTail_Skewed(t *testing.T) {
	lat := append(repeat(10*time.Millisecond, 97), 50*time.Millisecond, 50*time.Millisecond, 50*time.Millisecond)
	ts := fillWindow(t, lat...).Tail()

	if ts.Ratio != 5 {
		t.Errorf("ratio = %v, want 5", ts.Ratio)
	}
	if ts.Regime != TailSkewed {
		t.Errorf("regime = %v, want skewed", ts.Regime)
	}
}

func TestTail_DoesNotReorderWindow(t *testing.T) {
	w := fillWindow(t, 30*time.Millisecond, 10*time.Millisecond, 20*time.Millisecond)
	_ = w.Tail()

	w.Observe(40 * time.Millisecond) // overwrites the oldest (30ms)
	if got := w.Statistics().P99; got != 40*time.Millisecond {
		t.Errorf("p99 after overwrite = %v, want 40ms", got)
	}
	if got := w.Tail().P50; got != 20*time.Millisecond {
		t.Errorf("p50 = %v, want 20ms", got)
	}
}
