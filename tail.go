package homeostat

import (
	"math"
	"sort"
	"time"
)

// TailRegime classifies the shape of a latency distribution.
type TailRegime string

const (
	// TailThin means p99 stays within 3× the median. Means are trustworthy.
	TailThin TailRegime = "thin"
	// TailSkewed means p99 is 3-10× the median.
	TailSkewed TailRegime = "skewed"
	// TailHeavy means p99 exceeds 10× the median. Outliers dominate the
	// mean, so Lmax comparisons should use p99, never the average.
	TailHeavy TailRegime = "heavy"
)

// Divergence ratio boundaries between regimes.
const (
	skewedRatio = 3.0
	heavyRatio  = 10.0
)

// TailStats describes the tail of a latency window.
//
// Ratio is p99/p50. ParetoAlpha estimates the Pareto index from the same two
// quantiles. For P(X > x) = (x/xmin)^-α the q-quantile is xmin·(1−q)^(-1/α),
// so p99/p50 = (0.01/0.50)^(-1/α) = 50^(1/α) and α = ln(50) / ln(p99/p50).
// An α at or below 2 means variance is effectively unbounded and the
// controller's error term will be noisy.
type TailStats struct {
	Samples     int           `json:"samples"`
	P50         time.Duration `json:"p50"`
	P99         time.Duration `json:"p99"`
	P999        time.Duration `json:"p999"`
	Ratio       float64       `json:"ratio"`
	ParetoAlpha float64       `json:"pareto_alpha"`
	Regime      TailRegime    `json:"regime"`
}

// Tail returns the tail shape of the samples currently in the window.
func (w *LatencyWindow) Tail() TailStats {
	w.mu.Lock()
	snapshot := make([]time.Duration, w.len())
	copy(snapshot, w.samples[:w.len()])
	w.mu.Unlock()

	return tailOf(snapshot)
}

func tailOf(latencies []time.Duration) TailStats {
	n := len(latencies)
	if n == 0 {
		return TailStats{Ratio: 1, Regime: TailThin}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	at := func(q float64) time.Duration {
		return latencies[int(float64(n-1)*q)]
	}

	ts := TailStats{
		Samples: n,
		P50:     at(0.50),
		P99:     at(0.99),
		P999:    at(0.999),
		Ratio:   1,
	}
	if ts.P50 > 0 {
		ts.Ratio = float64(ts.P99) / float64(ts.P50)
	}
	if ts.Ratio > 1 {
		ts.ParetoAlpha = math.Log(50) / math.Log(ts.Ratio)
	}

	switch {
	case ts.Ratio > heavyRatio:
		ts.Regime = TailHeavy
	case ts.Ratio >= skewedRatio:
		ts.Regime = TailSkewed
	default:
		ts.Regime = TailThin
	}
	return ts
}
