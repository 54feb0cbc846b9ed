package homeostat

import "fmt"

// ResilienceScorer computes the resilience score Θ from telemetry.
//
// Formula:
//
//	Θ = α₁·(1 − latencyP99/Lmax) + α₂·MTBF/(MTBF+MTTR) + α₃·securityScore + α₄·driftStability
//
// Θ is not clamped to [0, 1]. With normalized weights and in-range inputs it
// lands there naturally; anything else surfaces misconfiguration.
type ResilienceScorer struct {
	Lmax float64 // Latency budget in ms, must be > 0
}

// NewResilienceScorer validates Lmax and returns a scorer.
func NewResilienceScorer(lmax float64) (ResilienceScorer, error) {
	s := ResilienceScorer{Lmax: lmax}
	if err := s.validate(); err != nil {
		return ResilienceScorer{}, err
	}
	return s, nil
}

func (s ResilienceScorer) validate() error {
	if !isFinite(s.Lmax) || s.Lmax <= 0 {
		return fmt.Errorf("%w: Lmax must be a finite value > 0, got %v", ErrConfig, s.Lmax)
	}
	return nil
}

// Score returns Θ for the given telemetry and weights.
//
// When MTBF and MTTR are both zero the availability term contributes 0
// instead of NaN.
func (s ResilienceScorer) Score(t TelemetrySnapshot, w ResilienceWeights) (float64, error) {
	if err := s.validate(); err != nil {
		return 0, err
	}
	if err := w.Validate(); err != nil {
		return 0, err
	}
	if err := requireNonNegative("latency_p99", t.LatencyP99); err != nil {
		return 0, err
	}
	if err := requireNonNegative("mtbf", t.MTBF); err != nil {
		return 0, err
	}
	if err := requireNonNegative("mttr", t.MTTR); err != nil {
		return 0, err
	}
	if err := requireFinite("security_score", t.SecurityScore); err != nil {
		return 0, err
	}
	if err := requireFinite("drift_stability", t.DriftStability); err != nil {
		return 0, err
	}

	headroom := 1 - t.LatencyP99/s.Lmax
	availability := Availability(t.MTBF, t.MTTR)

	theta := w.LatencyHeadroom*headroom +
		w.Availability*availability +
		w.Security*t.SecurityScore +
		w.Drift*t.DriftStability

	if !isFinite(theta) {
		return 0, fmt.Errorf("%w: resilience score overflowed (%v)", ErrInvalidTelemetry, theta)
	}
	return theta, nil
}

// Availability returns MTBF/(MTBF+MTTR), or 0 when both are zero.
func Availability(mtbf, mttr float64) float64 {
	total := mtbf + mttr
	if total == 0 {
		return 0
	}
	return mtbf / total
}
