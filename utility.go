package homeostat

import "fmt"

// UtilityBreakdown holds U and the per-term contributions that produced it.
type UtilityBreakdown struct {
	Utility                float64 `json:"utility"`
	ThroughputContribution float64 `json:"throughput_contribution"`
	EnergyContribution     float64 `json:"energy_contribution"`
	LatencyPenalty         float64 `json:"latency_penalty"`
	RiskPenalty            float64 `json:"risk_penalty"`
	CostPenalty            float64 `json:"cost_penalty"`
}

// Utility computes U = w₁·throughput + w₂·energyEfficiency − w₃·latency − w₄·risk − w₅·cost.
//
// U may be negative. TimeWrapEngine requires U > 0, so a negative utility is
// rejected there rather than here.
func Utility(t TelemetrySnapshot, w UtilityWeights) (float64, error) {
	b, err := EvaluateUtility(t, w)
	if err != nil {
		return 0, err
	}
	return b.Utility, nil
}

// EvaluateUtility computes U together with its breakdown.
func EvaluateUtility(t TelemetrySnapshot, w UtilityWeights) (UtilityBreakdown, error) {
	if err := w.Validate(); err != nil {
		return UtilityBreakdown{}, err
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"throughput", t.Throughput},
		{"energy_eff", t.EnergyEfficiency},
		{"risk", t.Risk},
		{"cost", t.Cost},
	} {
		if err := requireFinite(f.name, f.v); err != nil {
			return UtilityBreakdown{}, err
		}
	}
	if err := requireNonNegative("latency", t.Latency); err != nil {
		return UtilityBreakdown{}, err
	}

	b := UtilityBreakdown{
		ThroughputContribution: w.Throughput * t.Throughput,
		EnergyContribution:     w.EnergyEfficiency * t.EnergyEfficiency,
		LatencyPenalty:         w.Latency * t.Latency,
		RiskPenalty:            w.Risk * t.Risk,
		CostPenalty:            w.Cost * t.Cost,
	}
	b.Utility = b.ThroughputContribution + b.EnergyContribution -
		b.LatencyPenalty - b.RiskPenalty - b.CostPenalty

	if !isFinite(b.Utility) {
		return UtilityBreakdown{}, fmt.Errorf("%w: utility overflowed (%v)", ErrInvalidTelemetry, b.Utility)
	}
	return b, nil
}
