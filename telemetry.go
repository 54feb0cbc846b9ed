package homeostat

import "fmt"

// TelemetrySnapshot is one observation of the system under control.
//
// The first five fields feed the utility U, the last five feed the resilience
// score Θ. Latency fields are in milliseconds.
type TelemetrySnapshot struct {
	Throughput       float64 `json:"throughput" yaml:"throughput"`
	EnergyEfficiency float64 `json:"energy_eff" yaml:"energy_eff"`
	Latency          float64 `json:"latency" yaml:"latency"`
	Risk             float64 `json:"risk" yaml:"risk"`
	Cost             float64 `json:"cost" yaml:"cost"`

	LatencyP99     float64 `json:"latency_p99" yaml:"latency_p99"`
	MTBF           float64 `json:"mtbf" yaml:"mtbf"`
	MTTR           float64 `json:"mttr" yaml:"mttr"`
	SecurityScore  float64 `json:"security_score" yaml:"security_score"`
	DriftStability float64 `json:"drift_stability" yaml:"drift_stability"`
}

// UtilityWeights are w₁..w₅ of the utility formula.
// Components must be non-negative and are expected (not required) to sum to 1.
type UtilityWeights struct {
	Throughput       float64 `json:"w_throughput" yaml:"throughput"`
	EnergyEfficiency float64 `json:"w_energy" yaml:"energy_eff"`
	Latency          float64 `json:"w_latency" yaml:"latency"`
	Risk             float64 `json:"w_risk" yaml:"risk"`
	Cost             float64 `json:"w_cost" yaml:"cost"`
}

// DefaultUtilityWeights returns w = (0.35, 0.15, 0.30, 0.15, 0.05).
func DefaultUtilityWeights() UtilityWeights {
	return UtilityWeights{
		Throughput:       0.35,
		EnergyEfficiency: 0.15,
		Latency:          0.30,
		Risk:             0.15,
		Cost:             0.05,
	}
}

// Sum returns w₁+…+w₅. Weights that do not sum to 1 push U outside its
// natural range; this is allowed so misconfiguration stays visible.
func (w UtilityWeights) Sum() float64 {
	return w.Throughput + w.EnergyEfficiency + w.Latency + w.Risk + w.Cost
}

// Validate rejects negative or non-finite weights.
func (w UtilityWeights) Validate() error {
	return validateWeights("utility", map[string]float64{
		"throughput": w.Throughput,
		"energy_eff": w.EnergyEfficiency,
		"latency":    w.Latency,
		"risk":       w.Risk,
		"cost":       w.Cost,
	})
}

// ResilienceWeights are α₁..α₄ of the resilience formula.
type ResilienceWeights struct {
	LatencyHeadroom float64 `json:"a_latency" yaml:"latency_headroom"`
	Availability    float64 `json:"a_availability" yaml:"availability"`
	Security        float64 `json:"a_security" yaml:"security"`
	Drift           float64 `json:"a_drift" yaml:"drift"`
}

// DefaultResilienceWeights returns α = (0.35, 0.25, 0.25, 0.15).
func DefaultResilienceWeights() ResilienceWeights {
	return ResilienceWeights{
		LatencyHeadroom: 0.35,
		Availability:    0.25,
		Security:        0.25,
		Drift:           0.15,
	}
}

// Sum returns α₁+…+α₄. See UtilityWeights.Sum.
func (w ResilienceWeights) Sum() float64 {
	return w.LatencyHeadroom + w.Availability + w.Security + w.Drift
}

// Validate rejects negative or non-finite weights.
func (w ResilienceWeights) Validate() error {
	return validateWeights("resilience", map[string]float64{
		"latency_headroom": w.LatencyHeadroom,
		"availability":     w.Availability,
		"security":         w.Security,
		"drift":            w.Drift,
	})
}

func validateWeights(group string, weights map[string]float64) error {
	for name, v := range weights {
		if !isFinite(v) || v < 0 {
			return fmt.Errorf("%w: %s weight %s must be finite and non-negative, got %v",
				ErrConfig, group, name, v)
		}
	}
	return nil
}
