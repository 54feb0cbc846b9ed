package homeostat

import "fmt"

// Mode is the operating regime selected from the resilience score Θ.
// Only the three constants below are valid values.
type Mode int8

const (
	Unwrap Mode = -1 // Θ < θ_low: expansion, system stressed
	Steady Mode = 0  // θ_low ≤ Θ < θ_high: equilibrium
	Wrap   Mode = 1  // Θ ≥ θ_high: compression
)

// Default band edges.
const (
	DefaultThetaLow  = 0.55
	DefaultThetaHigh = 0.80
)

// ParseMode converts a wire integer (−1, 0, 1) into a Mode.
func ParseMode(v int) (Mode, error) {
	switch v {
	case -1, 0, 1:
		return Mode(v), nil
	}
	return Steady, fmt.Errorf("%w: mode must be -1, 0 or 1, got %d", ErrInvalidTelemetry, v)
}

// Valid reports whether m is one of Wrap, Steady, Unwrap.
func (m Mode) Valid() bool {
	switch m {
	case Unwrap, Steady, Wrap:
		return true
	}
	return false
}

// String returns "wrap", "steady" or "unwrap".
func (m Mode) String() string {
	switch m {
	case Wrap:
		return "wrap"
	case Steady:
		return "steady"
	case Unwrap:
		return "unwrap"
	}
	return fmt.Sprintf("mode(%d)", int8(m))
}

// DisplayName is the human readable regime name reported to collaborators.
func (m Mode) DisplayName() string {
	switch m {
	case Wrap:
		return "Λ-Wrap (Compression)"
	case Steady:
		return "Λ-Steady (Equilibrium)"
	case Unwrap:
		return "Λ-Unwrap (Expansion)"
	}
	return m.String()
}

// ModeDecider maps Θ onto a Mode using half-open bands:
//
//	Θ ≥ High        → Wrap
//	Low ≤ Θ < High  → Steady
//	Θ < Low         → Unwrap
//
// The same edges apply on entry and exit. Decide does not look at the previous
// mode; callers that want to retain the last mode on error do so themselves.
type ModeDecider struct {
	Low  float64 `json:"theta_low" yaml:"theta_low"`
	High float64 `json:"theta_high" yaml:"theta_high"`
}

// DefaultModeDecider returns the decider with θ_low=0.55 and θ_high=0.80.
func DefaultModeDecider() ModeDecider {
	return ModeDecider{Low: DefaultThetaLow, High: DefaultThetaHigh}
}

// NewModeDecider validates low < high and returns a decider.
func NewModeDecider(low, high float64) (ModeDecider, error) {
	d := ModeDecider{Low: low, High: high}
	if err := d.Validate(); err != nil {
		return ModeDecider{}, err
	}
	return d, nil
}

// Validate checks that both edges are finite and Low < High strictly.
func (d ModeDecider) Validate() error {
	if !isFinite(d.Low) || !isFinite(d.High) {
		return fmt.Errorf("%w: theta band edges must be finite (low=%v high=%v)", ErrConfig, d.Low, d.High)
	}
	if d.Low >= d.High {
		return fmt.Errorf("%w: theta_low (%v) must be < theta_high (%v)", ErrConfig, d.Low, d.High)
	}
	return nil
}

// Decide returns the mode for Θ. NaN or infinite Θ fails with
// ErrInvalidTelemetry and no mode.
func (d ModeDecider) Decide(theta float64) (Mode, error) {
	if err := requireFinite("theta", theta); err != nil {
		return Steady, err
	}

	switch {
	case theta >= d.High:
		return Wrap, nil
	case theta < d.Low:
		return Unwrap, nil
	default:
		return Steady, nil
	}
}

// ValidateTheta applies the decide_mode contract: Θ must be finite and ≥ 0.
func ValidateTheta(theta float64) error {
	return requireNonNegative("theta", theta)
}
