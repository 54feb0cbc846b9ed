package homeostat

import (
	"fmt"
	"math"
)

// Path is the execution route chosen for a Λ value.
type Path string

const (
	FastPath Path = "fast" // Λ within the fast-path budget
	SlowPath Path = "slow" // Λ over budget, or repair work
)

// Defaults for the time-wrap engine.
const (
	DefaultEpsilon          = 1e-6
	DefaultFastPathBudgetMs = 50.0
)

// TimeWrapEngine computes Λ-time and routes on it.
//
// Configuration with recognized option {fastPathBudgetMs: threshold Λ value
// routed to low-latency path}. The budget is compared against Λ directly, it is
// not derived from the formula.
type TimeWrapEngine struct {
	Epsilon          float64 `json:"epsilon" yaml:"epsilon"`
	FastPathBudgetMs float64 `json:"fast_path_budget_ms" yaml:"fast_path_budget_ms"`
}

// DefaultTimeWrapEngine returns ε=1e-6 and a 50ms fast-path budget.
func DefaultTimeWrapEngine() TimeWrapEngine {
	return TimeWrapEngine{
		Epsilon:          DefaultEpsilon,
		FastPathBudgetMs: DefaultFastPathBudgetMs,
	}
}

// Validate checks ε > 0 and a finite budget.
func (e TimeWrapEngine) Validate() error {
	if !isFinite(e.Epsilon) || e.Epsilon <= 0 || e.Epsilon >= 1 {
		return fmt.Errorf("%w: epsilon must be in (0, 1), got %v", ErrConfig, e.Epsilon)
	}
	if !isFinite(e.FastPathBudgetMs) {
		return fmt.Errorf("%w: fast_path_budget_ms must be finite, got %v", ErrConfig, e.FastPathBudgetMs)
	}
	return nil
}

// LambdaResult is Λ plus the metadata collaborators use to explain it.
type LambdaResult struct {
	Value      float64 `json:"value"`
	Mode       Mode    `json:"mode"`
	ModeName   string  `json:"mode_name"`
	Formula    string  `json:"formula"`
	Convergent bool    `json:"convergent"`
	Path       Path    `json:"path"`
}

// Formula strings per regime.
const (
	formulaWrap   = "T₁·ln(U) / (1 − 1/(k·P))"
	formulaSteady = "T₁·ln(U)"
	formulaUnwrap = "T₁·ln(U) / (1 − k·P)"
)

// Compute returns Λ for the given regime.
//
//	Wrap:   T₁·ln(U) / (1 − 1/kP), requires kP > 1+ε
//	Steady: T₁·ln(U)
//	Unwrap: T₁·ln(U) / (1 − kP),   requires |kP| < 1−ε
//
// T1 ≤ 0 or U ≤ 0 fails with ErrDomain. A regime whose validity condition does
// not hold, or whose denominator is within ε of zero, fails with
// ErrInvalidRegime. There is no fallback to another formula.
func (e TimeWrapEngine) Compute(mode Mode, t1, k, p, u float64) (float64, error) {
	eps := e.epsilon()

	logU, err := checkLambdaInputs(t1, k, p, u)
	if err != nil {
		return 0, err
	}
	kP := k * p
	if !isFinite(kP) {
		return 0, fmt.Errorf("%w: k·P is not finite (k=%v P=%v)", ErrInvalidTelemetry, k, p)
	}

	var value float64
	switch mode {
	case Wrap:
		if kP <= 1+eps {
			return 0, fmt.Errorf("%w: wrap requires k·P > 1+ε, got k·P=%v", ErrInvalidRegime, kP)
		}
		denom := 1 - 1/kP
		if math.Abs(denom) < eps {
			return 0, fmt.Errorf("%w: wrap denominator 1−1/kP=%v is within ε of zero", ErrInvalidRegime, denom)
		}
		value = t1 * logU / denom

	case Steady:
		value = t1 * logU

	case Unwrap:
		if math.Abs(kP) >= 1-eps {
			return 0, fmt.Errorf("%w: unwrap requires |k·P| < 1−ε, got k·P=%v", ErrInvalidRegime, kP)
		}
		denom := 1 - kP
		if math.Abs(denom) < eps {
			return 0, fmt.Errorf("%w: unwrap denominator 1−kP=%v is within ε of zero", ErrInvalidRegime, denom)
		}
		value = t1 * logU / denom

	default:
		return 0, fmt.Errorf("%w: unknown mode %d", ErrInvalidTelemetry, int8(mode))
	}

	if !isFinite(value) {
		return 0, fmt.Errorf("%w: Λ is not finite (%v)", ErrDomain, value)
	}
	return value, nil
}

// Evaluate computes Λ and attaches the regime metadata and path decision.
func (e TimeWrapEngine) Evaluate(mode Mode, t1, k, p, u float64) (LambdaResult, error) {
	value, err := e.Compute(mode, t1, k, p, u)
	if err != nil {
		return LambdaResult{}, err
	}

	var formula string
	switch mode {
	case Wrap:
		formula = formulaWrap
	case Steady:
		formula = formulaSteady
	case Unwrap:
		formula = formulaUnwrap
	}

	return LambdaResult{
		Value:      value,
		Mode:       mode,
		ModeName:   mode.DisplayName(),
		Formula:    formula,
		Convergent: true,
		Path:       e.Route(value),
	}, nil
}

// UnwrapSeries returns the truncated expansion Σ_{i<terms} T₁·(kP)^i·ln(U).
//
// This is an explicit opt-in for divergent Unwrap regimes (|kP| ≥ 1−ε). It is
// never chosen by Compute. terms must be in [1, MaxSeriesTerms].
func (e TimeWrapEngine) UnwrapSeries(t1, k, p, u float64, terms int) (LambdaResult, error) {
	if terms < 1 || terms > MaxSeriesTerms {
		return LambdaResult{}, fmt.Errorf("%w: series_terms must be in [1, %d], got %d",
			ErrInvalidTelemetry, MaxSeriesTerms, terms)
	}
	logU, err := checkLambdaInputs(t1, k, p, u)
	if err != nil {
		return LambdaResult{}, err
	}
	kP := k * p

	var sum float64
	pow := 1.0
	for i := 0; i < terms; i++ {
		sum += t1 * pow * logU
		pow *= kP
	}
	if !isFinite(sum) {
		return LambdaResult{}, fmt.Errorf("%w: truncated series is not finite after %d terms", ErrDomain, terms)
	}

	return LambdaResult{
		Value:      sum,
		Mode:       Unwrap,
		ModeName:   "Λ-Unwrap (truncated)",
		Formula:    fmt.Sprintf("Σ(i=0..%d) T₁·(k·P)^i·ln(U)", terms-1),
		Convergent: false,
		Path:       e.Route(sum),
	}, nil
}

// MaxSeriesTerms bounds UnwrapSeries.
const MaxSeriesTerms = 1024

// Route returns FastPath when Λ is within the fast-path budget.
func (e TimeWrapEngine) Route(lambda float64) Path {
	if lambda <= e.FastPathBudgetMs {
		return FastPath
	}
	return SlowPath
}

func (e TimeWrapEngine) epsilon() float64 {
	if e.Epsilon <= 0 {
		return DefaultEpsilon
	}
	return e.Epsilon
}

// checkLambdaInputs validates the common inputs and returns ln(U).
func checkLambdaInputs(t1, k, p, u float64) (float64, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{{"T1", t1}, {"k", k}, {"P", p}, {"U", u}} {
		if err := requireFinite(f.name, f.v); err != nil {
			return 0, err
		}
	}
	if t1 <= 0 {
		return 0, fmt.Errorf("%w: T1 must be > 0, got %v", ErrDomain, t1)
	}
	if u <= 0 {
		return 0, fmt.Errorf("%w: U must be > 0 for ln(U), got %v", ErrDomain, u)
	}
	return math.Log(u), nil
}
