package homeostat

import (
	"errors"
	"fmt"
	"math"
)

// Error kinds surfaced by the core. Every error returned by this package wraps
// exactly one of them.
var (
	ErrInvalidTelemetry = errors.New("invalid telemetry")
	ErrConfig           = errors.New("invalid configuration")
	ErrInvalidRegime    = errors.New("invalid regime")
	ErrDomain           = errors.New("domain error")
)

// Wire names for the error kinds.
const (
	KindInvalidTelemetry = "InvalidTelemetry"
	KindConfig           = "Config"
	KindInvalidRegime    = "InvalidRegime"
	KindDomain           = "Domain"
)

// ErrorKind returns the wire name of err's kind, or "" if err is not a core error.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRegime):
		return KindInvalidRegime
	case errors.Is(err, ErrDomain):
		return KindDomain
	case errors.Is(err, ErrInvalidTelemetry):
		return KindInvalidTelemetry
	case errors.Is(err, ErrConfig):
		return KindConfig
	default:
		return ""
	}
}

// requireFinite fails with ErrInvalidTelemetry when v is NaN or ±Inf.
func requireFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s is not finite (%v)", ErrInvalidTelemetry, name, v)
	}
	return nil
}

// requireNonNegative fails with ErrInvalidTelemetry when v is not finite or below zero.
func requireNonNegative(name string, v float64) error {
	if err := requireFinite(name, v); err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("%w: %s must be non-negative, got %v", ErrInvalidTelemetry, name, v)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
