package homeostat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// PIDConfig configures the homeostasis controller.
type PIDConfig struct {
	Kp float64 `json:"kp" yaml:"kp"` // Proportional gain
	Ki float64 `json:"ki" yaml:"ki"` // Integral gain
	Kd float64 `json:"kd" yaml:"kd"` // Derivative gain

	// Anti-windup band for the integral accumulator.
	IntegralMin float64 `json:"integral_min" yaml:"integral_min"`
	IntegralMax float64 `json:"integral_max" yaml:"integral_max"`

	// Actuator saturation band for throttleDelta.
	ThrottleMin float64 `json:"throttle_min" yaml:"throttle_min"`
	ThrottleMax float64 `json:"throttle_max" yaml:"throttle_max"`

	// Checkpoint advice fires in Unwrap when latencyP99 − Lmax exceeds this (ms).
	CheckpointMargin float64 `json:"checkpoint_margin" yaml:"checkpoint_margin"`
}

// DefaultPIDConfig returns Kp=0.2, Ki=0.05, Kd=0 with an integral band of ±1000,
// a throttle band of ±100 and a 50ms checkpoint margin.
func DefaultPIDConfig() PIDConfig {
	return PIDConfig{
		Kp:               0.2,
		Ki:               0.05,
		Kd:               0.0,
		IntegralMin:      -1000,
		IntegralMax:      1000,
		ThrottleMin:      -100,
		ThrottleMax:      100,
		CheckpointMargin: 50,
	}
}

// Validate checks gains are finite and both bands are ordered.
func (c PIDConfig) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"kp", c.Kp}, {"ki", c.Ki}, {"kd", c.Kd},
		{"integral_min", c.IntegralMin}, {"integral_max", c.IntegralMax},
		{"throttle_min", c.ThrottleMin}, {"throttle_max", c.ThrottleMax},
		{"checkpoint_margin", c.CheckpointMargin},
	} {
		if !isFinite(f.v) {
			return fmt.Errorf("%w: pid %s must be finite, got %v", ErrConfig, f.name, f.v)
		}
	}
	if c.IntegralMin > c.IntegralMax {
		return fmt.Errorf("%w: integral band [%v, %v] is inverted", ErrConfig, c.IntegralMin, c.IntegralMax)
	}
	if c.ThrottleMin > c.ThrottleMax {
		return fmt.Errorf("%w: throttle band [%v, %v] is inverted", ErrConfig, c.ThrottleMin, c.ThrottleMax)
	}
	if c.CheckpointMargin < 0 {
		return fmt.Errorf("%w: checkpoint_margin must be >= 0, got %v", ErrConfig, c.CheckpointMargin)
	}
	return nil
}

// ControlState is the controller's mutable state. It is owned by exactly one
// Controller; copies handed out by State are snapshots.
type ControlState struct {
	Integral      float64 `json:"integral"`
	PreviousError float64 `json:"prev_error"`
	LastMode      Mode    `json:"last_mode"`
	Ticks         uint64  `json:"ticks"`
}

// TickInput is one control-loop observation.
type TickInput struct {
	LatencyP99 float64 // Measured p99 latency (ms)
	Lmax       float64 // Target latency (ms), must be > 0
	DT         float64 // Seconds since the previous tick, must be > 0
	Mode       Mode    // Current operating mode
}

// TickResult is what one tick emits.
type TickResult struct {
	ThrottleDelta       float64 `json:"throttle"`
	ControlSignal       float64 `json:"control_signal"` // Unclamped PID output
	Error               float64 `json:"error"`
	Integral            float64 `json:"integral"`
	Derivative          float64 `json:"derivative"`
	PreviousError       float64 `json:"prev_error"`
	Priority            int     `json:"priority"` // 1 when over budget
	CheckpointRequested bool    `json:"checkpoint_requested"`
	Mode                Mode    `json:"mode"`
	Tick                uint64  `json:"tick"`
}

// Controller is a discrete-time PID controller over p99 latency.
//
// One mutex guards the state for the whole of each tick, so concurrent callers
// are serialized and every tick sees the previous tick's state.
type Controller struct {
	mu     sync.Mutex
	cfg    PIDConfig
	state  ControlState
	logger *slog.Logger
}

// NewController creates a controller with zeroed accumulators in Steady mode.
func NewController(cfg PIDConfig, logger *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		state:  ControlState{LastMode: Steady},
		logger: logger,
	}, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() PIDConfig {
	return c.cfg
}

// Tick applies one control step.
//
// Failures (ErrConfig for dt ≤ 0 or Lmax ≤ 0, ErrInvalidTelemetry for
// non-finite or negative inputs) leave the state untouched.
func (c *Controller) Tick(in TickInput) (TickResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tickLocked(in)
}

// TickLastMode is Tick using the mode recorded by the previous tick. It backs
// the tune contract, whose callers do not pass a mode.
func (c *Controller) TickLastMode(latencyP99, lmax, dt float64) (TickResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tickLocked(TickInput{
		LatencyP99: latencyP99,
		Lmax:       lmax,
		DT:         dt,
		Mode:       c.state.LastMode,
	})
}

func (c *Controller) tickLocked(in TickInput) (TickResult, error) {
	if err := validateTick(in); err != nil {
		c.logger.Warn("control tick skipped",
			"error", err,
			"lat_p99", in.LatencyP99,
			"lmax", in.Lmax,
			"dt", in.DT)
		return TickResult{}, err
	}

	next, res, err := step(c.cfg, c.state, in)
	if err != nil {
		c.logger.Warn("control tick rejected",
			"error", err,
			"lat_p99", in.LatencyP99,
			"lmax", in.Lmax,
			"dt", in.DT)
		return TickResult{}, err
	}

	if next.LastMode != c.state.LastMode {
		c.logger.Info("mode transition",
			"from", c.state.LastMode,
			"to", next.LastMode,
			"tick", next.Ticks)
	}
	if res.CheckpointRequested {
		c.logger.Warn("checkpoint advised",
			"lat_p99", in.LatencyP99,
			"lmax", in.Lmax,
			"margin", c.cfg.CheckpointMargin)
	}

	c.state = next
	return res, nil
}

// step computes the next state and result without touching the controller.
// A dt small enough to overflow the derivative is rejected rather than
// emitted, since clamp passes NaN through.
func step(cfg PIDConfig, s ControlState, in TickInput) (ControlState, TickResult, error) {
	e := in.LatencyP99 - in.Lmax

	integral := clamp(s.Integral+e*in.DT, cfg.IntegralMin, cfg.IntegralMax)
	derivative := (e - s.PreviousError) / in.DT

	control := cfg.Kp*e + cfg.Ki*integral + cfg.Kd*derivative
	throttle := clamp(control, cfg.ThrottleMin, cfg.ThrottleMax)

	for _, f := range []struct {
		name string
		v    float64
	}{
		{"error", e}, {"integral", integral}, {"derivative", derivative},
		{"control signal", control}, {"throttle", throttle},
	} {
		if !isFinite(f.v) {
			return s, TickResult{}, fmt.Errorf("%w: %s is not finite (%v) at dt=%v", ErrInvalidTelemetry, f.name, f.v, in.DT)
		}
	}

	priority := 0
	if e > 0 {
		priority = 1
	}

	next := ControlState{
		Integral:      integral,
		PreviousError: e,
		LastMode:      in.Mode,
		Ticks:         s.Ticks + 1,
	}

	return next, TickResult{
		ThrottleDelta:       throttle,
		ControlSignal:       control,
		Error:               e,
		Integral:            integral,
		Derivative:          derivative,
		PreviousError:       e,
		Priority:            priority,
		CheckpointRequested: in.Mode == Unwrap && e > cfg.CheckpointMargin,
		Mode:                in.Mode,
		Tick:                next.Ticks,
	}, nil
}

func validateTick(in TickInput) error {
	if err := requireFinite("dt", in.DT); err != nil {
		return err
	}
	if err := requireFinite("Lmax", in.Lmax); err != nil {
		return err
	}
	if err := requireNonNegative("lat_p99", in.LatencyP99); err != nil {
		return err
	}
	if in.DT <= 0 {
		return fmt.Errorf("%w: dt must be > 0, got %v", ErrConfig, in.DT)
	}
	if in.Lmax <= 0 {
		return fmt.Errorf("%w: Lmax must be > 0, got %v", ErrConfig, in.Lmax)
	}
	if !in.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidTelemetry, int8(in.Mode))
	}
	return nil
}

// State returns a snapshot of the controller state.
func (c *Controller) State() ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastMode returns the mode recorded by the most recent successful tick.
func (c *Controller) LastMode() Mode {
	return c.State().LastMode
}

// Reset zeroes the accumulators. This is an operator action; the controller
// never resets itself.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = ControlState{LastMode: Steady}
	c.logger.Info("control state reset")
}

// Restore replaces the state, e.g. when rolling back to a checkpoint.
func (c *Controller) Restore(s ControlState) error {
	if !isFinite(s.Integral) || !isFinite(s.PreviousError) {
		return fmt.Errorf("%w: restored state must be finite", ErrConfig)
	}
	if !s.LastMode.Valid() {
		return fmt.Errorf("%w: restored state has unknown mode %d", ErrConfig, int8(s.LastMode))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = s
	c.logger.Info("control state restored",
		"integral", s.Integral,
		"prev_error", s.PreviousError,
		"mode", s.LastMode,
		"ticks", s.Ticks)
	return nil
}

// LoopSample is what a TelemetrySource reports for one loop tick.
type LoopSample struct {
	LatencyP99 float64
	Lmax       float64
	Mode       Mode
}

// TelemetrySource provides the measurement for each loop tick.
type TelemetrySource interface {
	Sample(ctx context.Context) (LoopSample, error)
}

// SignalSink receives the result of each successful loop tick.
type SignalSink interface {
	Publish(ctx context.Context, res TickResult)
}

// Run drives Tick at a fixed period until ctx is done, using dt = period.
// A failed sample or tick is logged and skipped; the loop keeps running.
// ErrNoSamples skips the period without touching the state.
func (c *Controller) Run(ctx context.Context, period time.Duration, src TelemetrySource, sink SignalSink) error {
	if period <= 0 {
		return fmt.Errorf("%w: loop period must be > 0, got %s", ErrConfig, period)
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	dt := period.Seconds()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sample, err := src.Sample(ctx)
			if errors.Is(err, ErrNoSamples) {
				c.logger.Debug("loop tick skipped", "reason", err)
				continue
			}
			if err != nil {
				c.logger.Warn("telemetry sample failed", "error", err)
				continue
			}
			res, err := c.Tick(TickInput{
				LatencyP99: sample.LatencyP99,
				Lmax:       sample.Lmax,
				DT:         dt,
				Mode:       sample.Mode,
			})
			if err != nil {
				continue
			}
			if sink != nil {
				sink.Publish(ctx, res)
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
