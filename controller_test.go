package homeostat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, cfg PIDConfig) *Controller {
	t.Helper()
	c, err := NewController(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return c
}

func TestController_InitialState(t *testing.T) {
	c := newTestController(t, DefaultPIDConfig())

	s := c.State()
	if s.Integral != 0 || s.PreviousError != 0 || s.Ticks != 0 {
		t.Errorf("Expected zeroed accumulators, got %+v", s)
	}
	if s.LastMode != Steady {
		t.Errorf("Expected initial mode Steady, got %s", s.LastMode)
	}
}

func TestController_IntegralAccumulates(t *testing.T) {
	cfg := DefaultPIDConfig() // Kp=0.2 Ki=0.05 Kd=0
	c := newTestController(t, cfg)

	in := TickInput{LatencyP99: 240, Lmax: 200, DT: 1, Mode: Steady}

	first, err := c.Tick(in)
	if err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	second, err := c.Tick(in)
	if err != nil {
		t.Fatalf("second tick failed: %v", err)
	}

	// e = 40: first = 0.2·40 + 0.05·40, second = 0.2·40 + 0.05·80
	if math.Abs(first.ThrottleDelta-10) > 1e-9 {
		t.Errorf("first throttle: expected 10, got %.6f", first.ThrottleDelta)
	}
	if math.Abs(second.ThrottleDelta-12) > 1e-9 {
		t.Errorf("second throttle: expected 12, got %.6f", second.ThrottleDelta)
	}

	diff := second.ThrottleDelta - first.ThrottleDelta
	expected := cfg.Ki * 40 * in.DT
	if math.Abs(diff-expected) > 1e-9 {
		t.Errorf("Identical calls must differ by Ki·e·dt=%.4f, got %.4f", expected, diff)
	}

	t.Logf("✓ tune is stateful: %.2f → %.2f (Δ = Ki·e·dt = %.2f)", first.ThrottleDelta, second.ThrottleDelta, diff)
}

func TestController_UnderBudgetIsNegative(t *testing.T) {
	c := newTestController(t, DefaultPIDConfig())

	res, err := c.Tick(TickInput{LatencyP99: 150, Lmax: 200, DT: 1, Mode: Steady})
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if res.Error != -50 {
		t.Errorf("Expected error -50, got %v", res.Error)
	}
	if res.ThrottleDelta >= 0 {
		t.Errorf("Under budget should release throttle (negative delta), got %v", res.ThrottleDelta)
	}
	if res.Priority != 0 {
		t.Errorf("Under budget priority should be 0, got %d", res.Priority)
	}
}

func TestController_Derivative(t *testing.T) {
	cfg := DefaultPIDConfig()
	cfg.Kp, cfg.Ki, cfg.Kd = 0, 0, 0.5
	c := newTestController(t, cfg)

	first, _ := c.Tick(TickInput{LatencyP99: 240, Lmax: 200, DT: 0.5, Mode: Steady})
	if math.Abs(first.Derivative-80) > 1e-9 {
		t.Errorf("first derivative: expected (40−0)/0.5=80, got %v", first.Derivative)
	}

	second, _ := c.Tick(TickInput{LatencyP99: 210, Lmax: 200, DT: 0.5, Mode: Steady})
	if math.Abs(second.Derivative-(-60)) > 1e-9 {
		t.Errorf("second derivative: expected (10−40)/0.5=−60, got %v", second.Derivative)
	}
	if math.Abs(second.ThrottleDelta-(-30)) > 1e-9 {
		t.Errorf("Kd·derivative: expected −30, got %v", second.ThrottleDelta)
	}
	if c.State().PreviousError != 10 {
		t.Errorf("previousError should track the last error, got %v", c.State().PreviousError)
	}
}

func TestController_AntiWindup(t *testing.T) {
	cfg := DefaultPIDConfig()
	c := newTestController(t, cfg)

	in := TickInput{LatencyP99: 700, Lmax: 200, DT: 1, Mode: Steady} // e = 500
	var res TickResult
	for i := 0; i < 10; i++ {
		var err error
		res, err = c.Tick(in)
		if err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
		AssertThrottleBounded(t, cfg, res)
	}

	if res.Integral != cfg.IntegralMax {
		t.Errorf("Integral should saturate at %v, got %v", cfg.IntegralMax, res.Integral)
	}
	if res.ThrottleDelta != cfg.ThrottleMax {
		t.Errorf("Throttle should saturate at %v, got %v", cfg.ThrottleMax, res.ThrottleDelta)
	}
	if res.ControlSignal <= cfg.ThrottleMax {
		t.Errorf("Raw control signal should exceed the band, got %v", res.ControlSignal)
	}

	// Recovery starts immediately because the integral did not wind up past the band.
	recovered, _ := c.Tick(TickInput{LatencyP99: 0, Lmax: 200, DT: 1, Mode: Steady})
	if recovered.Integral != cfg.IntegralMax-200 {
		t.Errorf("Expected integral %v after one under-budget tick, got %v", cfg.IntegralMax-200, recovered.Integral)
	}
}

func TestController_CheckpointAdvice(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		mode Mode
		want bool
	}{
		{"unwrap over margin", 260, Unwrap, true},
		{"unwrap at margin", 250, Unwrap, false},
		{"unwrap under budget", 150, Unwrap, false},
		{"steady over margin", 400, Steady, false},
		{"wrap over margin", 400, Wrap, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, DefaultPIDConfig()) // margin 50
			res, err := c.Tick(TickInput{LatencyP99: tt.lat, Lmax: 200, DT: 1, Mode: tt.mode})
			if err != nil {
				t.Fatalf("Tick failed: %v", err)
			}
			if res.CheckpointRequested != tt.want {
				t.Errorf("checkpointRequested = %v, want %v", res.CheckpointRequested, tt.want)
			}
		})
	}
}

func TestController_FailedTickIsSideEffectFree(t *testing.T) {
	c := newTestController(t, DefaultPIDConfig())

	if _, err := c.Tick(TickInput{LatencyP99: 240, Lmax: 200, DT: 1, Mode: Unwrap}); err != nil {
		t.Fatalf("warm-up tick failed: %v", err)
	}
	before := c.State()

	bad := []struct {
		name string
		in   TickInput
		kind error
	}{
		{"NaN latency", TickInput{LatencyP99: math.NaN(), Lmax: 200, DT: 1, Mode: Steady}, ErrInvalidTelemetry},
		{"Inf latency", TickInput{LatencyP99: math.Inf(1), Lmax: 200, DT: 1, Mode: Steady}, ErrInvalidTelemetry},
		{"negative latency", TickInput{LatencyP99: -1, Lmax: 200, DT: 1, Mode: Steady}, ErrInvalidTelemetry},
		{"NaN Lmax", TickInput{LatencyP99: 100, Lmax: math.NaN(), DT: 1, Mode: Steady}, ErrInvalidTelemetry},
		{"zero dt", TickInput{LatencyP99: 100, Lmax: 200, DT: 0, Mode: Steady}, ErrConfig},
		{"negative dt", TickInput{LatencyP99: 100, Lmax: 200, DT: -0.1, Mode: Steady}, ErrConfig},
		{"zero Lmax", TickInput{LatencyP99: 100, Lmax: 0, DT: 1, Mode: Steady}, ErrConfig},
		{"unknown mode", TickInput{LatencyP99: 100, Lmax: 200, DT: 1, Mode: Mode(9)}, ErrInvalidTelemetry},
	}

	for _, b := range bad {
		t.Run(b.name, func(t *testing.T) {
			_, err := c.Tick(b.in)
			if !errors.Is(err, b.kind) {
				t.Errorf("Expected %v, got %v", b.kind, err)
			}
			AssertStateUnchanged(t, before, c.State())
		})
	}
}

func TestController_ConcurrentTicksDoNotLoseUpdates(t *testing.T) {
	c := newTestController(t, DefaultPIDConfig())

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Tick(TickInput{LatencyP99: 205, Lmax: 200, DT: 1, Mode: Steady})
		}()
	}
	wg.Wait()

	s := c.State()
	if s.Ticks != n {
		t.Errorf("Expected %d ticks, got %d", n, s.Ticks)
	}
	if s.Integral != 5*n {
		t.Errorf("Expected integral %d, got %v (lost update)", 5*n, s.Integral)
	}
}

func TestController_TickLastMode(t *testing.T) {
	c := newTestController(t, DefaultPIDConfig())

	if _, err := c.Tick(TickInput{LatencyP99: 300, Lmax: 200, DT: 1, Mode: Unwrap}); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	res, err := c.TickLastMode(300, 200, 1)
	if err != nil {
		t.Fatalf("TickLastMode failed: %v", err)
	}
	if res.Mode != Unwrap || !res.CheckpointRequested {
		t.Errorf("Expected Unwrap carried over with checkpoint advice, got %+v", res)
	}
}

func TestController_ResetAndRestore(t *testing.T) {
	c := newTestController(t, DefaultPIDConfig())

	_, _ = c.Tick(TickInput{LatencyP99: 300, Lmax: 200, DT: 1, Mode: Wrap})
	saved := c.State()

	c.Reset()
	if s := c.State(); s.Integral != 0 || s.PreviousError != 0 || s.Ticks != 0 || s.LastMode != Steady {
		t.Errorf("Reset should zero the state, got %+v", s)
	}

	if err := c.Restore(saved); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	AssertStateUnchanged(t, saved, c.State())

	if err := c.Restore(ControlState{Integral: math.NaN()}); !errors.Is(err, ErrConfig) {
		t.Errorf("NaN restore: expected ErrConfig, got %v", err)
	}
	AssertStateUnchanged(t, saved, c.State())
}

func TestPIDConfig_Validate(t *testing.T) {
	if err := DefaultPIDConfig().Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}

	inverted := DefaultPIDConfig()
	inverted.IntegralMin, inverted.IntegralMax = 10, -10
	if _, err := NewController(inverted, nil); !errors.Is(err, ErrConfig) {
		t.Errorf("inverted integral band: expected ErrConfig, got %v", err)
	}

	nanGain := DefaultPIDConfig()
	nanGain.Kp = math.NaN()
	if err := nanGain.Validate(); !errors.Is(err, ErrConfig) {
		t.Errorf("NaN gain: expected ErrConfig, got %v", err)
	}
}

func TestController_Run(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockTelemetrySource(ctrl)
	sink := NewMockSignalSink(ctrl)

	c := newTestController(t, DefaultPIDConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var samples atomic.Int32
	src.EXPECT().Sample(gomock.Any()).DoAndReturn(func(ctx context.Context) (LoopSample, error) {
		if err := ctx.Err(); err != nil {
			return LoopSample{}, err
		}
		if samples.Add(1) == 1 {
			return LoopSample{}, errors.New("scrape failed")
		}
		return LoopSample{LatencyP99: 240, Lmax: 200, Mode: Steady}, nil
	}).AnyTimes()

	var published atomic.Int32
	sink.EXPECT().Publish(gomock.Any(), gomock.Any()).Do(func(_ context.Context, res TickResult) {
		if published.Add(1) == 3 {
			cancel()
		}
	}).Times(3)

	err := c.Run(ctx, time.Millisecond, src, sink)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run should stop with context.Canceled, got %v", err)
	}

	s := c.State()
	if s.Ticks != 3 {
		t.Errorf("Expected 3 ticks (first sample failed), got %d", s.Ticks)
	}
	// e = 40 each tick, dt = 1ms
	if math.Abs(s.Integral-3*40*0.001) > 1e-12 {
		t.Errorf("Expected integral %.4f, got %.6f", 3*40*0.001, s.Integral)
	}
}

func TestController_RunRejectsBadPeriod(t *testing.T) {
	c := newTestController(t, DefaultPIDConfig())
	if err := c.Run(context.Background(), 0, nil, nil); !errors.Is(err, ErrConfig) {
		t.Errorf("period=0: expected ErrConfig, got %v", err)
	}
}

func TestController_RejectsNonFiniteOutputs(t *testing.T) {
	c := newTestController(t, DefaultPIDConfig())
	if _, err := c.Tick(TickInput{LatencyP99: 240, Lmax: 200, DT: 1, Mode: Steady}); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	before := c.State()

	// A subnormal dt keeps the integral finite but overflows the derivative,
	// and Kd=0 turns 0·Inf into NaN.
	res, err := c.Tick(TickInput{LatencyP99: 240, Lmax: 200, DT: 1e-320, Mode: Steady})
	if !errors.Is(err, ErrInvalidTelemetry) {
		t.Fatalf("Expected ErrInvalidTelemetry, got %v (throttle=%v)", err, res.ThrottleDelta)
	}
	AssertStateUnchanged(t, before, c.State())

	cfg := DefaultPIDConfig()
	cfg.Kd = 1
	c = newTestController(t, cfg)
	if _, err := c.Tick(TickInput{LatencyP99: 240, Lmax: 200, DT: 1e-320, Mode: Steady}); !errors.Is(err, ErrInvalidTelemetry) {
		t.Errorf("Kd=1: expected ErrInvalidTelemetry, got %v", err)
	}
	if c.State().Ticks != 0 {
		t.Errorf("Rejected tick must not be counted, got %d", c.State().Ticks)
	}
}
