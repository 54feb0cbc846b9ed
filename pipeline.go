package homeostat

import (
	"fmt"
	"log/slog"
)

// TimeWrapInput carries the Λ inputs that do not come from telemetry.
type TimeWrapInput struct {
	T1 float64 `json:"T1"` // Baseline cost, > 0
	K  float64 `json:"k"`  // Per-iteration efficiency
	P  float64 `json:"P"`  // Effective parallelism
}

// Decision is the pure part of one evaluation: Θ, U, mode and Λ.
type Decision struct {
	Theta   float64      `json:"theta"`
	Utility float64      `json:"utility"`
	Mode    Mode         `json:"state"`
	Lambda  LambdaResult `json:"lambda"`
}

// ChangeSignal is the per-tick output handed to collaborators. The core does
// not retain it.
type ChangeSignal struct {
	Mode                Mode    `json:"state"`
	Lambda              float64 `json:"lambda"`
	Path                Path    `json:"path"`
	ThrottleDelta       float64 `json:"throttle"`
	CheckpointRequested bool    `json:"checkpoint_requested"`
	Theta               float64 `json:"theta"`
	Utility             float64 `json:"utility"`
	Tick                uint64  `json:"tick"`
	LambdaError         string  `json:"lambda_error,omitempty"`
}

// Core wires the five components together around one Controller.
type Core struct {
	cfg        Config
	scorer     ResilienceScorer
	controller *Controller
	logger     *slog.Logger
}

// NewCore validates cfg and creates a core with a fresh controller.
func NewCore(cfg Config, logger *slog.Logger) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	scorer, err := NewResilienceScorer(cfg.LmaxMs)
	if err != nil {
		return nil, err
	}
	ctrl, err := NewController(cfg.PID, logger.With("component", "controller"))
	if err != nil {
		return nil, err
	}

	return &Core{
		cfg:        cfg,
		scorer:     scorer,
		controller: ctrl,
		logger:     logger,
	}, nil
}

// Config returns the configuration the core was built with.
func (c *Core) Config() Config { return c.cfg }

// Controller returns the core's controller.
func (c *Core) Controller() *Controller { return c.controller }

// DecideMode implements the decide_mode contract: Θ must be finite and ≥ 0.
func (c *Core) DecideMode(theta float64) (Mode, error) {
	if err := ValidateTheta(theta); err != nil {
		return Steady, err
	}
	return c.cfg.Mode.Decide(theta)
}

// LambdaTime implements the lambda_time contract.
// seriesTerms > 0 opts into the truncated Unwrap series when the convergent
// Unwrap formula is out of regime.
func (c *Core) LambdaTime(mode Mode, t1, k, p, u float64, seriesTerms int) (LambdaResult, error) {
	res, err := c.cfg.TimeWrap.Evaluate(mode, t1, k, p, u)
	if err == nil || seriesTerms <= 0 || mode != Unwrap || ErrorKind(err) != KindInvalidRegime {
		return res, err
	}
	return c.cfg.TimeWrap.UnwrapSeries(t1, k, p, u, seriesTerms)
}

// Tune implements the tune contract against the core's controller. A nil
// mode reuses the controller's last mode. dt == 0 selects Loop.TuneDT; a
// negative dt reaches the controller and is rejected there.
func (c *Core) Tune(latencyP99, lmax float64, mode *Mode, dt float64) (TickResult, error) {
	if dt == 0 {
		dt = c.cfg.Loop.TuneDT
	}
	if mode == nil {
		return c.controller.TickLastMode(latencyP99, lmax, dt)
	}
	return c.controller.Tick(TickInput{
		LatencyP99: latencyP99,
		Lmax:       lmax,
		DT:         dt,
		Mode:       *mode,
	})
}

// Scores returns Θ and U for a snapshot using the configured weights.
func (c *Core) Scores(t TelemetrySnapshot) (theta, utility float64, err error) {
	theta, err = c.scorer.Score(t, c.cfg.ResilienceWeights)
	if err != nil {
		return 0, 0, fmt.Errorf("resilience: %w", err)
	}
	utility, err = Utility(t, c.cfg.UtilityWeights)
	if err != nil {
		return 0, 0, fmt.Errorf("utility: %w", err)
	}
	return theta, utility, nil
}

// Decide runs telemetry → Θ, U → mode → Λ. It does not touch the controller.
func (c *Core) Decide(t TelemetrySnapshot, tw TimeWrapInput) (Decision, error) {
	theta, utility, err := c.Scores(t)
	if err != nil {
		return Decision{}, err
	}
	mode, err := c.cfg.Mode.Decide(theta)
	if err != nil {
		return Decision{}, fmt.Errorf("mode: %w", err)
	}
	lambda, err := c.cfg.TimeWrap.Evaluate(mode, tw.T1, tw.K, tw.P, utility)
	if err != nil {
		return Decision{}, fmt.Errorf("lambda_time in %s: %w", mode, err)
	}
	return Decision{Theta: theta, Utility: utility, Mode: mode, Lambda: lambda}, nil
}

// Step scores the snapshot, decides the mode and ticks the controller on
// the snapshot's p99. Scoring and tick failures leave the controller
// untouched and return a zero signal.
//
// Λ does not feed the controller, so a Λ failure (out of regime, U ≤ 1 in
// the domain sense) does not stop the tick: the committed signal is returned
// together with the Λ error, with Lambda and Path left empty. Ticked reports
// which case applies.
func (c *Core) Step(t TelemetrySnapshot, tw TimeWrapInput, dt float64) (ChangeSignal, error) {
	theta, utility, err := c.Scores(t)
	if err != nil {
		return ChangeSignal{}, err
	}
	mode, err := c.cfg.Mode.Decide(theta)
	if err != nil {
		return ChangeSignal{}, fmt.Errorf("mode: %w", err)
	}
	lambda, lambdaErr := c.cfg.TimeWrap.Evaluate(mode, tw.T1, tw.K, tw.P, utility)

	res, err := c.controller.Tick(TickInput{
		LatencyP99: t.LatencyP99,
		Lmax:       c.cfg.LmaxMs,
		DT:         dt,
		Mode:       mode,
	})
	if err != nil {
		return ChangeSignal{}, fmt.Errorf("control tick: %w", err)
	}

	sig := ChangeSignal{
		Mode:                mode,
		ThrottleDelta:       res.ThrottleDelta,
		CheckpointRequested: res.CheckpointRequested,
		Theta:               theta,
		Utility:             utility,
		Tick:                res.Tick,
	}
	if lambdaErr != nil {
		lambdaErr = fmt.Errorf("lambda_time in %s: %w", mode, lambdaErr)
		sig.LambdaError = lambdaErr.Error()
		c.logger.Debug("step ticked without lambda", "mode", mode, "error", lambdaErr)
		return sig, lambdaErr
	}
	sig.Lambda = lambda.Value
	sig.Path = lambda.Path
	return sig, nil
}

// Ticked reports whether the signal came from a committed controller tick.
func (s ChangeSignal) Ticked() bool { return s.Tick > 0 }
