// Package homeostat provides the homeostatic control core for latency-bound services.
//
// # Overview
//
// homeostat turns raw telemetry into three decisions:
//
//   - an operating mode (Wrap, Steady, Unwrap) chosen from the resilience score Θ
//   - a temporal-compression factor Λ that routes work onto a fast or slow path
//   - a throttle adjustment from a PID loop that keeps p99 latency under Lmax
//
// Everything around the core (persistence, policy, planning, dashboards) is a
// collaborator. It supplies telemetry and consumes the decisions.
//
// # Architecture
//
// The package components, leaves first:
//
//   - resilience.go - Θ scorer (latency headroom, MTBF/MTTR, security, drift)
//   - utility.go    - U evaluator (throughput, energy, latency, risk, cost)
//   - mode.go       - Mode decider over Θ
//   - timewrap.go   - Λ-time formulas and fast/slow path routing
//   - controller.go - PID controller with integral state and checkpoint advice
//   - pipeline.go   - telemetry → ChangeSignal composition
//   - latency.go    - sliding latency window feeding the control loop
//   - tail.go       - tail shape of the window (p99/p50 ratio, Pareto α)
//   - config.go     - YAML configuration with defaults and validation
//   - benchmark.go  - concurrent harness for the decision path
//   - assertions.go - test helpers for callers embedding the controller
//
// Subpackages:
//
//   - checkpoint          - SQLite snapshots of controller state
//   - server              - HTTP surface (gorilla/mux) over the core
//   - mcptools            - the three contracts as MCP tools
//   - cmd/homeostatd      - cobra daemon: serve, mcp, bench, check
//
// Only the Controller carries state. Everything else is a pure function and is
// safe to call from many goroutines.
//
// # Quick Start
//
// Decide a mode and compute Λ:
//
//	cfg := homeostat.DefaultConfig()
//	core, err := homeostat.NewCore(cfg, slog.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	decision, err := core.Decide(snapshot, homeostat.TimeWrapInput{T1: 10, K: 2, P: 1.2})
//	if err != nil {
//	    // errors.Is(err, homeostat.ErrInvalidRegime) etc.
//	    return err
//	}
//
//	fmt.Printf("mode=%s Λ=%.3f path=%s\n", decision.Mode, decision.Lambda.Value, decision.Lambda.Path)
//
// # Modes
//
// The decider uses half-open bands over Θ:
//
//	Θ ≥ θ_high          → Wrap   (+1)
//	θ_low ≤ Θ < θ_high  → Steady (0)
//	Θ < θ_low           → Unwrap (-1)
//
// Defaults are θ_low = 0.55 and θ_high = 0.80. The same thresholds are used on
// entry and exit; there is no band widening.
//
// # Λ-time
//
// With kP = k·P:
//
//	Wrap:   Λ = T₁·ln(U) / (1 − 1/kP)   valid when kP > 1 + ε
//	Steady: Λ = T₁·ln(U)                always valid
//	Unwrap: Λ = T₁·ln(U) / (1 − kP)     valid when |kP| < 1 − ε
//
// A formula is never evaluated outside its validity condition. The denominator
// magnitude is checked against ε before dividing.
//
// # The Control Loop
//
//	error      = latencyP99 − Lmax
//	integral   = clamp(integral + error·dt, IntegralMin, IntegralMax)
//	derivative = (error − previousError) / dt
//	throttle   = clamp(Kp·error + Ki·integral + Kd·derivative, ThrottleMin, ThrottleMax)
//
// A failed tick leaves the controller state bit-identical. That includes a dt
// so small the derivative overflows: non-finite outputs are rejected.
//
//	ctrl, err := homeostat.NewController(cfg.PID, logger)
//	if err != nil {
//	    return err
//	}
//	res, err := ctrl.Tick(homeostat.TickInput{LatencyP99: 240, Lmax: 200, DT: 0.1, Mode: homeostat.Steady})
//
// Core.Step ticks on the decided mode even when Λ is out of regime and
// returns the Λ error next to the committed signal.
//
// # Errors
//
// All failures wrap one of ErrInvalidTelemetry, ErrConfig, ErrInvalidRegime or
// ErrDomain. ErrorKind maps them to the names used on the wire.
package homeostat
