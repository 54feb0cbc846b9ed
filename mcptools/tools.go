// Package mcptools exposes the homeostat core contracts as MCP tools.
//
// Each tool follows the same shape:
// - A struct holding the *homeostat.Core, injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() validates arguments, calls the core, and returns JSON text
//
// Core errors are returned as tool errors whose text is {"error": kind, "detail": ...}.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/alexshd/homeostat"
)

// NewServer creates an MCP server with decide_mode, lambda_time and tune registered.
func NewServer(core *homeostat.Core, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"homeostat",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	Register(s, core)
	return s
}

// Register adds the core tools to s.
func Register(s *server.MCPServer, core *homeostat.Core) {
	decide := NewDecideModeTool(core)
	s.AddTool(decide.Definition(), decide.Handle)

	lambda := NewLambdaTimeTool(core)
	s.AddTool(lambda.Definition(), lambda.Handle)

	tune := NewTuneTool(core)
	s.AddTool(tune.Definition(), tune.Handle)
}

// ─── DecideModeTool ─────────────────────────────────────────────────────────

// DecideModeTool handles the decide_mode MCP tool.
type DecideModeTool struct {
	core *homeostat.Core
}

// NewDecideModeTool creates a DecideModeTool.
func NewDecideModeTool(core *homeostat.Core) *DecideModeTool {
	return &DecideModeTool{core: core}
}

// Definition returns the MCP tool definition for decide_mode.
func (t *DecideModeTool) Definition() mcp.Tool {
	return mcp.NewTool("decide_mode",
		mcp.WithDescription(
			"Map a resilience score Θ to an operating mode. "+
				"Θ ≥ 0.80 → Wrap (1), 0.55 ≤ Θ < 0.80 → Steady (0), Θ < 0.55 → Unwrap (-1).",
		),
		mcp.WithNumber("theta",
			mcp.Required(),
			mcp.Description("Resilience score Θ, finite and ≥ 0"),
		),
	)
}

// Handle processes the decide_mode tool call.
func (t *DecideModeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	theta, err := floatArg(req, "theta")
	if err != nil {
		return errorResult(err), nil
	}
	mode, err := t.core.DecideMode(theta)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"state":     mode,
		"mode_name": mode.DisplayName(),
	})
}

// ─── LambdaTimeTool ─────────────────────────────────────────────────────────

// LambdaTimeTool handles the lambda_time MCP tool.
type LambdaTimeTool struct {
	core *homeostat.Core
}

// NewLambdaTimeTool creates a LambdaTimeTool.
func NewLambdaTimeTool(core *homeostat.Core) *LambdaTimeTool {
	return &LambdaTimeTool{core: core}
}

// Definition returns the MCP tool definition for lambda_time.
func (t *LambdaTimeTool) Definition() mcp.Tool {
	return mcp.NewTool("lambda_time",
		mcp.WithDescription(
			"Compute the Λ-time for a mode. Wrap requires k·P > 1, Unwrap requires |k·P| < 1; "+
				"out-of-regime inputs return InvalidRegime. T1 and U must be > 0.",
		),
		mcp.WithNumber("mode",
			mcp.Required(),
			mcp.Description("Mode: 1 (Wrap), 0 (Steady), -1 (Unwrap)"),
		),
		mcp.WithNumber("T1",
			mcp.Required(),
			mcp.Description("Baseline cost, > 0"),
		),
		mcp.WithNumber("k",
			mcp.Required(),
			mcp.Description("Per-iteration efficiency"),
		),
		mcp.WithNumber("P",
			mcp.Required(),
			mcp.Description("Effective parallelism"),
		),
		mcp.WithNumber("U",
			mcp.Required(),
			mcp.Description("Utility, > 0"),
		),
		mcp.WithNumber("series_terms",
			mcp.Description("Opt into the truncated Unwrap series with this many terms when |k·P| ≥ 1"),
		),
	)
}

// Handle processes the lambda_time tool call.
func (t *LambdaTimeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, err := modeArg(req, "mode")
	if err != nil {
		return errorResult(err), nil
	}
	var vals [4]float64
	for i, key := range []string{"T1", "k", "P", "U"} {
		if vals[i], err = floatArg(req, key); err != nil {
			return errorResult(err), nil
		}
	}
	terms := 0
	if _, ok := req.GetArguments()["series_terms"]; ok {
		n, err := intArg(req, "series_terms")
		if err != nil {
			return errorResult(err), nil
		}
		terms = n
	}

	res, err := t.core.LambdaTime(mode, vals[0], vals[1], vals[2], vals[3], terms)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"value":      res.Value,
		"state":      res.Mode,
		"mode_name":  res.ModeName,
		"formula":    res.Formula,
		"convergent": res.Convergent,
		"path":       res.Path,
	})
}

// ─── TuneTool ───────────────────────────────────────────────────────────────

// TuneTool handles the tune MCP tool. It is stateful: every successful call
// advances the core's controller.
type TuneTool struct {
	core *homeostat.Core
}

// NewTuneTool creates a TuneTool.
func NewTuneTool(core *homeostat.Core) *TuneTool {
	return &TuneTool{core: core}
}

// Definition returns the MCP tool definition for tune.
func (t *TuneTool) Definition() mcp.Tool {
	return mcp.NewTool("tune",
		mcp.WithDescription(
			"Advance the PID homeostasis controller by one tick and return the throttle adjustment. "+
				"Stateful: identical calls return different results as the integral accumulates.",
		),
		mcp.WithNumber("lat_p99",
			mcp.Required(),
			mcp.Description("Measured p99 latency in ms, ≥ 0"),
		),
		mcp.WithNumber("Lmax",
			mcp.Required(),
			mcp.Description("Latency target in ms, > 0"),
		),
		mcp.WithNumber("mode",
			mcp.Description("Current mode (1, 0, -1); defaults to the controller's last mode"),
		),
		mcp.WithNumber("dt",
			mcp.Description("Seconds since the previous tick; defaults to the configured tune dt"),
		),
	)
}

// Handle processes the tune tool call.
func (t *TuneTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lat, err := floatArg(req, "lat_p99")
	if err != nil {
		return errorResult(err), nil
	}
	lmax, err := floatArg(req, "Lmax")
	if err != nil {
		return errorResult(err), nil
	}

	args := req.GetArguments()
	var mode *homeostat.Mode
	if _, ok := args["mode"]; ok {
		m, err := modeArg(req, "mode")
		if err != nil {
			return errorResult(err), nil
		}
		mode = &m
	}
	var dt float64
	if _, ok := args["dt"]; ok {
		if dt, err = floatArg(req, "dt"); err != nil {
			return errorResult(err), nil
		}
	}

	res, err := t.core.Tune(lat, lmax, mode, dt)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

// ─── helpers ────────────────────────────────────────────────────────────────

// floatArg extracts a required number. JSON numbers arrive as float64.
func floatArg(req mcp.CallToolRequest, key string) (float64, error) {
	raw, ok := req.GetArguments()[key]
	if !ok {
		return 0, fmt.Errorf("%w: '%s' is required", homeostat.ErrInvalidTelemetry, key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: '%s' must be a number, got %T", homeostat.ErrInvalidTelemetry, key, raw)
	}
}

func intArg(req mcp.CallToolRequest, key string) (int, error) {
	v, err := floatArg(req, key)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: '%s' must be an integer, got %v", homeostat.ErrInvalidTelemetry, key, v)
	}
	return int(v), nil
}

func modeArg(req mcp.CallToolRequest, key string) (homeostat.Mode, error) {
	v, err := intArg(req, key)
	if err != nil {
		return homeostat.Steady, err
	}
	return homeostat.ParseMode(v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	kind := homeostat.ErrorKind(err)
	if kind == "" {
		kind = "Internal"
	}
	data, _ := json.Marshal(map[string]string{"error": kind, "detail": err.Error()})
	return mcp.NewToolResultError(string(data))
}
