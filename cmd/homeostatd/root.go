package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/alexshd/homeostat"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	configPath string
	logLevel   string
	lmaxMs     float64
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "homeostatd",
	Short: "Homeostatic control core: mode decisions, Λ-time and PID throttling.",
	Long: `homeostatd scores system telemetry, decides Wrap/Steady/Unwrap, ` +
		`computes Λ-time per mode, and runs a PID controller over p99 latency. ` +
		`It serves the core over HTTP JSON or as MCP tools.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// A missing .env is normal; anything else is worth knowing about.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "homeostatd: .env: %v\n", err)
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", os.Getenv("HOMEOSTAT_CONFIG"), "YAML config file (env HOMEOSTAT_CONFIG)")
	pf.StringVar(&logLevel, "log-level", envOr("HOMEOSTAT_LOG_LEVEL", "info"), "debug, info, warn or error (env HOMEOSTAT_LOG_LEVEL)")
	pf.Float64Var(&lmaxMs, "lmax", 0, "latency budget in ms, overrides lmax_ms (env HOMEOSTAT_LMAX_MS)")

	rootCmd.AddCommand(serveCmd, mcpCmd, benchCmd, checkCmd)
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "homeostatd: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// newLogger builds the tint terminal handler on stderr. stdout stays clean for
// the MCP stdio transport.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("%w: log level %q", homeostat.ErrConfig, logLevel)
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	}))
	slog.SetDefault(logger)
	return logger, nil
}

// loadConfig resolves the effective configuration: defaults, then the YAML
// file, then HOMEOSTAT_* overrides, then flags.
func loadConfig(cmd *cobra.Command) (homeostat.Config, error) {
	cfg := homeostat.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = homeostat.LoadConfig(configPath); err != nil {
			return homeostat.Config{}, err
		}
	}

	if v := os.Getenv("HOMEOSTAT_LMAX_MS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return homeostat.Config{}, fmt.Errorf("%w: HOMEOSTAT_LMAX_MS=%q", homeostat.ErrConfig, v)
		}
		cfg.LmaxMs = f
	}
	if v := os.Getenv("HOMEOSTAT_LOOP_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return homeostat.Config{}, fmt.Errorf("%w: HOMEOSTAT_LOOP_PERIOD=%q", homeostat.ErrConfig, v)
		}
		cfg.Loop.Period = d
	}
	if cmd.Flags().Changed("lmax") {
		cfg.LmaxMs = lmaxMs
	}

	if err := cfg.Validate(); err != nil {
		return homeostat.Config{}, err
	}
	return cfg, nil
}

func parseLevels(s string) ([]int, error) {
	var levels []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: concurrency level %q", homeostat.ErrConfig, part)
		}
		levels = append(levels, n)
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w: no concurrency levels in %q", homeostat.ErrConfig, s)
	}
	return levels, nil
}
