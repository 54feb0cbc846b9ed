package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexshd/homeostat"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure the decision path at several concurrency levels.",
	Long: `bench runs telemetry → Θ, U → mode → Λ against a fixed healthy ` +
		`snapshot at each concurrency level and reports throughput and latency ` +
		`percentiles along with the mode and path mix. The controller is not ticked.`,
	RunE: runBench,
}

func init() {
	f := benchCmd.Flags()
	f.Duration("duration", 2*time.Second, "measurement time per level")
	f.Duration("warmup", 200*time.Millisecond, "warmup time per level")
	f.String("levels", "1,2,4,8", "comma-separated concurrency levels")
	f.Int("procs", 0, "GOMAXPROCS during the run (0 = runtime default)")
}

func runBench(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	core, err := homeostat.NewCore(cfg, logger)
	if err != nil {
		return err
	}

	bc := homeostat.DefaultBenchConfig()
	bc.Duration, _ = cmd.Flags().GetDuration("duration")
	bc.Warmup, _ = cmd.Flags().GetDuration("warmup")
	bc.MaxProcs, _ = cmd.Flags().GetInt("procs")
	levels, _ := cmd.Flags().GetString("levels")
	if bc.Levels, err = parseLevels(levels); err != nil {
		return err
	}

	snap := homeostat.TelemetrySnapshot{
		Throughput: 100, EnergyEfficiency: 50, Latency: 20, Risk: 10, Cost: 40,
		LatencyP99: 100, MTBF: 99, MTTR: 1, SecurityScore: 0.9, DriftStability: 0.8,
	}
	tw := homeostat.TimeWrapInput{T1: 10, K: 1, P: 1}
	fn := func(context.Context) (homeostat.Decision, error) {
		return core.Decide(snap, tw)
	}

	reports, err := homeostat.Bench(cmd.Context(), fn, bc)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "N\tdecisions\t/sec\tmean\tp50\tp95\tp99\tmodes\tfast\tfailed")
	for _, r := range reports {
		s := r.Statistics()
		fmt.Fprintf(w, "%d\t%d\t%.0f\t%v\t%v\t%v\t%v\t%s\t%.0f%%\t%d\n",
			r.Workers, r.Decisions, r.PerSecond, s.Mean, s.P50, s.P95, s.P99,
			modeCounts(r.Modes), 100*r.FastShare(), r.Failed())
	}
	return w.Flush()
}

func modeCounts(m map[homeostat.Mode]int64) string {
	return fmt.Sprintf("U:%d S:%d W:%d", m[homeostat.Unwrap], m[homeostat.Steady], m[homeostat.Wrap])
}
