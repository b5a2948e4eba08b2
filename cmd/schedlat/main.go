// Package main provides the CLI entry point for schedlat, a CPU scheduling
// latency profiler.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/weiihann/schedlat/calibrate"
	"github.com/weiihann/schedlat/clock"
	"github.com/weiihann/schedlat/coordinator"
	"github.com/weiihann/schedlat/harness"
	"github.com/weiihann/schedlat/plan"
	"github.com/weiihann/schedlat/report"
	"github.com/weiihann/schedlat/worker"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	root := newRootCmd(logger, level)
	if err := root.Execute(); err != nil {
		logger.Error("schedlat failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "schedlat",
		Short: "CPU scheduling latency profiler",
		Long: `Schedlat spawns CPU-bound worker processes, lets the OS scheduler
interleave them for a fixed wall-clock duration, and records how much progress
each worker made at a fixed sampling resolution.

Records are written to stdout as tab-separated lines:
  <worker_id> <elapsed_ms> <progress_percent>`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				level.Set(slog.LevelDebug)
			}
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	root.AddCommand(
		newRunCmd(logger),
		newNiceCmd(logger),
		newCalibrateCmd(logger),
		newReportCmd(),
		newWorkerCmd(),
	)

	return root
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		priorities plan.Priorities
		cpu        int
		loops      uint64
	)

	cmd := &cobra.Command{
		Use:   "run " + plan.Usage,
		Short: "Profile scheduling of <nproc> CPU-bound workers",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := plan.Parse(args)
			if err != nil {
				return usageError(cmd, err)
			}

			return runProfile(cmd.Context(), logger, coordinator.Config{
				Run:    cfg,
				Tuning: plan.Tuning{Priorities: priorities, CPU: cpu},
			}, loops)
		},
	}

	flags := cmd.Flags()
	flags.Var(&priorities, "nice",
		"Niceness delta per worker as id=delta (repeatable)")
	flags.IntVar(&cpu, "cpu", plan.NoCPU,
		"Pin every worker to this CPU (-1 = no pinning)")
	flags.Uint64Var(&loops, "calibration-loops", calibrate.DefaultLoops,
		"Busy-loop iterations timed during calibration")

	return cmd
}

func newNiceCmd(logger *slog.Logger) *cobra.Command {
	var (
		cpu   int
		loops uint64
	)

	cmd := &cobra.Command{
		Use:   "nice [nproc] <total[ms]> <resolution[ms]>",
		Short: "Profile a cohort where worker 0 runs with niceness +5",
		Long: `Run the profiler with a priority-adjusted cohort. Without <nproc> the
cohort has two workers. Worker 0 lowers its priority by 5 before sampling.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nproc, tuning := plan.NiceCohort()
			tuning.CPU = cpu

			if len(args) == 2 {
				args = append([]string{fmt.Sprint(nproc)}, args...)
			}

			cfg, err := plan.Parse(args)
			if err != nil {
				return usageError(cmd, err)
			}

			return runProfile(cmd.Context(), logger, coordinator.Config{
				Run:    cfg,
				Tuning: tuning,
			}, loops)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cpu, "cpu", plan.NoCPU,
		"Pin every worker to this CPU (-1 = no pinning)")
	flags.Uint64Var(&loops, "calibration-loops", calibrate.DefaultLoops,
		"Busy-loop iterations timed during calibration")

	return cmd
}

func usageError(cmd *cobra.Command, err error) error {
	var ce *plan.ConfigError
	if errors.As(err, &ce) {
		fmt.Fprintln(cmd.ErrOrStderr(), "usage:", cmd.UseLine())
	}

	return err
}

func runProfile(
	ctx context.Context,
	logger *slog.Logger,
	cfg coordinator.Config,
	loops uint64,
) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	binPath, err := harness.ResolveBinary()
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting profile",
		slog.Uint64("nproc", uint64(cfg.Run.ProcessCount)),
		slog.Uint64("total_ms", uint64(cfg.Run.TotalDurationMs)),
		slog.Uint64("resolution_ms", uint64(cfg.Run.SampleResolutionMs)),
		slog.String("nice", cfg.Tuning.Priorities.String()),
		slog.Int("cpu", cfg.Tuning.CPU),
	)

	clk := clock.Monotonic{}
	runner := harness.NewRunner(binPath, nil, nil, logger)

	coord := coordinator.New(
		clk,
		&calibrate.Calibrator{Clock: clk, Loops: loops},
		coordinator.FromRunner(runner),
		logger,
	)

	out, err := coord.Run(ctx, cfg)
	if err != nil {
		return err
	}

	if out.ExitCode() != 0 {
		return fmt.Errorf("profile finished with failures: %w", out.Err())
	}

	return nil
}

func newCalibrateCmd(logger *slog.Logger) *cobra.Command {
	var loops uint64

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Print how many busy-loop iterations take one millisecond",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cal := &calibrate.Calibrator{Clock: clock.Monotonic{}, Loops: loops}

			res, err := cal.Estimate()
			if err != nil {
				return fmt.Errorf("calibrate: %w", err)
			}

			logger.DebugContext(cmd.Context(), "calibrated",
				slog.Duration("elapsed", res.Elapsed),
				slog.Uint64("checksum", res.Checksum),
			)

			fmt.Fprintln(cmd.OutOrStdout(), res.IterationsPerMs)

			return nil
		},
	}

	cmd.Flags().Uint64Var(&loops, "loops", calibrate.DefaultLoops,
		"Busy-loop iterations to time")

	return cmd
}

func newReportCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "report [records-file]",
		Short: "Summarize sample records per worker",
		Long: `Read records produced by run or nice (from a file, or stdin when no file
is given) and print a per-worker summary with a fairness index.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()

			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open records: %w", err)
				}
				defer f.Close()

				in = f
			}

			samples, err := report.Parse(in)
			if err != nil {
				return fmt.Errorf("parse records: %w", err)
			}

			rep := report.Summarize(samples)

			if outputJSON {
				return report.GenerateJSON(cmd.OutOrStdout(), rep)
			}

			return report.Generate(cmd.OutOrStdout(), rep)
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false,
		"Output the summary as JSON instead of a table")

	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:                harness.WorkerCommand,
		Short:              "Run one sampling worker (internal)",
		Hidden:             true,
		DisableFlagParsing: true,
		Run: func(_ *cobra.Command, args []string) {
			runWorker(args)
		},
	}
}

// runWorker is the whole worker process. It never returns.
func runWorker(args []string) {
	task, err := worker.ParseTask(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := worker.Exec(clock.Monotonic{}, task, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	os.Exit(0)
}
