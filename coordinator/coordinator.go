// Package coordinator drives one profiling run: calibrate, spawn the worker
// cohort against a shared start instant, and collect every worker's
// termination status.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/weiihann/schedlat/calibrate"
	"github.com/weiihann/schedlat/clock"
	"github.com/weiihann/schedlat/harness"
	"github.com/weiihann/schedlat/plan"
	"github.com/weiihann/schedlat/worker"
)

// Calibrator estimates busy-loop speed.
type Calibrator interface {
	Estimate() (calibrate.Result, error)
}

// Handle is the coordinator's view of a spawned worker.
type Handle interface {
	WorkerID() uint32
	PID() int
	Wait() (harness.Exit, error)
	Signal(sig os.Signal) error
}

// Spawner creates worker processes.
type Spawner interface {
	Spawn(task worker.Task) (Handle, error)
}

type runnerSpawner struct {
	runner *harness.Runner
}

// FromRunner adapts a harness.Runner to Spawner.
func FromRunner(r *harness.Runner) Spawner {
	return runnerSpawner{runner: r}
}

func (s runnerSpawner) Spawn(task worker.Task) (Handle, error) {
	proc, err := s.runner.Spawn(task)
	if err != nil {
		return nil, err
	}

	return proc, nil
}

// Config is the input of one run.
type Config struct {
	Run    plan.RunConfig
	Tuning plan.Tuning
}

// WaitError reports a failure of the wait itself for one worker.
type WaitError struct {
	WorkerID uint32
	PID      int
	Err      error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("wait for worker %d (pid %d): %v", e.WorkerID, e.PID, e.Err)
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// TerminationError reports a worker that did not exit cleanly.
type TerminationError struct {
	Exit harness.Exit
}

func (e *TerminationError) Error() string {
	return e.Exit.String()
}

// Coordinator owns the worker handles of a run.
type Coordinator struct {
	Clock      clock.Clock
	Calibrator Calibrator
	Spawner    Spawner
	Logger     *slog.Logger

	// AbortSignal is sent to live workers on the abort path. Defaults to
	// SIGINT.
	AbortSignal os.Signal

	// OnPhase, when set, observes every phase transition.
	OnPhase func(Phase)

	phase Phase
}

// New creates a Coordinator.
func New(
	clk clock.Clock,
	cal Calibrator,
	spawner Spawner,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		Clock:       clk,
		Calibrator:  cal,
		Spawner:     spawner,
		Logger:      logger,
		AbortSignal: syscall.SIGINT,
	}
}

// Phase returns the current lifecycle phase.
func (c *Coordinator) Phase() Phase {
	return c.phase
}

func (c *Coordinator) enter(p Phase) {
	c.phase = p
	c.Logger.Debug("phase", slog.String("phase", p.String()))

	if c.OnPhase != nil {
		c.OnPhase(p)
	}
}

// Run performs one profiling run. The returned error is fatal and means no
// worker was started: invalid configuration or a failed calibration or
// clock read. Problems with individual workers are collected in the
// Outcome instead.
//
// Cancelling ctx while workers exist sends AbortSignal to each of them;
// Run still waits for all of them before returning.
func (c *Coordinator) Run(ctx context.Context, cfg Config) (*Outcome, error) {
	c.enter(Validating)

	if err := cfg.Run.Validate(); err != nil {
		c.enter(Done)
		return nil, err
	}

	if w := cfg.Run.RemainderWarning(); w != "" {
		c.Logger.Warn(w, slog.Uint64("dropped_ms", uint64(cfg.Run.Remainder())))
	}

	c.enter(Calibrating)

	cal, err := c.Calibrator.Estimate()
	if err != nil {
		c.enter(Done)
		return nil, fmt.Errorf("calibrate: %w", err)
	}

	schedule := plan.NewSchedule(cfg.Run, cal)

	c.Logger.Info("calibrated",
		slog.String("iterations_per_ms", humanize.Comma(int64(cal.IterationsPerMs))),
		slog.Duration("elapsed", cal.Elapsed),
		slog.Uint64("samples", uint64(schedule.SampleCount)),
		slog.Uint64("iterations_per_sample", schedule.IterationsPerSample),
	)

	start, err := c.Clock.Now()
	if err != nil {
		c.enter(Done)
		return nil, fmt.Errorf("capture start instant: %w", err)
	}

	out := &Outcome{Calibration: cal, Schedule: schedule}

	c.enter(Spawning)

	handles := c.SpawnAll(ctx, cfg, schedule, start, out)

	c.enter(Waiting)

	c.WaitAll(ctx, handles, out)

	c.enter(Done)

	c.Logger.Info("run complete",
		slog.Int("spawned", len(handles)),
		slog.Int("spawn_failures", len(out.SpawnFailures)),
		slog.Int("wait_failures", len(out.WaitErrors)),
		slog.Bool("aborted", out.Aborted),
		slog.Int("exit_code", out.ExitCode()),
	)

	return out, nil
}

// SpawnAll attempts every worker id in order. A failed creation is logged
// and recorded and the remaining ids are still attempted, so a partial
// cohort may run. If ctx is cancelled while spawning, no further worker is
// created and the ones already running are aborted.
func (c *Coordinator) SpawnAll(
	ctx context.Context,
	cfg Config,
	schedule plan.Schedule,
	start clock.Instant,
	out *Outcome,
) []Handle {
	handles := make([]Handle, 0, cfg.Run.ProcessCount)

	for id := uint32(0); id < cfg.Run.ProcessCount; id++ {
		if ctx.Err() != nil {
			c.Logger.Warn("spawning interrupted",
				slog.Uint64("next_worker_id", uint64(id)),
				slog.String("error", ctx.Err().Error()),
			)

			out.Aborted = true
			out.AbortErrors = c.AbortAll(handles)

			break
		}

		task := worker.Task{
			ID:       id,
			Schedule: schedule,
			Start:    start,
			Nice:     cfg.Tuning.Priorities.For(id),
			CPU:      cfg.Tuning.CPU,
		}

		h, err := c.Spawner.Spawn(task)
		if err != nil {
			var pce *harness.ProcessCreationError
			if !errors.As(err, &pce) {
				err = &harness.ProcessCreationError{WorkerID: id, Err: err}
			}

			c.Logger.Error("worker not created",
				slog.Uint64("worker_id", uint64(id)),
				slog.String("error", err.Error()),
			)

			out.SpawnFailures = append(out.SpawnFailures, err)

			continue
		}

		handles = append(handles, h)
	}

	return handles
}

type waitResult struct {
	handle Handle
	exit   harness.Exit
	err    error
}

// WaitAll blocks until every handle has terminated, collecting results in
// the order workers finish. Each failure is logged on its own and never
// stops the remaining waits. Cancelling ctx aborts the workers still alive
// and keeps waiting.
func (c *Coordinator) WaitAll(ctx context.Context, handles []Handle, out *Outcome) {
	results := make(chan waitResult, len(handles))

	live := make(map[uint32]Handle, len(handles))
	for _, h := range handles {
		live[h.WorkerID()] = h

		go func(h Handle) {
			exit, err := h.Wait()
			results <- waitResult{handle: h, exit: exit, err: err}
		}(h)
	}

	done := ctx.Done()

	for len(live) > 0 {
		select {
		case <-done:
			done = nil

			if out.Aborted {
				continue
			}

			remaining := make([]Handle, 0, len(live))
			for _, h := range live {
				remaining = append(remaining, h)
			}

			out.Aborted = true
			out.AbortErrors = append(out.AbortErrors, c.AbortAll(remaining)...)

		case r := <-results:
			delete(live, r.handle.WorkerID())
			c.record(r, out)
		}
	}
}

func (c *Coordinator) record(r waitResult, out *Outcome) {
	logger := c.Logger.With(
		slog.Uint64("worker_id", uint64(r.handle.WorkerID())),
		slog.Int("pid", r.handle.PID()),
	)

	if r.err != nil {
		werr := &WaitError{WorkerID: r.handle.WorkerID(), PID: r.handle.PID(), Err: r.err}
		logger.Error("wait failed", slog.String("error", werr.Error()))
		out.WaitErrors = append(out.WaitErrors, werr)

		return
	}

	out.Exits = append(out.Exits, r.exit)

	if !r.exit.Success() {
		logger.Error("worker terminated abnormally",
			slog.Int("code", r.exit.Code),
			slog.String("signal", r.exit.Signal),
		)

		return
	}

	logger.Debug("worker finished",
		slog.Duration("user_time", r.exit.UserTime),
		slog.Duration("system_time", r.exit.SystemTime),
	)
}

// AbortAll sends AbortSignal to every handle. It is only used on the
// failure path; the normal path is WaitAll alone. Delivery failures are
// logged and returned, and do not stop the remaining deliveries.
func (c *Coordinator) AbortAll(handles []Handle) []error {
	sig := c.AbortSignal
	if sig == nil {
		sig = syscall.SIGINT
	}

	var errs []error

	for _, h := range handles {
		if err := h.Signal(sig); err != nil {
			c.Logger.Warn("abort signal not delivered",
				slog.Uint64("worker_id", uint64(h.WorkerID())),
				slog.Int("pid", h.PID()),
				slog.String("error", err.Error()),
			)

			errs = append(errs, err)

			continue
		}

		c.Logger.Info("worker aborted",
			slog.Uint64("worker_id", uint64(h.WorkerID())),
			slog.Int("pid", h.PID()),
			slog.String("signal", sig.String()),
		)
	}

	return errs
}
