// Package testutil lets a test binary stand in for the schedlat binary when
// tests need real worker processes.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/weiihann/schedlat/clock"
	"github.com/weiihann/schedlat/harness"
	"github.com/weiihann/schedlat/worker"
)

const helperEnv = "SCHEDLAT_TEST_HELPER"

// Helper modes.
const (
	ModeWorker = "worker"
	ModeFail   = "fail"
	ModeHang   = "hang"
)

// FailCode is the exit status of a ModeFail helper.
const FailCode = 3

// MaybeRunHelper turns the current test binary into a worker process when
// the environment asks for it, and never returns in that case. Call it
// first thing in TestMain.
func MaybeRunHelper() {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}

	switch mode {
	case ModeWorker:
		os.Exit(runWorker(os.Args[1:]))
	case ModeFail:
		os.Exit(FailCode)
	case ModeHang:
		time.Sleep(time.Minute)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", mode)
		os.Exit(2)
	}
}

func runWorker(args []string) int {
	for i, arg := range args {
		if arg != harness.WorkerCommand {
			continue
		}

		task, err := worker.ParseTask(args[i+1:])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}

		if err := worker.Exec(clock.Monotonic{}, task, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}

		return 0
	}

	fmt.Fprintln(os.Stderr, "helper: no worker subcommand")

	return 2
}

// NewRunner returns a harness.Runner that re-executes the test binary in
// the given helper mode.
func NewRunner(mode string, logger *slog.Logger) *harness.Runner {
	return harness.NewRunner(os.Args[0], nil, []string{helperEnv + "=" + mode}, logger)
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
