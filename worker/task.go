// Package worker implements the body of a sampling process: burn a
// calibrated amount of CPU, timestamp, repeat, then emit the series.
package worker

import (
	"fmt"
	"strconv"

	"github.com/spf13/pflag"
	"github.com/weiihann/schedlat/clock"
	"github.com/weiihann/schedlat/plan"
)

// Task is everything a worker process inherits from the coordinator. It is
// passed by value on the worker's command line at creation time and never
// changes afterwards.
type Task struct {
	ID       uint32
	Schedule plan.Schedule
	Start    clock.Instant
	Nice     int
	CPU      int
}

// Args encodes the task as worker command-line flags.
func (t Task) Args() []string {
	return []string{
		"--id=" + strconv.FormatUint(uint64(t.ID), 10),
		"--samples=" + strconv.FormatUint(uint64(t.Schedule.SampleCount), 10),
		"--iterations=" + strconv.FormatUint(t.Schedule.IterationsPerSample, 10),
		"--resolution=" + strconv.FormatUint(uint64(t.Schedule.ResolutionMs), 10),
		"--start=" + strconv.FormatInt(int64(t.Start), 10),
		"--nice=" + strconv.Itoa(t.Nice),
		"--cpu=" + strconv.Itoa(t.CPU),
	}
}

// ParseTask decodes flags produced by Task.Args.
func ParseTask(args []string) (Task, error) {
	var (
		t     Task
		start int64
	)

	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	fs.Uint32Var(&t.ID, "id", 0, "worker id")
	fs.Uint32Var(&t.Schedule.SampleCount, "samples", 0, "samples to record")
	fs.Uint64Var(&t.Schedule.IterationsPerSample, "iterations", 0, "busy-loop iterations per sample")
	fs.Uint32Var(&t.Schedule.ResolutionMs, "resolution", 0, "sampling resolution in ms")
	fs.Int64Var(&start, "start", 0, "shared start instant (CLOCK_MONOTONIC ns)")
	fs.IntVar(&t.Nice, "nice", 0, "niceness delta")
	fs.IntVar(&t.CPU, "cpu", plan.NoCPU, "CPU to pin to")

	if err := fs.Parse(args); err != nil {
		return Task{}, fmt.Errorf("parse worker flags: %w", err)
	}

	if fs.NArg() > 0 {
		return Task{}, fmt.Errorf("unexpected worker arguments %q", fs.Args())
	}

	if !fs.Changed("start") {
		return Task{}, fmt.Errorf("worker needs --start")
	}

	t.Start = clock.Instant(start)

	return t, nil
}
