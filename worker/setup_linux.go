//go:build linux

package worker

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/weiihann/schedlat/plan"
)

// prepare pins the sampling loop to the calling OS thread and applies the
// task's niceness and affinity to that thread. On Linux both setpriority(2)
// with who=0 and sched_setaffinity(2) with pid=0 act on the calling thread.
func prepare(t Task) error {
	runtime.LockOSThread()
	runtime.GOMAXPROCS(1)

	if t.CPU != plan.NoCPU {
		var set unix.CPUSet
		set.Set(t.CPU)

		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return fmt.Errorf("pin to CPU %d: %w", t.CPU, err)
		}
	}

	if t.Nice != 0 {
		// The raw getpriority syscall returns 20-nice.
		raw, err := unix.Getpriority(unix.PRIO_PROCESS, 0)
		if err != nil {
			return fmt.Errorf("getpriority: %w", err)
		}

		target := clampNice(20 - raw + t.Nice)
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, target); err != nil {
			return fmt.Errorf("setpriority(%d): %w", target, err)
		}
	}

	return nil
}

func clampNice(n int) int {
	switch {
	case n < plan.MinNice:
		return plan.MinNice
	case n > plan.MaxNice:
		return plan.MaxNice
	default:
		return n
	}
}
