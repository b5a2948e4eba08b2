// Package calibrate estimates how many busy-loop iterations the host runs
// per millisecond of CPU time.
package calibrate

import (
	"errors"
	"fmt"
	"time"

	"github.com/weiihann/schedlat/clock"
)

// DefaultLoops is large enough that clock resolution does not dominate the
// estimate.
const DefaultLoops uint64 = 1_000_000_000

const nsecsPerMsec = uint64(time.Millisecond)

// ErrNoElapsed is returned when the calibration loop finished within a
// single clock tick.
var ErrNoElapsed = errors.New("calibration loop took no measurable time")

// sink receives every Burn accumulator so the loop always has a store that
// outlives the call.
var sink uint64

// Burn runs n trivial iterations and returns an accumulator folded from
// each of them. The result is also published to a package variable, so the
// loop cannot be removed even when the caller discards it.
func Burn(n uint64) uint64 {
	var acc uint64
	for i := uint64(0); i < n; i++ {
		acc += i | 1
	}

	sink = acc

	return acc
}

// Result is the outcome of one calibration.
type Result struct {
	IterationsPerMs uint64        `json:"iterations_per_ms"`
	Loops           uint64        `json:"loops"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	Checksum        uint64        `json:"checksum"`
}

// Calibrator times a fixed-size Burn against a monotonic clock.
type Calibrator struct {
	Clock clock.Clock
	Loops uint64
}

// New creates a Calibrator using DefaultLoops.
func New(clk clock.Clock) *Calibrator {
	return &Calibrator{Clock: clk, Loops: DefaultLoops}
}

// Estimate runs the calibration loop once and returns iterations per
// millisecond. Clock failures are returned as *clock.ClockError.
func (c *Calibrator) Estimate() (Result, error) {
	loops := c.Loops
	if loops == 0 {
		loops = DefaultLoops
	}

	before, err := c.Clock.Now()
	if err != nil {
		return Result{}, fmt.Errorf("read clock before calibration: %w", err)
	}

	checksum := Burn(loops)

	after, err := c.Clock.Now()
	if err != nil {
		return Result{}, fmt.Errorf("read clock after calibration: %w", err)
	}

	elapsed := after.Sub(before)
	if elapsed <= 0 {
		return Result{}, ErrNoElapsed
	}

	perMs := loops * nsecsPerMsec / uint64(elapsed)
	if perMs == 0 {
		perMs = 1
	}

	return Result{
		IterationsPerMs: perMs,
		Loops:           loops,
		Elapsed:         elapsed,
		Checksum:        checksum,
	}, nil
}
