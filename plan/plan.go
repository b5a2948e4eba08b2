// Package plan validates run parameters and derives the per-worker sampling
// schedule from a calibration.
package plan

import (
	"fmt"
	"strconv"

	"github.com/weiihann/schedlat/calibrate"
)

// Usage is the positional argument synopsis shared by the run commands.
const Usage = "<nproc> <total[ms]> <resolution[ms]>"

var argNames = [3]string{"nproc", "total", "resol"}

// ConfigError reports an unusable command-line parameter.
type ConfigError struct {
	Name   string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Name == "" {
		return e.Reason
	}

	return fmt.Sprintf("<%s>(%s) %s", e.Name, e.Value, e.Reason)
}

// RunConfig holds validated run parameters. It is never modified after
// Parse returns it.
type RunConfig struct {
	ProcessCount       uint32 `json:"process_count"`
	TotalDurationMs    uint32 `json:"total_duration_ms"`
	SampleResolutionMs uint32 `json:"sample_resolution_ms"`
}

// Parse validates the three positional parameters: process count, total
// duration in milliseconds and sampling resolution in milliseconds.
func Parse(args []string) (RunConfig, error) {
	if len(args) != len(argNames) {
		return RunConfig{}, &ConfigError{
			Reason: fmt.Sprintf("expected %d arguments %s, got %d",
				len(argNames), Usage, len(args)),
		}
	}

	var vals [3]uint32

	for i, arg := range args {
		v, err := parsePositive(argNames[i], arg)
		if err != nil {
			return RunConfig{}, err
		}

		vals[i] = v
	}

	cfg := RunConfig{
		ProcessCount:       vals[0],
		TotalDurationMs:    vals[1],
		SampleResolutionMs: vals[2],
	}

	return cfg, cfg.Validate()
}

func parsePositive(name, arg string) (uint32, error) {
	v, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, &ConfigError{Name: name, Value: arg, Reason: "should be number"}
	}

	if v < 1 {
		return 0, &ConfigError{Name: name, Value: arg, Reason: "should be >= 1"}
	}

	return uint32(v), nil
}

// Validate checks the lower bounds. A total that is not a multiple of the
// resolution is allowed; see Remainder.
func (c RunConfig) Validate() error {
	checks := []struct {
		name string
		val  uint32
	}{
		{argNames[0], c.ProcessCount},
		{argNames[1], c.TotalDurationMs},
		{argNames[2], c.SampleResolutionMs},
	}

	for _, chk := range checks {
		if chk.val < 1 {
			return &ConfigError{
				Name:   chk.name,
				Value:  strconv.FormatUint(uint64(chk.val), 10),
				Reason: "should be >= 1",
			}
		}
	}

	return nil
}

// Remainder is the part of the total duration dropped by integer division.
// Non-zero means the last partial interval is not sampled.
func (c RunConfig) Remainder() uint32 {
	return c.TotalDurationMs % c.SampleResolutionMs
}

// RemainderWarning describes a non-zero Remainder, or returns "".
func (c RunConfig) RemainderWarning() string {
	if c.Remainder() == 0 {
		return ""
	}

	return fmt.Sprintf("<total>(%d) should be multiple of <resolution>(%d)",
		c.TotalDurationMs, c.SampleResolutionMs)
}

// Schedule is the read-only sampling plan every worker follows.
type Schedule struct {
	SampleCount         uint32 `json:"sample_count"`
	IterationsPerSample uint64 `json:"iterations_per_sample"`
	ResolutionMs        uint32 `json:"resolution_ms"`
}

// NewSchedule derives the schedule by integer arithmetic.
func NewSchedule(cfg RunConfig, cal calibrate.Result) Schedule {
	return Schedule{
		SampleCount:         cfg.TotalDurationMs / cfg.SampleResolutionMs,
		IterationsPerSample: cal.IterationsPerMs * uint64(cfg.SampleResolutionMs),
		ResolutionMs:        cfg.SampleResolutionMs,
	}
}
