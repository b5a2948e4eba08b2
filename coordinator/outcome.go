package coordinator

import (
	"errors"

	"github.com/weiihann/schedlat/calibrate"
	"github.com/weiihann/schedlat/harness"
	"github.com/weiihann/schedlat/plan"
)

// Outcome collects everything observed during a run.
type Outcome struct {
	Calibration calibrate.Result `json:"calibration"`
	Schedule    plan.Schedule    `json:"schedule"`

	// Exits holds one entry per waited worker, in termination order.
	Exits []harness.Exit `json:"exits"`

	SpawnFailures []error `json:"-"`
	WaitErrors    []error `json:"-"`
	AbortErrors   []error `json:"-"`
	Aborted       bool    `json:"aborted"`
}

// Err joins every per-worker problem of the run, or returns nil for a
// clean run.
func (o *Outcome) Err() error {
	errs := make([]error, 0, len(o.SpawnFailures)+len(o.WaitErrors))
	errs = append(errs, o.SpawnFailures...)
	errs = append(errs, o.WaitErrors...)

	for _, exit := range o.Exits {
		if !exit.Success() {
			errs = append(errs, &TerminationError{Exit: exit})
		}
	}

	if o.Aborted {
		errs = append(errs, errAborted)
	}

	return errors.Join(errs...)
}

var errAborted = errors.New("run aborted")

// ExitCode is 0 when every worker was created, waited on and exited
// cleanly, and 1 otherwise.
func (o *Outcome) ExitCode() int {
	if o.Err() != nil {
		return 1
	}

	return 0
}
