// Package harness creates worker processes and collects their termination
// status.
package harness

import (
	"fmt"
	"time"
)

// Exit describes how one worker process terminated.
type Exit struct {
	WorkerID   uint32        `json:"worker_id"`
	PID        int           `json:"pid"`
	Code       int           `json:"code"`
	Signal     string        `json:"signal,omitempty"`
	UserTime   time.Duration `json:"user_time_ns"`
	SystemTime time.Duration `json:"system_time_ns"`
}

// Success reports a normal exit with status 0.
func (e Exit) Success() bool {
	return e.Signal == "" && e.Code == 0
}

func (e Exit) String() string {
	if e.Signal != "" {
		return fmt.Sprintf("worker %d (pid %d) killed by %s", e.WorkerID, e.PID, e.Signal)
	}

	return fmt.Sprintf("worker %d (pid %d) exited with status %d", e.WorkerID, e.PID, e.Code)
}

// ProcessCreationError reports that a worker process could not be created.
type ProcessCreationError struct {
	WorkerID uint32
	Err      error
}

func (e *ProcessCreationError) Error() string {
	return fmt.Sprintf("create worker %d: %v", e.WorkerID, e.Err)
}

func (e *ProcessCreationError) Unwrap() error {
	return e.Err
}
