// Package clock reads the host's monotonic clock.
//
// Instants are nanoseconds on CLOCK_MONOTONIC, which is shared by every process
// on the host. An Instant taken in one process can therefore be handed to a
// child process and compared against readings taken there.
package clock

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Instant is a monotonic clock reading in nanoseconds.
type Instant int64

// Sub returns the duration elapsed from start to i.
func (i Instant) Sub(start Instant) time.Duration {
	return time.Duration(i - start)
}

// Clock is a source of monotonic instants.
type Clock interface {
	Now() (Instant, error)
}

// ClockError reports a failed clock read. No timing after it is meaningful.
type ClockError struct {
	Err error
}

func (e *ClockError) Error() string {
	return fmt.Sprintf("clock_gettime(CLOCK_MONOTONIC) failed: %v", e.Err)
}

func (e *ClockError) Unwrap() error {
	return e.Err
}

// Monotonic reads CLOCK_MONOTONIC through clock_gettime(2).
type Monotonic struct{}

// Now returns the current monotonic instant.
func (Monotonic) Now() (Instant, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, &ClockError{Err: err}
	}

	return Instant(ts.Nano()), nil
}
