//go:build !linux

package worker

import (
	"errors"
	"runtime"

	"github.com/weiihann/schedlat/plan"
)

func prepare(t Task) error {
	runtime.LockOSThread()

	if t.Nice != 0 || t.CPU != plan.NoCPU {
		return errors.New("priority and affinity tuning is only supported on linux")
	}

	return nil
}
