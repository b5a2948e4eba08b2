package worker

import (
	"fmt"
	"io"
	"time"

	"github.com/weiihann/schedlat/calibrate"
	"github.com/weiihann/schedlat/clock"
)

// Sample is one progress observation. Samples of one worker are produced in
// strictly increasing time order.
type Sample struct {
	WorkerID        uint32 `json:"worker_id"`
	ElapsedMs       uint64 `json:"elapsed_ms"`
	ProgressPercent uint8  `json:"progress_percent"`
}

// String formats the sample as a tab-separated record line without the
// trailing newline.
func (s Sample) String() string {
	return fmt.Sprintf("%d\t%d\t%d", s.WorkerID, s.ElapsedMs, s.ProgressPercent)
}

// Run executes the sampling loop. Nothing inside the loop blocks: it only
// burns CPU and reads the clock. Records are built after the last sample is
// timed.
func Run(clk clock.Clock, t Task) ([]Sample, error) {
	n := t.Schedule.SampleCount
	stamps := make([]clock.Instant, n)

	for i := uint32(0); i < n; i++ {
		calibrate.Burn(t.Schedule.IterationsPerSample)

		now, err := clk.Now()
		if err != nil {
			return nil, fmt.Errorf("worker %d sample %d: %w", t.ID, i, err)
		}

		stamps[i] = now
	}

	samples := make([]Sample, n)
	for i, ts := range stamps {
		samples[i] = Sample{
			WorkerID:        t.ID,
			ElapsedMs:       uint64(ts.Sub(t.Start) / time.Millisecond),
			ProgressPercent: uint8((uint64(i) + 1) * 100 / uint64(n)),
		}
	}

	return samples, nil
}

// pipeBuf is the largest write POSIX guarantees to be atomic on a pipe.
const pipeBuf = 4096

// Write emits one line per sample. Each write holds whole records only and
// stays within pipeBuf, so lines from workers sharing one stdout never tear.
func Write(w io.Writer, samples []Sample) error {
	buf := make([]byte, 0, pipeBuf)

	for _, s := range samples {
		line := s.String() + "\n"

		if len(buf)+len(line) > pipeBuf {
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("write samples: %w", err)
			}

			buf = buf[:0]
		}

		buf = append(buf, line...)
	}

	if len(buf) > 0 {
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write samples: %w", err)
		}
	}

	return nil
}

// Exec is the whole life of a worker process after creation: apply the OS
// tuning, sample, then write the series to out.
func Exec(clk clock.Clock, t Task, out io.Writer) error {
	if err := prepare(t); err != nil {
		return fmt.Errorf("worker %d setup: %w", t.ID, err)
	}

	samples, err := Run(clk, t)
	if err != nil {
		return err
	}

	return Write(out, samples)
}
