package calibrate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/schedlat/clock"
)

// scriptedClock replays a fixed list of readings.
type scriptedClock struct {
	readings []clock.Instant
	errAt    int
	calls    int
}

func (c *scriptedClock) Now() (clock.Instant, error) {
	defer func() { c.calls++ }()

	if c.errAt > 0 && c.calls+1 == c.errAt {
		return 0, &clock.ClockError{Err: errors.New("no clock")}
	}

	return c.readings[c.calls], nil
}

func TestBurnAccumulates(t *testing.T) {
	tests := []struct {
		n    uint64
		want uint64
	}{
		{0, 0},
		{1, 1},
		{10, 50},
	}

	for _, tt := range tests {
		got := Burn(tt.n)
		if got != tt.want {
			t.Errorf("Burn(%d) = %d, want %d", tt.n, got, tt.want)
		}
		if sink != tt.want {
			t.Errorf("sink after Burn(%d) = %d, want %d", tt.n, sink, tt.want)
		}
	}
}

func TestEstimateFormula(t *testing.T) {
	clk := &scriptedClock{readings: []clock.Instant{5_000_000, 7_000_000}}
	cal := &Calibrator{Clock: clk, Loops: 1_000_000}

	res, err := cal.Estimate()
	require.NoError(t, err)

	// 10^6 loops in 2ms.
	assert.Equal(t, uint64(500_000), res.IterationsPerMs)
	assert.Equal(t, 2*time.Millisecond, res.Elapsed)
	assert.Equal(t, Burn(1_000_000), res.Checksum)
}

func TestEstimateClockFailure(t *testing.T) {
	for _, errAt := range []int{1, 2} {
		clk := &scriptedClock{
			readings: []clock.Instant{0, 1_000_000},
			errAt:    errAt,
		}
		cal := &Calibrator{Clock: clk, Loops: 10}

		_, err := cal.Estimate()

		var ce *clock.ClockError
		require.ErrorAs(t, err, &ce, "clock failure on read %d", errAt)
	}
}

func TestEstimateNoElapsed(t *testing.T) {
	clk := &scriptedClock{readings: []clock.Instant{42, 42}}
	cal := &Calibrator{Clock: clk, Loops: 10}

	_, err := cal.Estimate()
	assert.ErrorIs(t, err, ErrNoElapsed)
}

func TestEstimateRepeatable(t *testing.T) {
	if testing.Short() {
		t.Skip("physical measurement")
	}

	cal := &Calibrator{Clock: clock.Monotonic{}, Loops: 50_000_000}

	var lo, hi uint64
	for i := 0; i < 3; i++ {
		res, err := cal.Estimate()
		require.NoError(t, err)
		require.NotZero(t, res.IterationsPerMs)

		if lo == 0 || res.IterationsPerMs < lo {
			lo = res.IterationsPerMs
		}
		if res.IterationsPerMs > hi {
			hi = res.IterationsPerMs
		}
	}

	// Shared CI hosts are noisy; a factor of three still catches a loop
	// that was optimized away.
	assert.LessOrEqual(t, hi, 3*lo, "estimates spread too far: lo=%d hi=%d", lo, hi)
}
