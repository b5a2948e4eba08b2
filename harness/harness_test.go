package harness_test

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/schedlat/clock"
	"github.com/weiihann/schedlat/harness"
	"github.com/weiihann/schedlat/plan"
	"github.com/weiihann/schedlat/testutil"
	"github.com/weiihann/schedlat/worker"
)

func TestMain(m *testing.M) {
	testutil.MaybeRunHelper()
	os.Exit(m.Run())
}

func smallTask(t *testing.T, id uint32) worker.Task {
	t.Helper()

	start, err := clock.Monotonic{}.Now()
	require.NoError(t, err)

	return worker.Task{
		ID:       id,
		Schedule: plan.Schedule{SampleCount: 4, IterationsPerSample: 1000, ResolutionMs: 1},
		Start:    start,
		CPU:      plan.NoCPU,
	}
}

func TestSpawnWorkerEmitsRecords(t *testing.T) {
	runner := testutil.NewRunner(testutil.ModeWorker, testutil.DiscardLogger())

	var stdout, stderr bytes.Buffer
	runner.Stdout = &stdout
	runner.Stderr = &stderr

	proc, err := runner.Spawn(smallTask(t, 5))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), proc.WorkerID())
	assert.Positive(t, proc.PID())

	exit, err := proc.Wait()
	require.NoError(t, err)
	require.True(t, exit.Success(), "%s; stderr: %s", exit, stderr.String())
	assert.Equal(t, proc.PID(), exit.PID)

	var percents []string
	sc := bufio.NewScanner(&stdout)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		require.Len(t, fields, 3)
		assert.Equal(t, "5", fields[0])
		_, err := strconv.ParseUint(fields[1], 10, 64)
		assert.NoError(t, err)
		percents = append(percents, fields[2])
	}
	assert.Equal(t, []string{"25", "50", "75", "100"}, percents)
}

func TestWaitReportsExitCode(t *testing.T) {
	runner := testutil.NewRunner(testutil.ModeFail, testutil.DiscardLogger())

	proc, err := runner.Spawn(smallTask(t, 1))
	require.NoError(t, err)

	exit, err := proc.Wait()
	require.NoError(t, err, "abnormal exits are not wait errors")
	assert.False(t, exit.Success())
	assert.Equal(t, testutil.FailCode, exit.Code)
	assert.Contains(t, exit.String(), "exited with status 3")
}

func TestSignalTerminatesWorker(t *testing.T) {
	runner := testutil.NewRunner(testutil.ModeHang, testutil.DiscardLogger())

	proc, err := runner.Spawn(smallTask(t, 2))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, proc.Signal(syscall.SIGINT))

	exit, err := proc.Wait()
	require.NoError(t, err)
	assert.False(t, exit.Success())

	// A finished process can no longer be signalled.
	assert.Error(t, proc.Signal(syscall.SIGINT))
}

func TestSpawnMissingBinary(t *testing.T) {
	runner := harness.NewRunner("/nonexistent/schedlat", nil, nil, testutil.DiscardLogger())

	proc, err := runner.Spawn(worker.Task{ID: 9, CPU: plan.NoCPU})
	assert.Nil(t, proc)

	var pce *harness.ProcessCreationError
	require.True(t, errors.As(err, &pce))
	assert.Equal(t, uint32(9), pce.WorkerID)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolveBinary(t *testing.T) {
	path, err := harness.ResolveBinary()
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestExitString(t *testing.T) {
	sig := harness.Exit{WorkerID: 1, PID: 10, Code: -1, Signal: "interrupt"}
	assert.False(t, sig.Success())
	assert.Equal(t, "worker 1 (pid 10) killed by interrupt", sig.String())

	ok := harness.Exit{WorkerID: 0, PID: 11}
	assert.True(t, ok.Success())
}
