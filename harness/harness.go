package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/weiihann/schedlat/worker"
)

// WorkerCommand is the hidden subcommand that turns a schedlat binary into
// a worker process.
const WorkerCommand = "worker"

// ResolveBinary returns the path of the running executable, which is
// re-executed for every worker.
func ResolveBinary() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve own executable: %w", err)
	}

	return path, nil
}

// Runner launches worker processes from one binary.
type Runner struct {
	BinaryPath string
	ExtraArgs  []string
	Env        []string
	Stdout     io.Writer
	Stderr     io.Writer
	Logger     *slog.Logger
}

// NewRunner creates a Runner. extraArgs are placed before the worker
// subcommand; env is appended to the inherited environment. Worker output
// goes to the coordinator's own stdout and stderr.
func NewRunner(
	binaryPath string,
	extraArgs, env []string,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		BinaryPath: binaryPath,
		ExtraArgs:  extraArgs,
		Env:        env,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Logger:     logger,
	}
}

// Spawn starts one worker process for task. It returns as soon as the
// process exists; the worker runs independently of the caller.
func (r *Runner) Spawn(task worker.Task) (*Process, error) {
	taskArgs := task.Args()

	args := make([]string, 0, len(r.ExtraArgs)+1+len(taskArgs))
	args = append(args, r.ExtraArgs...)
	args = append(args, WorkerCommand)
	args = append(args, taskArgs...)

	cmd := exec.Command(r.BinaryPath, args...)

	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	if err := cmd.Start(); err != nil {
		return nil, &ProcessCreationError{WorkerID: task.ID, Err: err}
	}

	r.Logger.Debug("worker spawned",
		slog.Uint64("worker_id", uint64(task.ID)),
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("nice", task.Nice),
	)

	return &Process{id: task.ID, cmd: cmd}, nil
}

// Process is the coordinator's handle on one running worker.
type Process struct {
	id  uint32
	cmd *exec.Cmd
}

// WorkerID returns the id the worker was spawned with.
func (p *Process) WorkerID() uint32 {
	return p.id
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Signal delivers sig to the worker.
func (p *Process) Signal(sig os.Signal) error {
	if err := p.cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("signal worker %d (pid %d): %w", p.id, p.PID(), err)
	}

	return nil
}

// Wait blocks until the worker terminates. A worker that exits non-zero or
// dies from a signal is reported through Exit, not as an error; the error
// is reserved for failures of the wait itself.
func (p *Process) Wait() (Exit, error) {
	err := p.cmd.Wait()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return Exit{WorkerID: p.id, PID: p.PID()}, fmt.Errorf(
			"wait worker %d (pid %d): %w", p.id, p.PID(), err,
		)
	}

	return exitFromState(p.id, p.cmd.ProcessState), nil
}

func exitFromState(id uint32, state *os.ProcessState) Exit {
	exit := Exit{
		WorkerID:   id,
		PID:        state.Pid(),
		Code:       state.ExitCode(),
		UserTime:   state.UserTime(),
		SystemTime: state.SystemTime(),
	}

	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		exit.Signal = ws.Signal().String()
	}

	return exit
}
