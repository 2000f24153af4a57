// Package proc starts and supervises agent subprocesses. Children run
// as leaders of their own process group so tool-spawned grandchildren
// die with them; termination escalates SIGINT, SIGTERM, SIGKILL with a
// grace period between steps. The package knows nothing about log
// content: stdout and stderr are surfaced as plain byte streams.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultStopGrace is the wait between termination escalation steps.
const DefaultStopGrace = 2 * time.Second

// ErrStreamTaken is returned when a stdout/stderr stream is requested
// twice; each stream has exactly one owner.
var ErrStreamTaken = errors.New("proc: stream already taken")

// SpawnError reports that the OS refused to start a process. Fatal to
// the requesting step, never retried.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Spec describes one process to start.
type Spec struct {
	Program   string
	Args      []string
	Dir       string
	Env       map[string]string // overrides merged onto the sanitized environment
	Stdin     []byte            // written to the child's stdin, if any
	StopGrace time.Duration     // per-step escalation wait; 0 means DefaultStopGrace
}

// ExitStatus is the outcome of a finished process.
type ExitStatus struct {
	Code   int  // -1 when killed by signal
	Killed bool // terminated by signal rather than clean exit
}

// Success reports a zero exit code.
func (s ExitStatus) Success() bool { return !s.Killed && s.Code == 0 }

// Handle supervises one started process.
type Handle struct {
	cmd       *exec.Cmd
	stopGrace time.Duration

	stdout      *os.File
	stderr      *os.File
	stdoutTaken atomic.Bool
	stderrTaken atomic.Bool

	done   chan struct{}
	mu     sync.Mutex
	status ExitStatus
}

// Start launches the process described by spec. The child is placed in
// its own process group where the platform supports it. Stdout and
// stderr are parent-owned pipe ends that reach EOF when the process
// group stops writing.
func Start(ctx context.Context, spec Spec) (*Handle, error) {
	cmd := exec.CommandContext(ctx, spec.Program, spec.Args...)
	setupProcessGroup(cmd)
	cmd.Dir = spec.Dir
	cmd.Env = MergeEnv(SanitizedEnv(), spec.Env)
	if len(spec.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	// Plain os.Pipe ends instead of exec pipes: Wait then never races
	// with readers still draining output after exit.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, &SpawnError{Program: spec.Program, Err: err}
	}
	// Parent must drop the write ends so readers see EOF on exit.
	stdoutW.Close()
	stderrW.Close()

	grace := spec.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}

	h := &Handle{
		cmd:       cmd,
		stopGrace: grace,
		stdout:    stdoutR,
		stderr:    stderrR,
		done:      make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

// reap waits for process exit and records the status exactly once.
func (h *Handle) reap() {
	err := h.cmd.Wait()
	status := ExitStatus{Code: 0}
	if err != nil {
		status.Code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Code = exitErr.ExitCode()
			status.Killed = exitErr.ExitCode() == -1
		}
	}
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
	close(h.done)
}

// PID returns the child's process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Stdout takes ownership of the stdout stream. Retrievable at most once.
func (h *Handle) Stdout() (io.ReadCloser, error) {
	if !h.stdoutTaken.CompareAndSwap(false, true) {
		return nil, ErrStreamTaken
	}
	return h.stdout, nil
}

// Stderr takes ownership of the stderr stream. Retrievable at most once.
func (h *Handle) Stderr() (io.ReadCloser, error) {
	if !h.stderrTaken.CompareAndSwap(false, true) {
		return nil, ErrStreamTaken
	}
	return h.stderr, nil
}

// TryWait polls for exit without blocking.
func (h *Handle) TryWait() (ExitStatus, bool) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.status, true
	default:
		return ExitStatus{}, false
	}
}

// Wait blocks until the process exits or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Kill force-terminates the direct child. Used as the backstop after
// group signalling has been exhausted.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", h.cmd.Process.Pid, err)
	}
	return nil
}

// waitFor waits up to d for exit, cancellable by ctx. Reports whether
// the process exited.
func (h *Handle) waitFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
