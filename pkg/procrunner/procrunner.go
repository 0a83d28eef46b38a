// Package procrunner launches scan backends as isolated external processes
// and exposes their state through non-blocking polls.
//
// Each Handle owns exactly one process. Output pipes are drained by
// background readers into bounded line buffers so Poll never blocks and a
// chatty backend cannot grow memory without bound. Termination signals the
// whole process group: backends spawn browser children that must not
// outlive the scan.
package procrunner

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/a11yscan/a11yscan/pkg/defaults"
)

// ErrLaunch wraps failures to start a backend process (missing executable,
// permission denied, bad working directory). Distinguishable from a process
// that started and then failed — callers must not record a job for it.
var ErrLaunch = errors.New("procrunner: launch failed")

// Spec describes the process to launch.
type Spec struct {
	// Path is the executable to run.
	Path string

	// Args are the arguments, excluding the executable name.
	Args []string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// Env appends to the inherited environment. Optional.
	Env []string
}

// Snapshot is the result of one non-blocking poll.
type Snapshot struct {
	// Running reports whether the process is still alive.
	Running bool

	// ExitCode is valid only when Running is false.
	ExitCode int

	// Stdout and Stderr hold lines that arrived since the previous poll.
	Stdout []string
	Stderr []string
}

// Handle owns a live external process. One Handle per process; the Handle
// is transferred to the job record at creation and never shared.
type Handle struct {
	cmd *exec.Cmd

	stdout *LineBuffer
	stderr *LineBuffer

	readers sync.WaitGroup

	mu       sync.Mutex
	done     chan struct{}
	exitCode int

	termOnce sync.Once
}

// Start launches the process described by spec with piped output and its
// own process group. Launch failures wrap ErrLaunch.
func Start(spec Spec) (*Handle, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group so Terminate can signal browser children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrLaunch, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrLaunch, err)
	}

	h := &Handle{
		cmd:    cmd,
		stdout: NewLineBuffer(defaults.MaxCapturedLines),
		stderr: NewLineBuffer(defaults.MaxCapturedLines),
		done:   make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	h.readers.Add(2)
	go h.readLines(stdoutPipe, h.stdout)
	go h.readLines(stderrPipe, h.stderr)

	go h.reap()

	return h, nil
}

// readLines drains one pipe into a bounded buffer until EOF.
func (h *Handle) readLines(r interface{ Read([]byte) (int, error) }, buf *LineBuffer) {
	defer h.readers.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		buf.Append(scanner.Text())
	}
}

// reap waits for the readers to hit EOF, then collects the exit status.
// Wait must not race the pipe readers, so ordering matters here.
func (h *Handle) reap() {
	h.readers.Wait()
	err := h.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			// Wait failed for a non-exit reason (signal delivery,
			// I/O). Treat as failure with a generic non-zero code.
			code = -1
		}
	}

	h.mu.Lock()
	h.exitCode = code
	close(h.done)
	h.mu.Unlock()
}

// Poll returns the process state and any output that accumulated since the
// last call. Never blocks: if nothing new arrived the snapshot is empty.
func (h *Handle) Poll() Snapshot {
	snap := Snapshot{
		Stdout: h.stdout.Drain(),
		Stderr: h.stderr.Drain(),
	}
	select {
	case <-h.done:
		h.mu.Lock()
		snap.ExitCode = h.exitCode
		h.mu.Unlock()
	default:
		snap.Running = true
	}
	return snap
}

// PID returns the process ID, or 0 if unavailable.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Terminate sends a graceful stop to the process group, waits up to grace,
// then force-kills. Safe to call multiple times and after process exit.
func (h *Handle) Terminate(grace time.Duration) {
	h.termOnce.Do(func() {
		select {
		case <-h.done:
			return // already exited
		default:
		}
		pid := h.PID()
		if pid <= 0 {
			return
		}
		// Negative PID targets the whole group.
		_ = syscall.Kill(-pid, syscall.SIGTERM)

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-h.done:
		case <-timer.C:
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			<-h.done
		}
	})
}

// Cleanup removes generated input artifacts. Idempotent: an already-removed
// path is a no-op, not an error, because cleanup can be triggered from an
// explicit poll and again from the shutdown sweep.
func Cleanup(paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("procrunner: cleanup %s: %w", p, err)
			}
		}
	}
	return firstErr
}
