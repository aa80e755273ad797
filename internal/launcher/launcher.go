// Package launcher spawns the helper process and yields a handle carrying a
// running-state query, termination requests, and a one-shot exit
// notification. Readiness is not its concern; that belongs to the health
// monitor.
package launcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ErrExecutableNotFound indicates the resolved helper executable does not
// exist or is not executable.
var ErrExecutableNotFound = errors.New("helper executable not found")

// ExitStatus is delivered exactly once on Handle.Done when the process
// exits. Code is -1 when the process was terminated by a signal.
type ExitStatus struct {
	Code int
	Err  error
}

// Handle owns a spawned helper process. It is created by Launch and owned
// exclusively by the supervisor for the lifetime of the run.
type Handle struct {
	cmd  *exec.Cmd
	done chan ExitStatus

	mu     sync.Mutex
	exited bool
	status ExitStatus
	outW   io.WriteCloser
	errW   io.WriteCloser
}

// Launch resolves the helper command, spawns it in its own process group
// with captured stdio, and starts the reaper goroutine that delivers the
// exit notification. It does not wait for readiness.
func Launch(spec Spec) (*Handle, error) {
	cmd := spec.BuildCommand()
	if cmd.Err != nil {
		if errors.Is(cmd.Err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutableNotFound, spec.Command)
		}
		return nil, cmd.Err
	}
	if spec.WorkDir != "" {
		if fi, err := os.Stat(spec.WorkDir); err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("spawn failed: work_dir %s: %w", spec.WorkDir, errDirFor(err))
		}
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group so termination signals reach helper children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &Handle{cmd: cmd, done: make(chan ExitStatus, 1)}
	h.configureStdio(spec)

	if err := cmd.Start(); err != nil {
		h.closeWriters()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrExecutableNotFound, spec.Command)
		}
		return nil, fmt.Errorf("spawn failed: %w", err)
	}

	go h.wait()
	return h, nil
}

func errDirFor(err error) error {
	if err != nil {
		return err
	}
	return errors.New("not a directory")
}

// configureStdio wires stdout/stderr into rotated log files so the helper
// never blocks on a full pipe buffer. With no log config both streams go to
// /dev/null.
func (h *Handle) configureStdio(spec Spec) {
	if spec.Log.Dir != "" || spec.Log.StdoutPath != "" || spec.Log.StderrPath != "" {
		if spec.Log.Dir != "" {
			_ = os.MkdirAll(spec.Log.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.Writers(spec.Name)
		h.outW, h.errW = outW, errW
		if outW != nil {
			h.cmd.Stdout = outW
		} else {
			h.cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
		if errW != nil {
			h.cmd.Stderr = errW
		} else {
			h.cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
		return
	}
	null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	h.cmd.Stdout = null
	h.cmd.Stderr = null
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	st := ExitStatus{Code: h.cmd.ProcessState.ExitCode(), Err: err}

	h.mu.Lock()
	h.exited = true
	h.status = st
	h.mu.Unlock()

	h.closeWriters()
	h.done <- st
	close(h.done)
}

func (h *Handle) closeWriters() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outW != nil {
		_ = h.outW.Close()
		h.outW = nil
	}
	if h.errW != nil {
		_ = h.errW.Close()
		h.errW = nil
	}
}

// PID returns the spawned process id.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Running reports whether the process has not yet been reaped.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited
}

// Status returns the exit status recorded so far; meaningful only after the
// Done notification fired.
func (h *Handle) Status() ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done delivers the exit notification exactly once, then the channel is
// closed.
func (h *Handle) Done() <-chan ExitStatus { return h.done }

// Signal sends sig to the whole process group.
func (h *Handle) Signal(sig syscall.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-h.cmd.Process.Pid, sig)
}

// Kill force-kills the process group.
func (h *Handle) Kill() error { return h.Signal(syscall.SIGKILL) }

// Terminate requests a graceful exit, waits up to grace, then escalates to
// SIGKILL. It always returns the final exit status; a process that was
// already dead returns immediately.
func (h *Handle) Terminate(grace time.Duration) ExitStatus {
	if !h.Running() {
		return h.Status()
	}
	_ = h.Signal(syscall.SIGTERM)
	select {
	case <-h.done:
		return h.Status()
	case <-time.After(grace):
	}
	_ = h.Kill()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		// wait goroutine should reap promptly after SIGKILL; report what we have
	}
	return h.Status()
}
