// Package procctl wraps the raw process-lifecycle operations the Kernel uses
// on its children (workers and the Interrupt Controller): spawn, stop,
// continue, terminate, kill, and non-blocking reap. There is no third-party
// process-supervision library in this module's dependency corpus; this is
// the one package built directly on syscall/os, documented in DESIGN.md.
package procctl

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Spawn execs name with args, appending extraArg as the final argument (the
// shared-table path every component self-attaches with). It returns the
// started child process. The child inherits stdout/stderr so its own event trace
// interleaves with the parent's.
func Spawn(name string, args []string, extraArg string) (*os.Process, error) {
	fullArgs := append(append([]string{}, args...), extraArg)
	cmd := exec.Command(name, fullArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procctl: spawn %s: %w", name, err)
	}
	return cmd.Process, nil
}

// Stop sends SIGSTOP, idempotent on an already-stopped process.
func Stop(pid int) error { return signal(pid, syscall.SIGSTOP) }

// Continue sends SIGCONT.
func Continue(pid int) error { return signal(pid, syscall.SIGCONT) }

// Terminate sends SIGTERM.
func Terminate(pid int) error { return signal(pid, syscall.SIGTERM) }

// Kill sends SIGKILL.
func Kill(pid int) error { return signal(pid, syscall.SIGKILL) }

func signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(pid, sig); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("procctl: signal %v to pid %d: %w", sig, pid, err)
	}
	return nil
}

// ReapNonblocking collects pid's exit status without blocking. exited is
// true if the process has terminated (or didn't exist at all, which is
// treated as already-reaped).
func ReapNonblocking(pid int) (exited bool, err error) {
	if pid <= 0 {
		return true, nil
	}
	var ws syscall.WaitStatus
	got, werr := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
	if werr != nil {
		if werr == syscall.ECHILD {
			return true, nil
		}
		return false, fmt.Errorf("procctl: wait4 pid %d: %w", pid, werr)
	}
	return got == pid, nil
}

// Wait blocks until pid exits, discarding its status. Used during the
// Kernel's final shutdown sweep after SIGKILL has been sent.
func Wait(pid int) {
	if pid <= 0 {
		return
	}
	var ws syscall.WaitStatus
	_, _ = syscall.Wait4(pid, &ws, 0, nil)
}
