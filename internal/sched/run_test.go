package sched

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// waitRun runs Run in a goroutine and fails the test if it doesn't return
// within timeout, instead of hanging forever on a regression.
func waitRun(t *testing.T, cfg Config, timeout time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), cfg) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	case <-time.After(timeout):
		t.Fatal("Run did not return within the expected bound")
	}
}

// TestRunShutsDownWhenDurationExpires exercises the duration-expiry path: a
// worker that exits promptly on SIGTERM should let Run return well before
// the grace period would ever need to fire. The stand-in Interrupt
// Controller opens the FIFO's read end so Run's blocking writer open can
// complete.
func TestRunShutsDownWhenDurationExpires(t *testing.T) {
	dir := t.TempDir()
	fifo := filepath.Join(dir, "fifo")
	cfg := Config{
		TablePath:   filepath.Join(dir, "table"),
		FIFOPath:    fifo,
		Quantum:     50 * time.Millisecond,
		Duration:    100 * time.Millisecond,
		NProcs:      3,
		ICPath:      "sh",
		ICArgs:      []string{"-c", "exec sleep 30 < " + fifo},
		WorkerCmds:  [][]string{{"sleep", "30"}, {"sleep", "30"}, {"sleep", "30"}},
		GracePeriod: 500 * time.Millisecond,
	}

	waitRun(t, cfg, 1*time.Second)
}

// TestRunEscalatesToKillWhenWorkerIgnoresSIGTERM guards spec.md §4.3/§8
// scenario 6: a worker that traps SIGTERM must still be gone once Run
// returns, by way of a grace-period SIGKILL escalation rather than an
// indefinite wait. The worker reports its own pid to a marker file ($$ in a
// plain "sh -c" process is the pid Spawn/exec.Command handed back) so the
// test can check it was actually reaped and not merely ignored.
func TestRunEscalatesToKillWhenWorkerIgnoresSIGTERM(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "pid")
	// The trailing loop (rather than a single tail sleep) keeps the shell
	// itself running rather than exec'ing into sleep as its last command,
	// which would drop the TERM trap and defeat the test.
	workerScript := "echo $$ > " + marker + "; trap '' TERM; while true; do sleep 1; done"

	fifo := filepath.Join(dir, "fifo")
	cfg := Config{
		TablePath:   filepath.Join(dir, "table"),
		FIFOPath:    fifo,
		Quantum:     50 * time.Millisecond,
		Duration:    100 * time.Millisecond,
		NProcs:      3,
		ICPath:      "sh",
		ICArgs:      []string{"-c", "exec sleep 30 < " + fifo},
		WorkerCmds:  [][]string{{"sh", "-c", workerScript}, {"sleep", "30"}, {"sleep", "30"}},
		GracePeriod: 150 * time.Millisecond,
	}

	waitRun(t, cfg, 2*time.Second)

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("worker never wrote its pid marker: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse pid marker %q: %v", data, err)
	}

	if err := syscall.Kill(pid, 0); err == nil {
		t.Fatalf("worker pid %d is still alive; expected SIGKILL escalation after the grace period", pid)
	}
}
