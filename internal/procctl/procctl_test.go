package procctl

import (
	"os"
	"testing"
	"time"
)

// spawnSleeper starts a real short-lived process via Spawn itself so the
// tests exercise the real exec/signal/wait path rather than a mock.
func spawnSleeper(t *testing.T, seconds string) *os.Process {
	t.Helper()
	proc, err := Spawn("sleep", nil, seconds)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() {
		_ = Kill(proc.Pid)
		Wait(proc.Pid)
	})
	return proc
}

func TestSpawnAppendsExtraArgAsFinalArgument(t *testing.T) {
	// "sleep 30" with extraArg "30" should run for 30s; confirm it's alive
	// shortly after spawn and can be killed.
	proc := spawnSleeper(t, "30")
	exited, err := ReapNonblocking(proc.Pid)
	if err != nil {
		t.Fatalf("ReapNonblocking: %v", err)
	}
	if exited {
		t.Error("freshly spawned sleeper should not have exited yet")
	}
}

func TestStopAndContinue(t *testing.T) {
	proc := spawnSleeper(t, "30")

	if err := Stop(proc.Pid); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := Continue(proc.Pid); err != nil {
		t.Fatalf("Continue: %v", err)
	}

	exited, err := ReapNonblocking(proc.Pid)
	if err != nil {
		t.Fatalf("ReapNonblocking: %v", err)
	}
	if exited {
		t.Error("process should still be running after Continue")
	}
}

func TestTerminateReapsViaWait(t *testing.T) {
	proc := spawnSleeper(t, "30")

	if err := Terminate(proc.Pid); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	Wait(proc.Pid)

	exited, err := ReapNonblocking(proc.Pid)
	if err != nil {
		t.Fatalf("ReapNonblocking after Wait: %v", err)
	}
	if !exited {
		t.Error("process should be reaped after Terminate+Wait")
	}
}

func TestKillTerminatesImmediately(t *testing.T) {
	proc, err := Spawn("sleep", nil, "30")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := Kill(proc.Pid); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	Wait(proc.Pid)

	exited, err := ReapNonblocking(proc.Pid)
	if err != nil {
		t.Fatalf("ReapNonblocking: %v", err)
	}
	if !exited {
		t.Error("process should be reaped after Kill+Wait")
	}
}

func TestSignalOnNonPositivePIDIsNoop(t *testing.T) {
	if err := Stop(0); err != nil {
		t.Errorf("Stop(0) = %v, want nil", err)
	}
	if err := Terminate(-1); err != nil {
		t.Errorf("Terminate(-1) = %v, want nil", err)
	}
}

func TestReapNonblockingOnNonPositivePID(t *testing.T) {
	exited, err := ReapNonblocking(0)
	if err != nil || !exited {
		t.Errorf("ReapNonblocking(0) = (%v, %v), want (true, nil)", exited, err)
	}
}
