package sched

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/miguelsom/rrkernel/internal/shmtable"
)

// spawnSleeper starts a real short-lived process so Stop/Continue/Terminate
// have something real to signal, following the teacher's stdlib-only test
// style (no mocked process control).
func spawnSleeper(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("spawn sleeper: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd.Process.Pid
}

func newTestKernel(t *testing.T, nProcs int) (*Kernel, *shmtable.Table) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table")
	table, err := shmtable.Create(path, nProcs)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	t.Cleanup(func() { _ = table.Destroy() })

	k := NewKernel(table, 2*time.Second, nil)
	ctx := context.Background()
	for i := 0; i < nProcs; i++ {
		k.RegisterWorker(ctx, i, spawnSleeper(t))
	}
	return k, table
}

func TestPickNextRotatesFromLastDispatched(t *testing.T) {
	k, _ := newTestKernel(t, 3)
	ctx := context.Background()

	k.dispatch(ctx, 0)
	k.preempt(ctx)

	n := k.pickNext()
	if n != 1 {
		t.Fatalf("expected pickNext to resume at slot 1 after dispatching slot 0, got %d", n)
	}
}

func TestDispatchSetsRunningState(t *testing.T) {
	k, _ := newTestKernel(t, 3)
	ctx := context.Background()

	k.dispatch(ctx, 1)

	if k.Current() != 1 {
		t.Fatalf("expected current=1, got %d", k.Current())
	}
	if k.State(1) != StateRunning {
		t.Fatalf("expected slot 1 RUNNING, got %v", k.State(1))
	}
}

func TestPreemptClearsCurrentButNotRotationBase(t *testing.T) {
	k, _ := newTestKernel(t, 3)
	ctx := context.Background()

	k.dispatch(ctx, 2)
	k.preempt(ctx)

	if k.Current() != -1 {
		t.Fatalf("expected current=-1 after preempt, got %d", k.Current())
	}
	if k.State(2) != StateReady {
		t.Fatalf("expected slot 2 READY after preempt, got %v", k.State(2))
	}
	if k.lastDispatched != 2 {
		t.Fatalf("expected rotation base to remain 2, got %d", k.lastDispatched)
	}
}

func TestBlockForIOMovesToWaitingQueue(t *testing.T) {
	k, table := newTestKernel(t, 3)
	ctx := context.Background()

	k.dispatch(ctx, 0)
	table.RaiseIO(0, shmtable.ReadIO)

	k.blockForIO(ctx, 0)

	if k.State(0) != StateWaiting {
		t.Fatalf("expected slot 0 WAITING, got %v", k.State(0))
	}
	if k.IOQueueLen() != 1 {
		t.Fatalf("expected I/O queue len 1, got %d", k.IOQueueLen())
	}
	if table.WantIO(0) {
		t.Fatalf("expected want_io cleared after blockForIO")
	}
	if k.Current() != -1 {
		t.Fatalf("expected current cleared after blocking the running slot")
	}
}

func TestOnIRQ0PreemptsAfterQuantumExpires(t *testing.T) {
	k, _ := newTestKernel(t, 3)
	ctx := context.Background()
	k.quantum = 2 * time.Second

	clock := clockz.NewFakeClock()
	k.WithClock(clock)

	k.dispatch(ctx, 0) // remaining = 2s, lastTick = clock.Now()

	clock.Advance(1 * time.Second)
	k.OnIRQ0(ctx) // remaining -> 1s, still running
	if k.Current() != 0 {
		t.Fatalf("expected slot 0 still RUNNING after first tick, current=%d", k.Current())
	}

	clock.Advance(1 * time.Second)
	k.OnIRQ0(ctx) // remaining -> 0, preempt + redispatch next
	if k.State(0) != StateReady {
		t.Fatalf("expected slot 0 READY after quantum expiry, got %v", k.State(0))
	}
	if k.Current() != 1 {
		t.Fatalf("expected slot 1 dispatched next, got current=%d", k.Current())
	}
}

func TestOnIRQ0SweepsWaitingReadyIO(t *testing.T) {
	k, table := newTestKernel(t, 3)
	ctx := context.Background()

	// Slot 1 is READY (never dispatched) but has raised want_io, racing the
	// Kernel exactly as spec.md's "waiting-ready I/O intake" describes.
	table.RaiseIO(1, shmtable.WriteIO)

	k.OnIRQ0(ctx)

	if k.State(1) != StateWaiting {
		t.Fatalf("expected slot 1 swept into WAITING, got %v", k.State(1))
	}
	if table.WantIO(1) {
		t.Fatalf("expected want_io cleared by the sweep")
	}
}

func TestOnIRQ1UnblocksAndDispatchesWithPriority(t *testing.T) {
	k, table := newTestKernel(t, 3)
	ctx := context.Background()

	k.dispatch(ctx, 0)
	table.RaiseIO(0, shmtable.ReadIO)
	k.blockForIO(ctx, 0)

	k.dispatch(ctx, 1) // slot 1 now running while slot 0 waits on I/O

	pid0 := table.WorkerPID(0)
	table.SetIODone(pid0, shmtable.ReadIO)

	k.OnIRQ1(ctx)

	if k.State(0) != StateRunning {
		t.Fatalf("expected slot 0 RUNNING after IRQ1 priority dispatch, got %v", k.State(0))
	}
	if k.State(1) != StateReady {
		t.Fatalf("expected slot 1 preempted back to READY, got %v", k.State(1))
	}
	if table.IODonePID() != 0 {
		t.Fatalf("expected completion summary cleared after consumption")
	}
}

func TestOnIRQ1AntiStarvationGuardWithholdsSecondPreempt(t *testing.T) {
	k, table := newTestKernel(t, 3)
	ctx := context.Background()

	// Slot 0 blocks, slot 1 runs, IRQ1 unblocks slot 0 with priority.
	k.dispatch(ctx, 0)
	table.RaiseIO(0, shmtable.ReadIO)
	k.blockForIO(ctx, 0)
	k.dispatch(ctx, 1)
	table.SetIODone(table.WorkerPID(0), shmtable.ReadIO)
	k.OnIRQ1(ctx)

	if k.Current() != 0 {
		t.Fatalf("expected slot 0 running after first IRQ1, current=%d", k.Current())
	}

	// Immediately, slot 2 also completes I/O before any OnIRQ0 tick passed.
	table.RaiseIO(2, shmtable.WriteIO)
	k.blockForIO(ctx, 2)
	table.SetIODone(table.WorkerPID(2), shmtable.WriteIO)
	k.OnIRQ1(ctx)

	if k.Current() != 0 {
		t.Fatalf("expected guard to withhold a second back-to-back preempt of slot 0, current=%d", k.Current())
	}
	if k.State(2) != StateReady {
		t.Fatalf("expected slot 2 simply READY (not dispatched) under the guard, got %v", k.State(2))
	}
}

func TestReapExitedSkipsLiveWorkers(t *testing.T) {
	k, _ := newTestKernel(t, 2)
	ctx := context.Background()

	// Both slots' sleepers are still alive; nothing should be reaped yet.
	done := k.reapExited(ctx)
	if len(done) != 0 {
		t.Fatalf("expected no worker reaped while sleepers are alive, got %v", done)
	}
}

func TestAllDoneRequiresEveryWorkerDone(t *testing.T) {
	k, _ := newTestKernel(t, 2)
	if k.AllDone() {
		t.Fatalf("expected AllDone false before any worker finishes")
	}
	k.states[0] = StateDone
	if k.AllDone() {
		t.Fatalf("expected AllDone false with one of two workers done")
	}
	k.states[1] = StateDone
	if !k.AllDone() {
		t.Fatalf("expected AllDone true once every slot is DONE")
	}
}
