// Package sched implements the Kernel: the Round-Robin scheduler with
// I/O blocking described in spec.md §4.3. It owns the run-state vector, the
// I/O wait queue, and every dispatch/preempt/block decision. Signal
// handlers never appear in this package as anything but flag-setters; all
// decision logic lives in the OnIRQ0/OnIRQ1 methods, called from the main
// loop in run.go.
package sched

import (
	"context"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/miguelsom/rrkernel/internal/events"
	"github.com/miguelsom/rrkernel/internal/obs"
	"github.com/miguelsom/rrkernel/internal/procctl"
	"github.com/miguelsom/rrkernel/internal/reqchan"
	"github.com/miguelsom/rrkernel/internal/shmtable"
)

// State is a worker's run-state as tracked by the Kernel. This is
// Kernel-private bookkeeping, distinct from anything stored in the shared
// table.
type State int

const (
	StateNew State = iota
	StateReady
	StateRunning
	StateWaiting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateWaiting:
		return "WAITING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Kernel is the scheduler. Exactly one worker may be RUNNING at a time; the
// Kernel is the sole writer of worker run-state.
type Kernel struct {
	table   *shmtable.Table
	nProcs  int
	states  [shmtable.MaxProcs]State
	ioQueue []int // FIFO of WAITING slot indices

	current        int // RUNNING slot, -1 if the CPU is idle
	lastDispatched int // last slot ever dispatched; rotation base for pickNext
	quantum        time.Duration
	remaining      time.Duration
	lastTick       time.Time // clock.Now() as of the last quantum decrement

	protectedSlot int  // slot most recently IRQ1-dispatched with priority
	protected     bool // true until that slot survives one OnIRQ0 tick

	reqWriter *reqchan.Writer
	clock     clockz.Clock
	obs       *obs.KernelObs
}

// NewKernel constructs a Kernel over an already-created shared table. quantum
// is the Round-Robin time slice.
func NewKernel(table *shmtable.Table, quantum time.Duration, reqWriter *reqchan.Writer) *Kernel {
	return &Kernel{
		table:          table,
		nProcs:         table.NProcs(),
		current:        -1,
		lastDispatched: -1,
		protectedSlot:  -1,
		quantum:        quantum,
		reqWriter:      reqWriter,
		obs:            obs.NewKernelObs(),
	}
}

// WithClock injects a clock for deterministic tests.
func (k *Kernel) WithClock(clock clockz.Clock) *Kernel {
	k.clock = clock
	return k
}

func (k *Kernel) getClock() clockz.Clock {
	if k.clock == nil {
		return clockz.RealClock
	}
	return k.clock
}

// Obs exposes the Kernel's metrics/tracer/hooks for embedding callers.
func (k *Kernel) Obs() *obs.KernelObs { return k.obs }

// Clock exposes the Kernel's injected clock (or clockz.RealClock if none was
// set) so Run can share it for the duration timer and shutdown grace period.
func (k *Kernel) Clock() clockz.Clock { return k.getClock() }

// RegisterWorker marks slot i as READY with the given pid. Called once per
// worker immediately after spawn, while the worker is still stopped.
func (k *Kernel) RegisterWorker(ctx context.Context, slot, pid int) {
	k.table.SetWorkerPID(slot, pid)
	k.states[slot] = StateReady
	events.WorkerSpawned(ctx, slot, pid)
}

// State returns the Kernel's current view of slot i's run-state.
func (k *Kernel) State(slot int) State { return k.states[slot] }

// Current returns the currently RUNNING slot, or -1.
func (k *Kernel) Current() int { return k.current }

// IOQueueLen reports the number of workers currently WAITING.
func (k *Kernel) IOQueueLen() int { return len(k.ioQueue) }

// AllDone reports whether every worker has reached StateDone.
func (k *Kernel) AllDone() bool {
	for i := 0; i < k.nProcs; i++ {
		if k.states[i] != StateDone {
			return false
		}
	}
	return true
}

// pickNext scans READY slots in ascending modular order starting immediately
// after lastDispatched (spec.md §4.3 "Dispatch order"). Returns -1 if none.
func (k *Kernel) pickNext() int {
	if k.nProcs == 0 {
		return -1
	}
	start := (k.lastDispatched + 1 + k.nProcs) % k.nProcs
	for i := 0; i < k.nProcs; i++ {
		idx := (start + i) % k.nProcs
		if k.states[idx] == StateReady {
			return idx
		}
	}
	return -1
}

// dispatch transitions slot from READY to RUNNING and resumes it with a
// fresh quantum.
func (k *Kernel) dispatch(ctx context.Context, slot int) {
	k.current = slot
	k.lastDispatched = slot
	k.states[slot] = StateRunning
	k.remaining = k.quantum
	k.lastTick = k.getClock().Now()
	pid := k.table.WorkerPID(slot)
	_ = procctl.Continue(pid)

	events.Dispatch(ctx, slot, pid)
	k.obs.Metrics.Counter(obs.KernelDispatchTotal).Inc()
	_ = k.obs.Hooks.Emit(ctx, obs.KernelEventDispatch, obs.KernelEvent{Slot: slot, PID: pid}) //nolint:errcheck
}

// preempt stops the currently RUNNING worker and returns it to READY,
// clearing current. lastDispatched is intentionally left untouched: the
// source implementation this is grounded on (trab1_inf1316/kernel.c) found
// that clearing the rotation base on every preempt collapses Round-Robin
// back to slot 0 every tick, so pickNext's rotation anchor survives across
// the RUNNING->READY edge even though the "current" slot itself is cleared.
func (k *Kernel) preempt(ctx context.Context) {
	if k.current < 0 || k.states[k.current] != StateRunning {
		return
	}
	slot := k.current
	pid := k.table.WorkerPID(slot)
	_ = procctl.Stop(pid)
	k.states[slot] = StateReady
	k.current = -1

	events.Preempt(ctx, slot, pid)
	k.obs.Metrics.Counter(obs.KernelPreemptTotal).Inc()
	_ = k.obs.Hooks.Emit(ctx, obs.KernelEventPreempt, obs.KernelEvent{Slot: slot, PID: pid}) //nolint:errcheck
}

// blockForIO transitions slot (normally the RUNNING one) to WAITING: stop
// it, clear want_io, and enqueue a request line for the Interrupt
// Controller. sweepWaitingReadyIO performs the same transition for READY
// slots itself, without the stop.
func (k *Kernel) blockForIO(ctx context.Context, slot int) {
	pid := k.table.WorkerPID(slot)
	ioType := k.table.IOType(slot)
	_ = procctl.Stop(pid)
	k.table.ClearWantIO(slot)
	k.states[slot] = StateWaiting
	k.ioQueue = append(k.ioQueue, slot)
	if k.current == slot {
		k.current = -1
	}

	if k.reqWriter != nil {
		_ = k.reqWriter.WriteRequest(pid, ioType)
	}

	events.Block(ctx, slot, pid, ioType.String())
	k.obs.Metrics.Counter(obs.KernelBlockTotal).Inc()
	k.obs.Metrics.Gauge(obs.KernelWaitQueueDepth).Set(float64(len(k.ioQueue)))
	_ = k.obs.Hooks.Emit(ctx, obs.KernelEventBlock, obs.KernelEvent{Slot: slot, PID: pid}) //nolint:errcheck
}

// popWaiting removes slot from the FIFO I/O wait queue, wherever it is in
// the (normally-front) queue. Returns false if it wasn't present.
func (k *Kernel) popWaiting(slot int) bool {
	for i, s := range k.ioQueue {
		if s == slot {
			k.ioQueue = append(k.ioQueue[:i], k.ioQueue[i+1:]...)
			return true
		}
	}
	return false
}

// reapExited non-blockingly collects any worker that has exited, marking it
// DONE. Returns the slots newly reaped.
func (k *Kernel) reapExited(ctx context.Context) []int {
	var done []int
	for i := 0; i < k.nProcs; i++ {
		if k.states[i] == StateDone {
			continue
		}
		pid := k.table.WorkerPID(i)
		exited, err := procctl.ReapNonblocking(pid)
		if err != nil || !exited {
			continue
		}
		k.states[i] = StateDone
		if k.current == i {
			k.current = -1
		}
		k.popWaiting(i)
		done = append(done, i)

		events.WorkerDone(ctx, i, pid)
		_ = k.obs.Hooks.Emit(ctx, obs.KernelEventWorkerDone, obs.KernelEvent{Slot: i, PID: pid}) //nolint:errcheck
	}
	return done
}

// sweepWaitingReadyIO implements spec.md §4.3 "Waiting-ready I/O intake": a
// worker that raised want_io while still READY (it raced the Kernel) is
// moved straight to WAITING, without the extra stop signal a RUNNING->
// WAITING transition would send (a READY worker is already stopped). A
// want_io seen on a WAITING slot is logged as a protocol error and otherwise
// ignored.
func (k *Kernel) sweepWaitingReadyIO(ctx context.Context) {
	for i := 0; i < k.nProcs; i++ {
		if k.states[i] == StateWaiting && k.table.WantIO(i) {
			events.ProtocolError(ctx, "want_io raised while WAITING")
			continue
		}
		if k.states[i] == StateReady && k.table.WantIO(i) {
			pid := k.table.WorkerPID(i)
			ioType := k.table.IOType(i)
			k.table.ClearWantIO(i)
			k.states[i] = StateWaiting
			k.ioQueue = append(k.ioQueue, i)
			if k.reqWriter != nil {
				_ = k.reqWriter.WriteRequest(pid, ioType)
			}
			events.Block(ctx, i, pid, ioType.String())
			k.obs.Metrics.Counter(obs.KernelBlockTotal).Inc()
		}
	}
}

// OnIRQ0 runs the quantum/preemption logic described in spec.md §4.3.
func (k *Kernel) OnIRQ0(ctx context.Context) {
	ctx, span := k.obs.Tracer.StartSpan(ctx, obs.KernelTickSpan)
	defer span.Finish()

	k.reapExited(ctx)

	if k.protected {
		k.protected = false
	}

	k.sweepWaitingReadyIO(ctx)

	if k.current >= 0 && k.states[k.current] == StateRunning && k.table.WantIO(k.current) {
		k.blockForIO(ctx, k.current)
	}

	if k.current < 0 {
		if n := k.pickNext(); n >= 0 {
			k.dispatch(ctx, n)
		}
		k.obs.Metrics.Counter(obs.KernelTickTotal).Inc()
		events.Tick(ctx, k.readyCount())
		return
	}

	now := k.getClock().Now()
	if elapsed := now.Sub(k.lastTick); elapsed > 0 {
		k.remaining -= elapsed
	}
	k.lastTick = now
	if k.remaining <= 0 {
		k.preempt(ctx)
		if n := k.pickNext(); n >= 0 {
			k.dispatch(ctx, n)
		}
	}

	k.obs.Metrics.Counter(obs.KernelTickTotal).Inc()
	k.obs.Metrics.Gauge(obs.KernelReadyQueueDepth).Set(float64(k.readyCount()))
	events.Tick(ctx, k.readyCount())
}

func (k *Kernel) readyCount() int {
	n := 0
	for i := 0; i < k.nProcs; i++ {
		if k.states[i] == StateReady {
			n++
		}
	}
	return n
}

// OnIRQ1 runs the I/O completion priority logic described in spec.md §4.3.
func (k *Kernel) OnIRQ1(ctx context.Context) {
	pid := k.table.IODonePID()
	if pid == 0 {
		events.ProtocolError(ctx, "IRQ1 with empty completion summary")
		return
	}
	ioType := k.table.IODoneType()
	k.table.ClearIODone()

	slot := k.slotForPID(pid)
	if slot < 0 {
		events.ProtocolError(ctx, "IRQ1 for unknown pid")
		return
	}
	if k.states[slot] != StateWaiting {
		events.ProtocolError(ctx, "IRQ1 for slot not in WAITING state")
		return
	}

	k.popWaiting(slot)
	k.states[slot] = StateReady
	events.Unblock(ctx, slot, pid, ioType.String())
	k.obs.Metrics.Counter(obs.KernelUnblockTotal).Inc()
	_ = k.obs.Hooks.Emit(ctx, obs.KernelEventUnblock, obs.KernelEvent{Slot: slot, PID: pid}) //nolint:errcheck

	// Anti-starvation guard (spec.md §4.3, §9 open question): if the
	// currently-RUNNING worker was itself dispatched by priority on a
	// previous IRQ1 and hasn't yet survived a tick, don't bump it again.
	if k.current >= 0 && k.protected && k.current == k.protectedSlot {
		return
	}

	// Dispatch the freshly-unblocked worker directly, with priority over
	// whatever pickNext's rotation would otherwise have chosen.
	k.preempt(ctx)
	k.dispatch(ctx, slot)
	k.protectedSlot = slot
	k.protected = true
}

func (k *Kernel) slotForPID(pid int) int {
	for i := 0; i < k.nProcs; i++ {
		if k.table.WorkerPID(i) == pid {
			return i
		}
	}
	return -1
}
