// Package events is the structured event-trace backbone shared by the
// Kernel and the Interrupt Controller. It follows the teacher library's own
// observability discipline (see zoobzio/pipz's signals.go): named
// capitan.Signal constants, named capitan Field keys, and package-level
// emit calls instead of ad hoc log.Printf scattered through the scheduler.
//
// Every emit call here also prints one human-readable line to stdout, since
// spec.md §7 requires a plain event trace ("dispatch, preempt, block,
// unblock, tick") independent of whatever structured sink capitan ends up
// feeding.
package events

import (
	"context"
	"fmt"

	"github.com/zoobzio/capitan"
)

// Signals emitted by the Kernel and Interrupt Controller.
const (
	SignalDispatch      capitan.Signal = "kernel.dispatch"
	SignalPreempt       capitan.Signal = "kernel.preempt"
	SignalBlock         capitan.Signal = "kernel.block"
	SignalUnblock       capitan.Signal = "kernel.unblock"
	SignalTick          capitan.Signal = "kernel.tick"
	SignalWorkerSpawned capitan.Signal = "kernel.worker_spawned"
	SignalWorkerDone    capitan.Signal = "kernel.worker_done"
	SignalShutdown      capitan.Signal = "kernel.shutdown"
	SignalProtocolError capitan.Signal = "kernel.protocol_error"

	SignalICTick             capitan.Signal = "ic.tick"
	SignalICServiceStart     capitan.Signal = "ic.service_start"
	SignalICServiceComplete  capitan.Signal = "ic.service_complete"
	SignalICQueueOverflow    capitan.Signal = "ic.queue_overflow"
	SignalICMalformedRequest capitan.Signal = "ic.malformed_request"
)

// Field keys shared across event sites.
var (
	FieldSlot      = capitan.NewIntKey("slot")
	FieldPID       = capitan.NewIntKey("pid")
	FieldQuantum   = capitan.NewFloat64Key("quantum_remaining_s")
	FieldQueueLen  = capitan.NewIntKey("queue_len")
	FieldIOType    = capitan.NewStringKey("io_type")
	FieldReason    = capitan.NewStringKey("reason")
	FieldComponent = capitan.NewStringKey("component")
)

// Dispatch logs a READY -> RUNNING transition.
func Dispatch(ctx context.Context, slot, pid int) {
	capitan.Info(ctx, SignalDispatch, FieldSlot.Field(slot), FieldPID.Field(pid))
	fmt.Printf("[kernel] DISPATCH slot=%d pid=%d\n", slot, pid)
}

// Preempt logs a RUNNING -> READY transition.
func Preempt(ctx context.Context, slot, pid int) {
	capitan.Info(ctx, SignalPreempt, FieldSlot.Field(slot), FieldPID.Field(pid))
	fmt.Printf("[kernel] PREEMPT slot=%d pid=%d\n", slot, pid)
}

// Block logs a RUNNING -> WAITING transition.
func Block(ctx context.Context, slot, pid int, ioType string) {
	capitan.Info(ctx, SignalBlock, FieldSlot.Field(slot), FieldPID.Field(pid), FieldIOType.Field(ioType))
	fmt.Printf("[kernel] BLOCK slot=%d pid=%d io=%s\n", slot, pid, ioType)
}

// Unblock logs a WAITING -> READY transition driven by IRQ1.
func Unblock(ctx context.Context, slot, pid int, ioType string) {
	capitan.Info(ctx, SignalUnblock, FieldSlot.Field(slot), FieldPID.Field(pid), FieldIOType.Field(ioType))
	fmt.Printf("[kernel] UNBLOCK slot=%d pid=%d io=%s\n", slot, pid, ioType)
}

// Tick logs an IRQ0 arrival and the post-tick ready-queue depth.
func Tick(ctx context.Context, readyCount int) {
	capitan.Info(ctx, SignalTick, FieldQueueLen.Field(readyCount))
	fmt.Printf("[kernel] TICK ready=%d\n", readyCount)
}

// WorkerSpawned logs a worker's entry into the process table.
func WorkerSpawned(ctx context.Context, slot, pid int) {
	capitan.Info(ctx, SignalWorkerSpawned, FieldSlot.Field(slot), FieldPID.Field(pid))
	fmt.Printf("[kernel] SPAWN slot=%d pid=%d\n", slot, pid)
}

// WorkerDone logs a worker's exit (normal or abnormal; both are terminal).
func WorkerDone(ctx context.Context, slot, pid int) {
	capitan.Info(ctx, SignalWorkerDone, FieldSlot.Field(slot), FieldPID.Field(pid))
	fmt.Printf("[kernel] DONE slot=%d pid=%d\n", slot, pid)
}

// Shutdown logs the Kernel's terminal cleanup starting.
func Shutdown(ctx context.Context, reason string) {
	capitan.Warn(ctx, SignalShutdown, FieldReason.Field(reason))
	fmt.Printf("[kernel] SHUTDOWN reason=%s\n", reason)
}

// ProtocolError logs an ignored protocol anomaly (§7): IRQ1 for an unknown
// pid, IRQ1 with an empty queue, want_io observed while WAITING, etc.
func ProtocolError(ctx context.Context, reason string) {
	capitan.Warn(ctx, SignalProtocolError, FieldReason.Field(reason))
	fmt.Printf("[kernel] PROTOCOL ERROR: %s\n", reason)
}

// ICTick logs the Interrupt Controller's own periodic tick send.
func ICTick(ctx context.Context) {
	capitan.Info(ctx, SignalICTick)
	fmt.Printf("[inter_controller] TICK\n")
}

// ICServiceStart logs the device beginning to serve a request.
func ICServiceStart(ctx context.Context, pid int, ioType string, queueLen int) {
	capitan.Info(ctx, SignalICServiceStart, FieldPID.Field(pid), FieldIOType.Field(ioType), FieldQueueLen.Field(queueLen))
	fmt.Printf("[inter_controller] SERVICE START pid=%d io=%s queue=%d\n", pid, ioType, queueLen)
}

// ICServiceComplete logs a completed service, just before IRQ1 is sent.
func ICServiceComplete(ctx context.Context, pid int, ioType string) {
	capitan.Info(ctx, SignalICServiceComplete, FieldPID.Field(pid), FieldIOType.Field(ioType))
	fmt.Printf("[inter_controller] SERVICE COMPLETE pid=%d io=%s\n", pid, ioType)
}

// ICQueueOverflow logs a dropped request (§4.2: bounded queue, overflow is
// reported and the offending request is dropped).
func ICQueueOverflow(ctx context.Context, pid int) {
	capitan.Error(ctx, SignalICQueueOverflow, FieldPID.Field(pid))
	fmt.Printf("[inter_controller] QUEUE OVERFLOW dropping pid=%d\n", pid)
}

// ICMalformedRequest logs a discarded unparseable FIFO line.
func ICMalformedRequest(ctx context.Context) {
	capitan.Warn(ctx, SignalICMalformedRequest)
	fmt.Printf("[inter_controller] malformed request line discarded\n")
}
