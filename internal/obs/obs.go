// Package obs wires the metrics/tracing/lifecycle-hook observability stack
// shared by the Kernel and Interrupt Controller. Its shape is taken directly
// from the teacher library's connectors (zoobzio/pipz's timeout.go,
// backoff.go, circuitbreaker.go): named metricz.Key/tracez.Key/tracez.Tag/
// hookz.Key constants, a *metricz.Registry + *tracez.Tracer + *hookz.Hooks[T]
// trio on the owning struct, a constructor that pre-registers every
// counter/gauge, and a Close that tears the tracer and hooks down.
package obs

import (
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Kernel metric keys.
const (
	KernelDispatchTotal   = metricz.Key("kernel.dispatch.total")
	KernelPreemptTotal    = metricz.Key("kernel.preempt.total")
	KernelBlockTotal      = metricz.Key("kernel.block.total")
	KernelUnblockTotal    = metricz.Key("kernel.unblock.total")
	KernelTickTotal       = metricz.Key("kernel.tick.total")
	KernelReadyQueueDepth = metricz.Key("kernel.ready_queue.depth")
	KernelWaitQueueDepth  = metricz.Key("kernel.wait_queue.depth")
)

// Kernel span keys and tags.
const (
	KernelTickSpan     = tracez.Key("kernel.tick")
	KernelDispatchSpan = tracez.Key("kernel.dispatch")

	KernelTagSlot = tracez.Tag("kernel.slot")
	KernelTagPID  = tracez.Tag("kernel.pid")
)

// Kernel lifecycle hook event keys.
const (
	KernelEventDispatch   = hookz.Key("kernel.dispatch")
	KernelEventPreempt    = hookz.Key("kernel.preempt")
	KernelEventBlock      = hookz.Key("kernel.block")
	KernelEventUnblock    = hookz.Key("kernel.unblock")
	KernelEventWorkerDone = hookz.Key("kernel.worker_done")
)

// KernelEvent is the payload delivered to Kernel lifecycle hook handlers.
type KernelEvent struct {
	Slot int
	PID  int
}

// KernelObs bundles the Kernel's observability surface.
type KernelObs struct {
	Metrics *metricz.Registry
	Tracer  *tracez.Tracer
	Hooks   *hookz.Hooks[KernelEvent]
}

// NewKernelObs constructs and pre-registers the Kernel's counters/gauges.
func NewKernelObs() *KernelObs {
	m := metricz.New()
	m.Counter(KernelDispatchTotal)
	m.Counter(KernelPreemptTotal)
	m.Counter(KernelBlockTotal)
	m.Counter(KernelUnblockTotal)
	m.Counter(KernelTickTotal)
	m.Gauge(KernelReadyQueueDepth)
	m.Gauge(KernelWaitQueueDepth)

	return &KernelObs{
		Metrics: m,
		Tracer:  tracez.New(),
		Hooks:   hookz.New[KernelEvent](),
	}
}

// Close tears down the tracer and hook dispatchers.
func (o *KernelObs) Close() {
	if o == nil {
		return
	}
	if o.Tracer != nil {
		o.Tracer.Close()
	}
	if o.Hooks != nil {
		o.Hooks.Close()
	}
}

// Interrupt Controller metric keys.
const (
	ICTicksTotal           = metricz.Key("ic.ticks.total")
	ICRequestsQueuedTotal  = metricz.Key("ic.requests_queued.total")
	ICRequestsServedTotal  = metricz.Key("ic.requests_served.total")
	ICRequestsDroppedTotal = metricz.Key("ic.requests_dropped.total")
	ICMalformedLinesTotal  = metricz.Key("ic.malformed_lines.total")
	ICQueueDepthGauge      = metricz.Key("ic.queue.depth")
	ICDeviceBusyGauge      = metricz.Key("ic.device.busy")
)

// Interrupt Controller span keys and tags.
const (
	ICServiceSpan = tracez.Key("ic.service")

	ICTagPID    = tracez.Tag("ic.pid")
	ICTagIOType = tracez.Tag("ic.io_type")
)

// Interrupt Controller lifecycle hook event keys.
const (
	ICEventTick            = hookz.Key("ic.tick")
	ICEventServiceStart    = hookz.Key("ic.service_start")
	ICEventServiceComplete = hookz.Key("ic.service_complete")
)

// ICEvent is the payload delivered to Interrupt Controller hook handlers.
type ICEvent struct {
	PID    int
	IOType int
}

// ICObs bundles the Interrupt Controller's observability surface.
type ICObs struct {
	Metrics *metricz.Registry
	Tracer  *tracez.Tracer
	Hooks   *hookz.Hooks[ICEvent]
}

// NewICObs constructs and pre-registers the Interrupt Controller's
// counters/gauges.
func NewICObs() *ICObs {
	m := metricz.New()
	m.Counter(ICTicksTotal)
	m.Counter(ICRequestsQueuedTotal)
	m.Counter(ICRequestsServedTotal)
	m.Counter(ICRequestsDroppedTotal)
	m.Counter(ICMalformedLinesTotal)
	m.Gauge(ICQueueDepthGauge)
	m.Gauge(ICDeviceBusyGauge)

	return &ICObs{
		Metrics: m,
		Tracer:  tracez.New(),
		Hooks:   hookz.New[ICEvent](),
	}
}

// Close tears down the tracer and hook dispatchers.
func (o *ICObs) Close() {
	if o == nil {
		return
	}
	if o.Tracer != nil {
		o.Tracer.Close()
	}
	if o.Hooks != nil {
		o.Hooks.Close()
	}
}
