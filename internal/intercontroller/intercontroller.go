// Package intercontroller implements the Interrupt Controller: the process
// that simulates the periodic timer and the single I/O device, delivering
// IRQ0 (SIGUSR1) and IRQ1 (SIGUSR2) to the Kernel. See spec.md §4.2 and
// SPEC_FULL.md §4.
package intercontroller

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/miguelsom/rrkernel/internal/events"
	"github.com/miguelsom/rrkernel/internal/obs"
	"github.com/miguelsom/rrkernel/internal/reqchan"
	"github.com/miguelsom/rrkernel/internal/shmtable"
)

// queueCapacity bounds the pending-request queue. §4.2 "Failure semantics":
// overflow drops the offending request and reports it, rather than growing
// unbounded or blocking the FIFO reader.
const queueCapacity = 128

// tickPeriod is the simulated timer's period.
const tickPeriod = 1 * time.Second

// serviceDuration is how long the simulated device takes to serve one
// request.
const serviceDuration = 3 * time.Second

// Controller is the Interrupt Controller.
type Controller struct {
	kernelPID int
	tablePath string
	fifoPath  string

	table    *shmtable.Table // nil if the table couldn't be attached; non-fatal
	queue    []reqchan.Request
	inflight *reqchan.Request

	clock clockz.Clock
	obs   *obs.ICObs
}

// New constructs a Controller. tablePath may be empty, in which case the
// Controller still ticks and serves queued requests (sending IRQ1 on each
// completion) but neither publishes device/completion fields nor observes
// the Done flag.
func New(kernelPID int, tablePath, fifoPath string) *Controller {
	return &Controller{
		kernelPID: kernelPID,
		tablePath: tablePath,
		fifoPath:  fifoPath,
		obs:       obs.NewICObs(),
	}
}

// WithClock injects a clock for deterministic tests.
func (c *Controller) WithClock(clock clockz.Clock) *Controller {
	c.clock = clock
	return c
}

func (c *Controller) getClock() clockz.Clock {
	if c.clock == nil {
		return clockz.RealClock
	}
	return c.clock
}

// Run drives the tick/service loop until the shared table's Done flag is
// set or the process receives SIGTERM. It is non-fatal for the table or the
// FIFO to be unavailable at startup; ticks continue regardless.
func (c *Controller) Run(ctx context.Context) error {
	clock := c.getClock()
	defer c.obs.Close()

	if c.tablePath != "" {
		if table, err := shmtable.Attach(c.tablePath); err == nil {
			c.table = table
			defer c.table.Close() //nolint:errcheck
		}
	}

	var reader *reqchan.Reader
	if r, err := reqchan.OpenReaderNonblock(c.fifoPath); err == nil {
		reader = r
		defer reader.Close() //nolint:errcheck
	}

	var termFlag int32
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			atomic.StoreInt32(&termFlag, 1)
		}
	}()

	deadline := clock.Now().Add(tickPeriod)
	serviceDeadline := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if atomic.LoadInt32(&termFlag) != 0 {
			return nil
		}

		if c.table != nil && c.table.Done() {
			return nil
		}

		now := clock.Now()

		// Collapsed periodic tick: if one or more periods have elapsed,
		// send exactly one IRQ0 and re-arm from now, rather than queuing a
		// burst (SPEC_FULL.md §4, documenting the chosen catch-up variant).
		if !now.Before(deadline) {
			c.sendIRQ0(ctx)
			deadline = now.Add(tickPeriod)
		}

		if reader != nil {
			c.drainFIFO(ctx, reader)
		}

		if c.inflight == nil && len(c.queue) > 0 {
			req := c.queue[0]
			c.queue = c.queue[1:]
			c.inflight = &req
			if c.table != nil {
				c.table.SetDeviceBusy(true)
				c.table.SetIOInflightPID(req.PID)
			}
			serviceDeadline = clock.Now().Add(serviceDuration)
			_, span := c.obs.Tracer.StartSpan(ctx, obs.ICServiceSpan)
			span.SetTag(obs.ICTagPID, strconv.Itoa(req.PID))
			span.SetTag(obs.ICTagIOType, req.IOType.String())
			span.Finish()
			events.ICServiceStart(ctx, req.PID, req.IOType.String(), len(c.queue))
			c.obs.Metrics.Gauge(obs.ICQueueDepthGauge).Set(float64(len(c.queue)))
			c.obs.Metrics.Gauge(obs.ICDeviceBusyGauge).Set(1)
			_ = c.obs.Hooks.Emit(ctx, obs.ICEventServiceStart, obs.ICEvent{PID: req.PID, IOType: int(req.IOType)}) //nolint:errcheck
		}

		if c.inflight != nil && !clock.Now().Before(serviceDeadline) {
			req := c.inflight
			if c.table != nil {
				c.table.SetIODone(req.PID, req.IOType)
				c.table.SetDeviceBusy(false)
				c.table.SetIOInflightPID(0)
			}
			events.ICServiceComplete(ctx, req.PID, req.IOType.String())
			c.obs.Metrics.Counter(obs.ICRequestsServedTotal).Inc()
			c.obs.Metrics.Gauge(obs.ICDeviceBusyGauge).Set(0)
			_ = c.obs.Hooks.Emit(ctx, obs.ICEventServiceComplete, obs.ICEvent{PID: req.PID, IOType: int(req.IOType)}) //nolint:errcheck
			c.sendIRQ1(ctx)
			c.inflight = nil
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func (c *Controller) sendIRQ0(ctx context.Context) {
	events.ICTick(ctx)
	c.obs.Metrics.Counter(obs.ICTicksTotal).Inc()
	_ = c.obs.Hooks.Emit(ctx, obs.ICEventTick, obs.ICEvent{}) //nolint:errcheck
	_ = syscall.Kill(c.kernelPID, syscall.SIGUSR1)
}

func (c *Controller) sendIRQ1(_ context.Context) {
	_ = syscall.Kill(c.kernelPID, syscall.SIGUSR2)
}

func (c *Controller) drainFIFO(ctx context.Context, reader *reqchan.Reader) {
	reqs, malformed, err := reader.ReadRequests()
	for i := 0; i < malformed; i++ {
		events.ICMalformedRequest(ctx)
		c.obs.Metrics.Counter(obs.ICMalformedLinesTotal).Inc()
	}
	if err != nil {
		return
	}
	for _, req := range reqs {
		if len(c.queue) >= queueCapacity {
			events.ICQueueOverflow(ctx, req.PID)
			c.obs.Metrics.Counter(obs.ICRequestsDroppedTotal).Inc()
			continue
		}
		c.queue = append(c.queue, req)
		c.obs.Metrics.Counter(obs.ICRequestsQueuedTotal).Inc()
		c.obs.Metrics.Gauge(obs.ICQueueDepthGauge).Set(float64(len(c.queue)))
	}
}
