package sched

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/miguelsom/rrkernel/internal/events"
	"github.com/miguelsom/rrkernel/internal/procctl"
	"github.com/miguelsom/rrkernel/internal/reqchan"
	"github.com/miguelsom/rrkernel/internal/shmtable"
)

// defaultGracePeriod is how long Run waits after SIGTERM before escalating
// to SIGKILL, per spec.md §4.3 "Termination" / §8 scenario 6.
const defaultGracePeriod = 1 * time.Second

// Config collects everything Run needs to bring the Kernel, the Interrupt
// Controller, and the worker fleet up.
type Config struct {
	TablePath string
	FIFOPath  string
	Quantum   time.Duration
	Duration  time.Duration // total run budget; expiry ends the run early
	NProcs    int
	ICPath    string
	ICArgs    []string
	// WorkerCmds holds one [executable, args...] slice per "--"-delimited
	// block from the Kernel CLI. Run spawns each with the shared-table path
	// appended after the block's own arguments, as its final argument.
	WorkerCmds [][]string

	// GracePeriod overrides defaultGracePeriod if positive. Tests inject a
	// short one alongside a fake Clock to exercise the SIGKILL escalation
	// path without a real-time sleep.
	GracePeriod time.Duration
	// Clock overrides the Kernel's and Run's own time source. Defaults to
	// clockz.RealClock (SPEC_FULL.md §1 "Clock injection").
	Clock clockz.Clock
}

// irqFlags are the only state a signal handler is allowed to touch (§9):
// every decision is made later, in the Run loop, never inside the handler.
type irqFlags struct {
	irq0 int32
	irq1 int32
	term int32
}

func (f *irqFlags) raiseIRQ0() { atomic.StoreInt32(&f.irq0, 1) }
func (f *irqFlags) raiseIRQ1() { atomic.StoreInt32(&f.irq1, 1) }
func (f *irqFlags) raiseTerm() { atomic.StoreInt32(&f.term, 1) }

func (f *irqFlags) takeIRQ0() bool { return atomic.SwapInt32(&f.irq0, 0) != 0 }
func (f *irqFlags) takeIRQ1() bool { return atomic.SwapInt32(&f.irq1, 0) != 0 }
func (f *irqFlags) takeTerm() bool { return atomic.LoadInt32(&f.term) != 0 }

// Run brings up the shared table, the request channel, the Interrupt
// Controller, and every worker, then drives the scheduler until every
// worker reaches DONE, cfg.Duration elapses, ctx is canceled, or the
// process receives SIGINT/SIGTERM. It always
// returns after a full teardown (§3: "release on all exit paths is
// mandatory"), even when it returns a non-nil error.
func Run(ctx context.Context, cfg Config) error {
	table, err := shmtable.Create(cfg.TablePath, cfg.NProcs)
	if err != nil {
		return fatal("create shared table", err)
	}
	defer table.Destroy() //nolint:errcheck

	if err := reqchan.Create(cfg.FIFOPath); err != nil {
		return fatal("create request channel", err)
	}
	defer reqchan.Unlink(cfg.FIFOPath) //nolint:errcheck

	// The Interrupt Controller's CLI order is <kernel_pid> <table_path>
	// (SPEC_FULL.md §8 open question 1); the Kernel's own pid is never a
	// caller-supplied value, so it's filled in here rather than threaded
	// through Config.
	icArgs := append(append([]string{}, cfg.ICArgs...), strconv.Itoa(os.Getpid()))
	icProc, err := procctl.Spawn(cfg.ICPath, icArgs, cfg.TablePath)
	if err != nil {
		return fatal("spawn interrupt controller", err)
	}
	// spawned holds every child started so far, so a setup failure below
	// can kill and reap them before returning.
	spawned := []int{icProc.Pid}
	abort := func(op string, err error) error {
		for _, pid := range spawned {
			_ = procctl.Kill(pid)
			procctl.Wait(pid)
		}
		return fatal(op, err)
	}

	reqWriter, err := reqchan.OpenWriter(cfg.FIFOPath)
	if err != nil {
		return abort("open request channel writer", err)
	}
	defer reqWriter.Close() //nolint:errcheck

	clock := cfg.Clock
	if clock == nil {
		clock = clockz.RealClock
	}
	k := NewKernel(table, cfg.Quantum, reqWriter).WithClock(clock)
	defer k.obs.Close()

	for i := 0; i < cfg.NProcs; i++ {
		cmdline := cfg.WorkerCmds[i]
		proc, err := procctl.Spawn(cmdline[0], cmdline[1:], cfg.TablePath)
		if err != nil {
			return abort(fmt.Sprintf("spawn worker %d", i), err)
		}
		spawned = append(spawned, proc.Pid)
		if err := procctl.Stop(proc.Pid); err != nil {
			return abort(fmt.Sprintf("stop worker %d after spawn", i), err)
		}
		k.RegisterWorker(ctx, i, proc.Pid)
	}

	flags := &irqFlags{}
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				flags.raiseIRQ0()
			case syscall.SIGUSR2:
				flags.raiseIRQ1()
			case syscall.SIGTERM, syscall.SIGINT:
				flags.raiseTerm()
			}
		}
	}()

	if n := k.pickNext(); n >= 0 {
		k.dispatch(ctx, n)
	}

	// IRQ0/IRQ1 arrive as real SIGUSR1/SIGUSR2 sent by the Interrupt
	// Controller process; the Kernel never generates its own timer tick.
	// A separate duration timer bounds the whole run independently of the
	// tick source, mirroring trab1_inf1316/kernel.c's elapsed/DURATION loop
	// ("Todos os processos terminaram. Encerrando antes do tempo." / "Tempo
	// encerrado. Finalizando processos...").
	deadline := clock.Now().Add(cfg.Duration)
	reason := "all workers done"
	running := true
	for running {
		select {
		case <-ctx.Done():
			running = false
			reason = "context canceled"
		default:
		}

		if flags.takeTerm() {
			running = false
			reason = "signal received"
		}
		if flags.takeIRQ0() {
			k.OnIRQ0(ctx)
		}
		if flags.takeIRQ1() {
			k.OnIRQ1(ctx)
		}
		if k.AllDone() {
			running = false
		}
		if cfg.Duration > 0 && clock.Now().After(deadline) {
			running = false
			reason = "duration elapsed"
		}

		time.Sleep(10 * time.Millisecond)
	}

	events.Shutdown(ctx, reason)
	table.SetDone()

	gracePeriod := cfg.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}

	workerPIDs := make([]int, cfg.NProcs)
	for i := 0; i < cfg.NProcs; i++ {
		pid := table.WorkerPID(i)
		workerPIDs[i] = pid
		_ = procctl.Continue(pid)
		_ = procctl.Terminate(pid)
	}
	terminateWithGrace(clock, workerPIDs, gracePeriod)

	_ = procctl.Terminate(icProc.Pid)
	terminateWithGrace(clock, []int{icProc.Pid}, gracePeriod)

	return nil
}

// terminateWithGrace polls pids (already sent SIGTERM by the caller) until
// every one has been reaped or gracePeriod elapses, whichever comes first;
// anything still alive past the deadline is escalated to SIGKILL and
// blocking-waited. Mirrors spec.md §4.3 "Termination": "SIGTERM... wait one
// grace period... SIGKILL any still-alive, reap all."
func terminateWithGrace(clock clockz.Clock, pids []int, gracePeriod time.Duration) {
	deadline := clock.Now().Add(gracePeriod)
	for {
		allExited := true
		for _, pid := range pids {
			if exited, _ := procctl.ReapNonblocking(pid); !exited {
				allExited = false
			}
		}
		if allExited {
			return
		}
		if !clock.Now().Before(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, pid := range pids {
		_ = procctl.Kill(pid)
		procctl.Wait(pid)
	}
}
