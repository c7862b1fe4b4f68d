// Package workerproc implements the Worker: the simulated user process that
// attaches to the shared table, runs a 20-instruction virtual program, and
// optionally raises I/O requests along the way. Ground truth:
// original_source/TRAB1/app_rw.c (Mixed mode) and app_cpu.c (CPUOnly mode).
package workerproc

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/miguelsom/rrkernel/internal/shmtable"
)

// Mode selects whether a worker ever raises I/O.
type Mode int

const (
	// CPUOnly never raises I/O (original_source/TRAB1/app_cpu.c).
	CPUOnly Mode = iota
	// Mixed raises a READ at pc=3 and a WRITE at pc=8, alternating the
	// type on every subsequent raise (original_source/TRAB1/app_rw.c's
	// next_io_type ^= 1).
	Mixed
)

func (m Mode) String() string {
	if m == Mixed {
		return "mixed"
	}
	return "cpu"
}

const (
	totalIterations  = 20
	instructionSleep = 1 * time.Second
	locateRetries    = 100
	locateInterval   = 50 * time.Millisecond
)

// Run attaches to the shared table at tablePath, locates its own slot,
// installs a SIGCONT handler that only sets a flag (§9: handlers never
// decide), and runs the instruction loop until all 20 iterations complete or
// ctx is canceled.
func Run(ctx context.Context, tablePath string, mode Mode) error {
	table, err := shmtable.Attach(tablePath)
	if err != nil {
		return fmt.Errorf("workerproc: attach %s: %w", tablePath, err)
	}
	defer table.Close() //nolint:errcheck

	me := os.Getpid()
	slot, err := locateSlot(table, me)
	if err != nil {
		return err
	}

	var gotSIGCONT int32
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGCONT)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			atomic.StoreInt32(&gotSIGCONT, 1)
		}
	}()

	fmt.Printf("[worker pid=%d idx=%d mode=%s] START\n", me, slot, mode)

	pc := 0
	resumes := 0
	ioRequests := 0
	nextIOType := shmtable.ReadIO

	for pc < totalIterations {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if atomic.SwapInt32(&gotSIGCONT, 0) != 0 {
			resumes++
			pc = table.PC(slot)
			fmt.Printf("[worker pid=%d idx=%d] RESUME (sigcont #%d) -> pc=%d\n", me, slot, resumes, pc)
		}

		table.SetPC(slot, pc)

		if mode == Mixed && (pc == 3 || pc == 8) {
			table.RaiseIO(slot, nextIOType)
			fmt.Printf("[worker pid=%d idx=%d] I/O REQUEST %s at pc=%d\n", me, slot, nextIOType, pc)
			ioRequests++
			if nextIOType == shmtable.ReadIO {
				nextIOType = shmtable.WriteIO
			} else {
				nextIOType = shmtable.ReadIO
			}
		}

		time.Sleep(instructionSleep)

		pc++
		table.SetPC(slot, pc)
	}

	fmt.Printf("[worker pid=%d idx=%d] DONE (iters=%d, io_requests=%d, resumes=%d)\n",
		me, slot, totalIterations, ioRequests, resumes)
	return nil
}

// locateSlot polls the table for this process's own pid, mirroring
// app_rw.c's self-location loop (the Kernel writes workerPID[i] after this
// process has already been spawned, so a short race window is expected and
// tolerated).
func locateSlot(table *shmtable.Table, pid int) (int, error) {
	for tries := 0; tries < locateRetries; tries++ {
		for i := 0; i < table.NProcs(); i++ {
			if table.WorkerPID(i) == pid {
				return i, nil
			}
		}
		time.Sleep(locateInterval)
	}
	return -1, fmt.Errorf("workerproc: pid %d not found in shared table after %d tries", pid, locateRetries)
}
