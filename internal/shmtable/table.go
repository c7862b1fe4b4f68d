// Package shmtable implements the process table shared by the Kernel, the
// Interrupt Controller, and every Worker. The original implementation this
// module is derived from (a university OS course project) used SysV shared
// memory (shmget/shmat); Go has no equivalent in its standard library, so
// this package uses a MAP_SHARED mmap over a regular file instead, addressed
// by filesystem path rather than by an IPC key. Every process that needs the
// table opens the same path.
//
// Field ownership follows a single-writer-per-field discipline instead of
// locking: pc[i] is written only by worker i, want_io[i] is set by worker i
// and cleared by the Kernel, the io_* device fields are written only by the
// Interrupt Controller (except io_done_* which the Kernel consumes and
// clears). All accessors use sync/atomic so that discipline is safe without
// a mutex, mirroring the relaxed-ordered stores a systems language would use
// in place of a volatile qualifier.
package shmtable

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MaxProcs bounds the table's worker slots. spec.md requires 3-6 live
// workers; 6 is the hard ceiling.
const MaxProcs = 6

// IOType distinguishes the two simulated device operations.
type IOType int32

const (
	ReadIO  IOType = 0
	WriteIO IOType = 1
)

func (t IOType) String() string {
	if t == WriteIO {
		return "WRITE"
	}
	return "READ"
}

// layout is the fixed-size record mapped by every process. Every field is
// int32 so the whole struct stays naturally aligned for atomic access
// regardless of where the mmap lands it.
type layout struct {
	nProcs        int32
	done          int32
	deviceBusy    int32
	ioInflightPID int32
	ioDonePID     int32
	ioDoneType    int32
	workerPID     [MaxProcs]int32
	pc            [MaxProcs]int32
	wantIO        [MaxProcs]int32
	ioType        [MaxProcs]int32
}

const layoutSize = int(unsafe.Sizeof(layout{}))

// Table is a handle onto a mapped process table. The zero value is not
// usable; construct one with Create or Attach.
type Table struct {
	path  string
	data  []byte
	l     *layout
	owner bool
}

// Create creates (truncating if necessary) the backing file at path, maps
// it MAP_SHARED, zero-initializes it, and records nProcs. The caller becomes
// the table's owner: Destroy will unlink the backing file in addition to
// unmapping it. Only the Kernel should call Create; every other component
// calls Attach.
func Create(path string, nProcs int) (*Table, error) {
	if nProcs < 1 || nProcs > MaxProcs {
		return nil, fmt.Errorf("shmtable: create %s: nProcs %d out of range [1,%d]", path, nProcs, MaxProcs)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmtable: create %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(layoutSize)); err != nil {
		return nil, fmt.Errorf("shmtable: truncate %s: %w", path, err)
	}

	t, err := mapFile(f, path)
	if err != nil {
		return nil, err
	}
	t.owner = true
	t.l.nProcs = int32(nProcs)
	return t, nil
}

// Attach opens and maps an existing table created by Create. Workers and the
// Interrupt Controller use this.
func Attach(path string) (*Table, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shmtable: attach %s: %w", path, err)
	}
	defer f.Close()
	return mapFile(f, path)
}

func mapFile(f *os.File, path string) (*Table, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, layoutSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shmtable: mmap %s: %w", path, err)
	}
	return &Table{
		path: path,
		data: data,
		l:    (*layout)(unsafe.Pointer(&data[0])),
	}, nil
}

// Close unmaps the table without removing the backing file.
func (t *Table) Close() error {
	if t == nil || t.data == nil {
		return nil
	}
	err := unix.Munmap(t.data)
	t.data = nil
	t.l = nil
	return err
}

// Destroy unmaps the table and, if this handle owns it, removes the backing
// file. Safe to call on every exit path; the Kernel must call this exactly
// once it decides the run is over (§3: "destroyed by the Kernel at
// shutdown... release on all exit paths is mandatory").
func (t *Table) Destroy() error {
	owner, path := t.owner, t.path
	if err := t.Close(); err != nil {
		return err
	}
	if owner {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("shmtable: remove %s: %w", path, err)
		}
	}
	return nil
}

// NProcs returns the configured worker count.
func (t *Table) NProcs() int { return int(atomic.LoadInt32(&t.l.nProcs)) }

// WorkerPID returns the OS pid recorded for slot i, or 0 if unset.
func (t *Table) WorkerPID(i int) int { return int(atomic.LoadInt32(&t.l.workerPID[i])) }

// SetWorkerPID is written once by the Kernel at spawn time.
func (t *Table) SetWorkerPID(i, pid int) { atomic.StoreInt32(&t.l.workerPID[i], int32(pid)) }

// PC returns worker i's last-advertised virtual instruction counter.
func (t *Table) PC(i int) int { return int(atomic.LoadInt32(&t.l.pc[i])) }

// SetPC is written only by worker i.
func (t *Table) SetPC(i, pc int) { atomic.StoreInt32(&t.l.pc[i], int32(pc)) }

// WantIO reports whether worker i is requesting I/O.
func (t *Table) WantIO(i int) bool { return atomic.LoadInt32(&t.l.wantIO[i]) != 0 }

// RaiseIO is called by worker i to request I/O of the given type.
func (t *Table) RaiseIO(i int, ioType IOType) {
	atomic.StoreInt32(&t.l.ioType[i], int32(ioType))
	atomic.StoreInt32(&t.l.wantIO[i], 1)
}

// ClearWantIO is called by the Kernel synchronously with the RUNNING/READY
// -> WAITING transition.
func (t *Table) ClearWantIO(i int) { atomic.StoreInt32(&t.l.wantIO[i], 0) }

// IOType returns the pending (or most recently cleared) I/O type for slot i.
func (t *Table) IOType(i int) IOType { return IOType(atomic.LoadInt32(&t.l.ioType[i])) }

// DeviceBusy reports whether the single simulated device is serving a
// request. Written only by the Interrupt Controller.
func (t *Table) DeviceBusy() bool { return atomic.LoadInt32(&t.l.deviceBusy) != 0 }

// SetDeviceBusy is written only by the Interrupt Controller.
func (t *Table) SetDeviceBusy(busy bool) {
	var v int32
	if busy {
		v = 1
	}
	atomic.StoreInt32(&t.l.deviceBusy, v)
}

// IOInflightPID returns the pid currently being served, or 0.
func (t *Table) IOInflightPID() int { return int(atomic.LoadInt32(&t.l.ioInflightPID)) }

// SetIOInflightPID is written only by the Interrupt Controller.
func (t *Table) SetIOInflightPID(pid int) { atomic.StoreInt32(&t.l.ioInflightPID, int32(pid)) }

// IODonePID returns the pid whose I/O most recently completed, or 0 if the
// Kernel has already consumed and cleared it.
func (t *Table) IODonePID() int { return int(atomic.LoadInt32(&t.l.ioDonePID)) }

// IODoneType returns the type of the most recently completed I/O.
func (t *Table) IODoneType() IOType { return IOType(atomic.LoadInt32(&t.l.ioDoneType)) }

// SetIODone is written only by the Interrupt Controller on service
// completion.
func (t *Table) SetIODone(pid int, ioType IOType) {
	atomic.StoreInt32(&t.l.ioDonePID, int32(pid))
	atomic.StoreInt32(&t.l.ioDoneType, int32(ioType))
}

// ClearIODone is called by the Kernel once it has consumed the completion
// summary.
func (t *Table) ClearIODone() {
	atomic.StoreInt32(&t.l.ioDonePID, 0)
	atomic.StoreInt32(&t.l.ioDoneType, 0)
}

// Done reports the global shutdown flag.
func (t *Table) Done() bool { return atomic.LoadInt32(&t.l.done) != 0 }

// SetDone is written only by the Kernel.
func (t *Table) SetDone() { atomic.StoreInt32(&t.l.done, 1) }
