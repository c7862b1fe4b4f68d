// Package reqchan implements the I/O request channel: a named FIFO carrying
// lines of the form "<pid> <type>\n" from the Kernel (the only writer) to the
// Interrupt Controller (the only reader). See spec.md §4.2 and §6.
package reqchan

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/miguelsom/rrkernel/internal/shmtable"
)

// Request is one parsed line from the channel.
type Request struct {
	PID    int
	IOType shmtable.IOType
}

// Create makes the named FIFO at path. Fatal if it fails for a reason other
// than the FIFO already existing (a stale file from a previous crashed run
// is removed and recreated).
func Create(path string) error {
	if err := unix.Mkfifo(path, 0o600); err != nil {
		if err == unix.EEXIST {
			if rmErr := os.Remove(path); rmErr != nil {
				return fmt.Errorf("reqchan: remove stale fifo %s: %w", path, rmErr)
			}
			if err := unix.Mkfifo(path, 0o600); err != nil {
				return fmt.Errorf("reqchan: mkfifo %s: %w", path, err)
			}
			return nil
		}
		return fmt.Errorf("reqchan: mkfifo %s: %w", path, err)
	}
	return nil
}

// Unlink removes the FIFO's backing path. Safe to call if it's already gone.
func Unlink(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reqchan: unlink %s: %w", path, err)
	}
	return nil
}

// Writer is the Kernel's write end.
type Writer struct {
	f *os.File
}

// OpenWriter opens path for writing, blocking until the Interrupt Controller
// opens the read end. This blocking open is the rendezvous point spec.md §6
// describes ("opens its own write end of the channel (blocking until the IC
// opens the read end)").
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("reqchan: open writer %s: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// WriteRequest appends one "<pid> <type>\n" line.
func (w *Writer) WriteRequest(pid int, ioType shmtable.IOType) error {
	line := fmt.Sprintf("%d %d\n", pid, int32(ioType))
	_, err := w.f.WriteString(line)
	if err != nil {
		return fmt.Errorf("reqchan: write request: %w", err)
	}
	return nil
}

// Close closes the write end.
func (w *Writer) Close() error { return w.f.Close() }

// Reader is the Interrupt Controller's read end, opened non-blocking so a
// missing or momentarily-empty channel never stalls the tick loop.
//
// It reads directly off the raw fd with unix.Read instead of wrapping the fd
// in an *os.File. os.NewFile registers the descriptor with the Go runtime's
// netpoller, which treats an EAGAIN from a non-blocking read as "park this
// goroutine until the fd is readable" rather than returning it to the
// caller. Since the Kernel holds its FIFO writer open for nearly the whole
// run, the read end never sees EOF, so that retry-on-EAGAIN behavior would
// block the Interrupt Controller's single-threaded loop forever the first
// time it polls an empty channel.
type Reader struct {
	fd   int
	pend []byte // bytes read but not yet split into a complete line
}

// OpenReaderNonblock opens path O_NONBLOCK|O_RDONLY. A missing FIFO is
// reported to the caller, who per spec.md §4.2 treats it as non-fatal.
func OpenReaderNonblock(path string) (*Reader, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("reqchan: open reader %s: %w", path, err)
	}
	return &Reader{fd: fd}, nil
}

// Close closes the read end.
func (r *Reader) Close() error {
	if r == nil || r.fd < 0 {
		return nil
	}
	err := unix.Close(r.fd)
	r.fd = -1
	return err
}

// ReadRequests drains whatever is currently available without blocking,
// returning zero or more fully-parsed requests plus a count of lines that
// were discarded for being malformed, per spec.md §7 ("Malformed lines are
// discarded").
func (r *Reader) ReadRequests() (reqs []Request, malformed int, err error) {
	chunk := make([]byte, 4096)
	for {
		n, rerr := unix.Read(r.fd, chunk)
		if n > 0 {
			r.pend = append(r.pend, chunk[:n]...)
		}
		if rerr != nil {
			if isWouldBlock(rerr) {
				break
			}
			return reqs, malformed, fmt.Errorf("reqchan: read: %w", rerr)
		}
		if n <= 0 {
			// No writer currently connected; nothing more to read right now.
			break
		}
	}

	for {
		idx := bytes.IndexByte(r.pend, '\n')
		if idx < 0 {
			break
		}
		line := string(r.pend[:idx+1])
		r.pend = r.pend[idx+1:]
		if req, ok := parseLine(line); ok {
			reqs = append(reqs, req)
		} else {
			malformed++
		}
	}
	return reqs, malformed, nil
}

func parseLine(line string) (Request, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Request{}, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Request{}, false
	}
	t, err := strconv.Atoi(fields[1])
	if err != nil || (t != int(shmtable.ReadIO) && t != int(shmtable.WriteIO)) {
		return Request{}, false
	}
	return Request{PID: pid, IOType: shmtable.IOType(t)}, true
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
