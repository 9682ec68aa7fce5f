// Package pipe implements the bounded ring-buffer pipes spec.md §4.I
// describes: make_pipe() returns a read end and a write end sharing
// one fixed-size circular buffer, with the write end's liveness used
// by the read end to detect EOF.
//
// The teacher's circbuf.Circbuf_t (src/circbuf/circbuf.go) is the
// model: a fixed backing array plus monotonically increasing
// head/tail counters, indexed mod the buffer size, with
// Full/Empty/Left/Used derived from head-tail. circbuf additionally
// supports lazy page-backed allocation and zero-copy Rawread/Rawwrite
// for TCP reassembly, neither of which this core's fixed, small,
// always-allocated pipe buffer needs.
//
// Reads and writes here are non-blocking primitives: they report
// "nothing happened yet, try again" rather than parking the caller,
// because blocking in this simulated kernel means "release the lock,
// yield to the scheduler, retry" (spec.md §9's cooperative-coroutine
// design note) — a loop that belongs to whatever owns the scheduler
// (internal/syscall's blocking-syscall dispatch), not to this package.
package pipe

import (
	"io"
	"sync"

	"rvkernel/internal/kconfig"
)

// buffer is the ring shared between one pipe's two ends.
type buffer struct {
	mu          sync.Mutex
	data        [kconfig.PipeBufSize]byte
	head, tail  int // monotonically increasing; indices are mod PipeBufSize
	writerAlive bool
}

func (b *buffer) availableRead() int  { return b.head - b.tail }
func (b *buffer) availableWrite() int { return kconfig.PipeBufSize - b.availableRead() }

func (b *buffer) readLocked(p []byte) int {
	n := b.availableRead()
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = b.data[(b.tail+i)%kconfig.PipeBufSize]
	}
	b.tail += n
	return n
}

func (b *buffer) writeLocked(p []byte) int {
	n := b.availableWrite()
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		b.data[(b.head+i)%kconfig.PipeBufSize] = p[i]
	}
	b.head += n
	return n
}

// ReadEnd is a pipe's read end. It implements proc.FileCap.
type ReadEnd struct {
	buf *buffer
}

// WriteEnd is a pipe's write end. It implements proc.FileCap.
type WriteEnd struct {
	buf    *buffer
	closed bool
}

// New returns a fresh pipe's read and write ends sharing one
// kconfig.PipeBufSize-byte ring buffer, per spec.md's make_pipe().
func New() (*ReadEnd, *WriteEnd) {
	b := &buffer{writerAlive: true}
	return &ReadEnd{buf: b}, &WriteEnd{buf: b}
}

// Readable reports that a read end can be read.
func (r *ReadEnd) Readable() bool { return true }

// Writable reports that a read end cannot be written.
func (r *ReadEnd) Writable() bool { return false }

// Read copies up to len(p) available bytes into p. It returns (0,
// nil) — not blocked, not EOF, just nothing buffered yet — when the
// ring is empty and the write end is still alive; the caller is
// expected to yield and retry. Once the write end has closed and the
// ring has drained, it returns io.EOF.
func (r *ReadEnd) Read(p []byte) (int, error) {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()
	if r.buf.availableRead() == 0 {
		if !r.buf.writerAlive {
			return 0, io.EOF
		}
		return 0, nil
	}
	return r.buf.readLocked(p), nil
}

// Write always fails on a read end.
func (r *ReadEnd) Write(p []byte) (int, error) {
	return 0, errReadEndNotWritable
}

// Close on a read end is a no-op: only the write end's liveness is
// tracked (buffer.writerAlive), so dropping the read end needs no
// bookkeeping.
func (r *ReadEnd) Close() error { return nil }

// Readable reports that a write end cannot be read.
func (w *WriteEnd) Readable() bool { return false }

// Writable reports that a write end can be written.
func (w *WriteEnd) Writable() bool { return true }

// Read always fails on a write end.
func (w *WriteEnd) Read(p []byte) (int, error) {
	return 0, errWriteEndNotReadable
}

// Write copies up to len(p) bytes into the ring, as much as currently
// fits. It returns (0, nil) when the ring is full — not an error, just
// "try again after yielding" — matching Read's non-blocking contract.
func (w *WriteEnd) Write(p []byte) (int, error) {
	n, _, err := w.WriteWoke(p)
	return n, err
}

// WriteWoke behaves like Write but additionally reports whether this
// call made data available in a ring that was empty beforehand — the
// condition spec.md §4.I ties to boosting the reader's priority once
// it is next scheduled. The blocking-syscall dispatcher (internal
// /syscall) uses this to decide whether to request a boost from the
// scheduler after a pipe write.
func (w *WriteEnd) WriteWoke(p []byte) (n int, woke bool, err error) {
	w.buf.mu.Lock()
	defer w.buf.mu.Unlock()
	wasEmpty := w.buf.availableRead() == 0
	if w.buf.availableWrite() == 0 {
		return 0, false, nil
	}
	n = w.buf.writeLocked(p)
	return n, wasEmpty && n > 0, nil
}

// Close marks the write end dead, so a subsequent Read that drains the
// ring observes EOF instead of retrying forever.
func (w *WriteEnd) Close() error {
	w.buf.mu.Lock()
	defer w.buf.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.buf.writerAlive = false
	return nil
}
