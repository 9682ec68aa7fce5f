package syscall

import (
	"sync"

	"rvkernel/internal/fs"
)

// fileHandle adapts an fs.Inode (stateless at a given offset) to the
// stateful proc.FileCap contract every fd points through, the way
// biscuit's Fd_t pairs a stateless Fdops_i with the offset bookkeeping
// a concrete file implementation owns.
type fileHandle struct {
	mu     sync.Mutex
	inode  *fs.Inode
	offset int
}

func (f *fileHandle) Readable() bool { return true }
func (f *fileHandle) Writable() bool { return true }

func (f *fileHandle) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.inode.ReadAt(f.offset, p)
	f.offset += n
	return n, nil
}

func (f *fileHandle) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.inode.WriteAt(f.offset, p)
	f.offset += n
	return n, nil
}

func (f *fileHandle) Close() error { return nil }
