package syscall

import (
	"encoding/binary"
	"io"

	"rvkernel/internal/kconfig"
	"rvkernel/internal/pipe"
	"rvkernel/internal/proc"
)

// sysOpen implements syscall 56: open or create a name in the root
// directory (spec.md's file system has no per-process cwd and no
// subdirectories beyond root, matching its Non-goals), returning a new
// fd or -1.
func (t *Table) sysOpen(pcb *proc.PCB, pathVA uintptr, flags int) int64 {
	name, err := pcb.AddressSpace().CopyInString(pathVA, kconfig.DirentNameMax)
	if err != nil {
		return -1
	}

	root := t.FS.Root()
	inode, ok := root.Find(name)
	if !ok {
		if flags&OpenCreate == 0 {
			return -1
		}
		inode, err = root.Create(name)
		if err != nil {
			return -1
		}
	}

	fd := pcb.FDTable().Install(&fileHandle{inode: inode})
	return int64(fd)
}

// sysClose implements syscall 57.
func (t *Table) sysClose(pcb *proc.PCB, fd int) int64 {
	if err := pcb.FDTable().Close(fd); err != nil {
		return -1
	}
	return 0
}

// sysPipe implements syscall 59: create a pipe, install both ends, and
// write the two fd numbers into the user's [2]int32 array at fdsVA.
func (t *Table) sysPipe(pcb *proc.PCB, fdsVA uintptr) int64 {
	r, w := pipe.New()
	rfd := pcb.FDTable().Install(r)
	wfd := pcb.FDTable().Install(w)

	t.mu.Lock()
	t.pairOf[w] = r
	t.mu.Unlock()

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rfd))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wfd))
	if err := pcb.AddressSpace().CopyOut(fdsVA, buf[:]); err != nil {
		return -1
	}
	return 0
}

// sysRead implements syscall 63. A pipe or stdin end with nothing
// buffered yet returns retryLater rather than blocking (spec.md §5's
// cooperative model can only suspend by handing the scheduler token
// back, which this synchronous dispatch call cannot do mid-call); the
// caller is expected to sys_yield and retry, exactly like waitpid's
// -2 "no zombie yet" contract.
func (t *Table) sysRead(pcb *proc.PCB, fd int, bufVA uintptr, length int) int64 {
	cap, ok := pcb.FDTable().Get(fd)
	if !ok || !cap.Readable() {
		return -1
	}

	tmp := make([]byte, length)
	n, err := cap.Read(tmp)
	if re, isPipe := cap.(*pipe.ReadEnd); isPipe {
		t.trackPipeRead(re, pcb, n, err)
	}
	if err == io.EOF {
		return 0
	}
	if err != nil {
		return -1
	}
	if n == 0 {
		return retryLater
	}
	if err := pcb.AddressSpace().CopyOut(bufVA, tmp[:n]); err != nil {
		return -1
	}
	return int64(n)
}

// trackPipeRead records re as "pcb is retry-blocked here" whenever a
// read comes back empty, and forgets it once a read succeeds — the
// registry sysWrite's WriteWoke handoff consults to decide whom to
// boost (spec.md §4.F's I/O-priority-boost rule).
func (t *Table) trackPipeRead(re *pipe.ReadEnd, pcb *proc.PCB, n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n == 0 && err == nil {
		t.blocked[re] = pcb
		return
	}
	delete(t.blocked, re)
}

// sysWrite implements syscall 64, symmetric to sysRead. A pipe write
// that transitions the ring from empty to non-empty (pipe.WriteWoke's
// woke result) boosts whichever reader sysRead last recorded as
// blocked on the paired read end, per spec.md §4.F.
func (t *Table) sysWrite(pcb *proc.PCB, fd int, bufVA uintptr, length int) int64 {
	cap, ok := pcb.FDTable().Get(fd)
	if !ok || !cap.Writable() {
		return -1
	}

	buf := make([]byte, length)
	if err := pcb.AddressSpace().CopyIn(bufVA, buf); err != nil {
		return -1
	}

	we, isPipe := cap.(*pipe.WriteEnd)
	if !isPipe {
		n, err := cap.Write(buf)
		if err != nil {
			return -1
		}
		if n == 0 {
			return retryLater
		}
		return int64(n)
	}

	n, woke, err := we.WriteWoke(buf)
	if err != nil {
		return -1
	}
	if n == 0 {
		return retryLater
	}
	if woke {
		t.boostBlockedReader(we)
	}
	return int64(n)
}

func (t *Table) boostBlockedReader(we *pipe.WriteEnd) {
	t.mu.Lock()
	re, ok := t.pairOf[we]
	if !ok {
		t.mu.Unlock()
		return
	}
	reader, blocked := t.blocked[re]
	if blocked {
		delete(t.blocked, re)
	}
	t.mu.Unlock()

	if blocked {
		t.Sched.Boost(reader)
	}
}

// sysDup implements SPEC_FULL.md's supplemented sys_dup, via the
// teacher's Copyfd-style shared-refcount duplication already built
// into proc.FDTable.Dup.
func (t *Table) sysDup(pcb *proc.PCB, fd int) int64 {
	nfd, ok := pcb.FDTable().Dup(fd)
	if !ok {
		return -1
	}
	return int64(nfd)
}

// Stat_t mirrors biscuit's stat/stat.go stat structure, narrowed to
// the three fields SPEC_FULL.md's supplemented fstat reports.
type Stat_t struct {
	Ino  uint64
	Size uint64
	Kind uint32
}

// sysFstat implements SPEC_FULL.md's supplemented syscall 80: writes a
// Stat_t for a regular-file fd into user memory. Other fd kinds
// (stdio, pipe ends) have no inode to report and fail with -1.
func (t *Table) sysFstat(pcb *proc.PCB, fd int, statVA uintptr) int64 {
	cap, ok := pcb.FDTable().Get(fd)
	if !ok {
		return -1
	}
	fh, ok := cap.(*fileHandle)
	if !ok {
		return -1
	}

	size, kind := fh.inode.Stat()
	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(fh.inode.ID()))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(size))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(kind))
	if err := pcb.AddressSpace().CopyOut(statVA, buf[:]); err != nil {
		return -1
	}
	return 0
}
