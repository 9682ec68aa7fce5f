package syscall

import (
	"encoding/binary"

	"rvkernel/internal/proc"
)

// maxPathLen bounds sys_exec's path and argv user-string reads, like
// internal/vm.AddressSpace.CopyInString's own maxLen contract. sys_open
// bounds its name by kconfig.DirentNameMax instead.
const maxPathLen = 64

// sysExit implements syscall 93: mark pcb Zombie, re-parent its
// children onto init, and tear down its address space (spec.md §4.E's
// Exit). It does not return a value; the process never resumes.
func (t *Table) sysExit(pcb *proc.PCB, code int32) {
	t.Kernel.Exit(pcb, int(code), t.init)
}

// sysSetPriority implements SPEC_FULL.md's supplemented syscall 141:
// a process setting its own MLFQ level directly, independent of the
// automatic demotion path.
func (t *Table) sysSetPriority(pcb *proc.PCB, level int) int64 {
	t.Sched.SetPriority(pcb, level)
	return 0
}

// sysFork implements syscall 220: clone pcb via proc.Kernel.Fork, push
// the child onto the ready queue at level 0, and return the child's
// PID to the parent (the child's own a0 is already 0, set by Fork
// itself, and is what it sees on its own first resumption).
func (t *Table) sysFork(pcb *proc.PCB) proc.PID {
	child := t.Kernel.Fork(pcb)
	t.Sched.AddNew(child)
	if t.OnFork != nil {
		t.OnFork(child)
	}
	return child.PID()
}

// sysExec implements syscall 221: read the named file out of the root
// directory, parse it as an ELF image, and replace pcb's address space
// with it (spec.md §4.E's Exec). Returns argc on success, -1 if the
// path does not exist or the image fails to load.
func (t *Table) sysExec(pcb *proc.PCB, pathVA, argvVA uintptr) int64 {
	space := pcb.AddressSpace()
	name, err := space.CopyInString(pathVA, maxPathLen)
	if err != nil {
		return -1
	}

	inode, ok := t.FS.Root().Find(name)
	if !ok {
		return -1
	}
	size, _ := inode.Stat()
	image := make([]byte, size)
	inode.ReadAt(0, image)

	argv, err := readArgv(space, argvVA)
	if err != nil {
		return -1
	}

	if err := t.Kernel.Exec(pcb, image, argv); err != nil {
		return -1
	}
	return int64(len(argv))
}

// sysWaitpid implements syscall 260 (spec.md §4.E's Wait). pid == -1
// means "any child". Returns -1 (no matching child at all), retryLater
// (matching children exist but none are Zombie yet — the caller
// retries after yielding), or the reaped child's PID with its exit
// code written into user memory at exitVA.
func (t *Table) sysWaitpid(pcb *proc.PCB, pid int32, exitVA uintptr) int64 {
	anyChild := pid == -1
	gotPID, exitCode, status := t.Kernel.Wait(pcb, proc.PID(pid), anyChild)
	if status != 0 {
		return int64(status)
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(int32(exitCode)))
	if err := pcb.AddressSpace().CopyOut(exitVA, buf[:]); err != nil {
		return -1
	}
	return int64(gotPID)
}
