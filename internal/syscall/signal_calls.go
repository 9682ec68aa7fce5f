package syscall

import (
	"encoding/binary"

	"rvkernel/internal/proc"
	"rvkernel/internal/signal"
)

// sigactionSize is the wire layout sys_sigaction reads/writes: an
// 8-byte handler address followed by a 4-byte mask, matching
// signal.Action's two fields.
const sigactionSize = 12

// sysSigaction implements syscall 134 (spec.md §4.J's sigaction): reads
// the new action from newVA, installs it, and — if oldVA is non-zero —
// writes the action it replaced back to the caller. Refuses to
// override SIGKILL or SIGSTOP, per signal.State.SetAction.
func (t *Table) sysSigaction(pcb *proc.PCB, signum int, newVA, oldVA uintptr) int64 {
	var buf [sigactionSize]byte
	if err := pcb.AddressSpace().CopyIn(newVA, buf[:]); err != nil {
		return -1
	}
	next := signal.Action{
		Handler: uintptr(binary.LittleEndian.Uint64(buf[0:8])),
		Mask:    binary.LittleEndian.Uint32(buf[8:12]),
	}

	old, ok := pcb.SignalState().SetAction(signum, next)
	if !ok {
		return -1
	}

	if oldVA == 0 {
		return 0
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(old.Handler))
	binary.LittleEndian.PutUint32(buf[8:12], old.Mask)
	if err := pcb.AddressSpace().CopyOut(oldVA, buf[:]); err != nil {
		return -1
	}
	return 0
}

// sysSigprocmask implements syscall 135 (spec.md §4.J's sigprocmask):
// replaces the process's signal mask wholesale and reports the mask it
// replaced, so the caller can restore it later.
func (t *Table) sysSigprocmask(pcb *proc.PCB, mask uint32) int64 {
	old := pcb.SignalState().Mask
	pcb.SignalState().SetMask(mask)
	return int64(old)
}

// sysKill implements syscall 129 (spec.md §4.J's kill): raises signum
// on the process named by pid. Rejects an out-of-range signum or an
// unknown pid; a duplicate, already-pending signal is silently a
// no-op, matching signal.State.Raise's own dedup rule.
func (t *Table) sysKill(pcb *proc.PCB, pid proc.PID, signum int) int64 {
	if signum < 0 || signum > signal.MaxSignal {
		return -1
	}
	target, ok := t.Kernel.Procs.Lookup(pid)
	if !ok {
		return -1
	}
	target.RecordSignal(signum)
	return 0
}

// sysSigreturn implements syscall 139 (spec.md §4.J's sys_sigreturn):
// restores the trap context a user handler's entry backed up, ending
// the handler's run. Fails if no handler is currently active.
func (t *Table) sysSigreturn(pcb *proc.PCB) int64 {
	if !pcb.SignalState().Sigreturn(pcb.CurrentContext()) {
		return -1
	}
	return 0
}
