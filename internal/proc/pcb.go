// Package proc implements the process control block, PID allocation,
// kernel-stack placement, and the fork/exec/wait/exit lifecycle
// (spec.md §3, §4.E).
//
// Grounded on biscuit/src/accnt/accnt.go (Accounting), biscuit/src/fd
// /fd.go (FDTable), and biscuit/src/hashtable/hashtable.go's sharded
// bucket shape (Table below); the process-context/register-save half
// of a biscuit Proc_t has no analogue here since this core's scheduler
// (internal/sched) resumes a process by handing a goroutine its turn
// rather than restoring callee-saved registers by hand.
package proc

import (
	"sync"

	"rvkernel/internal/kconfig"
	"rvkernel/internal/kernlog"
	"rvkernel/internal/mem"
	"rvkernel/internal/signal"
	"rvkernel/internal/trap"
	"rvkernel/internal/vm"
)

var log = kernlog.For("proc")

// State is a PCB's scheduling state (spec.md §3).
type State int

const (
	Ready State = iota
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// KernelStackRange computes the VA range of PID p's kernel stack:
// spec.md §4.E's "[TRAMPOLINE − (p+1)·(STACK_SIZE + PAGE_SIZE) +
// PAGE_SIZE, TRAMPOLINE − p·(STACK_SIZE + PAGE_SIZE))", i.e. a guard
// page below the trampoline and between every pair of stacks.
func KernelStackRange(p PID) (low, high uintptr) {
	span := uintptr(kconfig.KernelStackSize + kconfig.PageSize)
	high = kconfig.Trampoline - uintptr(p)*span
	low = kconfig.Trampoline - (uintptr(p)+1)*span + kconfig.PageSize
	return low, high
}

// PCB is a process control block. Immutable fields (pid, kernel-stack
// range) are set once at construction; everything else is guarded by
// mu, per spec.md §3's "mutable, mutex-protected fields".
type PCB struct {
	mu sync.Mutex

	pid           PID
	kstackLow     uintptr
	kstackHigh    uintptr

	state         State
	space         *vm.AddressSpace
	trapCtxPPN    mem.PPN
	trapCtx       *trap.TrapContext
	userStackBase uintptr

	parent   *PCB
	children []*PCB

	exitCode int
	fds      *FDTable
	acct     Accounting

	priority  int
	sliceUsed int

	sig *signal.State
}

// newPCB builds a PCB in the Ready state. It does not register the PCB
// in any table or ready queue; callers (lifecycle.go) do that once
// construction succeeds.
func newPCB(pid PID, kernelSpace *vm.AddressSpace, space *vm.AddressSpace, trapCtxPPN mem.PPN, trapCtx *trap.TrapContext, userStackTop uintptr, parent *PCB) *PCB {
	low, high := KernelStackRange(pid)
	kernelSpace.InsertFramedArea(low, high, vm.PermR|vm.PermW)

	pcb := &PCB{
		pid:           pid,
		kstackLow:     low,
		kstackHigh:    high,
		state:         Ready,
		space:         space,
		trapCtxPPN:    trapCtxPPN,
		trapCtx:       trapCtx,
		userStackBase: userStackTop,
		parent:        parent,
		fds:           NewFDTable(),
		sig:           signal.NewState(),
	}
	return pcb
}

// PID returns the process's identifier.
func (p *PCB) PID() PID { return p.pid }

// KernelStackTop returns the highest address of this process's kernel
// stack, the value installed into its trap context's KernelSp.
func (p *PCB) KernelStackTop() uintptr { return p.kstackHigh }

// State returns the current scheduling state.
func (p *PCB) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState transitions the PCB to s.
func (p *PCB) SetState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// AddressSpace returns the process's address space.
func (p *PCB) AddressSpace() *vm.AddressSpace {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.space
}

// FDTable returns the process's file descriptor table.
func (p *PCB) FDTable() *FDTable { return p.fds }

// Accounting returns a pointer to the process's tick accounting.
func (p *PCB) Accounting() *Accounting { return &p.acct }

// Parent returns the process's parent, or nil for init.
func (p *PCB) Parent() *PCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

// Children returns a snapshot of the process's child list.
func (p *PCB) Children() []*PCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PCB, len(p.children))
	copy(out, p.children)
	return out
}

// ExitCode returns the exit code recorded by Exit, valid once the PCB
// is Zombie.
func (p *PCB) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// --- trap.Process ---

// CurrentContext returns the process's current trap context. It
// re-fetches through the PCB's own pointer each call, so a concurrent
// Exec (which installs a new TrapContext) is observed by any caller
// still mid-dispatch, per spec.md §4.D step 3.
func (p *PCB) CurrentContext() *trap.TrapContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trapCtx
}

// RecordSignal raises signum on this process.
func (p *PCB) RecordSignal(signum int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sig.Raise(signum)
}

// Killed reports whether the signal machinery has marked this process
// killed, and with what exit code.
func (p *PCB) Killed() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sig.Killed, p.sig.ExitCode
}

// --- signal.Carrier ---

// SignalState exposes the process's signal state for signal.Checker.
func (p *PCB) SignalState() *signal.State { return p.sig }

// --- scheduler-facing priority/slice bookkeeping ---

// Priority returns the process's current MLFQ queue level.
func (p *PCB) Priority() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priority
}

// SetPriority forces the process's MLFQ queue level and resets its used
// slice (used by sched.Scheduler.Add, and through it by the I/O boost,
// and by sys_set_priority).
func (p *PCB) SetPriority(level int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priority = level
	p.sliceUsed = 0
}

// ChargeTick charges one scheduler tick against the process's current
// time slice (slice(i) = MLFQBaseSlice << i), demoting one level
// (capped at MLFQLevels-1) and resetting the slice counter if it is
// exhausted. It reports whether the slice was exhausted (also true at
// the lowest level, where the level stays put), matching spec.md
// §4.D's timer-interrupt dispatch ("if the slice is exhausted, mark
// the process Ready, demote its priority one level").
func (p *PCB) ChargeTick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sliceUsed++
	p.acct.AddUser(1)
	slice := kconfig.MLFQBaseSlice << uint(p.priority)
	if p.sliceUsed < slice {
		return false
	}
	p.sliceUsed = 0
	if p.priority < kconfig.MLFQLevels-1 {
		p.priority++
	}
	return true
}

// TrapContextVA is the fixed VA every user address space maps its trap
// context at.
const TrapContextVA = kconfig.TrapContext

// TrampolineVA is the fixed VA every address space maps the trampoline
// page at.
const TrampolineVA = kconfig.Trampoline
