// Package trap implements the user<->supervisor trap protocol (spec.md
// §4.D): a per-process TrapContext standing in for the saved register
// file, and a Handler that dispatches a trap to the syscall table, the
// signal machinery, or the scheduler depending on cause.
//
// The real protocol's two assembly stubs, __alltraps and __restore,
// live entirely inside the trampoline page so they have the same VA in
// every address space. Stock Go cannot execute hand-written RISC-V
// privileged-mode assembly, so this package simulates the protocol's
// observable effects instead of the instructions themselves: "enter a
// trap" means capturing a TrapContext snapshot, "return from a trap"
// means handing one back out. This mirrors the trap-entry/trap-return
// split visible in other_examples/justanotherdot-biscuit's trapstub,
// adapted from x86-64 interrupt gates to the Sv39 trampoline scheme.
package trap

import (
	"rvkernel/internal/kernlog"
)

var log = kernlog.For("trap")

// Cause identifies why control entered the trap handler, mirroring the
// scause values spec.md §4.D dispatches on.
type Cause int

const (
	CauseSyscall Cause = iota
	CauseStorePageFault
	CauseLoadPageFault
	CauseInstructionPageFault
	CauseStoreFault
	CauseIllegalInstruction
	CauseTimerInterrupt
)

func (c Cause) String() string {
	switch c {
	case CauseSyscall:
		return "syscall"
	case CauseStorePageFault:
		return "store-page-fault"
	case CauseLoadPageFault:
		return "load-page-fault"
	case CauseInstructionPageFault:
		return "instruction-page-fault"
	case CauseStoreFault:
		return "store-fault"
	case CauseIllegalInstruction:
		return "illegal-instruction"
	case CauseTimerInterrupt:
		return "timer-interrupt"
	default:
		return "unknown-cause"
	}
}

// isMemoryFault reports whether c is one of the four memory-access
// faults spec.md §4.D collapses into "record SIGSEGV and continue".
func (c Cause) isMemoryFault() bool {
	switch c {
	case CauseStorePageFault, CauseLoadPageFault, CauseInstructionPageFault, CauseStoreFault:
		return true
	}
	return false
}

// TrapContext is the saved register file of a trapped user process: 32
// general-purpose registers, sstatus, sepc, plus the three fields
// __alltraps needs to resume in the kernel (kernel satp, kernel sp, and
// the trap-handler VA to jump to).
type TrapContext struct {
	GPR         [32]uint64
	Sstatus     uint64
	Sepc        uint64
	KernelSatp  uint64
	KernelSp    uint64
	TrapHandler uintptr
}

// Register indices into GPR, named the way the RISC-V calling
// convention names them, for the ones this package touches directly.
const (
	regA0 = 10
	regA1 = 11
	regA2 = 12
	regA7 = 17
	regSP = 2
)

// NewTrapContext builds the initial trap context for a process about to
// run for the first time (used by Fork's child and by Exec), matching
// the fields spec.md §4.E's Fork/Exec steps populate.
func NewTrapContext(entry, userSP, kernelSatp, kernelSp uintptr, trapHandler uintptr) *TrapContext {
	ctx := &TrapContext{
		Sepc:        uint64(entry),
		KernelSatp:  uint64(kernelSatp),
		KernelSp:    uint64(kernelSp),
		TrapHandler: trapHandler,
	}
	ctx.GPR[regSP] = uint64(userSP)
	return ctx
}

// A0..A2 read the three syscall argument registers; A7 reads the
// syscall number register.
func (c *TrapContext) A0() uint64  { return c.GPR[regA0] }
func (c *TrapContext) A1() uint64  { return c.GPR[regA1] }
func (c *TrapContext) A2() uint64  { return c.GPR[regA2] }
func (c *TrapContext) A7() uint64  { return c.GPR[regA7] }
func (c *TrapContext) SP() uint64  { return c.GPR[regSP] }
func (c *TrapContext) SetA0(v uint64) { c.GPR[regA0] = v }
func (c *TrapContext) SetSP(v uint64) { c.GPR[regSP] = v }

// SetSyscall stages a7/a0-a2 the way real user code would just before
// trapping with CauseSyscall. cmd/kernel's scheduler loop has no
// instruction stream to run ahead of the trap, so it uses this to drive
// each process's next step directly.
func (c *TrapContext) SetSyscall(a7 uint64, args [3]uint64) {
	c.GPR[regA7] = a7
	c.GPR[regA0] = args[0]
	c.GPR[regA1] = args[1]
	c.GPR[regA2] = args[2]
}

// Args packs a0..a2, the argument triple every syscall in spec.md
// §4.K's table receives.
func (c *TrapContext) Args() [3]uint64 { return [3]uint64{c.A0(), c.A1(), c.A2()} }

// Process is the subset of a PCB the trap handler needs. Re-fetching
// the trap context through CurrentContext (rather than holding a
// pointer captured once) is required by spec.md §4.D step 3: an exec
// syscall can replace the address space, and with it the trap-context
// page, mid-dispatch.
type Process interface {
	CurrentContext() *TrapContext
	RecordSignal(sig int)
	Killed() (killed bool, code int)
}

// Scheduler is the subset of the MLFQ scheduler the timer-interrupt
// path needs.
type Scheduler interface {
	ArmNextTimer()
	ChargeTick(proc Process) (sliceExhausted bool)
	DemoteAndReschedule(proc Process)
}

// Dispatcher runs one syscall given its number and argument triple.
type Dispatcher interface {
	Dispatch(proc Process, a7 uint64, args [3]uint64) uint64
}

// SignalChecker runs the pending-signal machinery described in spec.md
// §4.J against a process's trap context, returning whether the process
// ends up killed and with what exit code.
type SignalChecker interface {
	CheckPending(proc Process, ctx *TrapContext) (killed bool, code int)
}

// Outcome reports what the handler decided after dispatch and signal
// handling: either the process should keep running (with its trap
// context ready for TrapReturn) or it has been killed and should exit.
type Outcome struct {
	Killed   bool
	ExitCode int
}

// Handle runs spec.md §4.D's trap_handler steps 2-5 for one trap. Step
// 1 (redirecting stvec to the kernel-mode bouncer) and step 6
// (trap_return) have no stateful analogue in this simulation and are
// represented by TrapReturn below.
func Handle(cause Cause, stval uintptr, proc Process, sched Scheduler, disp Dispatcher, sig SignalChecker) Outcome {
	ctx := proc.CurrentContext()

	switch {
	case cause == CauseSyscall:
		ctx.Sepc += 4
		a7, args := ctx.A7(), ctx.Args()
		ret := disp.Dispatch(proc, a7, args)
		// Re-fetch: exec may have installed a new trap context.
		ctx = proc.CurrentContext()
		ctx.SetA0(ret)

	case cause.isMemoryFault():
		log.WithField("cause", cause.String()).WithField("stval", stval).Warn("memory fault")
		proc.RecordSignal(sigSEGV)

	case cause == CauseIllegalInstruction:
		log.Warn("illegal instruction")
		proc.RecordSignal(sigILL)

	case cause == CauseTimerInterrupt:
		sched.ArmNextTimer()
		if sched.ChargeTick(proc) {
			sched.DemoteAndReschedule(proc)
		}

	default:
		panic("trap: unhandled cause " + cause.String())
	}

	killed, code := sig.CheckPending(proc, proc.CurrentContext())
	if killed {
		return Outcome{Killed: true, ExitCode: code}
	}
	if k, c := proc.Killed(); k {
		return Outcome{Killed: true, ExitCode: c}
	}
	return Outcome{}
}

// The two signal numbers this package raises directly; internal/signal
// owns the full table, but trap dispatch needs these two constants to
// avoid an import cycle (signal will, in turn, import trap's
// TrapContext type for the user-handler trampoline).
const (
	sigSEGV = 11
	sigILL  = 4
)

// TrapReturn is the software stand-in for __restore: it hands back the
// trap-context VA and user satp that a real __restore would consume as
// arguments before executing sret. No package in this core consumes
// it: internal/sched resumes a process by handing its worker goroutine
// the scheduling token.
type TrapReturn struct {
	ContextVA uintptr
	UserSatp  uint64
}

// Return builds the TrapReturn value for resuming proc after its trap
// context has been finalized by Handle (or by Fork/Exec).
func Return(contextVA uintptr, userSatp uint64) TrapReturn {
	return TrapReturn{ContextVA: contextVA, UserSatp: userSatp}
}
