// Package signal implements the per-process signal state and default
// dispositions spec.md §4.J and §3 describe: a 32-bit pending/mask
// bitset pair, a 32-entry action table, and the handler trampoline that
// rewrites a trap context to resume in user-mode handler code.
//
// There is no teacher analogue (biscuit delivers signals through a
// completely different, x86-specific path the retrieved source doesn't
// include); this package is grounded directly on spec.md §4.J's
// numbered steps and the signal vocabulary original_source/os/src/task
// /signal.rs defines for the same teaching kernel.
package signal

import "rvkernel/internal/trap"

// Signal numbers this core recognizes. Values match their common Unix
// meaning so syscall tests can use familiar names.
const (
	SIGHUP  = 1
	SIGINT  = 2
	SIGQUIT = 3
	SIGILL  = 4
	SIGTRAP = 5
	SIGABRT = 6
	SIGBUS  = 7
	SIGFPE  = 8
	SIGKILL = 9
	SIGUSR1 = 10
	SIGSEGV = 11
	SIGUSR2 = 12
	SIGPIPE = 13
	SIGALRM = 14
	SIGTERM = 15
	SIGCHLD = 17
	SIGCONT = 18
	SIGSTOP = 19

	MaxSignal = 31
)

var defaultFatal = map[int]bool{
	SIGINT:  true,
	SIGILL:  true,
	SIGABRT: true,
	SIGBUS:  true,
	SIGFPE:  true,
	SIGKILL: true,
	SIGSEGV: true,
}

// Action is one entry of the 32-slot per-process action table. A zero
// Handler means "default action", per spec.md §3.
type Action struct {
	Handler uintptr
	Mask    uint32
}

// State is the mutable signal state embedded in a PCB: pending set,
// mask, action table, the signal currently being handled (-1 if none),
// the killed/frozen flags, and the trap-context backup taken while a
// user handler runs.
type State struct {
	Pending  uint32
	Mask     uint32
	Actions  [32]Action
	Handling int // signal number currently being handled, -1 if none
	Frozen   bool
	Killed   bool
	ExitCode int
	Backup   *trap.TrapContext
}

// NewState returns a State with no pending signals and no handler
// currently running.
func NewState() *State {
	return &State{Handling: -1}
}

// Raise sets the signum-th pending bit, matching sys_kill's "reject
// duplicate delivery" by reporting whether the bit actually flipped.
func (s *State) Raise(signum int) bool {
	if signum < 0 || signum > MaxSignal {
		return false
	}
	bit := uint32(1) << uint(signum)
	if s.Pending&bit != 0 {
		return false
	}
	s.Pending |= bit
	return true
}

// SetAction installs a new action for signum, refusing to override
// SIGKILL or SIGSTOP per spec.md §4.J, and returns the previous action.
func (s *State) SetAction(signum int, a Action) (Action, bool) {
	if signum < 0 || signum > MaxSignal {
		return Action{}, false
	}
	if signum == SIGKILL || signum == SIGSTOP {
		return Action{}, false
	}
	old := s.Actions[signum]
	s.Actions[signum] = a
	return old, true
}

// SetMask replaces the process-wide signal mask.
func (s *State) SetMask(mask uint32) { s.Mask = mask }

func (s *State) pendingUnblockedUnhandled() (int, bool) {
	for signum := 0; signum <= MaxSignal; signum++ {
		bit := uint32(1) << uint(signum)
		if s.Pending&bit == 0 {
			continue
		}
		if s.Mask&bit != 0 {
			continue
		}
		if signum == s.Handling {
			continue
		}
		return signum, true
	}
	return 0, false
}

// Check runs spec.md §4.J's per-trap-return signal loop against ctx,
// draining pending signals until none are deliverable or a SIGSTOP or
// SIGCONT has been handled. It returns whether the process ends up
// killed.
func (s *State) Check(ctx *trap.TrapContext) (killed bool, exitCode int) {
	for {
		signum, ok := s.pendingUnblockedUnhandled()
		if !ok {
			return s.Killed, s.ExitCode
		}

		bit := uint32(1) << uint(signum)
		action := s.Actions[signum]

		switch {
		case defaultFatal[signum] && action.Handler == 0:
			s.Pending &^= bit
			s.Killed = true
			s.ExitCode = -signum
			return true, s.ExitCode

		case signum == SIGSTOP:
			s.Frozen = true
			return s.Killed, s.ExitCode

		case signum == SIGCONT:
			s.Frozen = false
			s.Pending &^= bit
			return s.Killed, s.ExitCode

		case action.Handler != 0:
			s.Pending &^= bit
			s.Handling = signum
			backup := *ctx
			s.Backup = &backup
			s.Mask = action.Mask
			ctx.Sepc = uint64(action.Handler)
			ctx.SetA0(uint64(signum))

		default:
			// Not fatal by default and no handler installed: ignored.
			s.Pending &^= bit
		}
	}
}

// Sigreturn restores the trap context saved before a user handler ran,
// implementing sys_sigreturn (spec.md §4.J step 1's "expected to call
// sys_sigreturn").
func (s *State) Sigreturn(ctx *trap.TrapContext) bool {
	if s.Backup == nil {
		return false
	}
	*ctx = *s.Backup
	s.Backup = nil
	s.Handling = -1
	return true
}

// Carrier is the minimal interface a process type must satisfy for
// Checker to run the signal loop against it. It is defined here (not
// in terms of internal/proc) so this package stays importable from
// internal/proc without a cycle: proc.PCB implements Carrier directly.
type Carrier interface {
	SignalState() *State
}

// Checker adapts State.Check to trap.SignalChecker.
type Checker struct{}

// CheckPending implements trap.SignalChecker.
func (Checker) CheckPending(proc trap.Process, ctx *trap.TrapContext) (bool, int) {
	carrier, ok := proc.(Carrier)
	if !ok {
		return false, 0
	}
	return carrier.SignalState().Check(ctx)
}
