package trap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/internal/trap"
)

// fakeProc implements trap.Process for testing the pure dispatch logic
// in isolation from internal/proc.
type fakeProc struct {
	ctx       *trap.TrapContext
	signals   []int
	killed    bool
	killCode  int
	execSwaps int // not read: CurrentContext always returns ctx
}

func (p *fakeProc) CurrentContext() *trap.TrapContext { return p.ctx }
func (p *fakeProc) RecordSignal(sig int)              { p.signals = append(p.signals, sig) }
func (p *fakeProc) Killed() (bool, int)                { return p.killed, p.killCode }

type noopSched struct {
	armed     int
	exhausted bool
	demoted   bool
}

func (s *noopSched) ArmNextTimer()                          { s.armed++ }
func (s *noopSched) ChargeTick(trap.Process) bool            { return s.exhausted }
func (s *noopSched) DemoteAndReschedule(trap.Process)        { s.demoted = true }

type echoDispatcher struct{ called bool }

func (d *echoDispatcher) Dispatch(proc trap.Process, a7 uint64, args [3]uint64) uint64 {
	d.called = true
	return args[0] + a7
}

type cleanSignals struct{}

func (cleanSignals) CheckPending(trap.Process, *trap.TrapContext) (bool, int) { return false, 0 }

func newCtx() *trap.TrapContext {
	return trap.NewTrapContext(0x1000, 0x8000, 0x9000_000_0, 0x2000, 0x3000)
}

func TestSyscallAdvancesSepcAndDispatches(t *testing.T) {
	ctx := newCtx()
	ctx.GPR[17] = 64  // a7
	ctx.GPR[10] = 5   // a0
	proc := &fakeProc{ctx: ctx}
	disp := &echoDispatcher{}

	out := trap.Handle(trap.CauseSyscall, 0, proc, &noopSched{}, disp, cleanSignals{})

	require.False(t, out.Killed)
	require.True(t, disp.called)
	require.Equal(t, uint64(0x1000+4), ctx.Sepc)
	require.Equal(t, uint64(69), ctx.A0())
}

func TestMemoryFaultRecordsSIGSEGV(t *testing.T) {
	proc := &fakeProc{ctx: newCtx()}
	out := trap.Handle(trap.CauseLoadPageFault, 0xdead, proc, &noopSched{}, &echoDispatcher{}, cleanSignals{})
	require.False(t, out.Killed)
	require.Equal(t, []int{11}, proc.signals)
}

func TestIllegalInstructionRecordsSIGILL(t *testing.T) {
	proc := &fakeProc{ctx: newCtx()}
	trap.Handle(trap.CauseIllegalInstruction, 0, proc, &noopSched{}, &echoDispatcher{}, cleanSignals{})
	require.Equal(t, []int{4}, proc.signals)
}

func TestTimerInterruptArmsAndDemotesOnExhaustion(t *testing.T) {
	proc := &fakeProc{ctx: newCtx()}
	sched := &noopSched{exhausted: true}
	trap.Handle(trap.CauseTimerInterrupt, 0, proc, sched, &echoDispatcher{}, cleanSignals{})
	require.Equal(t, 1, sched.armed)
	require.True(t, sched.demoted)
}

func TestTimerInterruptDoesNotDemoteWithinSlice(t *testing.T) {
	proc := &fakeProc{ctx: newCtx()}
	sched := &noopSched{exhausted: false}
	trap.Handle(trap.CauseTimerInterrupt, 0, proc, sched, &echoDispatcher{}, cleanSignals{})
	require.False(t, sched.demoted)
}

func TestKilledProcessReportsExitCode(t *testing.T) {
	proc := &fakeProc{ctx: newCtx(), killed: true, killCode: -7}
	out := trap.Handle(trap.CauseSyscall, 0, proc, &noopSched{}, &echoDispatcher{}, cleanSignals{})
	require.True(t, out.Killed)
	require.Equal(t, -7, out.ExitCode)
}

func TestUnhandledCausePanics(t *testing.T) {
	proc := &fakeProc{ctx: newCtx()}
	require.Panics(t, func() {
		trap.Handle(trap.Cause(999), 0, proc, &noopSched{}, &echoDispatcher{}, cleanSignals{})
	})
}
