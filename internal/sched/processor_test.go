package sched_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rvkernel/internal/kconfig"
	"rvkernel/internal/proc"
	"rvkernel/internal/sched"
	"rvkernel/internal/trap"
)

type fakeTimer struct{ armed int }

func (f *fakeTimer) ArmNext() { f.armed++ }

func TestRunOnceHandsTokenToFetchedWorkerAndReenqueues(t *testing.T) {
	k := newTestKernel(t)
	s := sched.NewScheduler()
	timer := &fakeTimer{}
	p := sched.NewProcessor(s, timer)

	pcb := spawnPCB(t, k)
	var ran int
	p.Register(pcb, func(pcb *proc.PCB) sched.RunResult {
		ran++
		require.Equal(t, proc.Running, pcb.State())
		return sched.RunResult{}
	})
	s.AddNew(pcb)

	got, res, ok := p.RunOnce()
	require.True(t, ok)
	require.Equal(t, pcb, got)
	require.False(t, res.Exited)
	require.Equal(t, 1, ran)
	require.Equal(t, proc.Ready, pcb.State(), "a non-exiting turn re-enqueues as Ready")
	require.Equal(t, 1, s.Len(pcb.Priority()), "RunOnce must re-add the PCB to the scheduler")
}

func TestRunOnceReportsFalseWhenQueuesAreEmpty(t *testing.T) {
	s := sched.NewScheduler()
	p := sched.NewProcessor(s, &fakeTimer{})

	_, _, ok := p.RunOnce()
	require.False(t, ok)
}

func TestRunOnceMarksZombieOnExit(t *testing.T) {
	k := newTestKernel(t)
	s := sched.NewScheduler()
	p := sched.NewProcessor(s, &fakeTimer{})

	pcb := spawnPCB(t, k)
	p.Register(pcb, func(pcb *proc.PCB) sched.RunResult {
		return sched.RunResult{Exited: true, ExitCode: 5}
	})
	s.AddNew(pcb)

	_, res, ok := p.RunOnce()
	require.True(t, ok)
	require.True(t, res.Exited)
	require.Equal(t, 5, res.ExitCode)
	require.Equal(t, proc.Zombie, pcb.State())
	require.Zero(t, s.Len(0), "an exited PCB must not be re-enqueued")
}

func TestRunOnceBoostsOnIOWake(t *testing.T) {
	k := newTestKernel(t)
	s := sched.NewScheduler()
	p := sched.NewProcessor(s, &fakeTimer{})

	pcb := spawnPCB(t, k)
	p.Register(pcb, func(pcb *proc.PCB) sched.RunResult {
		return sched.RunResult{Boost: true}
	})
	s.Add(pcb, 3)

	_, res, ok := p.RunOnce()
	require.True(t, ok)
	require.True(t, res.Boost)
	require.Equal(t, 0, pcb.Priority(), "spec.md's I/O-boost rule: a process woken by a pipe read must not stay penalised at its old, demoted level")
}

func TestArmNextTimerDelegatesToTimer(t *testing.T) {
	s := sched.NewScheduler()
	timer := &fakeTimer{}
	p := sched.NewProcessor(s, timer)
	p.ArmNextTimer()
	require.Equal(t, 1, timer.armed)
}

func TestBootMillisAdvancesOneTickPerArm(t *testing.T) {
	s := sched.NewScheduler()
	p := sched.NewProcessor(s, &fakeTimer{})
	require.Zero(t, p.BootMillis())

	p.ArmNextTimer()
	p.ArmNextTimer()
	p.ArmNextTimer()
	require.Equal(t, uint64(3*kconfig.TickMillis), p.BootMillis())
}

func TestChargeTickAndDemoteAndRescheduleSatisfyTrapScheduler(t *testing.T) {
	k := newTestKernel(t)
	s := sched.NewScheduler()
	p := sched.NewProcessor(s, &fakeTimer{})
	pcb := spawnPCB(t, k)

	var tsched trap.Scheduler = p
	var exhausted bool
	for i := 0; i < kconfig.MLFQBaseSlice; i++ {
		exhausted = tsched.ChargeTick(pcb)
	}
	require.True(t, exhausted)

	tsched.DemoteAndReschedule(pcb)
	require.Equal(t, proc.Ready, pcb.State())
	require.Equal(t, 1, s.Len(pcb.Priority()))
}

func TestChargeTickPanicsOnNonPCBProcess(t *testing.T) {
	s := sched.NewScheduler()
	p := sched.NewProcessor(s, &fakeTimer{})

	var tsched trap.Scheduler = p
	require.Panics(t, func() { tsched.ChargeTick(fakeTrapProcess{}) })
}

type fakeTrapProcess struct{}

func (fakeTrapProcess) CurrentContext() *trap.TrapContext { return &trap.TrapContext{} }
func (fakeTrapProcess) RecordSignal(sig int)               {}
func (fakeTrapProcess) Killed() (bool, int)                 { return false, 0 }

// TestRegisterWorkerDrainsExactlyOneTurnPerRunOnce guards against the
// token-passing model ever double-firing a worker's RunFunc for a
// single RunOnce call, which would silently run a process twice per
// scheduling decision.
func TestRegisterWorkerDrainsExactlyOneTurnPerRunOnce(t *testing.T) {
	k := newTestKernel(t)
	s := sched.NewScheduler()
	p := sched.NewProcessor(s, &fakeTimer{})
	pcb := spawnPCB(t, k)

	calls := make(chan struct{}, 8)
	p.Register(pcb, func(pcb *proc.PCB) sched.RunResult {
		calls <- struct{}{}
		return sched.RunResult{}
	})
	s.AddNew(pcb)

	_, _, ok := p.RunOnce()
	require.True(t, ok)

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("worker never ran")
	}
	select {
	case <-calls:
		t.Fatal("worker ran more than once for a single RunOnce")
	default:
	}
}
