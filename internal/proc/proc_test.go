package proc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/internal/kconfig"
	"rvkernel/internal/mem"
	"rvkernel/internal/proc"
	"rvkernel/internal/signal"
	"rvkernel/internal/vm"
)

func TestPIDAllocatorPrefersRecycled(t *testing.T) {
	a := proc.NewPIDAllocator()
	p1 := a.Alloc()
	p2 := a.Alloc()
	require.NotEqual(t, p1, p2)
	a.Free(p1)
	p3 := a.Alloc()
	require.Equal(t, p1, p3, "recycled PID should be reused before bumping")
}

func TestPIDAllocatorFreeNeverAllocatedPanics(t *testing.T) {
	a := proc.NewPIDAllocator()
	require.Panics(t, func() { a.Free(999) })
}

func TestPIDAllocatorDoubleFreePanics(t *testing.T) {
	a := proc.NewPIDAllocator()
	p := a.Alloc()
	a.Free(p)
	require.Panics(t, func() { a.Free(p) })
}

type stubCap struct {
	closed bool
}

func (s *stubCap) Readable() bool               { return true }
func (s *stubCap) Writable() bool               { return true }
func (s *stubCap) Read(buf []byte) (int, error) { return 0, nil }
func (s *stubCap) Write(buf []byte) (int, error) { return len(buf), nil }
func (s *stubCap) Close() error                  { s.closed = true; return nil }

func TestFDTableDupSharesRefcountAndClosesOnce(t *testing.T) {
	tbl := proc.NewFDTable()
	cap := &stubCap{}
	fd := tbl.Install(cap)
	dup, ok := tbl.Dup(fd)
	require.True(t, ok)
	require.NotEqual(t, fd, dup)

	require.NoError(t, tbl.Close(fd))
	require.False(t, cap.closed, "capability must stay open while a dup'd fd remains")
	require.NoError(t, tbl.Close(dup))
	require.True(t, cap.closed, "capability closes once its last reference is gone")
}

func TestFDTableCloneSharesCapabilities(t *testing.T) {
	tbl := proc.NewFDTable()
	cap := &stubCap{}
	fd := tbl.Install(cap)

	clone := tbl.Clone()
	got, ok := clone.Get(fd)
	require.True(t, ok)
	require.Same(t, cap, got)

	require.NoError(t, tbl.Close(fd))
	require.False(t, cap.closed, "clone still holds a reference")
	require.NoError(t, clone.Close(fd))
	require.True(t, cap.closed)
}

func TestKernelStackRangeIsDisjointAcrossPIDs(t *testing.T) {
	low1, high1 := proc.KernelStackRange(1)
	low2, high2 := proc.KernelStackRange(2)
	require.Less(t, high2, low1, "higher PIDs get lower stacks, with a guard page between")
	require.Greater(t, high1, low1)
	require.Greater(t, high2, low2)
}

func newTestKernel(t *testing.T) *proc.Kernel {
	t.Helper()
	a := mem.NewAllocator(1<<16, kconfig.DefaultLimits())
	trampPPN, ok := a.Alloc()
	require.True(t, ok)
	kernelSpace := vm.NewKernelSpace(a, 1<<14, trampPPN)
	return proc.NewKernel(kernelSpace, a, trampPPN)
}

// minimalELF returns a tiny valid ELF64 executable with one PT_LOAD
// segment, enough for NewUserSpaceFromELF to build an address space.
func minimalELF() []byte {
	return buildTestELF()
}

func TestForkGivesChildDistinctPIDAndZeroA0(t *testing.T) {
	k := newTestKernel(t)
	parent, err := k.Spawn(minimalELF(), nil)
	require.NoError(t, err)

	child := k.Fork(parent)
	require.NotEqual(t, parent.PID(), child.PID())
	require.Equal(t, uint64(0), child.CurrentContext().A0())
	require.Contains(t, parent.Children(), child)
}

func TestForkChildAddressSpaceIsIndependentCopy(t *testing.T) {
	k := newTestKernel(t)
	parent, err := k.Spawn(minimalELF(), nil)
	require.NoError(t, err)

	stackVA := parent.CurrentContext().SP() - 64
	require.NoError(t, parent.AddressSpace().CopyOut(stackVA, []byte("parent")))

	child := k.Fork(parent)
	require.NoError(t, child.AddressSpace().CopyOut(stackVA, []byte("child!")))

	buf := make([]byte, 6)
	require.NoError(t, parent.AddressSpace().CopyIn(stackVA, buf))
	require.Equal(t, "parent", string(buf))
}

func TestWaitReturnsMinusOneWithNoMatchingChild(t *testing.T) {
	k := newTestKernel(t)
	parent, err := k.Spawn(minimalELF(), nil)
	require.NoError(t, err)

	pid, _, status := k.Wait(parent, 0, true)
	require.Equal(t, -1, status)
	require.Zero(t, pid)
}

func TestWaitReturnsMinusTwoBeforeChildExits(t *testing.T) {
	k := newTestKernel(t)
	parent, err := k.Spawn(minimalELF(), nil)
	require.NoError(t, err)
	child := k.Fork(parent)

	_, _, status := k.Wait(parent, child.PID(), false)
	require.Equal(t, -2, status)
}

func TestExitReparentsChildrenToInit(t *testing.T) {
	k := newTestKernel(t)
	init, err := k.Spawn(minimalELF(), nil)
	require.NoError(t, err)
	parent := k.Fork(init)
	grandchild := k.Fork(parent)

	k.Exit(parent, 7, init)

	require.Equal(t, init, grandchild.Parent())
	require.Contains(t, init.Children(), grandchild)
	require.Equal(t, proc.Zombie, parent.State())
	require.Equal(t, 7, parent.ExitCode())
}

func TestWaitReapsZombieChild(t *testing.T) {
	k := newTestKernel(t)
	parent, err := k.Spawn(minimalELF(), nil)
	require.NoError(t, err)
	child := k.Fork(parent)
	k.Exit(child, 3, parent)

	pid, code, status := k.Wait(parent, child.PID(), false)
	require.Equal(t, 0, status)
	require.Equal(t, child.PID(), pid)
	require.Equal(t, 3, code)
	require.Empty(t, parent.Children())

	_, ok := k.Procs.Lookup(child.PID())
	require.False(t, ok)
}

func TestChargeTickDemotesOnSliceExhaustion(t *testing.T) {
	k := newTestKernel(t)
	p, err := k.Spawn(minimalELF(), nil)
	require.NoError(t, err)

	exhausted := false
	for i := 0; i < kconfig.MLFQBaseSlice; i++ {
		exhausted = p.ChargeTick()
	}
	require.True(t, exhausted)
	require.Equal(t, 1, p.Priority())
}

func TestSignalCarrierIntegration(t *testing.T) {
	k := newTestKernel(t)
	p, err := k.Spawn(minimalELF(), nil)
	require.NoError(t, err)

	p.RecordSignal(signal.SIGSEGV)
	killed, code := p.Killed()
	require.False(t, killed, "Killed() reflects the signal state only after Check runs")

	k2, c := signal.Checker{}.CheckPending(p, p.CurrentContext())
	require.True(t, k2)
	require.Equal(t, -signal.SIGSEGV, c)
	killed, code = p.Killed()
	require.True(t, killed)
	require.Equal(t, -signal.SIGSEGV, code)
}
