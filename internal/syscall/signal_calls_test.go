package syscall_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/internal/proc"
	"rvkernel/internal/signal"
	rvsyscall "rvkernel/internal/syscall"
)

func putAction(t *testing.T, pcb *proc.PCB, va uintptr, handler uintptr, mask uint32) {
	t.Helper()
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(handler))
	binary.LittleEndian.PutUint32(buf[8:12], mask)
	require.NoError(t, pcb.AddressSpace().CopyOut(va, buf[:]))
}

func TestSigactionInstallsHandlerAndReportsOld(t *testing.T) {
	h := newHarness(t)
	pcb := spawnPCB(t, h.k)
	newVA := scratchVA(pcb)
	oldVA := newVA + 64

	putAction(t, pcb, newVA, 0x4000, 0)
	ret := h.table.Dispatch(pcb, rvsyscall.SysSigaction, [3]uint64{uint64(signal.SIGUSR1), uint64(newVA), uint64(oldVA)})
	require.Zero(t, ret)

	oldBuf := make([]byte, 12)
	require.NoError(t, pcb.AddressSpace().CopyIn(oldVA, oldBuf))
	require.Zero(t, binary.LittleEndian.Uint64(oldBuf[0:8]), "no prior handler was installed")

	putAction(t, pcb, newVA, 0x5000, 0)
	h.table.Dispatch(pcb, rvsyscall.SysSigaction, [3]uint64{uint64(signal.SIGUSR1), uint64(newVA), uint64(oldVA)})
	require.NoError(t, pcb.AddressSpace().CopyIn(oldVA, oldBuf))
	require.Equal(t, uint64(0x4000), binary.LittleEndian.Uint64(oldBuf[0:8]), "second sigaction must report the first handler as the old one")
}

func TestSigactionRefusesSigkillAndSigstop(t *testing.T) {
	h := newHarness(t)
	pcb := spawnPCB(t, h.k)
	newVA := scratchVA(pcb)
	putAction(t, pcb, newVA, 0x4000, 0)

	ret := h.table.Dispatch(pcb, rvsyscall.SysSigaction, [3]uint64{uint64(signal.SIGKILL), uint64(newVA), 0})
	require.Equal(t, int64(-1), int64(ret))
}

func TestSigprocmaskReplacesMaskAndReturnsThePrevious(t *testing.T) {
	h := newHarness(t)
	pcb := spawnPCB(t, h.k)

	first := h.table.Dispatch(pcb, rvsyscall.SysSigprocmask, [3]uint64{0b10, 0, 0})
	require.Zero(t, first, "no mask was set yet")

	second := h.table.Dispatch(pcb, rvsyscall.SysSigprocmask, [3]uint64{0b100, 0, 0})
	require.Equal(t, uint64(0b10), second)
	require.Equal(t, uint32(0b100), pcb.SignalState().Mask)
}

func TestKillRaisesSignalOnTargetAndRejectsUnknownPID(t *testing.T) {
	h := newHarness(t)
	a := spawnPCB(t, h.k)
	b := spawnPCB(t, h.k)

	ret := h.table.Dispatch(a, rvsyscall.SysKill, [3]uint64{uint64(b.PID()), uint64(signal.SIGUSR1), 0})
	require.Zero(t, ret)
	require.NotZero(t, b.SignalState().Pending&(1<<signal.SIGUSR1))

	bad := h.table.Dispatch(a, rvsyscall.SysKill, [3]uint64{999999, uint64(signal.SIGUSR1), 0})
	require.Equal(t, int64(-1), int64(bad))
}

func TestKillRejectsOutOfRangeSignum(t *testing.T) {
	h := newHarness(t)
	a := spawnPCB(t, h.k)

	ret := h.table.Dispatch(a, rvsyscall.SysKill, [3]uint64{uint64(a.PID()), 999, 0})
	require.Equal(t, int64(-1), int64(ret))
}

func TestSigreturnFailsWithNoActiveHandlerAndSucceedsAfterOne(t *testing.T) {
	h := newHarness(t)
	pcb := spawnPCB(t, h.k)

	ret := h.table.Dispatch(pcb, rvsyscall.SysSigreturn, [3]uint64{0, 0, 0})
	require.Equal(t, int64(-1), int64(ret), "sigreturn with no handler running must fail")

	pcb.SignalState().SetAction(signal.SIGUSR1, signal.Action{Handler: 0x4000})
	savedSepc := pcb.CurrentContext().Sepc
	pcb.RecordSignal(signal.SIGUSR1)
	signal.Checker{}.CheckPending(pcb, pcb.CurrentContext())
	require.Equal(t, uint64(0x4000), pcb.CurrentContext().Sepc, "handler must have rewritten sepc")

	ret = h.table.Dispatch(pcb, rvsyscall.SysSigreturn, [3]uint64{0, 0, 0})
	require.Zero(t, ret)
	require.Equal(t, savedSepc, pcb.CurrentContext().Sepc, "sigreturn must restore the pre-handler context")
}
