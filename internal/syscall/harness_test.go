package syscall_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/internal/blockdev"
	"rvkernel/internal/fs"
	"rvkernel/internal/kconfig"
	"rvkernel/internal/mem"
	"rvkernel/internal/proc"
	"rvkernel/internal/sbi"
	"rvkernel/internal/sched"
	rvsyscall "rvkernel/internal/syscall"
	"rvkernel/internal/vm"
)

// buildTestELF is the smallest ELF64 image debug/elf.NewFile will
// parse, mirroring internal/proc's and internal/sched's test helper of
// the same name.
func buildTestELF() []byte {
	const (
		ehdrSize = 64
		phdrSize = 56
		vaddr    = uintptr(0x1000)
	)
	code := []byte{0x13, 0x00, 0x00, 0x00}

	buf := make([]byte, ehdrSize+phdrSize+len(code))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)
	le.PutUint16(buf[18:], 243)
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], uint64(vaddr))
	le.PutUint64(buf[32:], ehdrSize)
	le.PutUint64(buf[40:], 0)
	le.PutUint32(buf[48:], 0)
	le.PutUint16(buf[52:], ehdrSize)
	le.PutUint16(buf[54:], phdrSize)
	le.PutUint16(buf[56:], 1)
	le.PutUint16(buf[58:], 0)
	le.PutUint16(buf[60:], 0)
	le.PutUint16(buf[62:], 0)

	ph := buf[ehdrSize:]
	le.PutUint32(ph[0:], 1)
	le.PutUint32(ph[4:], 5)
	le.PutUint64(ph[8:], ehdrSize+phdrSize)
	le.PutUint64(ph[16:], uint64(vaddr))
	le.PutUint64(ph[24:], uint64(vaddr))
	le.PutUint64(ph[32:], uint64(len(code)))
	le.PutUint64(ph[40:], uint64(len(code)))
	le.PutUint64(ph[48:], 0x1000)

	copy(buf[ehdrSize+phdrSize:], code)
	return buf
}

func newTestKernel(t *testing.T) *proc.Kernel {
	t.Helper()
	a := mem.NewAllocator(1<<16, kconfig.DefaultLimits())
	trampPPN, ok := a.Alloc()
	require.True(t, ok)
	kernelSpace := vm.NewKernelSpace(a, 1<<14, trampPPN)
	return proc.NewKernel(kernelSpace, a, trampPPN)
}

func spawnPCB(t *testing.T, k *proc.Kernel) *proc.PCB {
	t.Helper()
	pcb, err := k.Spawn(buildTestELF(), nil)
	require.NoError(t, err)
	return pcb
}

// scratchVA returns a user address below pcb's stack pointer that
// CopyIn/CopyOut tests can use as a buffer, mirroring internal/proc's
// own test pattern for touching user memory.
func scratchVA(pcb *proc.PCB) uintptr {
	return pcb.CurrentContext().SP() - 256
}

type fakeClock struct{ millis uint64 }

func (c *fakeClock) BootMillis() uint64 { return c.millis }

func newTestFS(t *testing.T) *fs.FileSystem {
	t.Helper()
	return fs.Create(blockdev.NewMemory(2048), 2048, 1)
}

type harness struct {
	k     *proc.Kernel
	s     *sched.Scheduler
	fsys  *fs.FileSystem
	fw    *sbi.Host
	table *rvsyscall.Table
	init  *proc.PCB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	k := newTestKernel(t)
	s := sched.NewScheduler()
	fsys := newTestFS(t)
	fw := sbi.NewHost()
	init := spawnPCB(t, k)

	tbl := rvsyscall.NewTable(k, s, fsys, &fakeClock{}, fw, init)
	return &harness{k: k, s: s, fsys: fsys, fw: fw, table: tbl, init: init}
}
