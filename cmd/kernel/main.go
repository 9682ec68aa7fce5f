// Command kernel boots the simulated core: it builds the kernel
// address space, mounts (or formats) a filesystem image, spawns the
// init process, and drives the MLFQ scheduler until init exits.
//
// Stock Go cannot execute hand-written RISC-V privileged-mode
// assembly, so there is no instruction stream to run between traps.
// Each registered process is instead driven by a workload: a small,
// explicit script of syscalls staged directly into the process's trap
// context and handed to trap.Handle one step per scheduler turn. This
// mirrors the teacher's own framing of the simulation (see
// internal/trap's package doc) rather than inventing an emulator.
package main

import (
	"encoding/binary"
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"rvkernel/internal/blockdev"
	"rvkernel/internal/fs"
	"rvkernel/internal/kconfig"
	"rvkernel/internal/kernlog"
	"rvkernel/internal/mem"
	"rvkernel/internal/proc"
	"rvkernel/internal/sbi"
	"rvkernel/internal/sched"
	"rvkernel/internal/signal"
	rvsyscall "rvkernel/internal/syscall"
	"rvkernel/internal/trap"
	"rvkernel/internal/vm"
)

var log = kernlog.For("kernel")

func main() {
	initPath := flag.String("init", "", "path to the ELF image to spawn as PID 1 (a tiny built-in stub is used if empty)")
	diskPath := flag.String("disk", "", "path to an existing filesystem image (a fresh in-memory fs is formatted if empty)")
	totalBlocks := flag.Int("blocks", 4096, "block count for a freshly formatted filesystem")
	debug := flag.Bool("debug", false, "enable debug-level subsystem logging")
	flag.Parse()

	if *debug {
		kernlog.SetLevel(logrus.DebugLevel)
	}

	defer func() {
		if r := recover(); r != nil {
			panicHalt(r)
		}
	}()

	frames := mem.NewAllocator(1<<20, kconfig.DefaultLimits())
	trampPPN, ok := frames.Alloc()
	if !ok {
		log.Fatal("out of frames allocating the trampoline page")
	}
	kernelSpace := vm.NewKernelSpace(frames, 1<<16, trampPPN)
	kern := proc.NewKernel(kernelSpace, frames, trampPPN)

	fsys := mountOrFormat(*diskPath, *totalBlocks)

	fw := sbi.NewHost()
	scheduler := sched.NewScheduler()
	timer := &firmwareTimer{fw: fw}
	processor := sched.NewProcessor(scheduler, timer)

	image := builtinInitELF()
	if *initPath != "" {
		data, err := os.ReadFile(*initPath)
		if err != nil {
			log.WithError(err).Fatal("reading init image")
		}
		image = data
	}

	initPCB, err := kern.Spawn(image, nil)
	if err != nil {
		log.WithError(err).Fatal("spawning init")
	}

	table := rvsyscall.NewTable(kern, scheduler, fsys, processor, fw, initPCB)
	table.InstallStdio(initPCB)
	table.OnFork = func(child *proc.PCB) {
		processor.Register(child, idleWorkload(child, table, processor))
	}

	processor.Register(initPCB, bannerWorkload(initPCB, table, processor, "rvkernel: init running\n"))
	scheduler.AddNew(initPCB)

	log.WithField("pid", initPCB.PID()).Info("init spawned, entering scheduler loop")
	processor.ArmNextTimer()

	for {
		pcb, res, ok := processor.RunOnce()
		if !ok {
			log.Warn("ready queue starved with no registered workers; halting")
			break
		}
		if res.Exited {
			log.WithFields(logrus.Fields{"pid": pcb.PID(), "code": res.ExitCode}).Info("process exited")
			processor.Unregister(pcb)
			if pcb.PID() == initPCB.PID() {
				log.Info("init exited, shutting down")
				break
			}
		}
	}

	fw.SystemReset(sbi.ResetTypeShutdown, sbi.ResetReasonNoReason)
}

func mountOrFormat(diskPath string, totalBlocks int) *fs.FileSystem {
	if diskPath == "" {
		log.WithField("blocks", totalBlocks).Info("formatting a fresh in-memory filesystem")
		return fs.Create(blockdev.NewMemory(totalBlocks), totalBlocks, 1)
	}

	data, err := os.ReadFile(diskPath)
	if err != nil {
		log.WithError(err).Fatal("reading disk image")
	}
	blocks := (len(data) + kconfig.BlockSize - 1) / kconfig.BlockSize
	dev := blockdev.NewMemory(blocks)
	var blk [kconfig.BlockSize]byte
	for id := 0; id < blocks; id++ {
		copy(blk[:], data[id*kconfig.BlockSize:])
		dev.WriteBlock(id, &blk)
		blk = [kconfig.BlockSize]byte{}
	}
	fsys, err := fs.OpenFS(dev)
	if err != nil {
		log.WithError(err).Fatal("mounting disk image")
	}
	log.WithField("path", diskPath).Info("mounted filesystem image")
	return fsys
}

// firmwareTimer adapts sbi.Firmware.SetTimer to sched.Processor's Timer
// interface: each call arms one more tick, the way a real trap handler
// would re-arm the timer it just serviced.
type firmwareTimer struct {
	fw   sbi.Firmware
	next uint64
}

func (t *firmwareTimer) ArmNext() {
	t.next += kconfig.TickMillis
	t.fw.SetTimer(t.next)
}

// bannerWorkload writes msg to stdout on a process's very first turn,
// then falls back to idling. It stands in for "exec(init) then block
// forever", the teacher's own shape for a boot-complete init process,
// without a real instruction stream to produce the write syscall.
func bannerWorkload(pcb *proc.PCB, table *rvsyscall.Table, processor *sched.Processor, msg string) sched.RunFunc {
	sent := false
	idle := idleWorkload(pcb, table, processor)
	return func(pcb *proc.PCB) sched.RunResult {
		if sent {
			return idle(pcb)
		}
		sent = true
		ctx := pcb.CurrentContext()
		bufVA := ctx.SP() - 256
		if err := pcb.AddressSpace().CopyOut(bufVA, []byte(msg)); err != nil {
			log.WithError(err).Warn("banner workload: staging message failed")
			return idle(pcb)
		}
		ctx.SetSyscall(rvsyscall.SysWrite, [3]uint64{1, uint64(bufVA), uint64(len(msg))})
		return stepOnce(pcb, table, processor)
	}
}

// idleWorkload issues sys_yield every turn, the simulated equivalent
// of a process that has nothing further to do but remain runnable.
func idleWorkload(pcb *proc.PCB, table *rvsyscall.Table, processor *sched.Processor) sched.RunFunc {
	return func(pcb *proc.PCB) sched.RunResult {
		pcb.CurrentContext().SetSyscall(rvsyscall.SysYield, [3]uint64{0, 0, 0})
		return stepOnce(pcb, table, processor)
	}
}

// stepOnce drives one already-staged syscall through trap.Handle and
// translates the result into the RunResult sched.Processor expects.
func stepOnce(pcb *proc.PCB, table *rvsyscall.Table, processor *sched.Processor) sched.RunResult {
	outcome := trap.Handle(trap.CauseSyscall, 0, pcb, processor, table, signal.Checker{})
	if outcome.Killed {
		return sched.RunResult{Exited: true, ExitCode: outcome.ExitCode}
	}
	if pcb.State() == proc.Zombie {
		return sched.RunResult{Exited: true, ExitCode: pcb.ExitCode()}
	}
	return sched.RunResult{Yield: true}
}

// builtinInitELF is the smallest ELF64 image the core's loader will
// parse: a single loadable segment holding one no-op instruction. Real
// deployments pass -init pointing at a compiled user binary; this stub
// only lets the kernel reach its scheduler loop with nothing else on
// hand.
func builtinInitELF() []byte {
	const (
		ehdrSize = 64
		phdrSize = 56
		vaddr    = uintptr(0x1000)
	)
	code := []byte{0x13, 0x00, 0x00, 0x00} // addi x0, x0, 0

	buf := make([]byte, ehdrSize+phdrSize+len(code))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)             // e_type: ET_EXEC
	le.PutUint16(buf[18:], 243)           // e_machine: EM_RISCV
	le.PutUint32(buf[20:], 1)             // e_version
	le.PutUint64(buf[24:], uint64(vaddr)) // e_entry
	le.PutUint64(buf[32:], ehdrSize)      // e_phoff
	le.PutUint64(buf[40:], 0)             // e_shoff
	le.PutUint32(buf[48:], 0)             // e_flags
	le.PutUint16(buf[52:], ehdrSize)      // e_ehsize
	le.PutUint16(buf[54:], phdrSize)      // e_phentsize
	le.PutUint16(buf[56:], 1)             // e_phnum
	le.PutUint16(buf[58:], 0)             // e_shentsize
	le.PutUint16(buf[60:], 0)             // e_shnum
	le.PutUint16(buf[62:], 0)             // e_shstrndx

	ph := buf[ehdrSize:]
	le.PutUint32(ph[0:], 1) // p_type: PT_LOAD
	le.PutUint32(ph[4:], 5) // p_flags: R+X
	le.PutUint64(ph[8:], ehdrSize+phdrSize)
	le.PutUint64(ph[16:], uint64(vaddr))
	le.PutUint64(ph[24:], uint64(vaddr))
	le.PutUint64(ph[32:], uint64(len(code)))
	le.PutUint64(ph[40:], uint64(len(code)))
	le.PutUint64(ph[48:], 0x1000)

	copy(buf[ehdrSize+phdrSize:], code)
	return buf
}

// panicHalt logs the recovered panic with a call stack, mirroring the
// teacher's caller.Callerdump, then requests a firmware shutdown so a
// kernel panic does not spin.
func panicHalt(r interface{}) {
	log.WithField("panic", r).Error("kernel panic")
	dumpCallers(2)
	sbi.NewHost().SystemReset(sbi.ResetTypeShutdown, sbi.ResetReasonNoReason)
}
