package proc

import (
	"fmt"

	"rvkernel/internal/kconfig"
	"rvkernel/internal/mem"
	"rvkernel/internal/trap"
	"rvkernel/internal/vm"
)

// Kernel bundles the shared state Fork/Exec/Wait/Exit all need: the PID
// allocator, the global process table, the kernel address space (so a
// new PCB's kernel stack can be mapped into it), the frame allocator,
// and the trampoline frame every address space maps identically.
type Kernel struct {
	PIDs          *PIDAllocator
	Procs         *Table
	KernelSpace   *vm.AddressSpace
	Frames        *mem.Allocator
	TrampolinePPN mem.PPN
}

// NewKernel wires up the shared process-lifecycle state. trampolinePPN
// must already hold the trampoline frame's contents.
func NewKernel(kernelSpace *vm.AddressSpace, frames *mem.Allocator, trampolinePPN mem.PPN) *Kernel {
	return &Kernel{
		PIDs:          NewPIDAllocator(),
		Procs:         NewTable(),
		KernelSpace:   kernelSpace,
		Frames:        frames,
		TrampolinePPN: trampolinePPN,
	}
}

func (k *Kernel) trapHandlerVA() uintptr {
	// The trap handler lives at a fixed, well-known VA inside the
	// trampoline page (spec.md §3); since this core simulates the
	// trampoline's contents rather than laying out real instructions
	// there, the handler VA collapses to the trampoline's own base.
	return kconfig.Trampoline
}

// Spawn loads a fresh ELF image as a brand-new process with no parent
// (used once, for init, PID 1) or with an explicit parent, which gets
// the new PCB appended to its children.
func (k *Kernel) Spawn(image []byte, parent *PCB) (*PCB, error) {
	elfImg, err := vm.NewUserSpaceFromELF(k.Frames, image, k.TrampolinePPN)
	if err != nil {
		return nil, err
	}
	pid := k.PIDs.Alloc()
	_, kstackTop := KernelStackRange(pid)
	ctx := trap.NewTrapContext(elfImg.Entry, elfImg.UserStack, uintptr(k.KernelSpace.Token()), kstackTop, k.trapHandlerVA())

	pcb := newPCB(pid, k.KernelSpace, elfImg.Space, elfImg.TrapContextPPN, ctx, elfImg.UserStack, parent)
	k.Procs.Insert(pcb)
	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, pcb)
		parent.mu.Unlock()
	}
	log.WithField("pid", pid).Info("process spawned")
	return pcb, nil
}

// Fork clones parent's address space frame-by-frame, gives the child a
// fresh PID and kernel stack, shares file descriptors, copies the
// signal mask and action table (clearing pending signals), sets the
// child's a0 to 0, and marks it Ready, matching spec.md §4.E's Fork.
// It returns the child PCB; the caller (the syscall layer) is
// responsible for returning the child's PID in the parent's a0 and 0
// in the child's.
func (k *Kernel) Fork(parent *PCB) *PCB {
	parent.mu.Lock()
	childSpace := parent.space.Fork(k.TrampolinePPN)
	parentCtx := *parent.trapCtx
	parentSig := parent.sig
	userStackBase := parent.userStackBase
	fds := parent.fds.Clone()
	parent.mu.Unlock()

	pid := k.PIDs.Alloc()
	_, kstackTop := KernelStackRange(pid)

	childCtx := parentCtx
	childCtx.KernelSp = uint64(kstackTop)
	childCtx.SetA0(0)

	childTrapCtxPPN, _ := childSpace.TrapContextFrame()
	child := newPCB(pid, k.KernelSpace, childSpace, childTrapCtxPPN, &childCtx, userStackBase, parent)
	child.fds = fds
	child.sig.Mask = parentSig.Mask
	for i, a := range parentSig.Actions {
		child.sig.Actions[i] = a
	}

	k.Procs.Insert(child)
	parent.mu.Lock()
	parent.children = append(parent.children, child)
	parent.mu.Unlock()

	log.WithField("parent", parent.pid).WithField("child", pid).Info("fork")
	return child
}

// Exec replaces pcb's address space with a freshly loaded ELF image and
// argv, per spec.md §4.E: PID, parent, children, and signal actions are
// preserved; the trap context is rebuilt from scratch.
func (k *Kernel) Exec(pcb *PCB, image []byte, argv []string) error {
	elfImg, err := vm.NewUserSpaceFromELF(k.Frames, image, k.TrampolinePPN)
	if err != nil {
		return err
	}

	argvBase, argc, err := pushArgv(elfImg.Space, elfImg.UserStack, argv)
	if err != nil {
		return err
	}

	pcb.mu.Lock()
	old := pcb.space
	pcb.space = elfImg.Space
	pcb.trapCtxPPN = elfImg.TrapContextPPN
	pcb.userStackBase = elfImg.UserStack
	_, kstackTop := KernelStackRange(pcb.pid)
	ctx := trap.NewTrapContext(elfImg.Entry, argvBase, uintptr(k.KernelSpace.Token()), kstackTop, k.trapHandlerVA())
	ctx.GPR[10] = uint64(argc)    // a0 = argc
	ctx.GPR[11] = uint64(argvBase) // a1 = argv_base
	ctx.SetSP(uint64(argvBase))
	pcb.trapCtx = ctx
	pcb.mu.Unlock()

	old.Teardown()
	return nil
}

// pushArgv writes argv strings onto the top of the user stack followed
// by a pointer array immediately below them, matching spec.md §4.E's
// "copy argv strings into the new stack, place argv pointer array
// immediately below them". It returns the VA of the pointer array
// (the new sp) and argc.
func pushArgv(space *vm.AddressSpace, stackTop uintptr, argv []string) (uintptr, int, error) {
	sp := stackTop
	ptrs := make([]uintptr, len(argv))
	for i, s := range argv {
		bytes := append([]byte(s), 0)
		sp -= uintptr(len(bytes))
		sp &^= 0x7 // keep strings 8-byte aligned, matching typical RISC-V ABI stack discipline
		if err := space.CopyOut(sp, bytes); err != nil {
			return 0, 0, err
		}
		ptrs[i] = sp
	}
	sp -= uintptr(len(ptrs)+1) * 8
	sp &^= 0xf
	for i, p := range ptrs {
		var buf [8]byte
		for b := 0; b < 8; b++ {
			buf[b] = byte(p >> (8 * b))
		}
		if err := space.CopyOut(sp+uintptr(i)*8, buf[:]); err != nil {
			return 0, 0, err
		}
	}
	// NUL terminator for the pointer array.
	var zero [8]byte
	if err := space.CopyOut(sp+uintptr(len(ptrs))*8, zero[:]); err != nil {
		return 0, 0, err
	}
	return sp, len(argv), nil
}

// Wait implements spec.md §4.E's waitpid: -1 if no child matches (or
// pid==-1 with no children at all), the child's PID and its exit code
// once a matching Zombie is found (detaching it
// from the table and the parent's children list), or -2 if matching
// children exist but none are Zombie yet.
func (k *Kernel) Wait(parent *PCB, pid PID, anyChild bool) (gotPID PID, exitCode int, status int) {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	matched := false
	for i, child := range parent.children {
		if !anyChild && child.pid != pid {
			continue
		}
		matched = true
		if child.State() == Zombie {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			k.Procs.Remove(child.pid)
			k.PIDs.Free(child.pid)
			return child.pid, child.ExitCode(), 0
		}
	}
	if !matched {
		return 0, 0, -1
	}
	return 0, 0, -2
}

// Exit marks pcb Zombie with code, re-parents every child to init,
// and tears down pcb's address space, retaining the PCB itself until a
// parent reaps it via Wait (spec.md §4.E's Exit).
func (k *Kernel) Exit(pcb *PCB, code int, init *PCB) {
	pcb.mu.Lock()
	pcb.state = Zombie
	pcb.exitCode = code
	children := pcb.children
	pcb.children = nil
	space := pcb.space
	pcb.mu.Unlock()

	if init != nil {
		init.mu.Lock()
		for _, c := range children {
			c.mu.Lock()
			c.parent = init
			c.mu.Unlock()
			init.children = append(init.children, c)
		}
		init.mu.Unlock()
	}

	if err := k.KernelSpace.RemoveRegion(pcb.kstackLow); err != nil {
		log.WithField("pid", pcb.pid).WithError(fmt.Errorf("kernel stack teardown: %w", err)).Warn("exit cleanup")
	}
	space.Teardown()

	log.WithField("pid", pcb.pid).WithField("code", code).Info("process exited")
}
