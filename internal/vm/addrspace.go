// Package vm builds address spaces ("memory sets" in spec.md §3) out of
// an sv39.PageTable plus an ordered list of regions. It is grounded on
// biscuit/src/vm/as.go's Vm_t: a mutex-protected pmap plus a region
// list, Vmadd_anon's insert-and-map shape, and Uvmfree's tear-down
// order. The copy-on-write machinery around Vm_t.Pagefault is not
// ported: spec.md's Non-goals exclude COW, so Fork always does a full
// frame-by-frame copy.
package vm

import (
	"debug/elf"
	"fmt"
	"sort"
	"sync"

	"rvkernel/internal/kconfig"
	"rvkernel/internal/kernlog"
	"rvkernel/internal/mem"
	"rvkernel/internal/sv39"
)

var log = kernlog.For("vm")

// AddressSpace owns one page table and the regions mapped into it. All
// mutation goes through its mutex since a process's address space can
// be touched by the owning thread and, during fork/exit bookkeeping, by
// its parent (matching the teacher's Vm_t.Lock).
type AddressSpace struct {
	mu      sync.Mutex
	pt      *sv39.PageTable
	alloc   *mem.Allocator
	regions []*Region // kept sorted by StartVPN
}

// New returns an empty address space backed by a.
func New(a *mem.Allocator) *AddressSpace {
	return &AddressSpace{pt: sv39.New(a), alloc: a}
}

// PageTable exposes the underlying page table, e.g. for trap handling
// that needs to translate a user pointer.
func (as *AddressSpace) PageTable() *sv39.PageTable { return as.pt }

// Token returns the satp value that activates this address space.
func (as *AddressSpace) Token() uint64 { return as.pt.Token() }

// Activate is the software stand-in for "write satp and sfence.vma":
// since there is no real CPU here, it simply returns the token a
// caller would install instead of executing an actual CSR write.
// Nothing in this core calls it.
func (as *AddressSpace) Activate() uint64 { return as.Token() }

// insert records a new region in StartVPN order and maps it.
func (as *AddressSpace) insert(r *Region) {
	r.mapInto(as.pt, as.alloc)
	idx := sort.Search(len(as.regions), func(i int) bool {
		return as.regions[i].StartVPN >= r.StartVPN
	})
	as.regions = append(as.regions, nil)
	copy(as.regions[idx+1:], as.regions[idx:])
	as.regions[idx] = r
}

// InsertFramedArea maps [startVA, endVA) as a freshly allocated, zeroed
// Framed region with the given permissions, rounding to whole pages
// exactly like the teacher's Vmadd_anon.
func (as *AddressSpace) InsertFramedArea(startVA, endVA uintptr, perm Perm) *Region {
	as.mu.Lock()
	defer as.mu.Unlock()
	start, end := vpnRange(startVA, endVA)
	r := newFramedRegion(start, end, perm)
	as.insert(r)
	return r
}

// insertIdentityArea maps [startVA, endVA) onto the physical frames of
// the same numbers (used for kernel-space regions).
func (as *AddressSpace) insertIdentityArea(startVA, endVA uintptr, perm Perm) *Region {
	start, end := vpnRange(startVA, endVA)
	r := newIdentityRegion(start, end, perm)
	as.insert(r)
	return r
}

// regionAt returns the region owning vpn, or nil.
func (as *AddressSpace) regionAt(vpn sv39.VPN) *Region {
	for _, r := range as.regions {
		if vpn >= r.StartVPN && vpn < r.EndVPN {
			return r
		}
	}
	return nil
}

// ShrinkTo shrinks the region starting at startVA so it ends at newEndVA,
// freeing the frames dropped from the tail.
func (as *AddressSpace) ShrinkTo(startVA uintptr, newEndVA uintptr) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	r := as.regionAt(sv39.VA(startVA).VPN())
	if r == nil || r.StartVPN != sv39.VA(startVA).VPN() {
		return fmt.Errorf("vm: no region starting at %#x", startVA)
	}
	_, newEnd := vpnRange(startVA, newEndVA)
	r.shrinkTo(as.pt, as.alloc, newEnd)
	return nil
}

// AppendTo grows the region starting at startVA so it ends at newEndVA,
// allocating and mapping the frames added at the tail.
func (as *AddressSpace) AppendTo(startVA uintptr, newEndVA uintptr) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	r := as.regionAt(sv39.VA(startVA).VPN())
	if r == nil || r.StartVPN != sv39.VA(startVA).VPN() {
		return fmt.Errorf("vm: no region starting at %#x", startVA)
	}
	_, newEnd := vpnRange(startVA, newEndVA)
	r.appendTo(as.pt, as.alloc, newEnd)
	return nil
}

// RemoveRegion unmaps and frees the entire region starting at startVA
// and drops it from the region list, used when a kernel stack is torn
// down on PCB destruction (spec.md §4.E invariant (b)).
func (as *AddressSpace) RemoveRegion(startVA uintptr) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	vpn := sv39.VA(startVA).VPN()
	for i, r := range as.regions {
		if r.StartVPN == vpn {
			r.unmapFrom(as.pt, as.alloc)
			as.regions = append(as.regions[:i], as.regions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("vm: no region starting at %#x", startVA)
}

// TrapContextFrame returns the physical frame currently backing the
// trap-context VA, or false if this address space has none mapped
// there (the kernel space never does). Used to re-locate the trap
// context's PA after Fork clones a new address space.
func (as *AddressSpace) TrapContextFrame() (mem.PPN, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	vpn := sv39.VA(kconfig.TrapContext).VPN()
	r := as.regionAt(vpn)
	if r == nil {
		return 0, false
	}
	return r.Frame(vpn)
}

// Translate resolves va to a physical address, or false if unmapped.
func (as *AddressSpace) Translate(va sv39.VA) (uintptr, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pt.TranslateVA(va)
}

// CopyIn copies n bytes from user virtual address va into dst, crossing
// page boundaries as needed. It mirrors the teacher's Userdmap8 user
// copy helper: translate one page at a time, since pages need not be
// physically contiguous.
func (as *AddressSpace) CopyIn(va uintptr, dst []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.copy(va, dst, false)
}

// CopyOut copies len(src) bytes from src into user virtual address va.
func (as *AddressSpace) CopyOut(va uintptr, src []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.copy(va, src, true)
}

func (as *AddressSpace) copy(va uintptr, buf []byte, toUser bool) error {
	for len(buf) > 0 {
		pa, ok := as.pt.TranslateVA(sv39.VA(va))
		if !ok {
			return fmt.Errorf("vm: unmapped user address %#x", va)
		}
		offset := uintptr(va) & kconfig.PageOffsetMask
		chunk := kconfig.PageSize - int(offset)
		if chunk > len(buf) {
			chunk = len(buf)
		}
		ppn := mem.PPN(pa >> kconfig.PageShift)
		page := as.alloc.Page(ppn)
		if toUser {
			copy(page[offset:offset+uintptr(chunk)], buf[:chunk])
		} else {
			copy(buf[:chunk], page[offset:offset+uintptr(chunk)])
		}
		buf = buf[chunk:]
		va += uintptr(chunk)
	}
	return nil
}

// CopyInString reads a NUL-terminated string starting at va, up to
// maxLen bytes, matching spec.md §4.K's bounded user-string semantics.
func (as *AddressSpace) CopyInString(va uintptr, maxLen int) (string, error) {
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)
	for len(buf) < maxLen {
		if err := as.CopyIn(va+uintptr(len(buf)), one); err != nil {
			return "", err
		}
		if one[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, one[0])
	}
	return "", fmt.Errorf("vm: user string exceeds %d bytes", maxLen)
}

// mapTrampoline maps the single shared trampoline page at the fixed top
// VPN of every address space, onto the given physical frame. Every
// address space maps the same PPN there, per spec.md §4.D's "trampoline
// identity" invariant.
func (as *AddressSpace) mapTrampoline(ppn mem.PPN) {
	vpn := sv39.VA(kconfig.Trampoline).VPN()
	as.pt.Map(vpn, ppn, sv39.FlagV|sv39.Flag(PermR)|sv39.Flag(PermX))
}

// NewKernelSpace builds the one global kernel address space: identity
// maps over the whole simulated RAM range plus the trampoline, mirroring
// Kpmap's construction in the teacher (there walled off per-section by
// linker symbols; here, since this is a software simulation with no
// linked sections, the entire backing RAM is identity-mapped R/W/X,
// which is the simulation's stand-in for "every kernel section is
// mapped").
func NewKernelSpace(a *mem.Allocator, ramPages int, trampolinePPN mem.PPN) *AddressSpace {
	as := New(a)
	as.mu.Lock()
	as.insertIdentityArea(0, uintptr(ramPages)*kconfig.PageSize, PermR|PermW|PermX)
	as.mu.Unlock()
	as.mapTrampoline(trampolinePPN)
	log.WithField("pages", ramPages).Info("kernel address space built")
	return as
}

// ELFImage is the result of loading a user program: the address space
// plus the two facts Exec needs to resume execution (spec.md §4.C).
type ELFImage struct {
	Space         *AddressSpace
	Entry         uintptr
	UserStack     uintptr // top of the user stack (highest mapped byte + 1)
	TrapContextPPN mem.PPN
}

// NewUserSpaceFromELF parses an ELF64 image with the standard library's
// debug/elf reader (the teacher instead hand-parses a flat bootloader
// image; an ELF loader is grounded on the convention every rCore-style
// kernel in original_source/os/src/loader.rs follows: load PT_LOAD
// segments framed, append a guard page, a user stack, and the shared
// trap-context/trampoline pages).
func NewUserSpaceFromELF(a *mem.Allocator, image []byte, trampolinePPN mem.PPN) (*ELFImage, error) {
	f, err := elf.NewFile(sliceReaderAt(image))
	if err != nil {
		return nil, fmt.Errorf("vm: parsing ELF: %w", err)
	}
	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("vm: only 64-bit ELF images are supported")
	}

	as := New(a)
	as.mu.Lock()
	maxEnd := uintptr(0)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		perm := Perm(0)
		if prog.Flags&elf.PF_R != 0 {
			perm |= PermR
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= PermW
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= PermX
		}
		perm |= PermU

		start := uintptr(prog.Vaddr)
		end := start + uintptr(prog.Filesz)
		r := newFramedRegion(vpnRangeStart(start), vpnRangeEnd(end), perm)
		as.insert(r)
		if err := as.writeSegment(r, start, prog); err != nil {
			as.mu.Unlock()
			return nil, err
		}
		segEnd := start + uintptr(prog.Memsz)
		if segEnd > maxEnd {
			maxEnd = segEnd
		}
	}

	// Guard page, matching MemorySet::from_elf in original_source: one
	// unmapped page between the highest loaded segment and the stack
	// (left out of every region, so no mapping call is needed for it).
	userStackBase := (maxEnd + 2*kconfig.PageSize - 1) &^ uintptr(kconfig.PageOffsetMask)
	userStackTop := userStackBase + kconfig.UserStackSize
	stackRegion := newFramedRegion(sv39.VA(userStackBase).VPN(), sv39.VA(userStackTop).VPN(), PermR|PermW|PermU)
	as.insert(stackRegion)

	// Trap-context page, immediately below the trampoline, framed R+W
	// with no U bit: only the kernel ever touches it directly.
	trapCtxRegion := newFramedRegion(sv39.VA(kconfig.TrapContext).VPN(), sv39.VA(kconfig.Trampoline).VPN(), PermR|PermW)
	as.insert(trapCtxRegion)
	trapCtxPPN, _ := trapCtxRegion.Frame(sv39.VA(kconfig.TrapContext).VPN())

	as.mu.Unlock()
	as.mapTrampoline(trampolinePPN)

	return &ELFImage{
		Space:          as,
		Entry:          uintptr(f.Entry),
		UserStack:      userStackTop,
		TrapContextPPN: trapCtxPPN,
	}, nil
}

// writeSegment copies a PT_LOAD segment's file contents into the frames
// just mapped for it. Called with as.mu already held.
func (as *AddressSpace) writeSegment(r *Region, start uintptr, prog *elf.Prog) error {
	data := make([]byte, prog.Filesz)
	if _, err := prog.ReadAt(data, 0); err != nil {
		return fmt.Errorf("vm: reading PT_LOAD segment: %w", err)
	}
	off := uintptr(0)
	for len(data) > 0 {
		vpn := sv39.VA(start + off).VPN()
		ppn, ok := r.Frame(vpn)
		if !ok {
			return fmt.Errorf("vm: segment byte at %#x has no backing frame", start+off)
		}
		pageOff := (start + off) & kconfig.PageOffsetMask
		chunk := kconfig.PageSize - int(pageOff)
		if chunk > len(data) {
			chunk = len(data)
		}
		page := as.alloc.Page(ppn)
		copy(page[pageOff:], data[:chunk])
		data = data[chunk:]
		off += uintptr(chunk)
	}
	return nil
}

func vpnRangeStart(va uintptr) sv39.VPN { return sv39.VA(va &^ uintptr(kconfig.PageOffsetMask)).VPN() }
func vpnRangeEnd(va uintptr) sv39.VPN {
	return sv39.VA((va + kconfig.PageSize - 1) &^ uintptr(kconfig.PageOffsetMask)).VPN()
}

// Fork clones an address space frame-by-frame: every Framed region gets
// fresh frames with the source bytes copied in, matching spec.md §4.C's
// "fork always deep-copies, never shares" (the Non-goal that rules out
// COW). Identity regions (kernel space only, never forked in practice)
// are re-mapped onto the same physical frames since they own none.
func (as *AddressSpace) Fork(trampolinePPN mem.PPN) *AddressSpace {
	as.mu.Lock()
	defer as.mu.Unlock()

	child := New(as.alloc)
	for _, r := range as.regions {
		switch r.Kind {
		case Identity:
			nr := newIdentityRegion(r.StartVPN, r.EndVPN, r.Perm)
			child.insert(nr)
		case Framed:
			nr := newFramedRegion(r.StartVPN, r.EndVPN, r.Perm)
			child.insert(nr)
			for vpn := r.StartVPN; vpn < r.EndVPN; vpn++ {
				srcPPN, _ := r.Frame(vpn)
				dstPPN, _ := nr.Frame(vpn)
				*child.alloc.Page(dstPPN) = *as.alloc.Page(srcPPN)
			}
		}
	}
	child.mapTrampoline(trampolinePPN)
	return child
}

// Teardown unmaps and frees every region's frames, matching Uvmfree:
// called when a process exits, and by Exec on the address space it
// replaces.
func (as *AddressSpace) Teardown() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, r := range as.regions {
		r.unmapFrom(as.pt, as.alloc)
	}
	as.regions = nil
}

// sliceReaderAt adapts a byte slice to io.ReaderAt for debug/elf.
type sliceReaderAt []byte

func (s sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(s)) {
		return 0, fmt.Errorf("vm: ELF read past end of image")
	}
	n := copy(p, s[off:])
	if n < len(p) {
		return n, fmt.Errorf("vm: short ELF read")
	}
	return n, nil
}
