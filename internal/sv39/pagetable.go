// Package sv39 implements the RISC-V Sv39 three-level page table
// (spec.md §3/§4.B): VPN[2..0] nine-bit indexes over a 12-bit page
// offset, PTEs with the V/R/W/X/U/G/A/D flag bits, and the satp token
// encoding (mode=8, ASID=0, root PPN).
//
// The three-level walk itself has no analogue in the teacher, whose
// x86-64 page tables are four levels with copy-on-write bookkeeping
// this core's Non-goals exclude; the walk shape (allocate-on-miss at
// non-leaf levels, assert-then-write at the leaf) is grounded on the
// invariants spec.md §4.B spells out directly.
package sv39

import (
	"fmt"
	"unsafe"

	"rvkernel/internal/kconfig"
	"rvkernel/internal/mem"
)

// Flag bits of a page table entry.
type Flag uint64

const (
	FlagV Flag = 1 << 0 // valid
	FlagR Flag = 1 << 1 // readable
	FlagW Flag = 1 << 2 // writable
	FlagX Flag = 1 << 3 // executable
	FlagU Flag = 1 << 4 // user-accessible
	FlagG Flag = 1 << 5 // global
	FlagA Flag = 1 << 6 // accessed
	FlagD Flag = 1 << 7 // dirty
)

const (
	ppnShift = 10
	ppnMask  = uint64(0xfff_ffff_ffff) << ppnShift // bits [53:10]
	flagMask = uint64(0xff)

	modeSv39 = uint64(8)
)

// VPN is a virtual page number: a virtual address with its page
// offset stripped and its upper unused bits cleared.
type VPN uint64

// VA is a full, unshifted virtual address.
type VA uintptr

// PageOffset returns the low PageShift bits of va.
func (va VA) PageOffset() uintptr {
	return uintptr(va) & kconfig.PageOffsetMask
}

// VPN extracts the virtual page number from va.
func (va VA) VPN() VPN {
	return VPN(uintptr(va) >> kconfig.PageShift)
}

// index returns the 9-bit index of this VPN at the given level, where
// level 2 is the root (VPN[2]) and level 0 is the leaf (VPN[0]).
func (v VPN) index(level int) uint64 {
	return (uint64(v) >> (uint(level) * kconfig.VPNBits)) & 0x1ff
}

// PTE is a single 64-bit Sv39 page table entry.
type PTE uint64

// Valid reports whether the V bit is set.
func (p PTE) Valid() bool { return Flag(p)&FlagV != 0 }

// PPN extracts the physical page number the entry points at.
func (p PTE) PPN() mem.PPN { return mem.PPN((uint64(p) & ppnMask) >> ppnShift) }

// Flags extracts the low 8 flag bits.
func (p PTE) Flags() Flag { return Flag(uint64(p) & flagMask) }

func mkPTE(ppn mem.PPN, flags Flag) PTE {
	return PTE(uint64(ppn)<<ppnShift | uint64(flags))
}

// table is one level of the page table: 512 PTEs packed into a
// physical page, read/written through the frame allocator exactly
// like any other physical page (a real kernel would access it via its
// direct map; this simulation just indexes the Page directly).
type table struct {
	ppn mem.PPN
}

// entries reinterprets the table's backing page as 512 PTEs, mirroring
// the teacher's pg2pmap unsafe-pointer cast of a generic page to a
// typed page-table-entry array (biscuit/src/mem/mem.go).
func (t table) entries(a *mem.Allocator) *[512]PTE {
	pg := a.Page(t.ppn)
	return (*[512]PTE)(unsafe.Pointer(&pg[0]))
}

// PageTable is a three-level Sv39 page table. It owns its root frame
// plus every intermediate table frame allocated during mapping, per
// spec.md §3.
type PageTable struct {
	alloc *mem.Allocator
	root  table
	owned []mem.PPN // every table frame this page table has ever allocated
}

// New allocates a fresh, empty page table rooted in a newly allocated
// frame.
func New(a *mem.Allocator) *PageTable {
	ppn, ok := a.Alloc()
	if !ok {
		panic("sv39: out of frames allocating page table root")
	}
	return &PageTable{alloc: a, root: table{ppn}, owned: []mem.PPN{ppn}}
}

// walk descends to the leaf PTE for vpn, allocating intermediate
// table frames on the way if allocate is true and an intermediate entry
// is invalid. It returns nil if a lookup-only walk hits a missing
// intermediate table.
func (pt *PageTable) walk(vpn VPN, allocate bool) *PTE {
	cur := pt.root
	for level := 2; level > 0; level-- {
		entries := cur.entries(pt.alloc)
		idx := vpn.index(level)
		pte := &entries[idx]
		if !pte.Valid() {
			if !allocate {
				return nil
			}
			ppn, ok := pt.alloc.Alloc()
			if !ok {
				panic("sv39: out of frames allocating page table level")
			}
			pt.owned = append(pt.owned, ppn)
			*pte = mkPTE(ppn, FlagV)
		}
		cur = table{pte.PPN()}
	}
	entries := cur.entries(pt.alloc)
	return &entries[vpn.index(0)]
}

// Map installs vpn -> ppn with the given flags (V is added
// automatically). It panics if vpn is already mapped, per spec.md
// §4.B.
func (pt *PageTable) Map(vpn VPN, ppn mem.PPN, flags Flag) {
	leaf := pt.walk(vpn, true)
	if leaf.Valid() {
		panic(fmt.Sprintf("sv39: vpn %#x already mapped", vpn))
	}
	*leaf = mkPTE(ppn, flags|FlagV)
}

// Unmap clears the mapping for vpn. It panics if vpn is not currently
// mapped. No intermediate tables are freed, per spec.md §4.B.
func (pt *PageTable) Unmap(vpn VPN) {
	leaf := pt.walk(vpn, false)
	if leaf == nil || !leaf.Valid() {
		panic(fmt.Sprintf("sv39: vpn %#x not mapped", vpn))
	}
	*leaf = 0
}

// Translate returns a copy of the leaf PTE for vpn, or false if any
// level of the walk hits an invalid entry.
func (pt *PageTable) Translate(vpn VPN) (PTE, bool) {
	leaf := pt.walk(vpn, false)
	if leaf == nil || !leaf.Valid() {
		return 0, false
	}
	return *leaf, true
}

// TranslateVA translates a full virtual address to a physical address,
// or false if its page is unmapped.
func (pt *PageTable) TranslateVA(va VA) (uintptr, bool) {
	pte, ok := pt.Translate(va.VPN())
	if !ok {
		return 0, false
	}
	return uintptr(pte.PPN())<<kconfig.PageShift | va.PageOffset(), true
}

// Token returns the satp value selecting this page table (Sv39 mode,
// ASID 0, this table's root PPN).
func (pt *PageTable) Token() uint64 {
	return modeSv39<<60 | uint64(pt.root.ppn)
}

// RootPPN exposes the root frame's PPN, e.g. for tests asserting the
// trampoline maps identically across address spaces.
func (pt *PageTable) RootPPN() mem.PPN { return pt.root.ppn }

// Allocator exposes the backing frame allocator so higher layers (vm.AddressSpace)
// can allocate data frames through the same allocator this table uses
// for its own intermediate levels.
func (pt *PageTable) Allocator() *mem.Allocator { return pt.alloc }
