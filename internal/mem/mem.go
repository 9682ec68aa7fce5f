// Package mem implements the physical frame allocator and kernel heap
// arena (spec.md §4.A). It is the lowest layer in the core: a bump
// cursor over [current, end) backed by a LIFO recycle list, plus a
// fixed byte arena standing in for the kernel's static heap.
//
// Grounded on biscuit/src/mem/mem.go's Physmem_t (_phys_new/_phys_put
// bump-plus-freelist shape, zero-fill-on-alloc in Refpg_new) with the
// per-CPU sharding stripped out: spec.md's Non-goals exclude SMP, so
// there is exactly one free list, matching the simpler single-core
// shape in iansmith-mazarin's page.go free-list allocator.
package mem

import (
	"golang.org/x/sync/semaphore"

	"rvkernel/internal/kconfig"
	"rvkernel/internal/kernlog"
)

var log = kernlog.For("mem")

// PPN is a physical page number (a physical address right-shifted by
// PageShift bits).
type PPN uint64

// Page is the fixed 4 KiB backing storage of one physical frame.
type Page [kconfig.PageSize]byte

// Allocator hands out and reclaims physical frames. It owns the
// backing RAM array directly (there is no host MMU to delegate to) and
// exposes frames by PPN, mirroring spec.md §3's "ownership is
// singular: a frame handle owns one PPN".
type Allocator struct {
	ram []Page

	current PPN // bump cursor: next never-yet-allocated PPN
	end     PPN // one past the last PPN this allocator may hand out

	recycled []PPN // LIFO free list, grounded on Physmem_t's nexti chain

	sem *semaphore.Weighted // bounds concurrent allocation bursts
}

// NewAllocator creates an Allocator managing numPages physical pages
// starting at PPN 0 (the simulated machine's RAM always starts at
// physical address 0; there is no kernel image to carve out of it
// since this core does not execute as a real ELF binary).
func NewAllocator(numPages int, limits *kconfig.Limits) *Allocator {
	if numPages <= 0 {
		panic("mem: NewAllocator requires a positive page count")
	}
	a := &Allocator{
		ram: make([]Page, numPages),
		end: PPN(numPages),
		sem: semaphore.NewWeighted(limits.MaxFrames),
	}
	return a
}

// Alloc reserves a single zero-filled frame and returns its PPN. It
// returns false if the allocator is exhausted, matching spec.md §4.A's
// "returns None when both are exhausted" contract (translated to Go's
// idiomatic (value, ok) pair rather than an Option type).
func (a *Allocator) Alloc() (PPN, bool) {
	if !a.sem.TryAcquire(1) {
		log.Warn("frame quota exhausted")
		return 0, false
	}
	ppn, ok := a.alloc()
	if !ok {
		a.sem.Release(1)
		return 0, false
	}
	for i := range a.ram[ppn] {
		a.ram[ppn][i] = 0
	}
	return ppn, true
}

// AllocNoZero behaves like Alloc but skips zero-filling, for callers
// that are about to overwrite the whole page anyway (mirrors
// Refpg_new_nozero).
func (a *Allocator) AllocNoZero() (PPN, bool) {
	if !a.sem.TryAcquire(1) {
		return 0, false
	}
	ppn, ok := a.alloc()
	if !ok {
		a.sem.Release(1)
	}
	return ppn, ok
}

func (a *Allocator) alloc() (PPN, bool) {
	if n := len(a.recycled); n > 0 {
		ppn := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return ppn, true
	}
	if a.current >= a.end {
		return 0, false
	}
	ppn := a.current
	a.current++
	return ppn, true
}

// Free returns ppn to the allocator. It panics on the same two
// invariant violations spec.md §4.A calls out: freeing a PPN that was
// never bump-allocated, and double-freeing a PPN already on the
// recycle list.
func (a *Allocator) Free(ppn PPN) {
	if ppn >= a.current {
		panic("mem: freeing a PPN that was never allocated")
	}
	for _, r := range a.recycled {
		if r == ppn {
			panic("mem: double free of PPN")
		}
	}
	a.recycled = append(a.recycled, ppn)
	a.sem.Release(1)
}

// Page returns a pointer to the backing storage of ppn. Callers must
// hold the frame (have allocated it and not yet freed it); there is no
// refcounting in this core (COW is a Non-goal), so ownership is purely
// by convention, matching spec.md §3's "ownership is singular".
func (a *Allocator) Page(ppn PPN) *Page {
	if ppn >= PPN(len(a.ram)) {
		panic("mem: PPN out of range")
	}
	return &a.ram[ppn]
}

// Available reports the number of frames that could still be
// allocated (bump headroom plus recycled frames), for diagnostics and
// tests.
func (a *Allocator) Available() int {
	return int(a.end-a.current) + len(a.recycled)
}

// Heap is a fixed-size byte arena standing in for the kernel's static
// heap image, used by dynamic kernel containers (the scheduler's ready
// queues, the block cache's entry list, and so on in a real kernel
// would come from here; in this software simulation those containers
// are ordinary Go slices/maps, so Heap exists purely to preserve
// spec.md §4.A's "the kernel heap has no interaction with the frame
// allocator" invariant as an explicit, separately-sized arena rather
// than silently reusing Allocator's RAM).
type Heap struct {
	arena []byte
	used  int
}

// NewHeap allocates a Heap of the given size in bytes.
func NewHeap(size int) *Heap {
	return &Heap{arena: make([]byte, size)}
}

// Reserve claims n bytes from the heap arena and returns a slice into
// it, or nil if the arena is exhausted.
func (h *Heap) Reserve(n int) []byte {
	if h.used+n > len(h.arena) {
		return nil
	}
	s := h.arena[h.used : h.used+n]
	h.used += n
	return s
}

// Used reports how many bytes of the arena have been reserved.
func (h *Heap) Used() int { return h.used }

// Size reports the total capacity of the arena.
func (h *Heap) Size() int { return len(h.arena) }
