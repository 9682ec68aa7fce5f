package vm

import (
	"rvkernel/internal/kconfig"
	"rvkernel/internal/mem"
	"rvkernel/internal/sv39"
)

// Perm is a region's permission set, expressed in the same bits as
// sv39.Flag restricted to R/W/X/U (spec.md §3's "permission set").
type Perm sv39.Flag

const (
	PermR Perm = Perm(sv39.FlagR)
	PermW Perm = Perm(sv39.FlagW)
	PermX Perm = Perm(sv39.FlagX)
	PermU Perm = Perm(sv39.FlagU)
)

// Kind distinguishes the two mapping kinds spec.md §3 names.
type Kind int

const (
	// Identity: VPN == PPN, no frame is owned by the region.
	Identity Kind = iota
	// Framed: each VPN owns a freshly allocated frame.
	Framed
)

// Region is a half-open range of VPNs mapped with one kind and one
// permission set, mirroring spec.md §3's "mapped region".
type Region struct {
	StartVPN sv39.VPN
	EndVPN   sv39.VPN // half-open
	Kind     Kind
	Perm     Perm

	// frameOrder preserves insertion order of vpn->frame for Framed
	// regions so Shrink/Grow can free/allocate from the tail, matching
	// the teacher's in-order map vpn->frame in biscuit/src/vm/as.go's
	// Vminfo_t (there expressed as a Vmregion_t list; here, since our
	// regions own frames directly rather than deferring to a shared
	// page-fault path, the order lives on the Region itself).
	frameOrder []sv39.VPN
	frames     map[sv39.VPN]mem.PPN
}

func newFramedRegion(start, end sv39.VPN, perm Perm) *Region {
	return &Region{
		StartVPN: start,
		EndVPN:   end,
		Kind:     Framed,
		Perm:     perm,
		frames:   make(map[sv39.VPN]mem.PPN),
	}
}

func newIdentityRegion(start, end sv39.VPN, perm Perm) *Region {
	return &Region{StartVPN: start, EndVPN: end, Kind: Identity, Perm: perm}
}

// flags converts the region's permission set to sv39 flags, adding the
// mandatory V bit.
func (r *Region) flags() sv39.Flag {
	return sv39.FlagV | sv39.Flag(r.Perm)
}

// pageCount is the number of pages this region currently spans.
func (r *Region) pageCount() int { return int(r.EndVPN - r.StartVPN) }

// mapInto installs every page of the region into pt, allocating a
// fresh zero-filled frame per page for Framed regions.
func (r *Region) mapInto(pt *sv39.PageTable, a *mem.Allocator) {
	for vpn := r.StartVPN; vpn < r.EndVPN; vpn++ {
		switch r.Kind {
		case Identity:
			pt.Map(vpn, mem.PPN(vpn), r.flags())
		case Framed:
			ppn, ok := a.Alloc()
			if !ok {
				panic("vm: out of frames mapping framed region")
			}
			pt.Map(vpn, ppn, r.flags())
			r.frames[vpn] = ppn
			r.frameOrder = append(r.frameOrder, vpn)
		}
	}
}

// unmapFrom removes every page of the region from pt, freeing owned
// frames for Framed regions.
func (r *Region) unmapFrom(pt *sv39.PageTable, a *mem.Allocator) {
	for vpn := r.StartVPN; vpn < r.EndVPN; vpn++ {
		pt.Unmap(vpn)
		if r.Kind == Framed {
			a.Free(r.frames[vpn])
			delete(r.frames, vpn)
		}
	}
	r.frameOrder = nil
}

// shrinkTo reduces the region's end to newEnd, unmapping and freeing
// the pages dropped from the tail.
func (r *Region) shrinkTo(pt *sv39.PageTable, a *mem.Allocator, newEnd sv39.VPN) {
	if newEnd > r.EndVPN {
		panic("vm: shrinkTo must not grow the region")
	}
	for vpn := newEnd; vpn < r.EndVPN; vpn++ {
		pt.Unmap(vpn)
		if r.Kind == Framed {
			a.Free(r.frames[vpn])
			delete(r.frames, vpn)
		}
	}
	if r.Kind == Framed {
		for len(r.frameOrder) > 0 && r.frameOrder[len(r.frameOrder)-1] >= newEnd {
			r.frameOrder = r.frameOrder[:len(r.frameOrder)-1]
		}
	}
	r.EndVPN = newEnd
}

// appendTo grows the region's end to newEnd, mapping and allocating
// the pages added at the tail.
func (r *Region) appendTo(pt *sv39.PageTable, a *mem.Allocator, newEnd sv39.VPN) {
	if newEnd < r.EndVPN {
		panic("vm: appendTo must not shrink the region")
	}
	for vpn := r.EndVPN; vpn < newEnd; vpn++ {
		switch r.Kind {
		case Identity:
			pt.Map(vpn, mem.PPN(vpn), r.flags())
		case Framed:
			ppn, ok := a.Alloc()
			if !ok {
				panic("vm: out of frames growing framed region")
			}
			pt.Map(vpn, ppn, r.flags())
			r.frames[vpn] = ppn
			r.frameOrder = append(r.frameOrder, vpn)
		}
	}
	r.EndVPN = newEnd
}

// Frame returns the physical frame backing vpn in a Framed region, or
// false if vpn is outside the region or the region is Identity.
func (r *Region) Frame(vpn sv39.VPN) (mem.PPN, bool) {
	if r.Kind != Framed {
		return 0, false
	}
	ppn, ok := r.frames[vpn]
	return ppn, ok
}

func vpnRange(startVA, endVA uintptr) (sv39.VPN, sv39.VPN) {
	start := sv39.VA(startVA).VPN()
	end := sv39.VA((endVA + kconfig.PageSize - 1) &^ uintptr(kconfig.PageOffsetMask)).VPN()
	return start, end
}
