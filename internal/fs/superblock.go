package fs

import (
	"fmt"

	"rvkernel/internal/blockcache"
	"rvkernel/internal/kconfig"
)

// rawSuperblock is block 0's layout, bit-exact per spec.md §6: five
// little-endian u32 region sizes following the magic number. All
// fields are uint32 so the in-memory struct layout already matches the
// on-disk byte layout, the same unsafe-cast trick sv39's page table and
// blockcache's generic Read/Modify use elsewhere in this core.
type rawSuperblock struct {
	Magic             uint32
	TotalBlocks       uint32
	InodeBitmapBlocks uint32
	InodeAreaBlocks   uint32
	DataBitmapBlocks  uint32
	DataAreaBlocks    uint32
}

func writeSuperblock(c *blockcache.Cache, l Layout) {
	h := c.Get(0)
	defer h.Release()
	blockcache.Modify(h, func(sb *rawSuperblock) struct{} {
		sb.Magic = kconfig.SuperblockMagic
		sb.TotalBlocks = uint32(l.TotalBlocks)
		sb.InodeBitmapBlocks = uint32(l.InodeBitmapBlocks)
		sb.InodeAreaBlocks = uint32(l.InodeAreaBlocks)
		sb.DataBitmapBlocks = uint32(l.DataBitmapBlocks)
		sb.DataAreaBlocks = uint32(l.DataAreaBlocks)
		return struct{}{}
	})
}

// readLayout re-derives a Layout from block 0, validating the magic
// number. It recomputes the region start offsets the same way
// DeriveLayout does rather than storing them on disk, since they are
// fully determined by the four stored block counts.
func readLayout(c *blockcache.Cache) (Layout, error) {
	h := c.Get(0)
	defer h.Release()
	sb := blockcache.Read(h, func(sb *rawSuperblock) rawSuperblock { return *sb })

	if sb.Magic != kconfig.SuperblockMagic {
		return Layout{}, fmt.Errorf("fs: bad superblock magic %#x, want %#x", sb.Magic, kconfig.SuperblockMagic)
	}

	inodeTotal := int(sb.InodeBitmapBlocks) + int(sb.InodeAreaBlocks)
	return Layout{
		TotalBlocks:       int(sb.TotalBlocks),
		InodeBitmapStart:  1,
		InodeBitmapBlocks: int(sb.InodeBitmapBlocks),
		InodeAreaStart:    1 + int(sb.InodeBitmapBlocks),
		InodeAreaBlocks:   int(sb.InodeAreaBlocks),
		DataBitmapStart:   1 + inodeTotal,
		DataBitmapBlocks:  int(sb.DataBitmapBlocks),
		DataAreaStart:     1 + inodeTotal + int(sb.DataBitmapBlocks),
		DataAreaBlocks:    int(sb.DataAreaBlocks),
	}, nil
}
