package fs

import (
	"rvkernel/internal/blockcache"
	"rvkernel/internal/kconfig"
)

// FileType distinguishes a regular file from a directory in DiskInode.Type.
type FileType uint32

const (
	TypeFile FileType = 0
	TypeDir  FileType = 1
)

// diskInodeSize is sizeof(DiskInode) on disk: one u32 size, 28 direct
// pointers, indirect1, indirect2, and type, all u32 — 128 bytes, no
// padding since every field is the same width.
const diskInodeSize = 4 + kconfig.InodeDirect*4 + 4 + 4 + 4

const inodesPerBlock = kconfig.BlockSize / diskInodeSize

// inodeBlock is one inode-area block's on-disk layout: inodesPerBlock
// consecutive DiskInode records.
type inodeBlock [inodesPerBlock]DiskInode

// DiskInode is the on-disk inode layout, bit-exact per spec.md §6.
type DiskInode struct {
	Size      uint32
	Direct    [kconfig.InodeDirect]uint32
	Indirect1 uint32
	Indirect2 uint32
	Type      uint32
}

// indirectBlock is one indirect block's on-disk layout: 128 u32
// data-block ids, 0 meaning unused.
type indirectBlock [kconfig.IndirectEntries]uint32

const (
	directBound    = kconfig.InodeDirect
	indirect1Bound = directBound + kconfig.IndirectEntries
	indirect2Bound = indirect1Bound + kconfig.IndirectEntries*kconfig.IndirectEntries
)

func dataBlocksForSize(size uint32) int {
	return (int(size) + kconfig.BlockSize - 1) / kconfig.BlockSize
}

// totalBlocksForSize returns the number of blocks (data blocks plus
// the indirect1/indirect2 index blocks they require) a file of size
// bytes occupies, per spec.md's `total_blocks` helper.
func totalBlocksForSize(size uint32) int {
	data := dataBlocksForSize(size)
	total := data
	if data > directBound {
		total++ // indirect1 index block
	}
	if data > indirect1Bound {
		total++ // indirect2 index block
		total += (data - indirect1Bound + kconfig.IndirectEntries - 1) / kconfig.IndirectEntries
	}
	return total
}

// blocksNumNeeded is spec.md's `blocks_num_needed(new_size)`.
func blocksNumNeeded(curSize, newSize uint32) int {
	return totalBlocksForSize(newSize) - totalBlocksForSize(curSize)
}

// inodePos translates an inode id to its inode-area block and its slot
// index among that block's inodesPerBlock records (the byte offset is
// slot*diskInodeSize).
func inodePos(inodeAreaStart int, id uint32) (block, offset int) {
	block = inodeAreaStart + int(id)/inodesPerBlock
	offset = int(id) % inodesPerBlock
	return block, offset
}

// readInode returns a copy of the on-disk inode id.
func (fsys *FileSystem) readInode(id uint32) DiskInode {
	block, slot := inodePos(fsys.layout.InodeAreaStart, id)
	h := fsys.cache.Get(block)
	defer h.Release()
	return blockcache.Read(h, func(b *inodeBlock) DiskInode { return b[slot] })
}

// modifyInode applies fn to the on-disk inode id and marks it dirty.
func (fsys *FileSystem) modifyInode(id uint32, fn func(*DiskInode)) {
	block, slot := inodePos(fsys.layout.InodeAreaStart, id)
	h := fsys.cache.Get(block)
	defer h.Release()
	blockcache.Modify(h, func(b *inodeBlock) struct{} {
		fn(&b[slot])
		return struct{}{}
	})
}

// dataBlockID resolves the absolute block id backing the innerID'th
// (0-based) data block of an inode, walking direct pointers, then the
// indirect1 block, then the indirect2 block and its indirect1
// children, per spec.md §6's index layout.
func (fsys *FileSystem) dataBlockID(inode *DiskInode, innerID int) int {
	switch {
	case innerID < directBound:
		return int(inode.Direct[innerID])
	case innerID < indirect1Bound:
		return fsys.readIndirectEntry(int(inode.Indirect1), innerID-directBound)
	default:
		idx := innerID - indirect1Bound
		outer := idx / kconfig.IndirectEntries
		inner := idx % kconfig.IndirectEntries
		indirect1 := fsys.readIndirectEntry(int(inode.Indirect2), outer)
		return fsys.readIndirectEntry(indirect1, inner)
	}
}

func (fsys *FileSystem) readIndirectEntry(block, slot int) int {
	h := fsys.cache.Get(block)
	defer h.Release()
	return int(blockcache.Read(h, func(b *indirectBlock) uint32 { return b[slot] }))
}

func (fsys *FileSystem) writeIndirectEntry(block, slot, value int) {
	h := fsys.cache.Get(block)
	defer h.Release()
	blockcache.Modify(h, func(b *indirectBlock) struct{} {
		b[slot] = uint32(value)
		return struct{}{}
	})
}

// increaseSize grows inode from its current Size to newSize (setting
// the Size field itself) by consuming exactly the blocks in newBlocks:
// filling remaining direct slots, allocating indirect1 on first
// spillover and filling it, then indirect2 plus the indirect1 blocks
// it points at, per spec.md's "Inode growth".
func (fsys *FileSystem) increaseSize(inode *DiskInode, newSize uint32, newBlocks []int) {
	curData := dataBlocksForSize(inode.Size)
	newData := dataBlocksForSize(newSize)
	inode.Size = newSize

	bi := 0
	take := func() int { b := newBlocks[bi]; bi++; return b }

	for curData < newData && curData < directBound {
		inode.Direct[curData] = uint32(take())
		curData++
	}
	if curData >= newData {
		return
	}

	if inode.Indirect1 == 0 {
		inode.Indirect1 = uint32(take())
	}
	for curData < newData && curData < indirect1Bound {
		fsys.writeIndirectEntry(int(inode.Indirect1), curData-directBound, take())
		curData++
	}
	if curData >= newData {
		return
	}

	if inode.Indirect2 == 0 {
		inode.Indirect2 = uint32(take())
	}
	for curData < newData {
		idx := curData - indirect1Bound
		outer := idx / kconfig.IndirectEntries
		inner := idx % kconfig.IndirectEntries
		if inner == 0 {
			fsys.writeIndirectEntry(int(inode.Indirect2), outer, take())
		}
		indirect1 := fsys.readIndirectEntry(int(inode.Indirect2), outer)
		fsys.writeIndirectEntry(indirect1, inner, take())
		curData++
	}
}

// clearSize returns every block (data blocks plus index blocks) the
// caller must dealloc, and resets inode to an empty file, per spec.md's
// "Inode truncation".
func (fsys *FileSystem) clearSize(inode *DiskInode) []int {
	data := dataBlocksForSize(inode.Size)
	var freed []int

	for i := 0; i < data && i < directBound; i++ {
		freed = append(freed, int(inode.Direct[i]))
		inode.Direct[i] = 0
	}

	if data > directBound {
		n := data - directBound
		if n > kconfig.IndirectEntries {
			n = kconfig.IndirectEntries
		}
		for i := 0; i < n; i++ {
			freed = append(freed, fsys.readIndirectEntry(int(inode.Indirect1), i))
		}
		freed = append(freed, int(inode.Indirect1))
		inode.Indirect1 = 0
	}

	if data > indirect1Bound {
		remaining := data - indirect1Bound
		outerBlocks := (remaining + kconfig.IndirectEntries - 1) / kconfig.IndirectEntries
		for o := 0; o < outerBlocks; o++ {
			indirect1 := fsys.readIndirectEntry(int(inode.Indirect2), o)
			n := remaining - o*kconfig.IndirectEntries
			if n > kconfig.IndirectEntries {
				n = kconfig.IndirectEntries
			}
			for i := 0; i < n; i++ {
				freed = append(freed, fsys.readIndirectEntry(indirect1, i))
			}
			freed = append(freed, indirect1)
		}
		freed = append(freed, int(inode.Indirect2))
		inode.Indirect2 = 0
	}

	inode.Size = 0
	return freed
}

// readAt copies min(len(buf), size-offset) bytes from inode's data
// into buf, returning the count. Reading past end-of-file returns
// fewer bytes than requested, never an error, per spec.md.
func (fsys *FileSystem) readAt(inode *DiskInode, offset int, buf []byte) int {
	size := int(inode.Size)
	if offset >= size {
		return 0
	}
	end := offset + len(buf)
	if end > size {
		end = size
	}
	read := 0
	for offset < end {
		blockOff := offset % kconfig.BlockSize
		chunk := kconfig.BlockSize - blockOff
		if offset+chunk > end {
			chunk = end - offset
		}
		block := fsys.dataBlockID(inode, offset/kconfig.BlockSize)
		h := fsys.cache.Get(block)
		blockcache.Read(h, func(b *[kconfig.BlockSize]byte) struct{} {
			copy(buf[read:read+chunk], b[blockOff:blockOff+chunk])
			return struct{}{}
		})
		h.Release()
		offset += chunk
		read += chunk
	}
	return read
}

// writeAt copies data into inode's data region starting at offset. The
// caller (FileSystem.Inode.WriteAt) must have already grown the inode
// to cover [offset, offset+len(data)) via increaseSize.
func (fsys *FileSystem) writeAt(inode *DiskInode, offset int, data []byte) int {
	end := offset + len(data)
	written := 0
	for offset < end {
		blockOff := offset % kconfig.BlockSize
		chunk := kconfig.BlockSize - blockOff
		if offset+chunk > end {
			chunk = end - offset
		}
		block := fsys.dataBlockID(inode, offset/kconfig.BlockSize)
		h := fsys.cache.Get(block)
		blockcache.Modify(h, func(b *[kconfig.BlockSize]byte) struct{} {
			copy(b[blockOff:blockOff+chunk], data[written:written+chunk])
			return struct{}{}
		})
		h.Release()
		offset += chunk
		written += chunk
	}
	return written
}
