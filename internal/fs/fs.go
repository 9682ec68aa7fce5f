package fs

import (
	"fmt"
	"sync"

	"rvkernel/internal/blockcache"
	"rvkernel/internal/blockdev"
	"rvkernel/internal/kernlog"
)

var log = kernlog.For("fs")

// rootInodeID is the inode id reserved for the filesystem root
// directory, always the first inode allocated on Create.
const rootInodeID = 0

// FileSystem is the whole on-disk filesystem: superblock-derived
// layout, bitmaps, inode area and data area, all read and written
// through a shared blockcache.Cache. Every operation serializes
// through mu, per spec.md §4.H: "the VFS inode handle serializes all
// of its operations through the fs-wide mutex".
type FileSystem struct {
	mu     sync.Mutex
	cache  *blockcache.Cache
	layout Layout
}

// Create formats dev as a fresh filesystem with the given layout
// parameters, writes the superblock, zeroes the bitmaps, and creates
// the root directory inode. It returns a FileSystem ready for use.
func Create(dev blockdev.Device, totalBlocks, inodeBitmapBlocks int) *FileSystem {
	layout := DeriveLayout(totalBlocks, inodeBitmapBlocks)
	cache := blockcache.New(dev)

	zeroBitmapRegion(cache, layout.InodeBitmapStart, layout.InodeBitmapBlocks)
	zeroBitmapRegion(cache, layout.DataBitmapStart, layout.DataBitmapBlocks)
	writeSuperblock(cache, layout)

	fsys := &FileSystem{cache: cache, layout: layout}
	id, ok := allocBit(cache, layout.InodeBitmapStart, layout.InodeBitmapBlocks)
	if !ok || uint32(id) != rootInodeID {
		panic("fs: root inode must be the first inode allocated on a fresh filesystem")
	}
	fsys.modifyInode(rootInodeID, func(di *DiskInode) { di.Type = uint32(TypeDir) })

	fsys.cache.SyncAll()
	log.WithField("total_blocks", totalBlocks).Info("filesystem created")
	return fsys
}

func zeroBitmapRegion(c *blockcache.Cache, start, blocks int) {
	for i := 0; i < blocks; i++ {
		h := c.Get(start + i)
		blockcache.Modify(h, func(b *bitmapBlock) struct{} {
			*b = bitmapBlock{}
			return struct{}{}
		})
		h.Release()
	}
}

// OpenFS reads the superblock of an already-formatted dev and returns
// the FileSystem backed by it, matching spec.md §8's persistence
// scenario: "a fresh open_fs(device) yields a state with the same
// inodes and files as before."
func OpenFS(dev blockdev.Device) (*FileSystem, error) {
	cache := blockcache.New(dev)
	layout, err := readLayout(cache)
	if err != nil {
		return nil, fmt.Errorf("fs: open: %w", err)
	}
	return &FileSystem{cache: cache, layout: layout}, nil
}

// SyncAll flushes every dirty cached block to the device.
func (fsys *FileSystem) SyncAll() {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fsys.cache.SyncAll()
}

// Root returns a handle to the root directory inode.
func (fsys *FileSystem) Root() *Inode {
	return &Inode{fsys: fsys, id: rootInodeID}
}

// Inode is the VFS handle spec.md §4.H describes: a thin reference to
// an on-disk inode id, exposing file and directory operations that all
// serialize through the owning FileSystem's mutex.
type Inode struct {
	fsys *FileSystem
	id   uint32
}

// ID returns the inode's on-disk id.
func (in *Inode) ID() uint32 { return in.id }

// Stat returns the inode's size and type.
func (in *Inode) Stat() (size int, typ FileType) {
	in.fsys.mu.Lock()
	defer in.fsys.mu.Unlock()
	di := in.fsys.readInode(in.id)
	return int(di.Size), FileType(di.Type)
}

// ReadAt reads into buf starting at offset, returning the number of
// bytes actually read (fewer than len(buf) iff the file ends within
// the range).
func (in *Inode) ReadAt(offset int, buf []byte) int {
	in.fsys.mu.Lock()
	defer in.fsys.mu.Unlock()
	di := in.fsys.readInode(in.id)
	return in.fsys.readAt(&di, offset, buf)
}

// WriteAt writes data starting at offset, growing the inode first if
// the write extends past its current size.
func (in *Inode) WriteAt(offset int, data []byte) int {
	in.fsys.mu.Lock()
	defer in.fsys.mu.Unlock()

	di := in.fsys.readInode(in.id)
	needEnd := uint32(offset + len(data))
	if needEnd > di.Size {
		in.fsys.growTo(&di, needEnd)
	}
	n := in.fsys.writeAt(&di, offset, data)
	in.fsys.modifyInode(in.id, func(target *DiskInode) { *target = di })
	return n
}

// growTo grows inode di (read by the caller) to at least newSize
// bytes, allocating exactly the blocks blocks_num_needed reports and
// consuming them via increaseSize.
func (fsys *FileSystem) growTo(di *DiskInode, newSize uint32) {
	need := blocksNumNeeded(di.Size, newSize)
	blocks := make([]int, need)
	for i := range blocks {
		id, ok := allocBit(fsys.cache, fsys.layout.DataBitmapStart, fsys.layout.DataBitmapBlocks)
		if !ok {
			panic("fs: out of data blocks")
		}
		blocks[i] = fsys.layout.DataAreaStart + id
	}
	fsys.increaseSize(di, newSize, blocks)
}

// Clear truncates the inode's data to zero length, deallocating every
// data and index block it held.
func (in *Inode) Clear() {
	in.fsys.mu.Lock()
	defer in.fsys.mu.Unlock()
	in.fsys.clearInodeLocked(in.id)
}

func (fsys *FileSystem) clearInodeLocked(id uint32) {
	di := fsys.readInode(id)
	freed := fsys.clearSize(&di)
	fsys.modifyInode(id, func(target *DiskInode) { *target = di })
	for _, b := range freed {
		deallocBit(fsys.cache, fsys.layout.DataBitmapStart, fsys.layout.DataBitmapBlocks, b-fsys.layout.DataAreaStart)
	}
}
