// Package fs implements the on-disk filesystem spec.md §4.H describes:
// a superblock, inode and data bitmaps, indexed on-disk inodes with
// direct/indirect1/indirect2 block pointers, and flat directories of
// fixed-size entries, all read and written through internal/blockcache.
//
// The teacher's own fs package (fs/super.go, fs/blk.go) is a
// log-structured, journaling filesystem built around an on-disk write
// -ahead log (op_begin/op_commit) that this core's Non-goals exclude.
// What is kept from it is the field-accessor style for the on-disk
// superblock (super.go's fieldr/fieldw-over-a-block idiom) generalized
// to spec.md §6's bit-exact, non-journaling layout.
package fs

import "rvkernel/internal/kconfig"

const bitsPerBlock = 64 * 64 // one BitmapBlock word count * bits per u64

// Layout is the block-range derivation spec.md §4.H's "Layout
// derivation on create" describes: given total_blocks and
// inode_bitmap_blocks, size every other region so the five regions
// exactly partition the device.
type Layout struct {
	TotalBlocks       int
	InodeBitmapStart  int
	InodeBitmapBlocks int
	InodeAreaStart    int
	InodeAreaBlocks   int
	DataBitmapStart   int
	DataBitmapBlocks  int
	DataAreaStart     int
	DataAreaBlocks    int
}

// DeriveLayout computes a Layout from totalBlocks and
// inodeBitmapBlocks, matching spec.md's sizing rule exactly: the inode
// area holds inodeBitmapBlocks*4096 inodes, and the data bitmap/data
// area jointly absorb whatever blocks remain, with the data bitmap
// sized to cover the data blocks it doesn't itself occupy.
func DeriveLayout(totalBlocks, inodeBitmapBlocks int) Layout {
	inodeNum := inodeBitmapBlocks * bitsPerBlock
	inodeAreaBlocks := (inodeNum*diskInodeSize + kconfig.BlockSize - 1) / kconfig.BlockSize
	inodeTotalBlocks := inodeBitmapBlocks + inodeAreaBlocks

	dataTotalBlocks := totalBlocks - 1 - inodeTotalBlocks
	dataBitmapBlocks := (dataTotalBlocks + bitsPerBlock) / (bitsPerBlock + 1)
	dataAreaBlocks := dataTotalBlocks - dataBitmapBlocks

	return Layout{
		TotalBlocks:       totalBlocks,
		InodeBitmapStart:  1,
		InodeBitmapBlocks: inodeBitmapBlocks,
		InodeAreaStart:    1 + inodeBitmapBlocks,
		InodeAreaBlocks:   inodeAreaBlocks,
		DataBitmapStart:   1 + inodeTotalBlocks,
		DataBitmapBlocks:  dataBitmapBlocks,
		DataAreaStart:     1 + inodeTotalBlocks + dataBitmapBlocks,
		DataAreaBlocks:    dataAreaBlocks,
	}
}
