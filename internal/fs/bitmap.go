package fs

import (
	"math/bits"

	"rvkernel/internal/blockcache"
)

// bitmapBlock is one bitmap block's on-disk layout: 64 u64 words,
// bit index within a word LSB-first, per spec.md §6.
type bitmapBlock [64]uint64

// allocBit scans the lenBlocks bitmap blocks starting at startBlock
// for the first u64 word that isn't all-ones, clears-to-sets the
// lowest clear bit via trailing-ones, and returns the global bit
// index. Callers already hold the owning FileSystem's mutex, so the
// read-then-modify pair below is race-free.
func allocBit(c *blockcache.Cache, startBlock, lenBlocks int) (int, bool) {
	for i := 0; i < lenBlocks; i++ {
		h := c.Get(startBlock + i)
		full := blockcache.Read(h, func(b *bitmapBlock) bool {
			for _, w := range b {
				if w != ^uint64(0) {
					return false
				}
			}
			return true
		})
		if full {
			h.Release()
			continue
		}
		bit := blockcache.Modify(h, func(b *bitmapBlock) int {
			for w := 0; w < len(b); w++ {
				if b[w] != ^uint64(0) {
					idx := bits.TrailingZeros64(^b[w])
					b[w] |= 1 << uint(idx)
					return w*64 + idx
				}
			}
			panic("fs: bitmap block became full between check and allocation")
		})
		h.Release()
		return i*bitsPerBlock + bit, true
	}
	return 0, false
}

// deallocBit clears the globally-indexed bit, asserting it was set.
func deallocBit(c *blockcache.Cache, startBlock, lenBlocks, bit int) {
	blockIdx := bit / bitsPerBlock
	within := bit % bitsPerBlock
	wordIdx, bitIdx := within/64, within%64
	if blockIdx < 0 || blockIdx >= lenBlocks {
		panic("fs: dealloc bit out of bitmap range")
	}
	h := c.Get(startBlock + blockIdx)
	blockcache.Modify(h, func(b *bitmapBlock) struct{} {
		if b[wordIdx]&(1<<uint(bitIdx)) == 0 {
			panic("fs: dealloc of an already-clear bitmap bit")
		}
		b[wordIdx] &^= 1 << uint(bitIdx)
		return struct{}{}
	})
	h.Release()
}
