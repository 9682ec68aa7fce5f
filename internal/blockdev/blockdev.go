// Package blockdev models the block device port spec.md §6 names as
// the filesystem's only consumed storage surface: synchronous,
// blocking read_block/write_block of fixed 512-byte blocks. The real
// driver is out of scope; this package provides the Device interface
// plus an in-memory implementation used by tests and by cmd/mkfs
// before an image is flushed to a host file.
package blockdev

import (
	"fmt"

	"rvkernel/internal/kconfig"
)

// Device is the consumed block device contract.
type Device interface {
	ReadBlock(id int, buf *[kconfig.BlockSize]byte)
	WriteBlock(id int, buf *[kconfig.BlockSize]byte)
	NumBlocks() int
}

// Memory is a Device backed entirely by host memory, standing in for
// the real driver in tests and for building a filesystem image before
// it is serialized to disk.
type Memory struct {
	blocks [][kconfig.BlockSize]byte
}

// NewMemory allocates a zero-filled Memory device with the given
// number of blocks.
func NewMemory(numBlocks int) *Memory {
	return &Memory{blocks: make([][kconfig.BlockSize]byte, numBlocks)}
}

func (m *Memory) ReadBlock(id int, buf *[kconfig.BlockSize]byte) {
	m.checkID(id)
	*buf = m.blocks[id]
}

func (m *Memory) WriteBlock(id int, buf *[kconfig.BlockSize]byte) {
	m.checkID(id)
	m.blocks[id] = *buf
}

func (m *Memory) NumBlocks() int { return len(m.blocks) }

func (m *Memory) checkID(id int) {
	if id < 0 || id >= len(m.blocks) {
		panic(fmt.Sprintf("blockdev: block id %d out of range [0,%d)", id, len(m.blocks)))
	}
}

// Raw returns the backing bytes of block id without copying, for use
// by cmd/mkfs when dumping the finished image to a host file.
func (m *Memory) Raw(id int) []byte {
	m.checkID(id)
	return m.blocks[id][:]
}
