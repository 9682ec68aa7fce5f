package fs

import (
	"encoding/binary"
	"fmt"

	"rvkernel/internal/kconfig"
)

func encodeDirent(d dirent) []byte {
	buf := make([]byte, kconfig.DirentSize)
	copy(buf, d.Name[:])
	binary.LittleEndian.PutUint32(buf[dirEntryNameLen:], d.ID)
	return buf
}

func decodeDirent(buf []byte) dirent {
	var d dirent
	copy(d.Name[:], buf[:dirEntryNameLen])
	d.ID = binary.LittleEndian.Uint32(buf[dirEntryNameLen:])
	return d
}

// entryCount returns how many directory entries di's data holds.
func entryCount(di *DiskInode) int {
	return int(di.Size) / kconfig.DirentSize
}

func (fsys *FileSystem) readEntry(di *DiskInode, i int) dirent {
	buf := make([]byte, kconfig.DirentSize)
	fsys.readAt(di, i*kconfig.DirentSize, buf)
	return decodeDirent(buf)
}

func (fsys *FileSystem) writeEntry(di *DiskInode, i int, d dirent) {
	fsys.writeAt(di, i*kconfig.DirentSize, encodeDirent(d))
}

// requireDir panics if di is not a directory inode, per spec.md §7's
// "reading a non-directory as one" contract-bug invariant.
func requireDir(di *DiskInode) {
	if FileType(di.Type) != TypeDir {
		panic("fs: directory operation on a non-directory inode")
	}
}

// findLocked reads dir's entries linearly, returning the first one
// matching name. fsys.mu must already be held.
func (fsys *FileSystem) findLocked(dir *DiskInode, name string) (dirent, int, bool) {
	requireDir(dir)
	for i := 0; i < entryCount(dir); i++ {
		e := fsys.readEntry(dir, i)
		if e.name() == name {
			return e, i, true
		}
	}
	return dirent{}, 0, false
}

// Find looks up name in the directory in, per spec.md's "find(name)
// reads entries linearly".
func (in *Inode) Find(name string) (*Inode, bool) {
	in.fsys.mu.Lock()
	defer in.fsys.mu.Unlock()
	di := in.fsys.readInode(in.id)
	e, _, ok := in.fsys.findLocked(&di, name)
	if !ok {
		return nil, false
	}
	return &Inode{fsys: in.fsys, id: e.ID}, true
}

// Create allocates a new regular-file inode named name inside
// directory in, matching spec.md's directory Create: confirms the
// name is absent, allocates an inode, initializes it as File, grows
// the directory by one entry, writes the new entry, syncs the cache.
func (in *Inode) Create(name string) (*Inode, error) {
	in.fsys.mu.Lock()
	defer in.fsys.mu.Unlock()

	dir := in.fsys.readInode(in.id)
	if _, _, ok := in.fsys.findLocked(&dir, name); ok {
		return nil, fmt.Errorf("fs: %q already exists", name)
	}

	newID, ok := allocBit(in.fsys.cache, in.fsys.layout.InodeBitmapStart, in.fsys.layout.InodeBitmapBlocks)
	if !ok {
		return nil, fmt.Errorf("fs: out of inodes")
	}
	in.fsys.modifyInode(uint32(newID), func(di *DiskInode) { di.Type = uint32(TypeFile) })

	d, ok := newDirent(name, uint32(newID))
	if !ok {
		return nil, fmt.Errorf("fs: name %q exceeds %d characters", name, kconfig.DirentNameMax)
	}

	idx := entryCount(&dir)
	newSize := uint32((idx + 1) * kconfig.DirentSize)
	in.fsys.growTo(&dir, newSize)
	in.fsys.writeEntry(&dir, idx, d)
	in.fsys.modifyInode(in.id, func(target *DiskInode) { *target = dir })

	in.fsys.cache.SyncAll()
	return &Inode{fsys: in.fsys, id: uint32(newID)}, nil
}

// Ls returns every entry name in directory in, in insertion order.
func (in *Inode) Ls() []string {
	in.fsys.mu.Lock()
	defer in.fsys.mu.Unlock()
	di := in.fsys.readInode(in.id)
	requireDir(&di)
	names := make([]string, 0, entryCount(&di))
	for i := 0; i < entryCount(&di); i++ {
		names = append(names, in.fsys.readEntry(&di, i).name())
	}
	return names
}

// Unlink removes name from directory in: the target inode's data is
// freed and its inode bitmap bit cleared, and the directory entry is
// removed by swapping the last entry into its slot and shrinking the
// directory by one DirentSize (the directory's own data blocks are
// not shrunk, since freeing them would require a block-level
// compaction pass spec.md's Unlink never asks for).
func (in *Inode) Unlink(name string) error {
	in.fsys.mu.Lock()
	defer in.fsys.mu.Unlock()

	dir := in.fsys.readInode(in.id)
	target, idx, ok := in.fsys.findLocked(&dir, name)
	if !ok {
		return fmt.Errorf("fs: %q not found", name)
	}

	in.fsys.clearInodeLocked(target.ID)
	deallocBit(in.fsys.cache, in.fsys.layout.InodeBitmapStart, in.fsys.layout.InodeBitmapBlocks, int(target.ID))

	last := entryCount(&dir) - 1
	if idx != last {
		moved := in.fsys.readEntry(&dir, last)
		in.fsys.writeEntry(&dir, idx, moved)
	}
	dir.Size -= kconfig.DirentSize
	in.fsys.modifyInode(in.id, func(d *DiskInode) { *d = dir })

	in.fsys.cache.SyncAll()
	return nil
}
