package fs

import (
	"bytes"

	"rvkernel/internal/kconfig"
)

// dirEntryNameLen is the fixed name field width on disk: DirentNameMax
// characters plus the mandatory trailing NUL.
const dirEntryNameLen = kconfig.DirentNameMax + 1

// dirent is one 32-byte directory entry, bit-exact per spec.md §6.
type dirent struct {
	Name [dirEntryNameLen]byte
	ID   uint32
}

func newDirent(name string, id uint32) (dirent, bool) {
	if len(name) > kconfig.DirentNameMax {
		return dirent{}, false
	}
	var d dirent
	copy(d.Name[:], name)
	d.ID = id
	return d, true
}

func (d dirent) name() string {
	n := bytes.IndexByte(d.Name[:], 0)
	if n < 0 {
		n = len(d.Name)
	}
	return string(d.Name[:n])
}
