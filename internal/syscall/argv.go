package syscall

import (
	"encoding/binary"

	"rvkernel/internal/vm"
)

// argvPointerMax bounds how many argv entries sys_exec will walk
// before giving up, guarding against a malformed, never-NUL-terminated
// user pointer array.
const argvPointerMax = 64

// readArgv walks a user argv array at argvVA — a NUL-pointer (zero
// u64) terminated list of pointers to NUL-terminated strings — and
// returns the decoded strings, matching spec.md §4.E's Exec argument
// convention.
func readArgv(space *vm.AddressSpace, argvVA uintptr) ([]string, error) {
	var argv []string
	for i := 0; i < argvPointerMax; i++ {
		var raw [8]byte
		if err := space.CopyIn(argvVA+uintptr(i)*8, raw[:]); err != nil {
			return nil, err
		}
		ptr := binary.LittleEndian.Uint64(raw[:])
		if ptr == 0 {
			return argv, nil
		}
		s, err := space.CopyInString(uintptr(ptr), maxPathLen)
		if err != nil {
			return nil, err
		}
		argv = append(argv, s)
	}
	return argv, nil
}
