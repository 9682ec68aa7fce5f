package sched_test

import "encoding/binary"

// buildTestELF mirrors internal/proc's test helper of the same name:
// the smallest ELF64 image debug/elf.NewFile will parse, used here to
// build real PCBs to drive the scheduler with.
func buildTestELF() []byte {
	const (
		ehdrSize = 64
		phdrSize = 56
		vaddr    = uintptr(0x1000)
	)
	code := []byte{0x13, 0x00, 0x00, 0x00}

	buf := make([]byte, ehdrSize+phdrSize+len(code))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)
	le.PutUint16(buf[18:], 243)
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], uint64(vaddr))
	le.PutUint64(buf[32:], ehdrSize)
	le.PutUint64(buf[40:], 0)
	le.PutUint32(buf[48:], 0)
	le.PutUint16(buf[52:], ehdrSize)
	le.PutUint16(buf[54:], phdrSize)
	le.PutUint16(buf[56:], 1)
	le.PutUint16(buf[58:], 0)
	le.PutUint16(buf[60:], 0)
	le.PutUint16(buf[62:], 0)

	ph := buf[ehdrSize:]
	le.PutUint32(ph[0:], 1)
	le.PutUint32(ph[4:], 5)
	le.PutUint64(ph[8:], ehdrSize+phdrSize)
	le.PutUint64(ph[16:], uint64(vaddr))
	le.PutUint64(ph[24:], uint64(vaddr))
	le.PutUint64(ph[32:], uint64(len(code)))
	le.PutUint64(ph[40:], uint64(len(code)))
	le.PutUint64(ph[48:], 0x1000)

	copy(buf[ehdrSize+phdrSize:], code)
	return buf
}
