package proc_test

import "encoding/binary"

// buildTestELF hand-assembles the smallest ELF64 executable
// debug/elf.NewFile will accept: one ELF header, one PT_LOAD program
// header, and a handful of bytes of "code" that Spawn/Fork/Exec never
// actually execute (this simulation never runs user instructions, only
// maps and copies the bytes around them).
func buildTestELF() []byte {
	const (
		ehdrSize = 64
		phdrSize = 56
		vaddr    = uintptr(0x1000)
	)
	code := []byte{0x13, 0x00, 0x00, 0x00} // a single RISC-V NOP (addi x0,x0,0), never executed

	buf := make([]byte, ehdrSize+phdrSize+len(code))

	// e_ident
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)    // e_type = ET_EXEC
	le.PutUint16(buf[18:], 243)  // e_machine = EM_RISCV
	le.PutUint32(buf[20:], 1)    // e_version
	le.PutUint64(buf[24:], uint64(vaddr)) // e_entry
	le.PutUint64(buf[32:], ehdrSize)      // e_phoff
	le.PutUint64(buf[40:], 0)             // e_shoff
	le.PutUint32(buf[48:], 0)             // e_flags
	le.PutUint16(buf[52:], ehdrSize)      // e_ehsize
	le.PutUint16(buf[54:], phdrSize)      // e_phentsize
	le.PutUint16(buf[56:], 1)             // e_phnum
	le.PutUint16(buf[58:], 0)             // e_shentsize
	le.PutUint16(buf[60:], 0)             // e_shnum
	le.PutUint16(buf[62:], 0)             // e_shstrndx

	ph := buf[ehdrSize:]
	le.PutUint32(ph[0:], 1)                 // p_type = PT_LOAD
	le.PutUint32(ph[4:], 5)                 // p_flags = R+X
	le.PutUint64(ph[8:], ehdrSize+phdrSize)  // p_offset
	le.PutUint64(ph[16:], uint64(vaddr))     // p_vaddr
	le.PutUint64(ph[24:], uint64(vaddr))     // p_paddr
	le.PutUint64(ph[32:], uint64(len(code))) // p_filesz
	le.PutUint64(ph[40:], uint64(len(code))) // p_memsz
	le.PutUint64(ph[48:], 0x1000)            // p_align

	copy(buf[ehdrSize+phdrSize:], code)
	return buf
}
