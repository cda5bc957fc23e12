package classify

// MemReader is the narrow memory-read contract the disassembler needs;
// satisfied by memacc.Accessor without classify importing that package.
type MemReader interface {
	ReadMemory(addr uint64, data []byte) (int, error)
}

// RVDisassembler is the reference Program Walker (spec §4.1/§6): given a
// PC it fetches the instruction word through a MemReader, classifies it,
// and resolves the target statically when the encoding permits (direct
// branches and jal/c.j/c.beqz/c.bnez). Indirect forms (jalr, c.jr, c.jalr,
// mret/sret/uret) report HasTarget=false — the decoder must take the
// target from the packet stream for those, exactly as spec §4.6 requires.
type RVDisassembler struct {
	Mem         MemReader
	ImplicitRet bool
}

func NewRVDisassembler(mem MemReader, implicitRet bool) *RVDisassembler {
	return &RVDisassembler{Mem: mem, ImplicitRet: implicitRet}
}

func (d *RVDisassembler) Disassemble(pc uint64) (Disasm, error) {
	var buf [4]byte
	n, err := d.Mem.ReadMemory(pc, buf[:2])
	if err != nil {
		return Disasm{}, err
	}
	if n < 2 {
		return Disasm{Type: NonInsn}, errBadInstr("short read at pc=0x%x", pc)
	}
	word16 := uint16(buf[0]) | uint16(buf[1])<<8
	compressed := word16&0x3 != 0x3

	var word uint64
	var size int
	if compressed {
		word = uint64(word16)
		size = 2
	} else {
		n, err = d.Mem.ReadMemory(pc, buf[:4])
		if err != nil {
			return Disasm{}, err
		}
		if n < 4 {
			return Disasm{Type: NonInsn}, errBadInstr("short read at pc=0x%x", pc)
		}
		word = uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24
		size = 4
	}

	cls, err := (RV{}).Classify(word, d.ImplicitRet)
	if err != nil {
		return Disasm{Type: NonInsn}, errBadInstr("%v", err)
	}
	if cls.IsUnsupported {
		return Disasm{Type: NonInsn}, errBadInstr("unsupported (hardware-loop) instruction at pc=0x%x", pc)
	}

	out := Disasm{Size: size, RAS: cls.RAS, Compressed: compressed}

	switch {
	case cls.IsBranch:
		out.Type = CondBranch
		if t, ok := branchTarget(word, size, pc); ok {
			out.Target, out.HasTarget = t, true
		}
	case cls.IsUnpredDiscontinuity:
		out.Type = Jsr
		out.HasTarget = false
	case !compressed && (word&0x7F) == opJal:
		out.Type = Jsr
		out.Target = pc + uint64(signExtend(jImm(uint32(word)), 21))
		out.HasTarget = true
	case compressed && (word16>>13)&0x7 == 0x5 && word16&0x3 == 0x1:
		out.Type = Jsr
		out.Target = pc + uint64(signExtend(uint64(cjImm(word16)), 12))
		out.HasTarget = true
	default:
		out.Type = NonBranch
	}
	return out, nil
}

func branchTarget(word uint64, size int, pc uint64) (uint64, bool) {
	if size == 4 {
		return pc + uint64(signExtend(bImm(uint32(word)), 13)), true
	}
	return pc + uint64(signExtend(uint64(cbImm(uint16(word))), 9)), true
}

func bImm(w uint32) uint64 {
	w64 := uint64(w)
	imm12 := (w64 >> 31) & 1
	imm11 := (w64 >> 7) & 1
	imm10_5 := (w64 >> 25) & 0x3F
	imm4_1 := (w64 >> 8) & 0xF
	return (imm12 << 12) | (imm11 << 11) | (imm10_5 << 5) | (imm4_1 << 1)
}

func jImm(w uint32) uint64 {
	w64 := uint64(w)
	imm20 := (w64 >> 31) & 1
	imm19_12 := (w64 >> 12) & 0xFF
	imm11 := (w64 >> 20) & 1
	imm10_1 := (w64 >> 21) & 0x3FF
	return (imm20 << 20) | (imm19_12 << 12) | (imm11 << 11) | (imm10_1 << 1)
}

func cbImm(w uint16) uint16 {
	w64 := uint32(w)
	imm8 := (w64 >> 12) & 1
	imm4_3 := (w64 >> 10) & 0x3
	imm7_6 := (w64 >> 5) & 0x3
	imm2_1 := (w64 >> 3) & 0x3
	imm5 := (w64 >> 2) & 1
	return uint16((imm8 << 8) | (imm4_3 << 3) | (imm7_6 << 6) | (imm2_1 << 1) | (imm5 << 5))
}

func cjImm(w uint16) uint16 {
	w64 := uint32(w)
	imm11 := (w64 >> 12) & 1
	imm4 := (w64 >> 11) & 1
	imm9_8 := (w64 >> 9) & 0x3
	imm10 := (w64 >> 8) & 1
	imm6 := (w64 >> 7) & 1
	imm7 := (w64 >> 6) & 1
	imm3_1 := (w64 >> 3) & 0x7
	imm5 := (w64 >> 2) & 1
	return uint16((imm11 << 11) | (imm10 << 10) | (imm9_8 << 8) | (imm7 << 7) | (imm6 << 6) | (imm5 << 5) | (imm4 << 4) | (imm3_1 << 1))
}
