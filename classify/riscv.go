package classify

import "fmt"

// RV is the reference RISC-V classifier implementing Classifier. It
// understands the predictable control-transfer set spec.md §1 targets:
// RV32I/RV64I conditional branches and jal/jalr, the privileged
// mret/sret/uret returns, their RVC (compressed) equivalents, and two
// synthesized PULP-style custom branches (p.bneimm/p.beqimm) plus a
// synthesized hardware-loop setup opcode that the encoder must reject.
//
// The exact bit layout of the custom/PULP forms is not given by the
// specification (only their existence and semantics are); this
// implementation synthesizes a custom-0/custom-3 opcode encoding for
// them, documented in DESIGN.md, purely so the reference classifier has
// something concrete to decode in tests and the CLI.
type RV struct{}

const (
	opLoad     = 0x03
	opMiscMem  = 0x0F
	opOpImm    = 0x13
	opAuipc    = 0x17
	opStore    = 0x23
	opOp       = 0x33
	opLui      = 0x37
	opBranch   = 0x63
	opJalr     = 0x67
	opJal      = 0x6F
	opSystem   = 0x73
	opCustom0  = 0x0B // synthesized: p.beqimm / p.bneimm
	opCustom3  = 0x7B // synthesized: hardware-loop setup (unsupported)
)

func signExtend(v uint64, bits int) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

// Classify implements Classifier for the RV32I/RV64I predictable
// control-transfer set described in spec §4.1.
func (RV) Classify(word uint64, implicitRet bool) (Classification, error) {
	if word&0x3 == 0x3 {
		return classify32(uint32(word), implicitRet)
	}
	return classify16(uint16(word), implicitRet)
}

func classify32(w uint32, implicitRet bool) (Classification, error) {
	op := w & 0x7F
	rd := (w >> 7) & 0x1F
	rs1 := (w >> 15) & 0x1F

	switch op {
	case opBranch:
		return Classification{IsBranch: true, Len: 4}, nil

	case opJalr:
		c := Classification{IsUnpredDiscontinuity: true, Len: 4}
		switch {
		case rd == 1 && rs1 == 1:
			c.RAS = RASCoRet
		case rd == 1:
			c.RAS = RASCall
		case rd == 0 && rs1 == 1:
			c.RAS = RASRet
			if implicitRet {
				c.IsUnpredDiscontinuity = false
			}
		}
		return c, nil

	case opJal:
		c := Classification{Len: 4}
		if rd == 1 {
			c.RAS = RASCall
		}
		return c, nil

	case opSystem:
		switch w {
		case 0x30200073, 0x10200073, 0x00200073: // mret, sret, uret
			return Classification{IsUnpredDiscontinuity: true, Len: 4}, nil
		}
		return Classification{Len: 4}, nil

	case opCustom0:
		// synthesized p.beqimm (funct3=0) / p.bneimm (funct3=1): B-type
		// layout, conditional branch on (rs1 cmp immediate).
		funct3 := (w >> 12) & 0x7
		if funct3 == 0 || funct3 == 1 {
			return Classification{IsBranch: true, Len: 4}, nil
		}
		return Classification{}, fmt.Errorf("unknown custom-0 form: 0x%08x", w)

	case opCustom3:
		return Classification{IsUnsupported: true, Len: 4}, nil

	case opLoad, opMiscMem, opOpImm, opAuipc, opStore, opOp, opLui:
		return Classification{Len: 4}, nil
	}
	return Classification{}, fmt.Errorf("unrecognized opcode 0x%02x in word 0x%08x", op, w)
}

func classify16(w uint16, implicitRet bool) (Classification, error) {
	quad := w & 0x3
	funct3 := (w >> 13) & 0x7

	switch quad {
	case 0x1:
		switch funct3 {
		case 0x5: // c.j
			return Classification{Compressed: true, Len: 2}, nil
		case 0x6, 0x7: // c.beqz, c.bnez
			return Classification{IsBranch: true, Compressed: true, Len: 2}, nil
		}
	case 0x2:
		if funct3 == 0x4 {
			rd := (w >> 7) & 0x1F
			rs2 := (w >> 2) & 0x1F
			funct4bit := (w >> 12) & 0x1
			if funct4bit == 1 {
				// c.jalr / c.ebreak / c.add family share this encoding
				if rs2 == 0 && rd != 0 {
					return Classification{
						IsUnpredDiscontinuity: true,
						Compressed:            true,
						Len:                   2,
						RAS:                   RASCall,
					}, nil
				}
			} else if rs2 == 0 && rd != 0 {
				// c.jr rd
				c := Classification{IsUnpredDiscontinuity: true, Compressed: true, Len: 2}
				if rd == 1 {
					c.RAS = RASRet
					if implicitRet {
						c.IsUnpredDiscontinuity = false
					}
				}
				return c, nil
			}
		}
	}
	return Classification{Compressed: true, Len: 2}, nil
}
