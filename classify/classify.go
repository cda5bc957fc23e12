// Package classify defines the Instruction Classifier and Program Walker
// contracts the core consumes (spec §4.1, §6). These are external
// collaborators per spec §1 — the actual disassembly of a RISC-V opcode
// and the object-file section lookup live outside the codec core — so
// this package holds interfaces plus a reference implementation of each,
// grounded on the teacher's common.InstrInfo/common.MemoryAccessor
// contract shape (common/instr_info.go, common/mem_acc.go).
package classify

import "rvtrace/errs"

// RASKind classifies a control-transfer instruction's effect on the
// decoder's return-address stack.
type RASKind int

const (
	RASNone RASKind = iota
	RASCall
	RASRet
	RASCoRet // call-and-return: pop then push
)

func (k RASKind) String() string {
	switch k {
	case RASCall:
		return "call"
	case RASRet:
		return "ret"
	case RASCoRet:
		return "coret"
	default:
		return "none"
	}
}

// Classification is the answer to classify(word) from spec §4.1/§6.
type Classification struct {
	IsBranch              bool // conditional branch
	IsUnpredDiscontinuity bool // jalr and compressed forms, mret/sret/uret
	IsUnsupported         bool // hardware-loop setup forms
	RAS                   RASKind
	Compressed            bool
	Len                   int // effective instr_len: 2/4/6/8
}

// Classifier answers the four classification questions for a raw
// instruction word. implicitRet mirrors Config.ImplicitRet: when true,
// ret/c.ret are NOT considered unpredictable discontinuities.
type Classifier interface {
	Classify(word uint64, implicitRet bool) (Classification, error)
}

// InsnType is the disassembler's per-instruction classification, spec §6:
// {nonbranch, jsr, branch, condbranch, dref, dref2, condjsr, noninsn}.
type InsnType int

const (
	NonBranch InsnType = iota
	Jsr
	Branch
	CondBranch
	DRef
	DRef2
	CondJsr
	NonInsn
)

func (t InsnType) String() string {
	switch t {
	case NonBranch:
		return "nonbranch"
	case Jsr:
		return "jsr"
	case Branch:
		return "branch"
	case CondBranch:
		return "condbranch"
	case DRef:
		return "dref"
	case DRef2:
		return "dref2"
	case CondJsr:
		return "condjsr"
	case NonInsn:
		return "noninsn"
	default:
		return "unknown"
	}
}

// Disasm is the answer to disassemble(pc) from spec §6.
type Disasm struct {
	Size       int
	Type       InsnType
	Target     uint64
	HasTarget  bool
	RAS        RASKind
	Compressed bool
}

// Disassembler is the Program Walker contract: given a PC, return the
// instruction bytes' classification plus, when statically resolvable, the
// jump target. Implementations read memory through their own accessor
// (spec §6's separate memory-read callback).
type Disassembler interface {
	Disassemble(pc uint64) (Disasm, error)
}

// errBadInstr is the canonical wrapped error for disassembly failure,
// reused by reference implementations so callers can errors.Is against a
// single sentinel-shaped value.
func errBadInstr(format string, args ...interface{}) error {
	return errs.Newf(errs.BadInstr, format, args...)
}
