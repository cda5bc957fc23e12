package classify

import "testing"

func TestClassifyBranch(t *testing.T) {
	// beq x1, x2, +0: opcode 0x63 (BRANCH), funct3=0
	word := uint32(opBranch)
	cls, err := RV{}.Classify(uint64(word), false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !cls.IsBranch || cls.Len != 4 {
		t.Errorf("Classify(branch) = %+v, want IsBranch=true Len=4", cls)
	}
}

func TestClassifyJalSetsCallWhenLinkRegisterIsRA(t *testing.T) {
	word := uint32(opJal) | (1 << 7) // rd = x1
	cls, err := RV{}.Classify(uint64(word), false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.RAS != RASCall {
		t.Errorf("Classify(jal ra) RAS = %v, want call", cls.RAS)
	}
}

func TestClassifyJalrRetIsUnpredictableUnlessImplicit(t *testing.T) {
	// jalr x0, x1, 0: rd=0, rs1=1 -> ret
	word := uint32(opJalr) | (1 << 15)
	cls, err := RV{}.Classify(uint64(word), false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.RAS != RASRet || !cls.IsUnpredDiscontinuity {
		t.Errorf("Classify(ret, implicit_ret=false) = %+v, want RAS=ret IsUnpredDiscontinuity=true", cls)
	}

	cls, err = RV{}.Classify(uint64(word), true)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.RAS != RASRet || cls.IsUnpredDiscontinuity {
		t.Errorf("Classify(ret, implicit_ret=true) = %+v, want RAS=ret IsUnpredDiscontinuity=false", cls)
	}
}

func TestClassifyJalrCallAndCoRet(t *testing.T) {
	callWord := uint32(opJalr) | (1 << 7) // rd=1, rs1=0
	cls, err := RV{}.Classify(uint64(callWord), false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.RAS != RASCall {
		t.Errorf("Classify(jalr ra, x0) RAS = %v, want call", cls.RAS)
	}

	coretWord := uint32(opJalr) | (1 << 7) | (1 << 15) // rd=1, rs1=1
	cls, err = RV{}.Classify(uint64(coretWord), false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.RAS != RASCoRet {
		t.Errorf("Classify(jalr ra, ra) RAS = %v, want coret", cls.RAS)
	}
}

func TestClassifyMretIsUnpredictableDiscontinuity(t *testing.T) {
	cls, err := RV{}.Classify(0x30200073, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !cls.IsUnpredDiscontinuity {
		t.Errorf("Classify(mret) = %+v, want IsUnpredDiscontinuity=true", cls)
	}
}

func TestClassifyCustom0BranchForms(t *testing.T) {
	beqimm := uint32(opCustom0) // funct3 = 0
	cls, err := RV{}.Classify(uint64(beqimm), false)
	if err != nil {
		t.Fatalf("Classify(p.beqimm): %v", err)
	}
	if !cls.IsBranch {
		t.Errorf("Classify(p.beqimm) = %+v, want IsBranch=true", cls)
	}

	bneimm := uint32(opCustom0) | (1 << 12) // funct3 = 1
	cls, err = RV{}.Classify(uint64(bneimm), false)
	if err != nil {
		t.Fatalf("Classify(p.bneimm): %v", err)
	}
	if !cls.IsBranch {
		t.Errorf("Classify(p.bneimm) = %+v, want IsBranch=true", cls)
	}
}

func TestClassifyCustom3IsUnsupported(t *testing.T) {
	cls, err := RV{}.Classify(uint64(opCustom3), false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !cls.IsUnsupported {
		t.Errorf("Classify(hwloop setup) = %+v, want IsUnsupported=true", cls)
	}
}

func TestClassifyUnrecognizedOpcode(t *testing.T) {
	if _, err := (RV{}).Classify(0x7F, false); err == nil {
		t.Errorf("expected an error for an unrecognized opcode")
	}
}

func TestClassifyCompressedJAndBranch(t *testing.T) {
	// c.j: quad=01, funct3=101
	cj := uint16(0b101_00000000000_01)
	cls, err := RV{}.Classify(uint64(cj), false)
	if err != nil {
		t.Fatalf("Classify(c.j): %v", err)
	}
	if !cls.Compressed || cls.Len != 2 || cls.IsBranch {
		t.Errorf("Classify(c.j) = %+v, want Compressed=true Len=2 IsBranch=false", cls)
	}

	// c.beqz: quad=01, funct3=110
	cbeqz := uint16(0b110_00000000000_01)
	cls, err = RV{}.Classify(uint64(cbeqz), false)
	if err != nil {
		t.Fatalf("Classify(c.beqz): %v", err)
	}
	if !cls.IsBranch || !cls.Compressed {
		t.Errorf("Classify(c.beqz) = %+v, want IsBranch=true Compressed=true", cls)
	}
}

func TestClassifyCompressedJrAndRet(t *testing.T) {
	// c.jr x1: quad=10, funct3=100, bit12=0, rd=1, rs2=0
	cjr := uint16(0b100_0_00001_00000_10)
	cls, err := RV{}.Classify(uint64(cjr), false)
	if err != nil {
		t.Fatalf("Classify(c.jr ra): %v", err)
	}
	if cls.RAS != RASRet || !cls.IsUnpredDiscontinuity {
		t.Errorf("Classify(c.jr ra) = %+v, want RAS=ret IsUnpredDiscontinuity=true", cls)
	}

	cls, err = RV{}.Classify(uint64(cjr), true)
	if err != nil {
		t.Fatalf("Classify(c.jr ra, implicit): %v", err)
	}
	if cls.IsUnpredDiscontinuity {
		t.Errorf("Classify(c.jr ra, implicit_ret) should not be unpredictable")
	}
}
