// Round-trip coverage: drives encoder.Step -> packet.Marshal/Unmarshal ->
// decoder.Step over a real RISC-V call/return/indirect-jump stream, the
// one shape no per-package test exercises on its own (spec §8's central
// claim, decode(encode(S)) == S, and its scenario 6: a jal/addi/ret
// stream under implicit_ret).
package rvtrace_test

import (
	"testing"

	"rvtrace"
	"rvtrace/classify"
	"rvtrace/decoder"
	"rvtrace/encoder"
	"rvtrace/logging"
	"rvtrace/memacc"
	"rvtrace/packet"
)

const (
	wordNop = 0x00000013 // addi x0, x0, 0
	wordRet = 0x00008067 // jalr x0, x1, 0 (ret, rd=0 rs1=1)
)

// wordJal encodes "jal x1, pc+delta" for a delta reachable with imm[10:1]
// alone (i.e. a multiple of 2 with no bit above 10 set), which 0x100 is.
func wordJal(delta uint32) uint32 {
	imm10_1 := (delta >> 1) & 0x3FF
	return 0x6F | (1 << 7) | (imm10_1 << 21)
}

// wordJalrUnpred encodes "jalr x0, x5, 0": an indirect jump that is
// neither a call (rd=1) nor a ret/coret (rs1=1) pattern, so it stays an
// unpredictable discontinuity regardless of implicit_ret.
const wordJalrUnpred = 0x67 | (5 << 15)

// buildImage lays out a single section spanning the addresses this test's
// instruction stream touches, NOP-filled, with the real instruction words
// patched in at their addresses.
func buildImage(words map[uint64]uint32) *memacc.Image {
	const base, span = 0x100, 0x300
	buf := make([]byte, span)
	for off := 0; off < span; off += 4 {
		putWord(buf[off:], wordNop)
	}
	for addr, w := range words {
		putWord(buf[addr-base:], w)
	}
	return &memacc.Image{Entry: base, Sections: []*memacc.Section{
		{Name: "text", Base: base, Bytes: buf},
	}}
}

func putWord(b []byte, w uint32) {
	b[0] = byte(w)
	b[1] = byte(w >> 8)
	b[2] = byte(w >> 16)
	b[3] = byte(w >> 24)
}

// TestEncodeDecodeRoundTrip builds the program spec §8 scenario 6 names
// (jal at 0x100, addi at 0x200, ret at 0x204, implicit_ret=true), extended
// by an indirect jump the decision table can actually trigger a flush on:
// a pure call/return/straight-line stream never sets last.unpred_disc,
// this.priv_change or any other row of the emit table (ret is explicitly
// predictable under implicit_ret, spec §4.1), so nothing beyond the
// initial SYNC/START would ever reach the wire without one. I4/I5 supply
// that trigger (an indirect jump the decision table can't resolve
// statically), and I6/I7 exist only to give the encoder's lookahead
// window enough instructions to notice I5 landed and flush - neither is
// itself part of the asserted decode.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	cfg := rvtrace.Config{Arch64: false, FullAddress: true, ImplicitRet: true}

	type step struct {
		iaddr uint64
		word  uint32
	}
	prog := []step{
		{0x100, wordJal(0x100)}, // I1: jal x1, 0x200 (call)
		{0x200, wordNop},        // I2: addi (jal's target)
		{0x204, wordRet},        // I3: ret (implicit, predicted via RAS)
		{0x104, wordNop},        // I4: addi (landed via the RAS-predicted return)
		{0x108, wordJalrUnpred}, // I5: indirect jump, unpredictable even under implicit_ret
		{0x300, wordNop},        // I6: arbitrary landing instruction (not itself decoded below)
		{0x304, wordNop},        // I7: pushes I6 into the window so I5's discontinuity flushes
	}
	words := make(map[uint64]uint32, len(prog))
	for _, s := range prog {
		words[s.iaddr] = s.word
	}

	enc := encoder.New(cfg, classify.RV{}, logging.NoOpLogger{}, &rvtrace.Stats{})
	var pkts []*packet.Packet
	for _, s := range prog {
		pkt, err := enc.Step(rvtrace.Instr{Valid: true, IAddr: s.iaddr, Instr: uint64(s.word)})
		if err != nil {
			t.Fatalf("Step(0x%x): %v", s.iaddr, err)
		}
		if pkt != nil {
			pkts = append(pkts, pkt)
		}
	}
	if len(pkts) != 2 {
		t.Fatalf("got %d packets, want 2 (SYNC/START, ADDR_ONLY): %+v", len(pkts), pkts)
	}
	if pkts[0].Format != packet.FormatSync || pkts[0].Subformat != packet.SubStart {
		t.Fatalf("pkts[0] = %+v, want SYNC/START", pkts[0])
	}
	if pkts[0].Address != 0x100 {
		t.Errorf("SYNC/START address = 0x%x, want 0x100", pkts[0].Address)
	}
	if pkts[1].Format != packet.FormatAddrOnly {
		t.Fatalf("pkts[1] = %+v, want ADDR_ONLY", pkts[1])
	}
	if pkts[1].Address != 0x300 {
		t.Errorf("ADDR_ONLY address = 0x%x, want 0x300", pkts[1].Address)
	}

	img := buildImage(words)
	disa := classify.NewRVDisassembler(img, cfg.ImplicitRet)
	dec, err := decoder.New(cfg, disa, classify.RV{}, img, logging.NoOpLogger{})
	if err != nil {
		t.Fatalf("decoder.New: %v", err)
	}

	var gotAddrs []uint64
	for _, pkt := range pkts {
		wire, _, err := packet.Marshal(pkt, 0)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		parsed, _, err := packet.Unmarshal(wire, 0, cfg.AddrBits())
		if err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		instrs, err := dec.Step(parsed)
		if err != nil {
			t.Fatalf("decoder.Step: %v", err)
		}
		for _, ir := range instrs {
			gotAddrs = append(gotAddrs, ir.IAddr)
		}
	}

	want := []uint64{0x100, 0x200, 0x204, 0x104, 0x108}
	if len(gotAddrs) != len(want) {
		t.Fatalf("decoded %d instructions %x, want %d: %x", len(gotAddrs), gotAddrs, len(want), want)
	}
	for i, addr := range want {
		if gotAddrs[i] != addr {
			t.Errorf("decoded iaddr[%d] = 0x%x, want 0x%x (full sequence %x)", i, gotAddrs[i], addr, gotAddrs)
		}
	}
}
