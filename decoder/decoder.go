// Package decoder implements the Decoder State Machine (spec §4.6): a
// packet-by-packet dispatcher driving a static instruction-walker that
// replays the program against a loaded object image, resolving
// non-predictable transitions from the packet stream. Grounded on the
// teacher's internal/ptm processPacket/traceInstrToWP dispatch-and-walk
// pair and its return-address-stack usage (internal/ptm/decoder.go,
// internal/common/ret_stack.go) — the walk loop and RAS push/pop mirror
// that shape, adapted to RISC-V semantics and, per spec §9, a
// growable-on-demand RAS instead of the teacher's fixed 16-entry ring.
package decoder

import (
	"rvtrace"
	"rvtrace/branchmap"
	"rvtrace/classify"
	"rvtrace/errs"
	"rvtrace/logging"
	"rvtrace/memacc"
	"rvtrace/packet"
)

// rasEntry is one return-address-stack slot.
type rasEntry struct {
	addr rvtrace.VAddr
}

// ras is an unbounded LIFO of return addresses (spec §9): grows on
// demand, fails with errs.BadRAS on pop-from-empty rather than silently
// wrapping like the teacher's fixed-size ring buffer.
type ras struct {
	stack []rasEntry
}

func (s *ras) push(addr rvtrace.VAddr) {
	s.stack = append(s.stack, rasEntry{addr: addr})
}

func (s *ras) pop() (rvtrace.VAddr, error) {
	if len(s.stack) == 0 {
		return 0, errs.New(errs.BadRAS, "pop from empty return-address stack")
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return top.addr, nil
}

// Decoder is the reference decode_step(packet) -> instruction sequence
// state machine. Not safe for concurrent use (spec §5).
type Decoder struct {
	cfg  rvtrace.Config
	disa classify.Disassembler
	cls  classify.Classifier
	img  *memacc.Image
	log  logging.Logger

	pc             rvtrace.VAddr
	privilege      uint8
	lastPacketAddr rvtrace.VAddr
	rstack         ras
	section        *memacc.Section
}

// New creates a Decoder positioned at the object image's entry point
// (spec §4.6 initialization).
func New(cfg rvtrace.Config, disa classify.Disassembler, cls classify.Classifier, img *memacc.Image, log logging.Logger) (*Decoder, error) {
	d := &Decoder{cfg: cfg, disa: disa, cls: cls, img: img, log: log, pc: img.Entry}
	sec, err := img.SectionAt(d.pc)
	if err != nil {
		return nil, err
	}
	d.section = sec
	return d, nil
}

// Step dispatches one packet and returns the instructions the walk
// replays, spec §4.6.
func (d *Decoder) Step(p *packet.Packet) ([]rvtrace.Instr, error) {
	if p.MsgType == packet.MsgSoftware || p.MsgType == packet.MsgTimer {
		return nil, nil
	}
	if p.MsgType != packet.MsgTrace {
		return nil, errs.Newf(errs.BadPacket, "unknown message type %d", p.MsgType)
	}

	if err := d.ensureSection(); err != nil {
		return nil, err
	}
	d.log.Packet("decode", p)

	switch p.Format {
	case packet.FormatSync:
		return d.stepSync(p)
	case packet.FormatBranchFull, packet.FormatBranchDiff:
		return d.stepBranch(p)
	case packet.FormatAddrOnly:
		return d.stepAddrOnly(p)
	}
	return nil, errs.Newf(errs.BadPacket, "unknown format %d", p.Format)
}

func (d *Decoder) ensureSection() error {
	if d.section != nil && d.section.Contains(d.pc) {
		return nil
	}
	sec, err := d.img.SectionAt(d.pc)
	if err != nil {
		return err
	}
	d.section = sec
	return nil
}

// stepSync handles SYNC/START and SYNC/EXCEPTION (spec §4.6).
func (d *Decoder) stepSync(p *packet.Packet) ([]rvtrace.Instr, error) {
	if p.Subformat == packet.SubContext {
		return nil, errs.New(errs.Unimplemented, "CONTEXT subformat is reserved")
	}
	d.privilege = p.Privilege
	d.pc = p.Address
	d.lastPacketAddr = p.Address
	if err := d.ensureSection(); err != nil {
		return nil, err
	}

	dis, ir, err := d.disasmAppend()
	if err != nil {
		return nil, err
	}
	out := []rvtrace.Instr{ir}

	if p.Subformat == packet.SubException && p.Branch == 0 && dis.Type == classify.CondBranch {
		if !dis.HasTarget {
			return nil, errs.New(errs.BadInstr, "conditional branch target not statically resolvable at sync/exception")
		}
		d.pc = dis.Target
		return out, nil
	}
	if p.Branch == 1 && dis.Type == classify.CondBranch {
		// Branch==1 marks a not-taken branch at the sync address.
		d.pc += uint64(dis.Size)
		return out, nil
	}
	if err := d.advance(dis); err != nil {
		return out, err
	}
	return out, nil
}

// stepAddrOnly handles ADDR_ONLY (spec §4.6): walk until hit_address or
// hit_discontinuity, rejecting any conditional branch encountered.
func (d *Decoder) stepAddrOnly(p *packet.Packet) ([]rvtrace.Instr, error) {
	if d.cfg.FullAddress && p.Format == packet.FormatBranchDiff {
		return nil, errs.New(errs.BadConfig, "BRANCH_DIFF received while full_address is set")
	}
	abs := d.resolveAddr(p, d.cfg.FullAddress)
	d.lastPacketAddr = abs

	var out []rvtrace.Instr
	for {
		dis, ir, err := d.disasmAppend()
		if err != nil {
			return out, err
		}
		out = append(out, ir)

		if dis.Type == classify.CondBranch {
			return out, errs.New(errs.BadPacket, "conditional branch encountered on ADDR_ONLY path")
		}

		hitAddr := d.pc == abs
		if err := d.advance(dis); err != nil {
			return out, err
		}
		if hitAddr {
			return out, nil
		}
		if dis.Type == classify.Jsr && !dis.HasTarget {
			d.pc = abs
			return out, nil
		}
	}
}

// stepBranch handles BRANCH_FULL/BRANCH_DIFF (spec §4.6).
func (d *Decoder) stepBranch(p *packet.Packet) ([]rvtrace.Instr, error) {
	if d.cfg.FullAddress && p.Format == packet.FormatBranchDiff {
		return nil, errs.New(errs.BadConfig, "BRANCH_DIFF received while full_address is set")
	}
	cnt := p.Branches
	// Read the wire bits directly: spec §4.6 fixes "take if bit == 0, 1 =
	// not taken" as a property of the wire encoding itself, not something
	// that needs un-inverting first (WireBits/DecodeWireBits only convert
	// between that wire sense and the accumulator's internal "1 =
	// disagreed with fall-through" sense on the encode side).
	bits := p.BranchMap

	var abs rvtrace.VAddr
	haveTarget := p.HasAddress
	if haveTarget {
		abs = d.resolveAddr(p, p.Format == packet.FormatBranchFull)
	}
	if cnt == 0 {
		cnt = 31 // "full map, no address" special encoding (spec §4.6)
	} else if haveTarget {
		d.lastPacketAddr = abs
	}

	var out []rvtrace.Instr
	hitDiscontinuity := false
	for {
		dis, ir, err := d.disasmAppend()
		if err != nil {
			return out, err
		}
		out = append(out, ir)

		hitAddress := false
		if cnt == 0 && haveTarget && d.pc == abs {
			hitAddress = true
		}

		switch dis.Type {
		case classify.CondBranch:
			taken := bits&1 == 0 // spec §4.6: take if bit == 0 ("1 = not taken")
			bits >>= 1
			cnt--
			if taken {
				if !dis.HasTarget {
					return out, errs.New(errs.BadInstr, "conditional branch target not statically resolvable")
				}
				d.pc = dis.Target
			} else {
				d.pc += uint64(dis.Size)
			}
			if cnt == 0 && haveTarget && d.pc == abs {
				hitAddress = true
			}
		default:
			if dis.Type == classify.Jsr && !dis.HasTarget {
				if (cnt == 0 || cnt == 1) && haveTarget {
					d.pc = abs
					hitDiscontinuity = true
					break
				}
				return out, errs.New(errs.BadInstr, "unpredictable discontinuity with no address to resolve against")
			}
			if err := d.advance(dis); err != nil {
				return out, err
			}
		}

		if cnt == 0 && (hitAddress || hitDiscontinuity) {
			break
		}
	}
	return out, nil
}

// resolveAddr computes the absolute target address for BRANCH/ADDR_ONLY
// packets per spec §4.6: absolute for full-address formats, otherwise
// last_packet_addr minus the differential payload.
func (d *Decoder) resolveAddr(p *packet.Packet, absolute bool) rvtrace.VAddr {
	if absolute {
		return p.Address
	}
	return d.lastPacketAddr - p.Address
}

// disasmAppend disassembles at the current pc, tracks the return-address
// stack per the classifier's ras_kind, and returns the disassembly plus
// the reconstructed instruction record.
func (d *Decoder) disasmAppend() (classify.Disasm, rvtrace.Instr, error) {
	addr := d.pc
	dis, err := d.disa.Disassemble(addr)
	if err != nil {
		return classify.Disasm{}, rvtrace.Instr{}, errs.Newf(errs.BadInstr, "disassemble at 0x%x: %v", addr, err)
	}
	if dis.Type == classify.NonInsn || dis.Size <= 0 {
		return classify.Disasm{}, rvtrace.Instr{}, errs.Newf(errs.BadInstr, "unrecognized instruction at 0x%x", addr)
	}

	var buf [8]byte
	word := uint64(0)
	n, rerr := d.img.ReadMemory(addr, buf[:dis.Size])
	if rerr == nil && n >= dis.Size {
		for i := dis.Size - 1; i >= 0; i-- {
			word = word<<8 | uint64(buf[i])
		}
	}

	cls, cerr := d.cls.Classify(word, d.cfg.ImplicitRet)
	if cerr == nil {
		if err := d.trackRAS(cls); err != nil {
			return dis, rvtrace.Instr{}, err
		}
	}

	// addr, not d.pc: trackRAS may already have repositioned d.pc to an
	// implicit return's target, but this record describes the
	// instruction at the address we just fetched and classified.
	ir := rvtrace.Instr{
		Valid:      true,
		IAddr:      addr,
		Instr:      word,
		Priv:       d.privilege,
		Compressed: dis.Compressed,
	}
	return dis, ir, nil
}

// trackRAS updates the return-address stack from a classification,
// implementing call/ret/coret per spec §4.1/§4.6.
func (d *Decoder) trackRAS(cls classify.Classification) error {
	fallthroughAddr := d.pc + uint64(cls.Len)
	switch cls.RAS {
	case classify.RASCall:
		d.rstack.push(fallthroughAddr)
	case classify.RASRet:
		if d.cfg.ImplicitRet {
			addr, err := d.rstack.pop()
			if err != nil {
				return err
			}
			d.pc = addr
		}
	case classify.RASCoRet:
		if d.cfg.ImplicitRet {
			if _, err := d.rstack.pop(); err != nil {
				return err
			}
		}
		d.rstack.push(fallthroughAddr)
	}
	return nil
}

// advance moves pc forward by one instruction, honoring a statically
// predicted jump target when the disassembler supplied one. An implicit
// return (RASRet with implicit_ret set) is the one case disasmAppend's
// trackRAS call already repositioned pc for, by popping the return-address
// stack; advancing again here would add the instruction's size on top of
// the popped target, so that case is a no-op.
func (d *Decoder) advance(dis classify.Disasm) error {
	if dis.RAS == classify.RASRet && d.cfg.ImplicitRet {
		return nil
	}
	if dis.HasTarget {
		d.pc = dis.Target
		return nil
	}
	d.pc += uint64(dis.Size)
	return nil
}

// bitsWidthFor mirrors branchmap.Len so the decoder can re-derive the
// branch-map payload width from the branches count alone.
func bitsWidthFor(cnt uint8) uint8 {
	return uint8(branchmap.Len(cnt))
}
