// Package encoder implements the Encoder State Machine (spec §4.4): a
// pure step function over a sliding three-instruction window that
// decides, for each retired instruction, whether to emit a packet and
// which kind. Grounded on the teacher's per-packet decodeState dispatch
// style (internal/ptm/decoder.go's processPacket/contProcess switch),
// inverted here to drive emission instead of consumption, and on
// common.Logger for step-level tracing.
package encoder

import (
	"rvtrace"
	"rvtrace/addrpack"
	"rvtrace/branchmap"
	"rvtrace/classify"
	"rvtrace/errs"
	"rvtrace/logging"
	"rvtrace/packet"
)

// slot is one window entry plus the derived flags the emit table reads.
// A zero-value slot (instr.Valid == false) represents both "no real
// instruction here yet" during window ramp-up and an explicitly invalid
// retired-instruction record: spec §4.4 step 2 freezes state on either.
type slot struct {
	instr rvtrace.Instr
	cls   classify.Classification

	exception      bool
	unpredDisc     bool
	privChange     bool
	unqualified    bool // reserved filter (glossary: "every valid instruction is qualified" in this profile)
	halt           bool // reserved
	contextChange  bool // reserved
	emittedExcSync bool
}

// Encoder is the reference encode_step(instr) -> optional packet state
// machine. Not safe for concurrent use; one instance per trace stream
// (spec §5).
type Encoder struct {
	cfg   rvtrace.Config
	cls   classify.Classifier
	log   logging.Logger
	stats *rvtrace.Stats

	last, this, next slot

	acc       branchmap.Map
	lastIAddr rvtrace.VAddr
	havePrior bool // false until the first instruction has flowed past `this`

	resyncPend bool
	resyncCnt  uint32

	lastPriv uint8
	havePriv bool
}

// New builds an Encoder. log may be logging.NoOpLogger{} if the caller
// wants no step tracing.
func New(cfg rvtrace.Config, cls classify.Classifier, log logging.Logger, stats *rvtrace.Stats) *Encoder {
	return &Encoder{cfg: cfg, cls: cls, log: log, stats: stats}
}

// Step folds one new instruction into the window and returns the packet
// to emit, if any (spec §4.4 step 1-5). No coroutines, no suspension: the
// call runs to completion (spec §5, §9).
func (e *Encoder) Step(instr rvtrace.Instr) (*packet.Packet, error) {
	e.last = e.this
	e.this = e.next
	e.next = slot{instr: instr}

	if instr.Valid {
		cls, err := e.cls.Classify(instr.Instr, e.cfg.ImplicitRet)
		if err != nil {
			return nil, errs.Newf(errs.BadInstr, "classify at 0x%x: %v", instr.IAddr, err)
		}
		if cls.IsUnsupported {
			return nil, errs.Newf(errs.BadInstr, "unsupported instruction at 0x%x", instr.IAddr)
		}
		e.next.cls = cls
		e.next.unpredDisc = cls.IsUnpredDiscontinuity
		e.next.exception = instr.Exception
	}

	if !e.next.instr.Valid {
		// Step 2: next is invalid (or the window is still ramping up) -
		// freeze state and report no packet.
		return nil, nil
	}
	if !e.this.instr.Valid {
		return nil, nil
	}

	if e.havePriv && e.this.instr.Priv != e.lastPriv {
		e.this.privChange = true
	}
	e.lastPriv = e.this.instr.Priv
	e.havePriv = true

	if e.this.cls.IsBranch {
		e.acc.Record(e.this.instr.IAddr+uint64(e.this.cls.Len) != e.next.instr.IAddr)
	}

	pkt, err := e.decide()
	if err != nil {
		return nil, err
	}
	if pkt != nil {
		bl, berr := pkt.BitLen()
		if berr == nil {
			e.stats.PayloadBits += uint64(bl)
		}
		e.log.Packet("encode", pkt)
	}
	e.stats.Instructions++
	return pkt, nil
}

// decide applies the emit-decision table of spec §4.4 step 5, in order.
func (e *Encoder) decide() (*packet.Packet, error) {
	switch {
	case e.last.instr.Valid && e.last.exception:
		e.this.emittedExcSync = true
		p := &packet.Packet{
			MsgType: packet.MsgTrace, Format: packet.FormatSync, Subformat: packet.SubException,
			Privilege: e.last.instr.Priv, Branch: e.notTakenBranchBit(),
			Address: e.this.instr.IAddr, AddrBits: e.cfg.AddrBits(), HasAddress: true,
			Cause: e.last.instr.Cause, Interrupt: e.last.instr.Interrupt,
		}
		e.lastIAddr = e.this.instr.IAddr
		e.stats.SyncExceptPackets++
		e.log.Logf(logging.SeverityDebug, "sync/exception at 0x%x", e.this.instr.IAddr)
		return p, nil

	case e.last.instr.Valid && e.last.emittedExcSync && e.cfg.PulpVectorTablePacket:
		p := e.syncStart()
		e.log.Logf(logging.SeverityDebug, "sync/start (vector-table bridge) at 0x%x", e.this.instr.IAddr)
		return p, nil

	case e.isFirstQualification() || e.this.privChange || (e.resyncPend && e.acc.Cnt == 0):
		p := e.syncStart()
		e.resyncPend = false
		return p, nil

	case e.last.instr.Valid && e.last.unpredDisc:
		return e.flush(true)

	case e.resyncPend && e.acc.Cnt > 0:
		return e.flush(false)

	case e.next.halt || e.next.exception || e.next.privChange || e.next.unqualified:
		return e.flush(false)

	case e.acc.Full:
		return e.flushFullNoAddr()

	case e.this.contextChange:
		return nil, errs.New(errs.Unimplemented, "context_change trigger is reserved")
	}
	return nil, nil
}

func (e *Encoder) isFirstQualification() bool {
	first := !e.havePrior
	e.havePrior = true
	return first
}

// syncStart builds a SYNC/START packet carrying the "branch-at-address
// and not-taken" bit described in spec §4.4.
func (e *Encoder) syncStart() *packet.Packet {
	branchBit := e.notTakenBranchBit()
	e.lastIAddr = e.this.instr.IAddr
	e.stats.SyncStartPackets++
	return &packet.Packet{
		MsgType: packet.MsgTrace, Format: packet.FormatSync, Subformat: packet.SubStart,
		Privilege: e.this.instr.Priv, Branch: branchBit,
		Address: e.this.instr.IAddr, AddrBits: e.cfg.AddrBits(), HasAddress: true,
	}
}

// notTakenBranchBit computes the "branch at this sync address, not taken"
// bit spec §4.4 requires on both SYNC/START and SYNC/EXCEPTION: set when
// `this` is a conditional branch whose fall-through address is `next`.
func (e *Encoder) notTakenBranchBit() uint8 {
	if e.this.cls.IsBranch && e.this.instr.IAddr+uint64(e.this.cls.Len) == e.next.instr.IAddr {
		return 1
	}
	return 0
}

// flush implements emit_branch_map_flush_packet (spec §4.4).
// discontinuity marks whether the trigger was last.unpred_disc, which
// affects whether a full map may omit its address.
func (e *Encoder) flush(discontinuity bool) (*packet.Packet, error) {
	snap := e.acc.Flush()
	width := e.cfg.AddrBits()

	if snap.Cnt == 0 {
		diff := e.lastIAddr - e.this.instr.IAddr
		var p *packet.Packet
		if e.cfg.FullAddress {
			p = &packet.Packet{
				MsgType: packet.MsgTrace, Format: packet.FormatAddrOnly,
				Address: e.this.instr.IAddr, AddrBits: width, HasAddress: true,
			}
		} else {
			// ADDR_ONLY has no field marking which address form it
			// carries, so without full_address it is always the
			// differential form the decoder subtracts from its last address.
			c := addrpack.DifferentialAddr(diff, diff, width)
			if e.cfg.UsePulpSext {
				c.Lead = addrpack.QuantizeCLZ(c.Lead)
				c.Keep = width - c.Lead + 1
			}
			p = &packet.Packet{
				MsgType: packet.MsgTrace, Format: packet.FormatAddrOnly,
				Address: c.Value, AddrBits: c.Keep, HasAddress: true,
			}
			e.stats.RecordAddr(c.Value, c.Lead)
		}
		e.lastIAddr = e.this.instr.IAddr
		e.stats.AddrOnlyPackets++
		return p, nil
	}

	if e.cfg.FullAddress {
		omitAddr := snap.Full && !discontinuity
		p := &packet.Packet{
			MsgType: packet.MsgTrace, Format: packet.FormatBranchFull,
		}
		if omitAddr {
			// Mirror the without-full_address "full map, no address"
			// wire signal (branches == 0, spec §4.4) so the decoder has
			// one convention to check regardless of full_address: under
			// full_address the map is necessarily full here too, so
			// branches carries no information that the map's own width
			// doesn't already imply.
			p.Branches = 0
			p.BranchMap = e.fullMapBits(snap)
		} else {
			p.Branches = snap.Cnt
			p.BranchMap = branchmap.WireBits(snap.Bits, snap.Cnt)
			p.Address = e.this.instr.IAddr
			p.AddrBits = width
			p.HasAddress = true
			e.lastIAddr = e.this.instr.IAddr
		}
		e.stats.BranchFullPackets++
		return p, nil
	}

	if snap.Full && !discontinuity {
		p := &packet.Packet{
			MsgType: packet.MsgTrace, Format: packet.FormatBranchFull,
			Branches: 0, BranchMap: e.fullMapBits(snap),
		}
		e.stats.BranchFullPackets++
		return p, nil
	}

	diff := e.lastIAddr - e.this.instr.IAddr
	c := addrpack.DifferentialAddr(e.this.instr.IAddr, diff, width)
	if e.cfg.UsePulpSext {
		c.Lead = addrpack.QuantizeCLZ(c.Lead)
		c.Keep = width - c.Lead + 1
	}
	format := packet.FormatBranchFull
	if c.UseDiff {
		format = packet.FormatBranchDiff
	}
	p := &packet.Packet{
		MsgType: packet.MsgTrace, Format: format,
		Branches: snap.Cnt, BranchMap: branchmap.WireBits(snap.Bits, snap.Cnt),
		Address: c.Value, AddrBits: c.Keep, HasAddress: true,
	}
	e.lastIAddr = e.this.instr.IAddr
	e.stats.RecordAddr(c.Value, c.Lead)
	if format == packet.FormatBranchDiff {
		e.stats.BranchDiffPackets++
	} else {
		e.stats.BranchFullPackets++
	}
	return p, nil
}

// flushFullNoAddr handles the acc.Full trigger row of the emit table: a
// full map with no accompanying discontinuity, so no address is emitted.
func (e *Encoder) flushFullNoAddr() (*packet.Packet, error) {
	snap := e.acc.Flush()
	p := &packet.Packet{
		MsgType: packet.MsgTrace, Format: packet.FormatBranchFull,
		Branches: 0, BranchMap: e.fullMapBits(snap),
	}
	e.stats.BranchFullPackets++
	return p, nil
}

// fullMapBits implements the full-branch-map-packet compression rule
// (spec §4.4): under compress_full_branch_map, drop sign-extendable high
// bits of the (left-shifted) map; otherwise encode the full 31 bits.
func (e *Encoder) fullMapBits(snap branchmap.Map) uint32 {
	wire := branchmap.WireBits(snap.Bits, 31)
	if !e.cfg.CompressFullBranchMap {
		return wire
	}
	sext := addrpack.SignExtendableBits(uint64(wire)<<1, 32)
	if sext > 31 {
		sext = 31
	}
	keep := 31 - sext + 1
	mask := uint32(1)<<keep - 1
	return wire & mask
}
