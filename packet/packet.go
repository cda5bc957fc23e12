// Package packet implements the Packet Serializer/Deserializer (spec
// §4.5): a tagged-variant Packet type and a bit-exact little-endian
// wire codec, grounded on the teacher's per-format tagged packet struct
// and PktType enumeration style (internal/etmv4/packet.go) but
// restructured as a flat Go struct with an explicit BitLen so the
// serializer never has to re-derive a variant's shape.
package packet

import "rvtrace/errs"

const (
	PulpPktLen  = 4
	MsgTypeLen  = 2
	FormatLen   = 2
	SubfmtLen   = 2
	BranchLen   = 5
	PrivLen     = 3
	CauseLen    = 5
	TimerLen    = 64
)

// MsgType is the top-level packet kind (spec §3).
type MsgType uint8

const (
	MsgTrace MsgType = iota
	MsgSoftware
	MsgTimer
	msgReserved
)

func (m MsgType) String() string {
	switch m {
	case MsgTrace:
		return "Trace"
	case MsgSoftware:
		return "Software"
	case MsgTimer:
		return "Timer"
	default:
		return "Reserved"
	}
}

// Format tags a Trace packet's variant.
type Format uint8

const (
	FormatBranchFull Format = iota
	FormatBranchDiff
	FormatAddrOnly
	FormatSync
)

// Subformat further tags a Trace/SYNC packet.
type Subformat uint8

const (
	SubStart Subformat = iota
	SubException
	SubContext
)

// Packet is the tagged-variant wire packet (spec §3). Only the fields
// relevant to MsgType/Format/Subformat are meaningful; the others are
// simply unused, same as the teacher's flat-struct-with-unused-fields
// approach but narrowed by the three discriminator fields instead of
// being reinterpreted ad hoc.
type Packet struct {
	MsgType   MsgType
	Format    Format
	Subformat Subformat

	// Trace/BRANCH_FULL, BRANCH_DIFF
	Branches  uint8  // 0..31; 0 with Cnt==31 at the accumulator means "full map, no address"
	BranchMap uint32 // <=31 bits

	// Address, shared by BRANCH_FULL/DIFF/ADDR_ONLY/SYNC. AddrBits is how
	// many low bits of Address are actually significant/serialized (the
	// "keep" count from the address packer, or the full configured
	// address width for sync/full-address packets).
	Address     uint64
	AddrBits    int
	HasAddress  bool // false when a full branch map omits the address

	// Trace/SYNC
	Privilege uint8 // 3 bits
	Branch    uint8 // single bit, SYNC/START and EXCEPTION
	Cause     uint8 // 5 bits, SYNC/EXCEPTION
	Interrupt bool  // SYNC/EXCEPTION

	// Software
	UserData uint32

	// Timer
	Time uint64
}

// BitLen returns the packet's declared bit-length (spec §3: "Each packet
// also carries a bit-length"), computed from its discriminator fields so
// callers never have to track it by hand.
func (p *Packet) BitLen() (int, error) {
	header := PulpPktLen + MsgTypeLen
	switch p.MsgType {
	case MsgSoftware:
		return header + 32, nil
	case MsgTimer:
		return header + TimerLen, nil
	case MsgTrace:
	default:
		return 0, errs.Newf(errs.BadPacket, "unknown message type %d", p.MsgType)
	}

	switch p.Format {
	case FormatBranchFull, FormatBranchDiff:
		n := header + FormatLen + BranchLen + branchMapLen(p.Branches)
		if p.HasAddress {
			n += p.AddrBits
		}
		return n, nil
	case FormatAddrOnly:
		return header + FormatLen + p.AddrBits, nil
	case FormatSync:
		n := header + FormatLen + SubfmtLen + PrivLen
		switch p.Subformat {
		case SubStart:
			n += 1 + p.AddrBits
		case SubException:
			n += 1 + p.AddrBits + CauseLen + 1
		case SubContext:
			return 0, errs.New(errs.Unimplemented, "CONTEXT subformat is reserved")
		default:
			return 0, errs.Newf(errs.BadPacket, "unknown sync subformat %d", p.Subformat)
		}
		return n, nil
	}
	return 0, errs.Newf(errs.BadPacket, "unknown format %d", p.Format)
}

// branchMapLen mirrors branchmap.Len; packet does not import branchmap,
// so the formula is copied once here and in branchmap.Len and kept in
// lockstep — see spec §4.3.
func branchMapLen(cnt uint8) int {
	if cnt == 0 || cnt == 31 {
		return 31
	}
	for _, w := range [...]int{1, 9, 17, 25, 31} {
		if int(cnt) <= w {
			return w
		}
	}
	return 31
}

// Marshal serializes p into bytes, honoring the bit-alignment hint (0..7)
// so multiple packets can be bit-packed into one stream. Returns the
// bytes and the number of significant bits in the final byte (0 if
// byte-aligned) so the caller can carry it into the next Marshal call.
func Marshal(p *Packet, align int) ([]byte, int, error) {
	if p.Branches > 31 {
		return nil, 0, errs.Newf(errs.BadPacket, "branches field %d > 31", p.Branches)
	}
	bitLen, err := p.BitLen()
	if err != nil {
		return nil, 0, err
	}

	w, err := newBitWriter(align)
	if err != nil {
		return nil, 0, err
	}

	byteLen := bitLen / 8
	if byteLen > 15 {
		return nil, 0, errs.Newf(errs.BadPacket, "byte length %d overflows 4-bit length field", byteLen)
	}
	w.writeBits(uint64(byteLen), PulpPktLen)
	w.writeBits(uint64(p.MsgType), MsgTypeLen)

	switch p.MsgType {
	case MsgSoftware:
		w.writeBits(uint64(p.UserData), 32)
	case MsgTimer:
		w.writeBits(p.Time, TimerLen)
	case MsgTrace:
		if err := marshalTrace(w, p); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, errs.Newf(errs.BadPacket, "unknown message type %d", p.MsgType)
	}

	buf, trailing := w.bytes()
	return buf, trailing, nil
}

func marshalTrace(w *bitWriter, p *Packet) error {
	w.writeBits(uint64(p.Format), FormatLen)
	switch p.Format {
	case FormatBranchFull, FormatBranchDiff:
		w.writeBits(uint64(p.Branches), BranchLen)
		w.writeBits(uint64(p.BranchMap), branchMapLen(p.Branches))
		if p.HasAddress {
			w.writeBits(p.Address, p.AddrBits)
		}
	case FormatAddrOnly:
		w.writeBits(p.Address, p.AddrBits)
	case FormatSync:
		w.writeBits(uint64(p.Subformat), SubfmtLen)
		w.writeBits(uint64(p.Privilege), PrivLen)
		switch p.Subformat {
		case SubStart:
			w.writeBits(uint64(p.Branch), 1)
			w.writeBits(p.Address, p.AddrBits)
		case SubException:
			w.writeBits(uint64(p.Branch), 1)
			w.writeBits(p.Address, p.AddrBits)
			w.writeBits(uint64(p.Cause), CauseLen)
			w.writeBits(boolBit(p.Interrupt), 1)
		case SubContext:
			return errs.New(errs.Unimplemented, "CONTEXT subformat is reserved")
		default:
			return errs.Newf(errs.BadPacket, "unknown sync subformat %d", p.Subformat)
		}
	default:
		return errs.Newf(errs.BadPacket, "unknown format %d", p.Format)
	}
	return nil
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Unmarshal reads one packet starting at bit offset align (0..7) in buf.
// The length byte is read and validated against the bits actually
// consumed (a truncated or corrupt stream disagreeing with its own
// declared length is rejected) but the packet's true extent is tracked
// field-by-field as it is parsed, since a Trace packet's shape (and
// hence its length) is fully determined by its format/subformat and
// branch count without needing the length byte at all. Returns the
// packet plus the number of bytes consumed from buf.
func Unmarshal(buf []byte, align int, addrBits int) (*Packet, int, error) {
	r, err := newBitReader(buf, align)
	if err != nil {
		return nil, 0, err
	}

	declaredLen, err := r.readBits(PulpPktLen)
	if err != nil {
		return nil, 0, err
	}
	msgTypeVal, err := r.readBits(MsgTypeLen)
	if err != nil {
		return nil, 0, err
	}

	p := &Packet{MsgType: MsgType(msgTypeVal)}

	switch p.MsgType {
	case MsgSoftware:
		v, err := r.readBits(32)
		if err != nil {
			return nil, 0, err
		}
		p.UserData = uint32(v)
	case MsgTimer:
		v, err := r.readBits(TimerLen)
		if err != nil {
			return nil, 0, err
		}
		p.Time = v
	case MsgTrace:
		if err := unmarshalTrace(r, p, addrBits); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, errs.Newf(errs.BadPacket, "unknown message type %d", p.MsgType)
	}

	if got := (r.bitPos - align) / 8; int(declaredLen) != got {
		return nil, 0, errs.Newf(errs.BadPacket, "length field %d disagrees with %d bytes parsed", declaredLen, got)
	}
	return p, r.consumedBytes(), nil
}

func unmarshalTrace(r *bitReader, p *Packet, addrBits int) error {
	fv, err := r.readBits(FormatLen)
	if err != nil {
		return err
	}
	p.Format = Format(fv)

	switch p.Format {
	case FormatBranchFull, FormatBranchDiff:
		bv, err := r.readBits(BranchLen)
		if err != nil {
			return err
		}
		p.Branches = uint8(bv)
		if p.Branches > 31 {
			return errs.Newf(errs.BadPacket, "branches field %d > 31", p.Branches)
		}
		mv, err := r.readBits(branchMapLen(p.Branches))
		if err != nil {
			return err
		}
		p.BranchMap = uint32(mv)
		// branches == 0 is reserved exclusively for the "full map, no
		// address" encoding (spec §4.4): that is the only way the
		// encoder ever emits a zero branches field on this format, so
		// it unambiguously signals no address follows.
		if p.Branches == 0 {
			p.HasAddress = false
			p.AddrBits = 0
			return nil
		}
		av, err := r.readBits(addrBits)
		if err != nil {
			return err
		}
		p.Address = av
		p.AddrBits = addrBits
		p.HasAddress = true
	case FormatAddrOnly:
		av, err := r.readBits(addrBits)
		if err != nil {
			return err
		}
		p.Address = av
		p.AddrBits = addrBits
		p.HasAddress = true
	case FormatSync:
		sv, err := r.readBits(SubfmtLen)
		if err != nil {
			return err
		}
		p.Subformat = Subformat(sv)
		pv, err := r.readBits(PrivLen)
		if err != nil {
			return err
		}
		p.Privilege = uint8(pv)
		switch p.Subformat {
		case SubStart:
			bbit, err := r.readBits(1)
			if err != nil {
				return err
			}
			p.Branch = uint8(bbit)
			av, err := r.readBits(addrBits)
			if err != nil {
				return err
			}
			p.Address = av
			p.AddrBits = addrBits
			p.HasAddress = true
		case SubException:
			bbit, err := r.readBits(1)
			if err != nil {
				return err
			}
			p.Branch = uint8(bbit)
			av, err := r.readBits(addrBits)
			if err != nil {
				return err
			}
			p.Address = av
			p.AddrBits = addrBits
			p.HasAddress = true
			cv, err := r.readBits(CauseLen)
			if err != nil {
				return err
			}
			p.Cause = uint8(cv)
			iv, err := r.readBits(1)
			if err != nil {
				return err
			}
			p.Interrupt = iv != 0
		case SubContext:
			return errs.New(errs.Unimplemented, "CONTEXT subformat is reserved")
		default:
			return errs.Newf(errs.BadPacket, "unknown sync subformat %d", p.Subformat)
		}
	default:
		return errs.Newf(errs.BadPacket, "unknown format %d", p.Format)
	}
	return nil
}
