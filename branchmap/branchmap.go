// Package branchmap implements the Branch-Map Accumulator (spec §4.3): a
// queue of taken/not-taken bits for conditional branches, flushed into a
// branch-map packet payload.
package branchmap

// Map is the branch-map accumulator state. Invariant: Bits>>Cnt == 0 and
// 0 <= Cnt <= 31 at all times (spec §8 invariants).
//
// Bit convention: internally bit i is 1 when the i-th recorded
// conditional branch (oldest first, at bit position 0) disagreed with
// its statically-predicted fall-through, i.e. was taken — the direct
// reading of spec §4.3 ("on disagreement, set bit cnt"). Spec §4.6 and
// §9 open question (a) fix the *wire* convention the other way round
// ("1 = not taken"), noting a deliberate sign-flip between encode and
// decode in the source this was distilled from. WireBits performs that
// flip so the accumulator itself can stay in the natural, undisagreeing
// "1 = disagreed with fall-through" sense used by Record and Len.
type Map struct {
	Bits uint32
	Cnt  uint8
	Full bool
}

// Record folds one conditional branch outcome into the accumulator.
// taken reports whether the branch disagreed with its statically
// predicted fall-through successor (spec §4.3).
func (m *Map) Record(taken bool) {
	if taken {
		m.Bits |= 1 << m.Cnt
	}
	m.Cnt++
	if m.Cnt == 31 {
		m.Full = true
	}
}

// WireBits returns Bits inverted over its low Cnt bits, converting from
// the accumulator's "1 = taken" sense to the wire's "1 = not taken"
// sense fixed by spec §4.6/§9(a). DecodeWireBits is its inverse.
func WireBits(bits uint32, cnt uint8) uint32 {
	if cnt == 0 {
		return bits
	}
	mask := uint32(1)<<cnt - 1
	return (^bits) & mask
}

// DecodeWireBits is WireBits' self-inverse: both directions of the flip
// are the same XOR-with-mask operation.
func DecodeWireBits(bits uint32, cnt uint8) uint32 {
	return WireBits(bits, cnt)
}

// Len returns the payload-bit width the accumulator's current count
// flushes to: 31 if Cnt is 0 or 31, else the smallest of {1,9,17,25,31}
// that is >= Cnt.
func Len(cnt uint8) int {
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

// Flush resets the accumulator to the zero state and returns the
// pre-flush snapshot.
func (m *Map) Flush() Map {
	snap := *m
	*m = Map{}
	return snap
}
