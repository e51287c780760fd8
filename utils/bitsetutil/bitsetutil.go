package bitsetutil

import "github.com/willf/bitset"

// FromBools returns a new BitSet from the given bools.
func FromBools(bs ...bool) *bitset.BitSet {
	s := bitset.New(uint(len(bs)))
	for i, b := range bs {
		s.SetTo(uint(i), b)
	}
	return s
}

// ToBytes encodes the first n bits of s as a compact bitmap, one bit per
// index, big-endian within each byte. This is the wire representation of a
// peer bitfield.
func ToBytes(s *bitset.BitSet, n int) []byte {
	b := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if s.Test(uint(i)) {
			b[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return b
}

// FromBytes decodes a big-endian bitmap of n bits into a BitSet. Trailing
// padding bits are ignored.
func FromBytes(b []byte, n int) *bitset.BitSet {
	s := bitset.New(uint(n))
	for i := 0; i < n && i/8 < len(b); i++ {
		if b[i/8]&(0x80>>uint(i%8)) != 0 {
			s.Set(uint(i))
		}
	}
	return s
}
