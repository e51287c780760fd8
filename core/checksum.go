package core

import "hash/adler32"

// Checksum computes the 32-bit integrity checksum carried by every piece:
// two interleaved modular sums with modulus 65521, packed as (b<<16)|a.
// This is exactly Adler-32. It detects channel or encoding corruption and
// nothing more; it is not an anti-forgery measure.
func Checksum(b []byte) uint32 {
	return adler32.Checksum(b)
}
