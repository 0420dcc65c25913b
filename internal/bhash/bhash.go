// Package bhash maps a canonical k-mer to h bit positions in [0, m).
//
// The scheme is the double-hashing construction of Kirsch and Mitzenmacher:
// derive two 64-bit values (a, b) from two xxhash digests of the k-mer,
// then emit p_i = (a + i*b) mod m for i in [0, h).
package bhash

import (
	"github.com/cespare/xxhash/v2"
)

// SchemeID identifies the hashing scheme recorded in an index header so a
// later open can detect a store written under a different scheme.
const SchemeID uint32 = 1 // xxhash64-double

// Hasher computes the h bit positions for a canonical k-mer under a fixed
// (m, h). It holds no mutable state and is safe for concurrent use.
type Hasher struct {
	m uint64
	h uint64
}

// New returns a Hasher for the given Bloom width m and hash count h.
func New(m, h uint64) Hasher {
	return Hasher{m: m, h: h}
}

// Positions returns the h bit positions in [0, m) for kmer. The returned
// slice is freshly allocated and safe for the caller to retain.
func (hr Hasher) Positions(kmer []byte) []uint64 {
	a, b := hashKernel(kmer)

	positions := make([]uint64, hr.h)
	for i := range positions {
		positions[i] = (a + uint64(i)*b) % hr.m
	}

	return positions
}

// hashKernel derives two 64-bit values from two xxhash digests: the digest
// of data itself, and the digest of data with a single marker byte
// appended, with its low bit forced to 1 so the step is odd and therefore
// coprime with any power-of-two m.
func hashKernel(data []byte) (a, b uint64) {
	a = xxhash.Sum64(data)

	d := xxhash.New()
	_, _ = d.Write(data)
	_, _ = d.Write([]byte{0x5a})
	b = d.Sum64() | 1

	return a, b
}
