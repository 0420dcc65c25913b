// Package bloomfilter implements the fixed-width Bloom filter over
// canonical k-mers: a bit vector of width m, h hash positions per k-mer,
// no deletion and no auto-grow. The bit vector itself is a
// github.com/bits-and-blooms/bitset; the on-disk format is an 8-byte
// header (m, h as little-endian uint32 each) followed by ceil(m/8) bytes
// of packed bits, bit 0 of byte 0 holding position 0.
package bloomfilter

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/bigsi-go/bigsi/internal/bhash"
	"github.com/bigsi-go/bigsi/internal/kmer"
	"github.com/bits-and-blooms/bitset"
)

// ErrParamMismatch is returned by Decode/Open when a file's (m, h) header
// disagrees with the parameters the caller expects.
var ErrParamMismatch = fmt.Errorf("bloomfilter: (m, h) mismatch")

// Filter is a fixed-width Bloom filter over canonical k-mers.
type Filter struct {
	m, h   uint64
	bits   *bitset.BitSet
	hasher bhash.Hasher
}

// New allocates an empty Filter of width m with h hash positions per k-mer.
func New(m, h uint64) *Filter {
	return &Filter{
		m:      m,
		h:      h,
		bits:   bitset.New(uint(m)),
		hasher: bhash.New(m, h),
	}
}

// M returns the Bloom width in bits.
func (f *Filter) M() uint64 { return f.m }

// H returns the number of hash positions per k-mer.
func (f *Filter) H() uint64 { return f.h }

// Insert sets the h bit positions of kmer.
func (f *Filter) Insert(kmer []byte) {
	for _, p := range f.hasher.Positions(kmer) {
		f.bits.Set(uint(p))
	}
}

// Test reports whether all h bit positions of kmer are set. Diagnostics
// only; the build path never calls it.
func (f *Filter) Test(kmer []byte) bool {
	for _, p := range f.hasher.Positions(kmer) {
		if !f.bits.Test(uint(p)) {
			return false
		}
	}
	return true
}

// TestBit reports whether bit position is set, used by the bitsliced
// matrix build path to scatter one column's bits into row buffers without
// recomputing hash positions.
func (f *Filter) TestBit(position uint64) bool {
	return f.bits.Test(uint(position))
}

// BuildFromSource folds Insert over every k-mer yielded by src.
func BuildFromSource(src kmer.Source, m, h uint64) (*Filter, error) {
	f := New(m, h)

	for {
		km, ok, err := src.Next()
		if err != nil {
			return nil, fmt.Errorf("bloomfilter: reading k-mer source: %w", err)
		}
		if !ok {
			break
		}
		f.Insert(km)
	}

	return f, nil
}

// Encode writes the on-disk format: an 8-byte (m, h) header followed by
// the packed bit array.
func (f *Filter) Encode(w io.Writer) error {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(f.m))
	binary.LittleEndian.PutUint32(header[4:8], uint32(f.h))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("bloomfilter: writing header: %w", err)
	}

	packed := packBits(f.bits, f.m)
	if _, err := w.Write(packed); err != nil {
		return fmt.Errorf("bloomfilter: writing bits: %w", err)
	}

	return nil
}

// Decode reads the on-disk format. If wantM and wantH are both nonzero,
// a header mismatch is reported as ErrParamMismatch (callers that don't yet
// know the expected params, e.g. a first insert into a fresh index, pass
// zero for both to skip the check).
func Decode(r io.Reader, wantM, wantH uint64) (*Filter, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("bloomfilter: reading header: %w", err)
	}

	m := uint64(binary.LittleEndian.Uint32(header[0:4]))
	h := uint64(binary.LittleEndian.Uint32(header[4:8]))

	if (wantM != 0 && m != wantM) || (wantH != 0 && h != wantH) {
		return nil, ErrParamMismatch
	}

	packed := make([]byte, numPackedBytes(m))
	if _, err := io.ReadFull(r, packed); err != nil {
		return nil, fmt.Errorf("bloomfilter: reading bits: %w", err)
	}

	return &Filter{
		m:      m,
		h:      h,
		bits:   unpackBits(packed, m),
		hasher: bhash.New(m, h),
	}, nil
}

// Open reads a Bloom filter file, rejecting a header that disagrees with
// wantM/wantH.
func Open(path string, wantM, wantH uint64) (*Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bloomfilter: opening %s: %w", path, err)
	}
	defer f.Close()

	return Decode(f, wantM, wantH)
}

func numPackedBytes(m uint64) uint64 {
	return (m + 7) / 8
}

// packBits renders a bitset's low m bits into the little-endian packed
// layout: byte 0 holds positions 0-7, position 0 in the LSB.
func packBits(bits *bitset.BitSet, m uint64) []byte {
	out := make([]byte, numPackedBytes(m))
	for i, e := bits.NextSet(0); e; i, e = bits.NextSet(i + 1) {
		if uint64(i) >= m {
			break
		}
		out[i/8] |= 1 << (i % 8)
	}
	return out
}

func unpackBits(packed []byte, m uint64) *bitset.BitSet {
	bits := bitset.New(uint(m))
	for i := uint64(0); i < m; i++ {
		if packed[i/8]&(1<<(i%8)) != 0 {
			bits.Set(uint(i))
		}
	}
	return bits
}
