// Package matrix implements the bitsliced matrix: a logical m-row by
// n-column bit matrix stored row-major in a RowStore, row r living at
// row-store key r. It is oblivious to sample semantics and enforces only
// the row-width invariant, so every method takes the current column count
// n explicitly rather than caching it; n is the one parameter of this
// system that legitimately changes over an index's lifetime.
package matrix

import (
	"errors"
	"fmt"

	"github.com/bigsi-go/bigsi/internal/rowstore"
	"github.com/bits-and-blooms/bitset"
)

// ErrCorruptRow is returned when a stored row is longer than ceil(n/8),
// which can never happen under correct operation.
var ErrCorruptRow = errors.New("matrix: corrupt row")

func ceilDiv8(n uint64) uint64 {
	return (n + 7) / 8
}

// Matrix is a thin, n-parametrised view over a RowStore.
type Matrix struct {
	rs rowstore.RowStore
}

// New wraps rs as a bitsliced matrix.
func New(rs rowstore.RowStore) *Matrix {
	return &Matrix{rs: rs}
}

// ReadRow returns row r as a bit vector of length n. An absent row is
// all-zeroes. A row stored shorter than ceil(n/8) is interpreted as
// zero-padded on the right; a row stored longer than ceil(n/8) can only
// mean on-disk corruption.
func (m *Matrix) ReadRow(r, n uint64) (*bitset.BitSet, error) {
	raw, ok, err := m.rs.Get(r)
	if err != nil {
		return nil, fmt.Errorf("matrix: reading row %d: %w", r, err)
	}
	if !ok {
		return bitset.New(uint(n)), nil
	}

	if uint64(len(raw)) > ceilDiv8(n) {
		return nil, ErrCorruptRow
	}

	return unpackRow(raw, n), nil
}

// SetBit sets column c in row r via read-modify-write, for low-throughput
// single-insert paths.
func (m *Matrix) SetBit(r, c, n uint64) error {
	bits, err := m.ReadRow(r, n)
	if err != nil {
		return err
	}

	bits.Set(uint(c))

	return m.rs.Put(r, packRow(bits, n))
}

// RowWrite is one row's full replacement bit vector for WriteRowRange.
type RowWrite struct {
	Row  uint64
	Bits *bitset.BitSet
}

// WriteRowRange bulk-overwrites rows. Every vector must have length n;
// the write is issued as one atomic batch.
func (m *Matrix) WriteRowRange(rows []RowWrite, n uint64) error {
	entries := make([]rowstore.Entry, len(rows))
	for i, rw := range rows {
		entries[i] = rowstore.Entry{Key: rw.Row, Value: packRow(rw.Bits, n)}
	}
	return m.rs.BatchPut(entries)
}

// AndRows reads every requested row and returns their bitwise AND as a bit
// vector of length n. An absent row reads as all-zeroes, which naturally
// short-circuits the AND to all-zeroes without special-casing.
func (m *Matrix) AndRows(rowIdxs []uint64, n uint64) (*bitset.BitSet, error) {
	result := bitset.New(uint(n))
	if len(rowIdxs) == 0 {
		return result, nil
	}

	result.FlipRange(0, uint(n))

	for _, r := range rowIdxs {
		rowBits, err := m.ReadRow(r, n)
		if err != nil {
			return nil, err
		}
		result.InPlaceIntersection(rowBits)
	}

	return result, nil
}

// GrowColumns widens every live row in [0, m) from oldN to oldN+delta
// columns by rewriting it zero-padded to the new width. Growth is
// normally lazy (ReadRow zero-pads short rows and every write emits the
// full current width), so this eager rewrite is only needed when uniform
// on-disk row lengths matter, e.g. before handing the store to an
// external reader.
func (m *Matrix) GrowColumns(mRows, oldN, delta uint64) error {
	newN := oldN + delta

	keys, err := m.rs.IterKeys(0, mRows)
	if err != nil {
		return fmt.Errorf("matrix: growing columns: %w", err)
	}

	batch := make([]rowstore.Entry, 0, len(keys))
	for _, key := range keys {
		bits, err := m.ReadRow(key, newN)
		if err != nil {
			return err
		}
		batch = append(batch, rowstore.Entry{Key: key, Value: packRow(bits, newN)})
	}

	if len(batch) == 0 {
		return nil
	}
	return m.rs.BatchPut(batch)
}

func unpackRow(raw []byte, n uint64) *bitset.BitSet {
	bits := bitset.New(uint(n))

	limit := uint64(len(raw)) * 8
	if limit > n {
		limit = n
	}

	for i := uint64(0); i < limit; i++ {
		if raw[i/8]&(1<<(i%8)) != 0 {
			bits.Set(uint(i))
		}
	}

	return bits
}

func packRow(bits *bitset.BitSet, n uint64) []byte {
	out := make([]byte, ceilDiv8(n))
	for i, e := bits.NextSet(0); e; i, e = bits.NextSet(i + 1) {
		if uint64(i) >= n {
			break
		}
		out[i/8] |= 1 << (i % 8)
	}
	return out
}
