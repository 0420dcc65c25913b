// Package build implements the build/merge pipeline: converting
// pre-constructed Bloom filters into bitsliced matrix rows under a bounded
// memory budget, partitionable by row range.
//
// A logical build is two phases. Rows writes the row updates for one
// partition; callers may invoke it once per row-range partition, all
// sharing the same width snapshot n0 taken before the first partition
// runs. RegisterSamples is the single, idempotent registry update that
// must run exactly once after every partition of a logical build has
// completed. Doing it per-partition would corrupt the column placement
// for the second and later partitions, since each would see a registry
// already grown by the first. Build is the convenience wrapper for the
// common non-partitioned, single-call case.
package build

import (
	"errors"
	"fmt"

	"github.com/bigsi-go/bigsi/internal/bloomfilter"
	"github.com/bigsi-go/bigsi/internal/matrix"
	"github.com/bigsi-go/bigsi/internal/registry"
	"github.com/bits-and-blooms/bitset"
)

// ErrResourceExceeded is returned when a partition cannot fit within the
// memory cap even in the streaming variant.
var ErrResourceExceeded = errors.New("build: partition cannot fit within max_memory")

// Options configures one Rows call.
type Options struct {
	// MaxMemory is the byte cap for the working buffer. Zero means
	// unbounded.
	MaxMemory uint64
	// LowMem forces the streaming variant regardless of MaxMemory.
	LowMem bool
}

// PartitionRange computes the half-open row range for the i-th of n
// one-based batches over m rows: batches are ceil(m/n) rows wide, and the
// last batch is truncated to m rather than overrunning it.
func PartitionRange(m uint64, i, n int) (lo, hi uint64, err error) {
	if n <= 0 {
		return 0, 0, fmt.Errorf("build: batch count must be positive, got %d", n)
	}
	if i < 1 || i > n {
		return 0, 0, fmt.Errorf("build: batch index is one-based in [1, %d], got %d", n, i)
	}

	batchSize := (m + uint64(n) - 1) / uint64(n)

	lo = uint64(i-1) * batchSize
	if lo > m {
		lo = m
	}
	hi = lo + batchSize
	if hi > m {
		hi = m
	}

	return lo, hi, nil
}

// openFilters opens every Bloom filter path, rejecting any whose (m, h)
// disagree with the index's own parameters.
func openFilters(paths []string, m, h uint64) ([]*bloomfilter.Filter, error) {
	filters := make([]*bloomfilter.Filter, len(paths))
	for i, p := range paths {
		f, err := bloomfilter.Open(p, m, h)
		if err != nil {
			return nil, fmt.Errorf("build: opening bloom filter %s: %w", p, err)
		}
		filters[i] = f
	}
	return filters, nil
}

// Rows writes the row updates for one partition [lo, hi) given n0, the
// registry's column count before this logical build began. It does not
// touch the registry; see the package doc for why registration is a
// separate, single, final step.
func Rows(mtx *matrix.Matrix, bloomPaths []string, m, h, n0, lo, hi uint64, opts Options) error {
	filters, err := openFilters(bloomPaths, m, h)
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		return nil
	}

	rowCount := hi - lo
	inMemoryBytes := (rowCount*uint64(len(filters)) + 7) / 8

	if opts.LowMem || (opts.MaxMemory != 0 && inMemoryBytes > opts.MaxMemory) {
		return buildStreaming(mtx, filters, n0, lo, hi, opts.MaxMemory)
	}

	return buildInMemory(mtx, filters, n0, lo, hi)
}

// RegisterSamples registers every name not already present, in order,
// skipping any name that already resolves to a column (a re-run of an
// interrupted or repeated build is therefore idempotent). It must be called
// exactly once after all partitions of a logical build have written their
// rows, so uncommitted columns are never visible to readers.
func RegisterSamples(reg *registry.Registry, samples []string) error {
	for _, name := range samples {
		if _, ok := reg.Resolve(name); ok {
			continue
		}
		if _, err := reg.Add(name); err != nil {
			return fmt.Errorf("build: registering sample %q: %w", name, err)
		}
	}
	return nil
}

// Build runs the common, non-partitioned case: one call, the whole row
// range, then registration. bloomPaths and samples must be equal length.
func Build(mtx *matrix.Matrix, reg *registry.Registry, m, h uint64, bloomPaths, samples []string, lo, hi uint64, opts Options) error {
	if len(bloomPaths) != len(samples) {
		return fmt.Errorf("build: %d bloom filters but %d sample names", len(bloomPaths), len(samples))
	}

	n0 := reg.N()

	if err := Rows(mtx, bloomPaths, m, h, n0, lo, hi, opts); err != nil {
		return err
	}

	return RegisterSamples(reg, samples)
}

// buildInMemory is the in-memory variant: materialise every extended row
// for the whole partition, scatter every filter's bits, and write once.
func buildInMemory(mtx *matrix.Matrix, filters []*bloomfilter.Filter, n0, lo, hi uint64) error {
	finalWidth := n0 + uint64(len(filters))

	rows := make([]matrix.RowWrite, 0, hi-lo)
	for r := lo; r < hi; r++ {
		bits, err := extendedRow(mtx, r, n0, finalWidth, filters)
		if err != nil {
			return err
		}
		rows = append(rows, matrix.RowWrite{Row: r, Bits: bits})
	}

	return mtx.WriteRowRange(rows, finalWidth)
}

// buildStreaming is the low-memory variant: partition the new columns into
// stripes of at most floor(maxMemory*8/(hi-lo)) columns (one column of the
// partition costs (hi-lo) bits of working buffer), OR-merging each
// stripe into the rows already on disk rather than holding the full
// working buffer in memory at once.
func buildStreaming(mtx *matrix.Matrix, filters []*bloomfilter.Filter, n0, lo, hi, maxMemory uint64) error {
	rowCount := hi - lo
	if rowCount == 0 {
		return nil
	}

	var stripeSize uint64
	if maxMemory == 0 {
		stripeSize = uint64(len(filters)) // lowmem hint with no cap: one stripe.
	} else {
		stripeSize = maxMemory * 8 / rowCount
		if stripeSize == 0 {
			return fmt.Errorf("build: %w (max_memory=%d, rows=%d)", ErrResourceExceeded, maxMemory, rowCount)
		}
	}

	width := n0
	for start := 0; start < len(filters); start += int(stripeSize) {
		end := start + int(stripeSize)
		if end > len(filters) {
			end = len(filters)
		}
		stripe := filters[start:end]
		newWidth := width + uint64(len(stripe))

		rows := make([]matrix.RowWrite, 0, rowCount)
		for r := lo; r < hi; r++ {
			bits, err := extendedRow(mtx, r, width, newWidth, stripe)
			if err != nil {
				return err
			}
			rows = append(rows, matrix.RowWrite{Row: r, Bits: bits})
		}

		if err := mtx.WriteRowRange(rows, newWidth); err != nil {
			return err
		}

		width = newWidth
	}

	return nil
}

// extendedRow reads row r at its current width (existingWidth) and returns
// it extended to finalWidth, with each filter in filters scatter-set
// starting at column existingWidth.
func extendedRow(mtx *matrix.Matrix, r, existingWidth, finalWidth uint64, filters []*bloomfilter.Filter) (*bitset.BitSet, error) {
	existing, err := mtx.ReadRow(r, existingWidth)
	if err != nil {
		return nil, err
	}

	bits := bitset.New(uint(finalWidth))
	for c, e := existing.NextSet(0); e; c, e = existing.NextSet(c + 1) {
		bits.Set(c)
	}

	for i, f := range filters {
		if f.TestBit(r) {
			bits.Set(uint(existingWidth) + uint(i))
		}
	}

	return bits, nil
}
