// Package bigsi is a bitsliced genomic signature index: an approximate
// membership index that, given a query DNA sequence, returns the samples
// whose k-mer content contains a configurable fraction of the query's
// k-mers. Each sample is a fixed-width Bloom filter; the index stores many
// samples as a bit matrix transposed so that probing a k-mer is a handful
// of row fetches and an intersection.
//
// Index is the façade over the indexing core: the Hasher (internal/bhash),
// Bloom filter (internal/bloomfilter), row store (internal/rowstore),
// bitsliced matrix (internal/matrix), sample registry (internal/registry),
// and the build/merge and query engines (internal/build, internal/query).
// It owns the row store handle, the registry and the header; it enforces
// parameter immutability, serialises writes under its own mutex (the row
// store itself already refuses writes opened in ModeRead, this mutex
// additionally orders concurrent writer calls against one Go Index value),
// and dispatches to the build/merge and query packages.
package bigsi

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/bigsi-go/bigsi/internal/bhash"
	"github.com/bigsi-go/bigsi/internal/build"
	"github.com/bigsi-go/bigsi/internal/kmer"
	"github.com/bigsi-go/bigsi/internal/matrix"
	"github.com/bigsi-go/bigsi/internal/query"
	"github.com/bigsi-go/bigsi/internal/registry"
	"github.com/bigsi-go/bigsi/internal/rowstore"
)

// Mode selects read-only vs writable access, mirroring rowstore.Mode.
type Mode = rowstore.Mode

const (
	ModeWrite Mode = rowstore.ModeWrite
	ModeRead  Mode = rowstore.ModeRead
)

// Index is the public entry point: one open index directory.
type Index struct {
	mu   sync.Mutex
	dir  string
	mode Mode
	opts indexOptions

	rs  rowstore.RowStore
	mtx *matrix.Matrix
	reg *registry.Registry
	hdr header
}

// Create initialises a new index at dir with the given parameters. If an
// index already exists there and force is false, Create returns
// ErrAlreadyExists; with force true, any existing contents are removed
// first.
func Create(dir string, k int, m, h uint64, force bool, opts ...Option) (*Index, error) {
	if k < 1 || k > kmer.MaxK {
		return nil, fmt.Errorf("bigsi: k must be in [1, %d], got %d", kmer.MaxK, k)
	}
	if m == 0 {
		return nil, fmt.Errorf("bigsi: m must be > 0")
	}
	if h < 1 {
		return nil, fmt.Errorf("bigsi: h must be >= 1")
	}

	if _, err := os.Stat(dir); err == nil {
		if !force {
			return nil, ErrAlreadyExists
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("bigsi: removing existing index at %s: %w", dir, err)
		}
	}

	idx, err := openIndex(dir, ModeWrite, opts...)
	if err != nil {
		return nil, err
	}

	hdr := header{K: k, M: m, H: h, HasherID: bhash.SchemeID}
	if err := writeHeader(idx.rs, hdr); err != nil {
		idx.rs.Close()
		return nil, wrapIOFailure(err)
	}
	idx.hdr = hdr

	return idx, nil
}

// Open opens an existing index at dir. A header whose hasher scheme
// disagrees with the running implementation's is rejected as a parameter
// mismatch, since an index must use one scheme for its entire lifetime.
func Open(dir string, mode Mode, opts ...Option) (*Index, error) {
	return openIndex(dir, mode, opts...)
}

func openIndex(dir string, mode Mode, opts ...Option) (*Index, error) {
	o := defaultIndexOptions()
	for _, opt := range opts {
		opt(&o)
	}

	rs, err := rowstore.Open(dir, mode, o.rowstoreOptions()...)
	if err != nil {
		return nil, wrapIOFailure(err)
	}

	reg, err := registry.Open(rs)
	if err != nil {
		rs.Close()
		return nil, err
	}

	idx := &Index{
		dir:  dir,
		mode: mode,
		opts: o,
		rs:   rs,
		mtx:  matrix.New(rs),
		reg:  reg,
	}

	hdr, err := readHeader(rs)
	if err != nil {
		if mode == ModeRead {
			rs.Close()
			return nil, err
		}
		// A fresh ModeWrite store with no header yet: Create is about to
		// write one. Any other writer reaching here without a header is a
		// caller error, not something this package can distinguish.
		return idx, nil
	}
	idx.hdr = hdr

	if hdr.HasherID != bhash.SchemeID {
		rs.Close()
		return nil, &ErrParameterMismatch{
			WantHasherID: bhash.SchemeID,
			GotHasherID:  hdr.HasherID,
			WantK:        hdr.K, WantM: hdr.M, WantH: hdr.H,
			GotK: hdr.K, GotM: hdr.M, GotH: hdr.H,
		}
	}

	return idx, nil
}

// K, M, H return the index's immutable parameters.
func (idx *Index) K() int    { return idx.hdr.K }
func (idx *Index) M() uint64 { return idx.hdr.M }
func (idx *Index) H() uint64 { return idx.hdr.H }
func (idx *Index) N() uint64 { return idx.reg.N() }

func (idx *Index) hasher() bhash.Hasher {
	return bhash.New(idx.hdr.M, idx.hdr.H)
}

// InsertBloom inserts one pre-constructed Bloom filter file as a new
// sample, optionally restricted to the row range [lo, hi). A zero hi means
// the full range [lo, m).
func (idx *Index) InsertBloom(bloomPath, sample string, lo, hi uint64) error {
	return idx.Build([]string{bloomPath}, []string{sample}, 0, false, lo, hi)
}

// Build converts a batch of pre-constructed Bloom filter files into matrix
// rows. samples defaults to bloomPaths when empty, so a caller can name
// samples by their file paths. A zero hi means the full range [lo, m).
//
// A build may be partitioned by row range: call Build once per [lo, hi)
// partition with the same bloomPaths and samples. The first partition's
// call registers the samples; later partitions recover the same column
// placement from the registry (the first sample's resolved column is the
// width the build started from, since a build's columns are contiguous)
// and their registration pass is a no-op.
func (idx *Index) Build(bloomPaths, samples []string, maxMemory uint64, lowmem bool, lo, hi uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.mode != ModeWrite {
		return rowstore.ErrReadOnly
	}

	if len(samples) == 0 {
		samples = bloomPaths
	}
	if len(bloomPaths) != len(samples) {
		return fmt.Errorf("bigsi: %d bloom filters but %d sample names", len(bloomPaths), len(samples))
	}
	if len(bloomPaths) == 0 {
		return nil
	}
	if hi == 0 {
		hi = idx.hdr.M
	}
	if lo >= hi || hi > idx.hdr.M {
		return fmt.Errorf("bigsi: row range [%d, %d) out of bounds for m=%d", lo, hi, idx.hdr.M)
	}
	if maxMemory == 0 {
		maxMemory = idx.opts.maxMemory
	}

	n0 := idx.reg.N()
	if col, ok := idx.reg.Resolve(samples[0]); ok {
		n0 = col
	}

	err := build.Rows(idx.mtx, bloomPaths, idx.hdr.M, idx.hdr.H, n0, lo, hi, build.Options{
		MaxMemory: maxMemory,
		LowMem:    lowmem,
	})
	if err != nil {
		return wrapIOFailure(err)
	}

	return wrapIOFailure(build.RegisterSamples(idx.reg, samples))
}

// Merge appends other's samples and matrix columns onto idx. other must
// share idx's (k, m, h); idx must be opened ModeWrite since merge rewrites
// every row of it.
func (idx *Index) Merge(other *Index) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if idx.mode != ModeWrite {
		return rowstore.ErrReadOnly
	}

	err := build.Merge(idx.mtx, idx.reg, uint64(idx.hdr.K), idx.hdr.M, idx.hdr.H,
		other.mtx, other.reg, uint64(other.hdr.K), other.hdr.M, other.hdr.H)
	return wrapIOFailure(err)
}

// Search runs a query over seq, returning ranked hits.
func (idx *Index) Search(ctx context.Context, seq []byte, threshold float64, withScore bool) ([]query.Hit, error) {
	idx.mu.Lock()
	eng := query.New(idx.mtx, idx.reg, idx.hdr.K, idx.hasher())
	workers := idx.opts.workers
	idx.mu.Unlock()

	hits, err := eng.Search(ctx, seq, query.Options{Threshold: threshold, Workers: workers, WithScore: withScore})
	return hits, wrapIOFailure(err)
}

// DeleteSample tombstones name, suppressing it from future query results
// without reclaiming its column.
func (idx *Index) DeleteSample(name string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.mode != ModeWrite {
		return rowstore.ErrReadOnly
	}

	col, ok := idx.reg.Resolve(name)
	if !ok {
		return ErrMissingSample
	}

	return wrapIOFailure(idx.reg.Tombstone(col))
}

// Samples returns every registered sample, live and tombstoned.
func (idx *Index) Samples() []registry.Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.reg.List()
}

// Drop closes the index and removes its on-disk directory entirely.
func (idx *Index) Drop() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.rs.Close(); err != nil {
		return wrapIOFailure(err)
	}

	return os.RemoveAll(idx.dir)
}

// Close flushes and releases the index's resources.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return wrapIOFailure(idx.rs.Close())
}
