// Package query implements the query engine: enumerate canonical k-mers,
// AND their rows per sample, tally containment against a threshold, and
// rank hits.
package query

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/bigsi-go/bigsi/internal/bhash"
	"github.com/bigsi-go/bigsi/internal/kmer"
	"github.com/bigsi-go/bigsi/internal/matrix"
	"github.com/bigsi-go/bigsi/internal/registry"
)

// ErrCancelled is returned when ctx is cancelled at a row-AND boundary,
// carrying the partial tally accumulated so far.
type ErrCancelled struct {
	Partial []Hit
}

func (e *ErrCancelled) Error() string {
	return "query: cancelled"
}

// Hit is one result row of a search, ordered by descending Containment
// then ascending Column.
type Hit struct {
	Sample        string
	Column        uint64
	Containment   float64
	NumKmersFound uint64
	NumKmers      uint64
	// Score is an optional monotone function of Containment; zero when
	// not requested.
	Score float64
}

// Options configures one Search call.
type Options struct {
	Threshold float64
	// Workers bounds the row-AND worker pool; zero selects runtime.NumCPU().
	Workers int
	// WithScore requests the optional similarity score, here the
	// containment itself.
	WithScore bool
}

// Engine runs queries against a fixed (k, m, h) matrix, registry and
// Hasher.
type Engine struct {
	mtx    *matrix.Matrix
	reg    *registry.Registry
	hasher bhash.Hasher
	k      int
}

// New returns a query Engine over mtx/reg using the given k-mer length and
// Hasher.
func New(mtx *matrix.Matrix, reg *registry.Registry, k int, hasher bhash.Hasher) *Engine {
	return &Engine{mtx: mtx, reg: reg, hasher: hasher, k: k}
}

// Search runs the query pipeline for one sequence: enumerate distinct
// canonical k-mers, AND-tally their rows across a bounded worker pool,
// then rank the columns clearing threshold.
func (e *Engine) Search(ctx context.Context, seq []byte, opts Options) ([]Hit, error) {
	distinct := kmer.Distinct(seq, e.k)
	if len(distinct) == 0 {
		return nil, nil
	}

	n := e.reg.N()
	tally := make([]uint64, n)

	if err := e.tallyKmers(ctx, distinct, n, tally, opts.Workers); err != nil {
		if cancelled, ok := err.(*ErrCancelled); ok {
			cancelled.Partial = e.rankHits(tally, uint64(len(distinct)), opts)
			return nil, cancelled
		}
		return nil, err
	}

	return e.rankHits(tally, uint64(len(distinct)), opts), nil
}

// tallyKmers computes present(x) for every distinct k-mer across a worker
// pool bounded by opts.Workers (or NumCPU), accumulating into tally. The
// accumulation itself is done by the single collector goroutine so no
// locking is needed across workers (the per-column sum is commutative and
// associative, but additions are still serialised through one channel).
func (e *Engine) tallyKmers(ctx context.Context, distinct [][]byte, n uint64, tally []uint64, workers int) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(distinct) {
		workers = len(distinct)
	}

	work := make(chan []byte)
	results := make(chan []uint64, len(distinct))
	stop := make(chan struct{})
	defer close(stop)

	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for km := range work {
				select {
				case <-ctx.Done():
					errOnce.Do(func() { firstErr = &ErrCancelled{} })
					return
				default:
				}

				present, err := e.mtx.AndRows(e.hasher.Positions(km), n)
				if err != nil {
					errOnce.Do(func() { firstErr = fmt.Errorf("query: and_rows: %w", err) })
					return
				}

				row := make([]uint64, n)
				for c := uint64(0); c < n; c++ {
					if present.Test(uint(c)) {
						row[c] = 1
					}
				}
				results <- row
			}
		}()
	}

	go func() {
		defer close(work)
		for _, km := range distinct {
			select {
			case work <- km:
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for row := range results {
		for c, v := range row {
			tally[c] += v
		}
	}

	// The producer can stop on ctx.Done before any worker observes it.
	if firstErr == nil && ctx.Err() != nil {
		firstErr = &ErrCancelled{}
	}

	return firstErr
}

// rankHits applies the threshold and ordering rules: descending
// containment, then ascending column, tombstoned columns suppressed.
func (e *Engine) rankHits(tally []uint64, numKmers uint64, opts Options) []Hit {
	var hits []Hit

	for c, count := range tally {
		name, tombstoned, ok := e.reg.Lookup(uint64(c))
		if !ok || tombstoned {
			continue
		}

		containment := float64(count) / float64(numKmers)
		if containment < opts.Threshold {
			continue
		}

		hit := Hit{
			Sample:        name,
			Column:        uint64(c),
			Containment:   containment,
			NumKmersFound: count,
			NumKmers:      numKmers,
		}
		if opts.WithScore {
			hit.Score = containment
		}

		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Containment != hits[j].Containment {
			return hits[i].Containment > hits[j].Containment
		}
		return hits[i].Column < hits[j].Column
	})

	return hits
}
