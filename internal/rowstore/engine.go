// engine.go wires the WAL, memtable and segment manager into the RowStore
// interface. A writer holds its own WAL and memtable; readers only ever
// see segment files already flushed to disk.
package rowstore

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

const defaultFlushBytes = 8 << 20 // 8MB
const defaultWALBuffer = 64

// Option configures an Engine at Open time.
type Option func(*engineOptions)

type engineOptions struct {
	flushBytes int
	walBuffer  int
}

// WithFlushBytes overrides the memtable size, in bytes, at which a write
// triggers a flush to a new immutable segment.
func WithFlushBytes(n int) Option {
	return func(o *engineOptions) { o.flushBytes = n }
}

// Engine is the on-disk implementation of RowStore.
type Engine struct {
	mu       sync.Mutex
	mode     Mode
	dir      string
	wal      *walWriter
	mt       *memtable
	segments *segmentManager
	opts     engineOptions
	closed   bool
}

// Open opens (or creates) a row store rooted at dir. ModeWrite opens a WAL
// and replays it into a fresh memtable. ModeRead skips the WAL entirely:
// a reader only observes segments already flushed by a writer.
func Open(dir string, mode Mode, options ...Option) (*Engine, error) {
	opts := engineOptions{flushBytes: defaultFlushBytes, walBuffer: defaultWALBuffer}
	for _, o := range options {
		o(&opts)
	}

	segments, err := openSegmentManager(filepath.Join(dir, "segments"))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		mode:     mode,
		dir:      dir,
		mt:       newMemtable(),
		segments: segments,
		opts:     opts,
	}

	if mode == ModeWrite {
		wal, err := openWAL(dir, opts.walBuffer)
		if err != nil {
			return nil, err
		}
		e.wal = wal

		// A missing WAL file (fresh store) is a normal no-op, not an error.
		if reader, err := openWALReader(dir); err == nil {
			_ = reader.replay(func(r *record) {
				e.mt.Put(r.key, r.value)
			})
		}
	}

	return e, nil
}

func (e *Engine) Get(key uint64) ([]byte, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, false, ErrClosed
	}

	if e.mode == ModeWrite {
		if v, ok := e.mt.Get(key); ok {
			return v, true, nil
		}
	}

	return e.segments.get(key)
}

func (e *Engine) Put(key uint64, value []byte) error {
	return e.BatchPut([]Entry{{Key: key, Value: value}})
}

func (e *Engine) BatchPut(entries []Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.mode == ModeRead {
		return ErrReadOnly
	}

	records := make([]*record, len(entries))
	for i, ent := range entries {
		records[i] = &record{key: ent.Key, value: ent.Value}
	}

	if err := e.wal.writeBatch(records); err != nil {
		return fmt.Errorf("rowstore: batch put: %w", err)
	}

	for _, ent := range entries {
		e.mt.Put(ent.Key, ent.Value)
	}

	if e.mt.sizeBytes >= e.opts.flushBytes {
		if err := e.flushLocked(); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) flushLocked() error {
	if e.mt.size == 0 {
		return nil
	}

	if err := e.segments.flush(e.mt); err != nil {
		return fmt.Errorf("rowstore: flushing memtable: %w", err)
	}

	if err := e.wal.truncate(); err != nil {
		return err
	}

	e.mt = newMemtable()

	return nil
}

// Flush forces the current memtable to a new immutable segment. Without
// it, a flush happens only when a write brings the memtable to the flush
// threshold, and on Close.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == ModeRead {
		return ErrReadOnly
	}

	return e.flushLocked()
}

func (e *Engine) IterKeys(lo, hi uint64) ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	segKeys, err := e.segments.iterKeys(lo, hi)
	if err != nil {
		return nil, err
	}

	if e.mode != ModeWrite {
		return segKeys, nil
	}

	seen := make(map[uint64]bool, len(segKeys))
	out := append([]uint64(nil), segKeys...)
	for _, k := range segKeys {
		seen[k] = true
	}

	for rec := range e.mt.Range(lo, hi) {
		if !seen[rec.key] {
			out = append(out, rec.key)
			seen[rec.key] = true
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.mode == ModeWrite {
		if err := e.flushLocked(); err != nil {
			return err
		}
		if err := e.wal.close(); err != nil {
			return err
		}
	}

	return e.segments.close()
}
