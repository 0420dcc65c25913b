// Package registry implements the sample registry: the name-to-column
// bijection, with tombstoning and no column reuse. It is the sole
// authority for n, the matrix's current column count.
//
// Persistence follows the same metadata-key convention as the header:
// registry records live in the row-store's reserved key range starting at
// 1<<63, above the [0, m) rows the matrix owns, so a single RowStore
// instance backs header, registry and matrix uniformly.
package registry

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bigsi-go/bigsi/internal/rowstore"
)

// metaBase is the first key of the reserved metadata range. The registry
// claims the sub-range starting 2^32 keys in, leaving room below it for
// the header and any future metadata record without risking collision as
// n grows. counterKey holds n; columnKeyBase+c holds column c's record.
const (
	metaBase      = uint64(1) << 63
	registryBase  = metaBase + (uint64(1) << 32)
	counterKey    = registryBase
	columnKeyBase = registryBase + 1
)

// ErrDuplicateSample is returned by Add when name is already registered.
var ErrDuplicateSample = errors.New("registry: duplicate sample name")

// Entry is one registered column.
type Entry struct {
	Name       string
	Column     uint64
	Tombstoned bool
}

// Registry is the in-memory, rowstore-backed sample registry.
type Registry struct {
	rs      rowstore.RowStore
	n       uint64
	entries []Entry // indexed by column
	byName  map[string]uint64
}

// Open loads the registry's persisted state from rs. A fresh store yields
// an empty registry with n=0.
func Open(rs rowstore.RowStore) (*Registry, error) {
	r := &Registry{rs: rs, byName: make(map[string]uint64)}

	raw, ok, err := rs.Get(counterKey)
	if err != nil {
		return nil, fmt.Errorf("registry: reading counter: %w", err)
	}
	if ok {
		r.n = binary.LittleEndian.Uint64(raw)
	}

	r.entries = make([]Entry, r.n)
	for c := uint64(0); c < r.n; c++ {
		raw, ok, err := rs.Get(columnKeyBase + c)
		if err != nil {
			return nil, fmt.Errorf("registry: reading column %d: %w", c, err)
		}
		if !ok {
			return nil, fmt.Errorf("registry: missing record for column %d (n=%d)", c, r.n)
		}
		name, tombstoned := decodeColumnRecord(raw)
		r.entries[c] = Entry{Name: name, Column: c, Tombstoned: tombstoned}
		r.byName[name] = c
	}

	return r, nil
}

// N returns the current column count, the matrix's authoritative width.
func (r *Registry) N() uint64 {
	return r.n
}

// Add registers name as a new column, growing n by one. Tombstoned
// columns are never reused.
func (r *Registry) Add(name string) (uint64, error) {
	if _, ok := r.byName[name]; ok {
		return 0, ErrDuplicateSample
	}

	column := r.n

	if err := r.rs.Put(columnKeyBase+column, encodeColumnRecord(name, false)); err != nil {
		return 0, fmt.Errorf("registry: persisting column %d: %w", column, err)
	}

	newN := r.n + 1
	if err := r.rs.Put(counterKey, encodeCounter(newN)); err != nil {
		return 0, fmt.Errorf("registry: persisting counter: %w", err)
	}

	r.n = newN
	r.entries = append(r.entries, Entry{Name: name, Column: column})
	r.byName[name] = column

	return column, nil
}

// Resolve looks up name's column.
func (r *Registry) Resolve(name string) (uint64, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Lookup returns the name and tombstone status of column. ok is false if
// column was never registered.
func (r *Registry) Lookup(column uint64) (name string, tombstoned bool, ok bool) {
	if column >= r.n {
		return "", false, false
	}
	e := r.entries[column]
	return e.Name, e.Tombstoned, true
}

// Tombstone marks column deleted. Its bit position remains allocated in
// the matrix; queries must suppress tombstoned columns from results.
func (r *Registry) Tombstone(column uint64) error {
	if column >= r.n {
		return fmt.Errorf("registry: column %d out of range (n=%d)", column, r.n)
	}

	e := &r.entries[column]
	if e.Tombstoned {
		return nil
	}

	if err := r.rs.Put(columnKeyBase+column, encodeColumnRecord(e.Name, true)); err != nil {
		return fmt.Errorf("registry: tombstoning column %d: %w", column, err)
	}
	e.Tombstoned = true

	return nil
}

// List returns every registered column, live and tombstoned, ascending by
// column.
func (r *Registry) List() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func encodeCounter(n uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	return buf
}

// encodeColumnRecord packs a tombstone flag and a sample name into one
// row-store value: byte 0 is the flag, the remainder is the name's raw
// bytes (sample names are arbitrary user-supplied strings, so there is no
// fixed-width encoding to match here, unlike the matrix's row format).
func encodeColumnRecord(name string, tombstoned bool) []byte {
	out := make([]byte, 1+len(name))
	if tombstoned {
		out[0] = 1
	}
	copy(out[1:], name)
	return out
}

func decodeColumnRecord(raw []byte) (name string, tombstoned bool) {
	if len(raw) == 0 {
		return "", false
	}
	return string(raw[1:]), raw[0] != 0
}
