package registry

import (
	"testing"

	"github.com/bigsi-go/bigsi/internal/rowstore"
)

func openStore(t *testing.T) rowstore.RowStore {
	t.Helper()
	e, err := rowstore.Open(t.TempDir(), rowstore.ModeWrite)
	if err != nil {
		t.Fatalf("open rowstore: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestAddAssignsSequentialColumns(t *testing.T) {
	r, err := Open(openStore(t))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	c0, err := r.Add("sample-a")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	c1, err := r.Add("sample-b")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if c0 != 0 || c1 != 1 {
		t.Fatalf("columns = %d, %d, want 0, 1", c0, c1)
	}
	if r.N() != 2 {
		t.Fatalf("n = %d, want 2", r.N())
	}
}

func TestAddDuplicateNameFails(t *testing.T) {
	r, err := Open(openStore(t))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	if _, err := r.Add("sample-a"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := r.Add("sample-a"); err != ErrDuplicateSample {
		t.Fatalf("add duplicate = %v, want ErrDuplicateSample", err)
	}
}

func TestResolveAndLookup(t *testing.T) {
	r, err := Open(openStore(t))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	c, err := r.Add("sample-a")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	got, ok := r.Resolve("sample-a")
	if !ok || got != c {
		t.Fatalf("resolve = %d, %v, want %d, true", got, ok, c)
	}

	if _, ok := r.Resolve("missing"); ok {
		t.Fatalf("resolve(missing) should fail")
	}

	name, tombstoned, ok := r.Lookup(c)
	if !ok || name != "sample-a" || tombstoned {
		t.Fatalf("lookup = %q, %v, %v", name, tombstoned, ok)
	}

	if _, _, ok := r.Lookup(999); ok {
		t.Fatalf("lookup(999) should fail")
	}
}

func TestTombstonePreservesColumn(t *testing.T) {
	r, err := Open(openStore(t))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	c, err := r.Add("sample-a")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := r.Add("sample-b"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := r.Tombstone(c); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	if r.N() != 2 {
		t.Fatalf("n = %d after tombstone, want 2 (no reclamation)", r.N())
	}

	name, tombstoned, ok := r.Lookup(c)
	if !ok || name != "sample-a" || !tombstoned {
		t.Fatalf("lookup after tombstone = %q, %v, %v", name, tombstoned, ok)
	}

	// A tombstoned name cannot be reused for Add, preserving the bijection.
	if _, err := r.Add("sample-a"); err != ErrDuplicateSample {
		t.Fatalf("re-add tombstoned name = %v, want ErrDuplicateSample", err)
	}
}

func TestListOrderedByColumn(t *testing.T) {
	r, err := Open(openStore(t))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	r.Add("a")
	r.Add("b")
	r.Add("c")
	r.Tombstone(1)

	entries := r.List()
	if len(entries) != 3 {
		t.Fatalf("list len = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Column != uint64(i) {
			t.Fatalf("entries[%d].Column = %d, want %d", i, e.Column, i)
		}
	}
	if !entries[1].Tombstoned {
		t.Fatalf("entries[1] should be tombstoned")
	}
}

func TestRegistryPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	e1, err := rowstore.Open(dir, rowstore.ModeWrite)
	if err != nil {
		t.Fatalf("open rowstore: %v", err)
	}
	r1, err := Open(e1)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	r1.Add("sample-a")
	r1.Add("sample-b")
	r1.Tombstone(0)
	if err := e1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e2, err := rowstore.Open(dir, rowstore.ModeWrite)
	if err != nil {
		t.Fatalf("reopen rowstore: %v", err)
	}
	defer e2.Close()

	r2, err := Open(e2)
	if err != nil {
		t.Fatalf("reopen registry: %v", err)
	}

	if r2.N() != 2 {
		t.Fatalf("n after reopen = %d, want 2", r2.N())
	}
	name, tombstoned, ok := r2.Lookup(0)
	if !ok || name != "sample-a" || !tombstoned {
		t.Fatalf("lookup(0) after reopen = %q, %v, %v", name, tombstoned, ok)
	}
	if _, ok := r2.Resolve("sample-b"); !ok {
		t.Fatalf("resolve(sample-b) after reopen should succeed")
	}
}
