package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bigsi-go/bigsi/internal/bloomfilter"
	"github.com/bigsi-go/bigsi/internal/matrix"
	"github.com/bigsi-go/bigsi/internal/registry"
	"github.com/bigsi-go/bigsi/internal/rowstore"
)

const (
	testK = 4
	testM = 64
	testH = 2
)

func writeBloomFile(t *testing.T, dir, name string, kmers []string) string {
	t.Helper()

	f := bloomfilter.New(testM, testH)
	for _, km := range kmers {
		f.Insert([]byte(km))
	}

	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer out.Close()

	if err := f.Encode(out); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}

	return path
}

func newMatrixAndRegistry(t *testing.T) (*matrix.Matrix, *registry.Registry) {
	t.Helper()
	e, err := rowstore.Open(t.TempDir(), rowstore.ModeWrite)
	if err != nil {
		t.Fatalf("open rowstore: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	reg, err := registry.Open(e)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	return matrix.New(e), reg
}

func assertRowsMatchFilters(t *testing.T, mtx *matrix.Matrix, n uint64, paths []string) {
	t.Helper()

	filters := make([]*bloomfilter.Filter, len(paths))
	for i, p := range paths {
		f, err := bloomfilter.Open(p, testM, testH)
		if err != nil {
			t.Fatalf("reopen %s: %v", p, err)
		}
		filters[i] = f
	}

	for r := uint64(0); r < testM; r++ {
		row, err := mtx.ReadRow(r, n)
		if err != nil {
			t.Fatalf("readrow(%d): %v", r, err)
		}
		for c, f := range filters {
			want := f.TestBit(r)
			got := row.Test(uint(c))
			if got != want {
				t.Fatalf("row %d column %d = %v, want %v", r, c, got, want)
			}
		}
	}
}

func TestBuildInMemory(t *testing.T) {
	dir := t.TempDir()
	p1 := writeBloomFile(t, dir, "s1.bloom", []string{"AAAA", "CCCC", "GGGG"})
	p2 := writeBloomFile(t, dir, "s2.bloom", []string{"TTTT", "ACGT"})

	mtx, reg := newMatrixAndRegistry(t)

	err := Build(mtx, reg, testM, testH, []string{p1, p2}, []string{"s1", "s2"}, 0, testM, Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if reg.N() != 2 {
		t.Fatalf("n = %d, want 2", reg.N())
	}
	if c, ok := reg.Resolve("s1"); !ok || c != 0 {
		t.Fatalf("resolve(s1) = %d, %v, want 0, true", c, ok)
	}
	if c, ok := reg.Resolve("s2"); !ok || c != 1 {
		t.Fatalf("resolve(s2) = %d, %v, want 1, true", c, ok)
	}

	assertRowsMatchFilters(t, mtx, 2, []string{p1, p2})
}

func TestBuildStreamingMatchesInMemory(t *testing.T) {
	dir := t.TempDir()
	p1 := writeBloomFile(t, dir, "s1.bloom", []string{"AAAA", "CCCC", "GGGG"})
	p2 := writeBloomFile(t, dir, "s2.bloom", []string{"TTTT", "ACGT"})
	p3 := writeBloomFile(t, dir, "s3.bloom", []string{"AACC", "GGTT"})

	mtx, reg := newMatrixAndRegistry(t)

	// maxMemory forces a stripe width of 1 column at a time: (8/64)*8 = 1.
	err := Build(mtx, reg, testM, testH, []string{p1, p2, p3}, []string{"s1", "s2", "s3"}, 0, testM, Options{MaxMemory: 8})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if reg.N() != 3 {
		t.Fatalf("n = %d, want 3", reg.N())
	}

	assertRowsMatchFilters(t, mtx, 3, []string{p1, p2, p3})
}

func TestBuildResourceExceeded(t *testing.T) {
	dir := t.TempDir()
	p1 := writeBloomFile(t, dir, "s1.bloom", []string{"AAAA"})

	mtx, reg := newMatrixAndRegistry(t)

	// max_memory smaller than one byte for the full row range forces
	// stripeSize to floor to zero.
	err := Build(mtx, reg, testM, testH, []string{p1}, []string{"s1"}, 0, testM, Options{MaxMemory: 1})
	if err == nil {
		t.Fatalf("expected ResourceExceeded, got nil")
	}
}

func TestBuildPartitionedEqualsSingleBuild(t *testing.T) {
	dir := t.TempDir()
	p1 := writeBloomFile(t, dir, "s1.bloom", []string{"AAAA", "CCCC", "GGGG"})
	p2 := writeBloomFile(t, dir, "s2.bloom", []string{"TTTT", "ACGT"})
	p3 := writeBloomFile(t, dir, "s3.bloom", []string{"AACC", "GGTT", "ATAT"})

	paths := []string{p1, p2, p3}
	names := []string{"s1", "s2", "s3"}

	// Single full-range build.
	fullMtx, fullReg := newMatrixAndRegistry(t)
	if err := Build(fullMtx, fullReg, testM, testH, paths, names, 0, testM, Options{}); err != nil {
		t.Fatalf("full build: %v", err)
	}

	// Same build split into two partitions sharing one n0 snapshot, with a
	// single registration at the end (the documented two-phase protocol).
	partMtx, partReg := newMatrixAndRegistry(t)
	n0 := partReg.N()
	lo1, hi1, err := PartitionRange(testM, 1, 2)
	if err != nil {
		t.Fatalf("partitionrange: %v", err)
	}
	lo2, hi2, err := PartitionRange(testM, 2, 2)
	if err != nil {
		t.Fatalf("partitionrange: %v", err)
	}

	if err := Rows(partMtx, paths, testM, testH, n0, lo1, hi1, Options{}); err != nil {
		t.Fatalf("rows partition 1: %v", err)
	}
	if err := Rows(partMtx, paths, testM, testH, n0, lo2, hi2, Options{}); err != nil {
		t.Fatalf("rows partition 2: %v", err)
	}
	if err := RegisterSamples(partReg, names); err != nil {
		t.Fatalf("register: %v", err)
	}

	if fullReg.N() != partReg.N() {
		t.Fatalf("n mismatch: full=%d partitioned=%d", fullReg.N(), partReg.N())
	}

	for r := uint64(0); r < testM; r++ {
		fullRow, err := fullMtx.ReadRow(r, fullReg.N())
		if err != nil {
			t.Fatalf("full readrow(%d): %v", r, err)
		}
		partRow, err := partMtx.ReadRow(r, partReg.N())
		if err != nil {
			t.Fatalf("partitioned readrow(%d): %v", r, err)
		}
		if !fullRow.Equal(partRow) {
			t.Fatalf("row %d differs between full and partitioned build", r)
		}
	}
}

func TestPartitionRangeCoversWholeRange(t *testing.T) {
	const m = 100
	const n = 3

	var covered []bool = make([]bool, m)
	for i := 1; i <= n; i++ {
		lo, hi, err := PartitionRange(m, i, n)
		if err != nil {
			t.Fatalf("partitionrange(%d): %v", i, err)
		}
		for r := lo; r < hi; r++ {
			if covered[r] {
				t.Fatalf("row %d covered by more than one partition", r)
			}
			covered[r] = true
		}
	}
	for r, c := range covered {
		if !c {
			t.Fatalf("row %d not covered by any partition", r)
		}
	}
}
