package bloomfilter

import (
	"bytes"
	"testing"

	"github.com/bigsi-go/bigsi/internal/kmer"
)

func TestInsertAndTest(t *testing.T) {
	f := New(1024, 4)
	f.Insert([]byte("ACGT"))

	if !f.Test([]byte("ACGT")) {
		t.Fatalf("Test(ACGT) = false after Insert")
	}
}

func TestTestFalseForAbsentKmer(t *testing.T) {
	f := New(4096, 4)
	f.Insert([]byte("ACGTACGT"))

	if f.Test([]byte("TTTTTTTT")) {
		t.Fatalf("Test(TTTTTTTT) = true, want false")
	}
}

func TestBuildFromSource(t *testing.T) {
	src := kmer.FromSequence([]byte("ACGTACGTACGT"), 4)
	f, err := BuildFromSource(src, 2048, 3)
	if err != nil {
		t.Fatalf("BuildFromSource: %v", err)
	}

	for _, km := range kmer.Distinct([]byte("ACGTACGTACGT"), 4) {
		if !f.Test(km) {
			t.Errorf("Test(%s) = false, want true", km)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := New(256, 3)
	f.Insert([]byte("AAAA"))
	f.Insert([]byte("CCCC"))

	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf, 256, 3)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.M() != 256 || got.H() != 3 {
		t.Fatalf("got M()=%d H()=%d, want 256, 3", got.M(), got.H())
	}
	if !got.Test([]byte("AAAA")) || !got.Test([]byte("CCCC")) {
		t.Fatalf("decoded filter lost inserted k-mers")
	}
}

func TestDecodeRejectsParamMismatch(t *testing.T) {
	f := New(256, 3)

	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := Decode(&buf, 512, 3); err != ErrParamMismatch {
		t.Fatalf("Decode with wrong m = %v, want ErrParamMismatch", err)
	}
}

func TestDecodeSkipsCheckWhenWantZero(t *testing.T) {
	f := New(128, 2)

	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf, 0, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.M() != 128 || got.H() != 2 {
		t.Fatalf("got M()=%d H()=%d, want 128, 2", got.M(), got.H())
	}
}

func TestTestBitMatchesHashPositions(t *testing.T) {
	f := New(128, 2)
	f.Insert([]byte("GATTACA"))

	for _, p := range f.hasher.Positions([]byte("GATTACA")) {
		if !f.TestBit(p) {
			t.Fatalf("TestBit(%d) = false for a hash position of the inserted k-mer", p)
		}
	}
}
