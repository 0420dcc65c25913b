package query

import (
	"os"
	"testing"

	"github.com/bigsi-go/bigsi/internal/bloomfilter"
	"github.com/bigsi-go/bigsi/internal/kmer"
)

func bloomFromSeq(t *testing.T, seq string) *bloomfilter.Filter {
	t.Helper()

	src := kmer.FromSequence([]byte(seq), k)
	f, err := bloomfilter.BuildFromSource(src, m, h)
	if err != nil {
		t.Fatalf("buildfromsource: %v", err)
	}
	return f
}

func writeFilter(t *testing.T, f *bloomfilter.Filter, path string) {
	t.Helper()

	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer out.Close()

	if err := f.Encode(out); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}
