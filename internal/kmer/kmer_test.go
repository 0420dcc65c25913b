package kmer

import (
	"reflect"
	"testing"
)

func TestReverseComplement(t *testing.T) {
	got := string(ReverseComplement([]byte("ACGT")))
	if got != "ACGT" {
		t.Fatalf("ReverseComplement(ACGT) = %s, want ACGT", got)
	}

	got = string(ReverseComplement([]byte("AAGG")))
	if got != "CCTT" {
		t.Fatalf("ReverseComplement(AAGG) = %s, want CCTT", got)
	}
}

func TestCanonicalPicksLexicallySmaller(t *testing.T) {
	cases := []struct{ in, want string }{
		{"TTTT", "AAAA"},
		{"AAAA", "AAAA"},
		{"ACGT", "ACGT"},
		{"GGGG", "CCCC"},
	}
	for _, c := range cases {
		got := string(Canonical([]byte(c.in)))
		if got != c.want {
			t.Errorf("Canonical(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestWindowsSkipsNonACGT(t *testing.T) {
	var windows [][]byte
	for w := range Windows([]byte("ACNGT"), 2) {
		windows = append(windows, w)
	}
	// Windows: AC (valid), CN (invalid), NG (invalid), GT (valid).
	if len(windows) != 2 {
		t.Fatalf("windows = %v, want 2 valid windows", windows)
	}
}

func TestWindowsUppercasesInput(t *testing.T) {
	var windows [][]byte
	for w := range Windows([]byte("acgt"), 4) {
		windows = append(windows, w)
	}
	if len(windows) != 1 {
		t.Fatalf("windows = %v, want 1", windows)
	}
	if string(windows[0]) != "ACGT" {
		t.Fatalf("windows[0] = %s, want ACGT", windows[0])
	}
}

func TestWindowsRejectsOutOfRangeK(t *testing.T) {
	for w := range Windows([]byte("ACGT"), 0) {
		t.Fatalf("unexpected window %s for k=0", w)
	}
	for w := range Windows([]byte("ACGT"), MaxK+1) {
		t.Fatalf("unexpected window %s for k>MaxK", w)
	}
	for w := range Windows([]byte("AC"), 4) {
		t.Fatalf("unexpected window %s for k > len(seq)", w)
	}
}

func TestWindowsStopsOnYieldFalse(t *testing.T) {
	count := 0
	for range Windows([]byte("ACGTACGTACGT"), 2) {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestDistinctDeduplicatesPreservingOrder(t *testing.T) {
	// "AAAA" at k=2 yields canonical "AA" three times over; "AC" once.
	got := Distinct([]byte("AAAAC"), 2)
	var strs []string
	for _, k := range got {
		strs = append(strs, string(k))
	}
	want := []string{"AA", "AC"}
	if !reflect.DeepEqual(strs, want) {
		t.Fatalf("Distinct = %v, want %v", strs, want)
	}
}

func TestFromSequenceMatchesWindows(t *testing.T) {
	src := FromSequence([]byte("ACGTACGT"), 3)

	var viaSource [][]byte
	for {
		km, ok, err := src.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		viaSource = append(viaSource, km)
	}

	var viaWindows [][]byte
	for w := range Windows([]byte("ACGTACGT"), 3) {
		viaWindows = append(viaWindows, w)
	}

	if len(viaSource) != len(viaWindows) {
		t.Fatalf("len(viaSource) = %d, len(viaWindows) = %d", len(viaSource), len(viaWindows))
	}
	for i := range viaSource {
		if string(viaSource[i]) != string(viaWindows[i]) {
			t.Errorf("kmer %d: viaSource=%s viaWindows=%s", i, viaSource[i], viaWindows[i])
		}
	}
}

func TestFromSequenceExhausted(t *testing.T) {
	src := FromSequence([]byte("AC"), 2)

	_, ok, err := src.Next()
	if err != nil || !ok {
		t.Fatalf("first Next: ok=%v err=%v", ok, err)
	}

	_, ok, err = src.Next()
	if err != nil || ok {
		t.Fatalf("second Next: ok=%v err=%v, want ok=false", ok, err)
	}
}
