package secondpass

import (
	"testing"

	"github.com/csvquery/vroomdex/dialect"
	"github.com/csvquery/vroomdex/internal/indexstore"
	"github.com/csvquery/vroomdex/vroomerr"
)

func scanIntoPositions(src []byte, d dialect.Dialect) []int64 {
	out := make(indexstore.Slab, len(src)+8)
	r := ScanInto(src, 0, len(src), d, 0, out)
	got := make([]int64, r.Count)
	for i := 0; i < r.Count; i++ {
		got[i] = int64(out[i])
	}
	return got
}

func equalInt64(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestScanIntoMatchesScalarOracle(t *testing.T) {
	d := dialect.CSV()
	cases := []string{
		"a,b,c\n",
		"\"hello\",world\n",
		"\"a,b\",c\n",
		"\"a\"\"b\",c\n",
		"a,b\r\nc,d\r\n",
		"a,,c\n\n",
		strRepeat("x,y,z\n", 20),
	}

	for _, src := range cases {
		bytes := []byte(src)
		scalarPos, _ := ScanScalar(bytes, 0, len(bytes), d, false)
		simdPos := scanIntoPositions(bytes, d)
		if !equalInt64(scalarPos, simdPos) {
			t.Errorf("mismatch for %q:\n  scalar = %v\n  simd   = %v", src, scalarPos, simdPos)
		}
	}
}

func strRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func TestScanIntoAtRecordBoundary(t *testing.T) {
	d := dialect.CSV()
	closed := []byte("a,b,c\n")
	out := make(indexstore.Slab, 16)
	r := ScanInto(closed, 0, len(closed), d, 0, out)
	if !r.AtRecordBoundary {
		t.Error("expected AtRecordBoundary true for a properly closed chunk")
	}

	unclosed := []byte("a,\"b,c\n")
	r2 := ScanInto(unclosed, 0, len(unclosed), d, 0, out)
	if r2.AtRecordBoundary {
		t.Error("expected AtRecordBoundary false for a chunk ending inside a quote")
	}
}

func TestScanWithErrorsUnclosedQuote(t *testing.T) {
	d := dialect.CSV()
	src := []byte("a,\"unterminated\n")
	out := make(indexstore.Slab, 16)
	errs := vroomerr.NewCollector(vroomerr.Permissive)

	ScanWithErrors(src, 0, len(src), d, false, out, errs)

	if !errs.HasFatal() {
		t.Fatal("expected a fatal UNCLOSED_QUOTE error")
	}
	found := false
	for _, e := range errs.Errors() {
		if e.Code == vroomerr.UnclosedQuote {
			found = true
		}
	}
	if !found {
		t.Error("expected UnclosedQuote in the collected errors")
	}
}

func TestScanWithErrorsQuoteInUnquotedField(t *testing.T) {
	d := dialect.CSV()
	src := []byte("ab\"cd,ef\n")
	out := make(indexstore.Slab, 16)
	errs := vroomerr.NewCollector(vroomerr.Permissive)

	ScanWithErrors(src, 0, len(src), d, false, out, errs)

	found := false
	for _, e := range errs.Errors() {
		if e.Code == vroomerr.QuoteInUnquotedField {
			found = true
		}
	}
	if !found {
		t.Error("expected QuoteInUnquotedField in the collected errors")
	}
}

func TestScanWithErrorsInvalidCharAfterClosingQuote(t *testing.T) {
	d := dialect.CSV()
	src := []byte("\"ab\"cd,ef\n")
	out := make(indexstore.Slab, 16)
	errs := vroomerr.NewCollector(vroomerr.Permissive)

	ScanWithErrors(src, 0, len(src), d, false, out, errs)

	found := false
	for _, e := range errs.Errors() {
		if e.Code == vroomerr.InvalidQuoteEscape {
			found = true
		}
	}
	if !found {
		t.Error("expected InvalidQuoteEscape in the collected errors")
	}
}

func TestScanWithErrorsNullByte(t *testing.T) {
	d := dialect.CSV()
	src := []byte("a,b\x00,c\n")
	out := make(indexstore.Slab, 16)
	errs := vroomerr.NewCollector(vroomerr.Permissive)

	ScanWithErrors(src, 0, len(src), d, false, out, errs)

	found := false
	for _, e := range errs.Errors() {
		if e.Code == vroomerr.NullByte {
			found = true
		}
	}
	if !found {
		t.Error("expected NullByte in the collected errors")
	}
}

func TestScanWithErrorsFailFastStopsEarly(t *testing.T) {
	d := dialect.CSV()
	src := []byte("ab\"cd,ef\"gh,ij\n")
	out := make(indexstore.Slab, 16)
	errs := vroomerr.NewCollector(vroomerr.FailFast)

	ScanWithErrors(src, 0, len(src), d, false, out, errs)

	if len(errs.Errors()) == 0 {
		t.Fatal("expected at least one error to trigger fail-fast")
	}
}

func TestScanIntoSkipsCommentLines(t *testing.T) {
	d := dialect.CSVWithComments('#')
	src := []byte("# a comment, with a comma\na,b\n# another\nc,d\n")

	out := make(indexstore.Slab, len(src)+8)
	r := ScanInto(src, 0, len(src), d, 0, out)
	if r.Count != 4 {
		t.Fatalf("Count = %d, want 4", r.Count)
	}
	wantOffset := int64(len("# a comment, with a comma\na"))
	if int64(out[0]) != wantOffset {
		t.Errorf("out[0] = %d, want %d (first emitted separator)", out[0], wantOffset)
	}
}

func TestScanScalarSkipsCommentLines(t *testing.T) {
	d := dialect.CSVWithComments('#')
	src := []byte("#comment\na,b\n")

	positions, r := ScanScalar(src, 0, len(src), d, false)
	if r.Count != 2 || len(positions) != 2 {
		t.Fatalf("Count = %d, positions = %v, want 2 positions", r.Count, positions)
	}
}

func TestScanWithErrorsSkipsCommentLines(t *testing.T) {
	d := dialect.CSVWithComments('#')
	src := []byte("#comment with a \"quote\" in it\na,b\n")

	out := make(indexstore.Slab, 16)
	errs := vroomerr.NewCollector(vroomerr.Permissive)
	r := ScanWithErrors(src, 0, len(src), d, false, out, errs)

	if r.Count != 2 {
		t.Fatalf("Count = %d, want 2", r.Count)
	}
	if len(errs.Errors()) != 0 {
		t.Errorf("expected no errors from a skipped comment line, got %v", errs.Errors())
	}
}

func TestLocateByteOffset(t *testing.T) {
	src := []byte("row1,a\nrow2,b\nrow3,c\n")
	loc := LocateByteOffset(src, 9, 5)
	if loc.Line != 2 {
		t.Errorf("Line = %d, want 2", loc.Line)
	}
	if loc.Snippet == "" {
		t.Error("expected a non-empty snippet")
	}
}
