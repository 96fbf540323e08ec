package extractor_test

import (
	"strconv"
	"strings"
	"testing"

	vroomdex "github.com/csvquery/vroomdex"
	"github.com/csvquery/vroomdex/dialect"
	"github.com/csvquery/vroomdex/extractor"
	"github.com/csvquery/vroomdex/internal/bytesource"
)

func buildExtractor(t *testing.T, text string, d dialect.Dialect, cfg extractor.Config) (*extractor.Extractor, []byte) {
	t.Helper()
	src, err := bytesource.FromReader(strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}
	p := vroomdex.NewParser(1)
	result, err := p.Parse(src, vroomdex.ParseOptions{Dialect: d, Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Successful {
		t.Fatal("parse did not succeed")
	}
	buf := src.Bytes()
	e, err := extractor.New(buf, result.Store, d, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return e, buf
}

// Scenario A — basic.
func TestScenarioABasic(t *testing.T) {
	e, _ := buildExtractor(t, "a,b,c\n1,2,3\n4,5,6\n", dialect.CSV(), extractor.Config{HasHeader: true})

	if e.NumRows() != 2 {
		t.Fatalf("NumRows = %d, want 2", e.NumRows())
	}
	if got := string(e.StringView(0, 0)); got != "1" {
		t.Errorf("StringView(0,0) = %q, want %q", got, "1")
	}
	res := extractor.Get[int64](e, 1, 2)
	if !res.Ok() || res.Value != 6 {
		t.Errorf("Get[int64](1,2) = %+v, want 6", res)
	}
}

// Scenario B — embedded delimiters and newlines.
func TestScenarioBEmbedded(t *testing.T) {
	e, _ := buildExtractor(t, "k,v\n\"hello, world\",1\n\"line\nbreak\",2\n", dialect.CSV(), extractor.Config{HasHeader: true})

	if got := e.String(0, 0); got != "hello, world" {
		t.Errorf("String(0,0) = %q, want %q", got, "hello, world")
	}
	if got := e.String(1, 0); got != "line\nbreak" {
		t.Errorf("String(1,0) = %q, want %q", got, "line\nbreak")
	}
}

// Scenario C — escaped quotes.
func TestScenarioCEscapedQuotes(t *testing.T) {
	e, _ := buildExtractor(t, "q\n\"he said \"\"hi\"\"\"\n\"\"\"\"\n", dialect.CSV(), extractor.Config{HasHeader: true})

	if got := e.String(0, 0); got != `he said "hi"` {
		t.Errorf("String(0,0) = %q, want %q", got, `he said "hi"`)
	}
	if got := e.String(1, 0); got != `"` {
		t.Errorf("String(1,0) = %q, want %q", got, `"`)
	}
}

// Scenario D — CRLF + bare CR.
func TestScenarioDCRLF(t *testing.T) {
	e, _ := buildExtractor(t, "a,b\r\n1,2\r\n3,4\r\n", dialect.CSV(), extractor.Config{HasHeader: true})

	if e.NumRows() != 2 {
		t.Fatalf("NumRows = %d, want 2", e.NumRows())
	}
	if got := e.String(0, 1); got != "2" {
		t.Errorf("String(0,1) = %q, want %q (trailing CR must be stripped)", got, "2")
	}
}

// Scenario H — comment lines.
func TestScenarioHCommentLines(t *testing.T) {
	text := "# a comment\nh1,h2\n# middle comment\n1,2\n"
	d := dialect.CSVWithComments('#')
	e, _ := buildExtractor(t, text, d, extractor.Config{HasHeader: true, CommentChar: '#'})

	header := e.Header()
	if len(header) != 2 || header[0] != "h1" || header[1] != "h2" {
		t.Fatalf("Header() = %v, want [h1 h2]", header)
	}
	if e.NumRows() != 1 {
		t.Fatalf("NumRows = %d, want 1", e.NumRows())
	}
	res := extractor.Get[int64](e, 0, 0)
	if !res.Ok() || res.Value != 1 {
		t.Errorf("Get[int64](0,0) = %+v, want 1", res)
	}
}

func TestColumnIndexAndColumnOr(t *testing.T) {
	e, _ := buildExtractor(t, "name,age\nalice,30\nbob,\ncarol,41\n", dialect.CSV(), extractor.Config{HasHeader: true})

	idx, ok := e.ColumnIndex("Age")
	if !ok || idx != 1 {
		t.Fatalf("ColumnIndex(Age) = (%d, %v), want (1, true)", idx, ok)
	}
	ages := extractor.ColumnOr[int64](e, idx, -1)
	want := []int64{30, -1, 41}
	for i, w := range want {
		if ages[i] != w {
			t.Errorf("ages[%d] = %d, want %d", i, ages[i], w)
		}
	}
}

func TestGetFloatSpecialValues(t *testing.T) {
	e, _ := buildExtractor(t, "v\ninf\n-inf\nnan\n3.5\n", dialect.CSV(), extractor.Config{HasHeader: true})

	cases := []struct {
		row  int
		want string
	}{{0, "+Inf"}, {1, "-Inf"}}
	for _, c := range cases {
		res := extractor.Get[float64](e, c.row, 0)
		if !res.Ok() {
			t.Fatalf("row %d: Get[float64] failed: %v", c.row, res.Err)
		}
		if got := strconv.FormatFloat(res.Value, 'g', -1, 64); got != c.want {
			t.Errorf("row %d: Get[float64] = %s, want %s", c.row, got, c.want)
		}
	}
	nanRes := extractor.Get[float64](e, 2, 0)
	if !nanRes.Ok() || nanRes.Value == nanRes.Value {
		t.Errorf("row 2: expected NaN, got %v ok=%v", nanRes.Value, nanRes.Ok())
	}
	threeHalf := extractor.Get[float64](e, 3, 0)
	if !threeHalf.Ok() || threeHalf.Value != 3.5 {
		t.Errorf("row 3 = %+v, want 3.5", threeHalf)
	}
}

func TestGetBoolAndNA(t *testing.T) {
	e, _ := buildExtractor(t, "flag\nTRUE\nfalse\n\nNA\n", dialect.CSV(), extractor.Config{HasHeader: true})

	if r := extractor.Get[bool](e, 0, 0); !r.Ok() || r.Value != true {
		t.Errorf("row 0 = %+v, want true", r)
	}
	if r := extractor.Get[bool](e, 1, 0); !r.Ok() || r.Value != false {
		t.Errorf("row 1 = %+v, want false", r)
	}
	if r := extractor.Get[bool](e, 2, 0); !r.NA {
		t.Errorf("row 2 = %+v, want NA (empty field)", r)
	}
	if r := extractor.Get[bool](e, 3, 0); !r.NA {
		t.Errorf("row 3 = %+v, want NA (NA literal)", r)
	}
}

func TestBoundedIntRejectsLeadingZeroAndOverflow(t *testing.T) {
	e, _ := buildExtractor(t, "v\n007\n99999\n", dialect.CSV(), extractor.Config{HasHeader: true, MaxIntegerDigits: 3})

	if r := extractor.Get[int64](e, 0, 0); r.Err == nil {
		t.Error("expected a leading-zero rejection")
	}
	if r := extractor.Get[int64](e, 1, 0); r.Err == nil {
		t.Error("expected a digit-cap rejection")
	}
}

func TestRowsFilterSkipAndNMax(t *testing.T) {
	e, _ := buildExtractor(t, "v\n1\n2\n3\n4\n5\n", dialect.CSV(), extractor.Config{HasHeader: true})

	it := e.Rows(extractor.RowFilter{Skip: 1, NMax: 2})
	var got []int
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, row)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Rows(Skip=1,NMax=2) = %v, want [1 2]", got)
	}
}

func TestRowsFilterSkipEmptyRows(t *testing.T) {
	e, _ := buildExtractor(t, "v\n1\n\n3\n", dialect.CSV(), extractor.Config{HasHeader: true, TrimWhitespace: true})

	it := e.Rows(extractor.RowFilter{SkipEmptyRows: true})
	var got []int
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, row)
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("Rows(SkipEmptyRows) = %v, want [0 2]", got)
	}
}

func TestColumnConfigSkip(t *testing.T) {
	cfg := extractor.Config{
		HasHeader: true,
		ColumnConfigs: map[string]extractor.ColumnConfig{
			"b": {Type: extractor.SKIP},
		},
	}
	e, _ := buildExtractor(t, "a,b\n1,2\n", dialect.CSV(), cfg)

	idx, _ := e.ColumnIndex("b")
	res := extractor.Get[int64](e, 0, idx)
	if !res.NA {
		t.Errorf("SKIP column should report NA, got %+v", res)
	}
}

func TestByteOffsetToLocation(t *testing.T) {
	e, buf := buildExtractor(t, "a,b,c\n1,2,3\n4,5,6\n", dialect.CSV(), extractor.Config{HasHeader: true})

	offset := int64(strings.Index(string(buf), "5"))
	row, col, found := e.ByteOffsetToLocation(offset)
	if !found {
		t.Fatal("expected ByteOffsetToLocation to find a location")
	}
	if row != 1 || col != 1 {
		t.Errorf("ByteOffsetToLocation(%d) = (%d,%d), want (1,1)", offset, row, col)
	}
}
