// Package extractor reads typed field values out of a buffer indexed by
// internal/indexstore, without re-scanning the buffer: every access is an
// O(1) (after compaction) span lookup followed by a bounded parse of that
// span alone.
package extractor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/csvquery/vroomdex/dialect"
	"github.com/csvquery/vroomdex/internal/compact"
	"github.com/csvquery/vroomdex/internal/indexstore"
	"github.com/csvquery/vroomdex/internal/secondpass"
)

// Span is a half-open byte range [Start, End) into the source buffer,
// covering one field including its surrounding quotes if any.
type Span struct {
	Start, End int64
}

// Extractor answers row/column value queries against a buffer and its
// Index Store. It is read-only: nothing it does mutates st or buf.
type Extractor struct {
	buf []byte
	st  *indexstore.Store
	d   dialect.Dialect
	cfg Config

	header      []string
	headerIndex map[string]int
	colConfigs  map[int]ColumnConfig

	columns        int
	headerOffset   int
	numRows        int64
	chunkFlatStart []int64 // cumulative entry count before chunk t, parallel to st.ChunkStarts
}

// New builds an Extractor over src's bytes and st, which must already be
// flattened (New flattens it in place if not, since every lookup below
// assumes FlatIndexes is populated).
func New(buf []byte, st *indexstore.Store, d dialect.Dialect, cfg Config) (*Extractor, error) {
	if st.FlatIndexes == nil {
		if err := compact.Flatten(st); err != nil {
			return nil, fmt.Errorf("extractor: %w", err)
		}
	}
	if st.Columns < 1 {
		return nil, fmt.Errorf("extractor: store has no columns (Columns=%d)", st.Columns)
	}

	e := &Extractor{
		buf:     buf,
		st:      st,
		d:       d,
		cfg:     cfg,
		columns: st.Columns,
	}
	if cfg.HasHeader {
		e.headerOffset = 1
	}

	total := st.TotalSeparators()
	e.numRows = total/int64(e.columns) - int64(e.headerOffset)
	if e.numRows < 0 {
		e.numRows = 0
	}

	e.chunkFlatStart = make([]int64, len(st.NIndexes))
	var cursor int64
	for i, n := range st.NIndexes {
		e.chunkFlatStart[i] = cursor
		cursor += n
	}

	if cfg.HasHeader {
		e.header = make([]string, e.columns)
		e.headerIndex = make(map[string]int, e.columns)
		for c := 0; c < e.columns; c++ {
			name := e.String(-1, c)
			e.header[c] = name
			e.headerIndex[strings.ToLower(name)] = c
		}
	}

	if len(cfg.ColumnConfigs) > 0 {
		e.colConfigs = make(map[int]ColumnConfig, len(cfg.ColumnConfigs))
		for name, cc := range cfg.ColumnConfigs {
			if idx, ok := e.ColumnIndex(name); ok {
				e.colConfigs[idx] = cc
			}
		}
	}

	return e, nil
}

// Header returns the decoded header names. Empty if the Config has no
// header row.
func (e *Extractor) Header() []string { return e.header }

// ColumnIndex resolves a header name (case-insensitive) to its column
// index.
func (e *Extractor) ColumnIndex(name string) (int, bool) {
	idx, ok := e.headerIndex[strings.ToLower(name)]
	return idx, ok
}

// NumRows returns the number of data rows (excluding the header, if any).
func (e *Extractor) NumRows() int64 { return e.numRows }

func (e *Extractor) flatIndex(row, col int) int64 {
	return int64(row+e.headerOffset)*int64(e.columns) + int64(col)
}

// FieldSpan returns the byte range of field (row, col), including any
// surrounding quotes. row -1 addresses the header row. Out-of-range
// coordinates return a zero-length span at offset 0 rather than panicking.
func (e *Extractor) FieldSpan(row, col int) Span {
	if col < 0 || col >= e.columns || row < -e.headerOffset {
		return Span{}
	}
	k := e.flatIndex(row, col)
	flat := e.st.FlatIndexes[:e.st.FlatCount]
	if k < 0 || k >= int64(len(flat)) {
		return Span{}
	}
	var start int64
	if k > 0 {
		start = flat[k-1] + 1
	}
	end := flat[k]

	if col == 0 && e.cfg.CommentChar != 0 {
		start = e.skipCommentLines(start, end)
	}

	return Span{Start: start, End: end}
}

// skipCommentLines advances start past any complete lines in [start, end)
// whose first non-whitespace byte is the configured comment character.
// Comment lines are never indexed (they contribute no separators), so the
// gap between the previous terminator and this field's real start may
// contain one or more of them; this mirrors the skip performed during
// indexing (internal/firstpass, internal/secondpass), intentionally
// duplicated here per spec.md §4.8.
func (e *Extractor) skipCommentLines(start, end int64) int64 {
	pos := start
	for pos < end {
		nl := indexByteFrom(e.buf, pos, '\n')
		if nl < 0 {
			break
		}
		lineEnd := nl
		p := pos
		for p < lineEnd && isASCIISpace(e.buf[p]) {
			p++
		}
		if p < lineEnd && e.buf[p] == e.cfg.CommentChar {
			pos = lineEnd + 1
			continue
		}
		break
	}
	return pos
}

func indexByteFrom(buf []byte, from int64, b byte) int64 {
	for i := from; i < int64(len(buf)); i++ {
		if buf[i] == b {
			return i
		}
	}
	return -1
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n' || b == '\v' || b == '\f'
}

// StringView returns the raw bytes of (row, col): trailing '\r' stripped,
// outer quotes stripped if both ends carry the dialect's quote character.
// Never returns a nil slice, even for an empty or out-of-range span.
func (e *Extractor) StringView(row, col int) []byte {
	raw, _ := e.rawField(row, col)
	return raw
}

// rawField returns the stripped bytes of (row, col) and whether the raw
// span was quoted (so String's unescape step knows whether to run).
func (e *Extractor) rawField(row, col int) (raw []byte, wasQuoted bool) {
	span := e.FieldSpan(row, col)
	if span.End <= span.Start {
		return e.buf[0:0], false
	}
	raw = e.buf[span.Start:span.End]
	if len(raw) > 0 && raw[len(raw)-1] == '\r' {
		raw = raw[:len(raw)-1]
	}
	if len(raw) >= 2 && raw[0] == e.d.QuoteChar && raw[len(raw)-1] == e.d.QuoteChar {
		return raw[1 : len(raw)-1], true
	}
	return raw, false
}

// String returns (row, col) as a decoded string, with escaped quote pairs
// collapsed: "" collapses to " when DoubleQuote is set, or the dialect's
// EscapeChar+QuoteChar pair collapses to QuoteChar when EscapeChar differs
// from QuoteChar.
func (e *Extractor) String(row, col int) string {
	raw, quoted := e.rawField(row, col)
	if !quoted {
		return string(raw)
	}
	return unescapeQuoted(raw, e.d)
}

func unescapeQuoted(raw []byte, d dialect.Dialect) string {
	if len(raw) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == d.EscapeChar && (d.EscapeChar != d.QuoteChar || d.DoubleQuote) && i+1 < len(raw) && raw[i+1] == d.QuoteChar {
			b.WriteByte(d.QuoteChar)
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// trimmedField returns the NA-check/parse input for (row, col): the
// decoded string, optionally trimmed per Config.TrimWhitespace.
func (e *Extractor) trimmedField(row, col int) string {
	s := e.String(row, col)
	if e.cfg.TrimWhitespace {
		s = strings.TrimSpace(s)
	}
	return s
}

func (e *Extractor) naValuesFor(col int) []string {
	if cc, ok := e.colConfigs[col]; ok && cc.NAValues != nil {
		return cc.NAValues
	}
	return e.cfg.naValues()
}

func (e *Extractor) isNA(s string, col int) bool {
	for _, na := range e.naValuesFor(col) {
		if s == na {
			return true
		}
	}
	return false
}

// fieldForParse returns the trimmed field text and whether it is NA
// (empty, or a member of the column's NA set).
func (e *Extractor) fieldForParse(row, col int) (s string, na bool) {
	s = e.trimmedField(row, col)
	return s, s == "" || e.isNA(s, col)
}

// ByteOffsetToLocation maps a byte offset back to (row, col) for error
// reporting. It narrows to the containing chunk with a binary search over
// st.ChunkStarts (a sparse-index-then-scan shape, as used for locating
// candidate blocks in a sorted index), then scans linearly within that
// chunk's slice of FlatIndexes.
func (e *Extractor) ByteOffsetToLocation(offset int64) (row, col int, found bool) {
	flat := e.st.FlatIndexes[:e.st.FlatCount]
	if len(flat) == 0 {
		return 0, 0, false
	}

	t := sort.Search(len(e.st.ChunkStarts), func(i int) bool { return e.st.ChunkStarts[i] > offset })
	t--
	if t < 0 {
		t = 0
	}
	lo := e.chunkFlatStart[t]
	hi := int64(len(flat))
	if t+1 < len(e.chunkFlatStart) {
		hi = e.chunkFlatStart[t+1]
	}

	k := int64(-1)
	for i := lo; i < hi; i++ {
		if flat[i] >= offset {
			k = i
			break
		}
	}
	if k == -1 {
		// offset falls after this chunk's last separator; the first
		// position of the next non-empty chunk is the answer.
		for i := hi; i < int64(len(flat)); i++ {
			k = i
			break
		}
	}
	if k == -1 {
		return 0, 0, false
	}

	rowIdx := int(k)/e.columns - e.headerOffset
	colIdx := int(k) % e.columns
	if rowIdx < 0 {
		return 0, 0, false
	}
	return rowIdx, colIdx, true
}

// LocateByteOffsetDetailed delegates to internal/secondpass.LocateByteOffset
// for the human-readable line/column/snippet form of offset, distinct from
// ByteOffsetToLocation's row/col grid coordinates.
func (e *Extractor) LocateByteOffsetDetailed(offset int64, window int) secondpass.Location {
	return secondpass.LocateByteOffset(e.buf, offset, window)
}
