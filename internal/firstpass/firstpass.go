// Package firstpass implements the speculative first pass of the parallel
// indexer: a cheap per-chunk scan that counts quotes and separators and,
// when the chunk's quote parity is unambiguous from local context alone,
// speculates the byte offset of that chunk's first complete record without
// waiting on any other chunk.
//
// The ambiguity test is grounded on the widow/orphan + QO/OQ pattern
// scan from the simdcsv chunking reference: a chunk boundary is
// unambiguous when scanning forward from the first quote in the chunk
// never finds one immediately followed by something other than another
// quote, the delimiter, or a row terminator (and likewise scanning
// backward) — in that case the chunk's quote parity can only be even.
package firstpass

import (
	"github.com/csvquery/vroomdex/dialect"
	"github.com/csvquery/vroomdex/internal/bitmask"
)

// Counts holds the speculative first-pass tallies for one chunk.
type Counts struct {
	NQuotes       int64
	NSeparators   int64
	FirstEvenNL   int64 // offset, relative to the chunk, of the first row terminator reached with even quote parity so far; -1 if none
	FirstOddNL    int64 // same, for odd parity; -1 if none
}

// Count scans src[start:end] and returns the raw tallies needed by the
// orchestrator to reconcile chunk boundaries in the conservative
// (non-speculative) two-pass path. A comment line (d.CommentChar set, and
// reached at an even-parity record start) contributes nothing: its bytes
// are skipped whole, so it cannot supply a separator or a latched
// FirstEvenNL/FirstOddNL boundary.
func Count(src []byte, start, end int, d dialect.Dialect) Counts {
	c := Counts{FirstEvenNL: -1, FirstOddNL: -1}
	parityOdd := false
	atRecordStart := true

	for i := start; i < end; i++ {
		if atRecordStart && !parityOdd {
			if next, ok := d.CommentLineEnd(src, i, end); ok {
				i = next - 1 // the loop's i++ lands exactly at next
				continue
			}
		}
		atRecordStart = false

		b := src[i]
		switch {
		case b == d.QuoteChar:
			c.NQuotes++
			parityOdd = !parityOdd
		case b == d.Delimiter && !parityOdd:
			c.NSeparators++
		case d.IsRowTerminator(b, peek(src, i+1), i+1 < len(src)) && !parityOdd:
			c.NSeparators++
			if c.FirstEvenNL == -1 {
				c.FirstEvenNL = int64(i - start)
			}
			atRecordStart = true
		case d.IsRowTerminator(b, peek(src, i+1), i+1 < len(src)) && parityOdd:
			if c.FirstOddNL == -1 {
				c.FirstOddNL = int64(i - start)
			}
		}
	}
	return c
}

func peek(src []byte, i int) byte {
	if i >= len(src) {
		return 0
	}
	return src[i]
}

// Speculate scans forward from start looking for the first row terminator
// that, under the assumption that position start begins outside any quoted
// field (assumeQuoted false) or inside one (assumeQuoted true), is reached
// with even quote parity — i.e. is a genuine record boundary rather than an
// embedded newline. It returns the absolute byte offset of that terminator
// and true, or false if the chunk never resolves to an unambiguous boundary
// (the orchestrator must then fall back to the conservative path for this
// chunk).
//
// Unlike Count, Speculate stops at the first row terminator it reaches
// with even parity. Any quote seen before it in a place no field could
// open or close — an opening quote not preceded by the delimiter, a row
// terminator, or the chunk start, or a closing quote followed by something
// other than another quote, the delimiter, or a row terminator — marks the
// chunk ambiguous, and Speculate then reports no boundary, mirroring the
// QO/OQ heuristic: most real CSV does not contain raw, un-escaped quote
// characters embedded in unquoted text, so the vast majority of chunks
// resolve at their first line end.
func Speculate(src []byte, start, end int, d dialect.Dialect, assumeQuoted bool) (pos int64, found bool) {
	parityOdd := assumeQuoted
	ambiguous := false

	for i := start; i < end; i++ {
		b := src[i]
		if b == d.QuoteChar {
			if !parityOdd {
				// Opening a quoted field: legitimate only at the start of a
				// field, i.e. right after a delimiter/terminator, or at the
				// very start of the chunk.
				prevOK := i == start
				if !prevOK {
					p := src[i-1]
					prevOK = p == d.Delimiter || d.IsRowTerminator(p, b, true)
				}
				if !prevOK {
					ambiguous = true
				}
			} else {
				// Closing a quoted field: must be followed by a delimiter,
				// a terminator, another quote (escape), or EOF.
				hasNext := i+1 < len(src)
				next := peek(src, i+1)
				nextOK := !hasNext || next == d.Delimiter || next == d.QuoteChar ||
					d.IsRowTerminator(next, peek(src, i+2), i+2 < len(src))
				if !nextOK {
					ambiguous = true
				}
			}
			parityOdd = !parityOdd
			continue
		}
		if !parityOdd && d.IsRowTerminator(b, peek(src, i+1), i+1 < len(src)) {
			if ambiguous {
				return 0, false
			}
			return int64(i), true
		}
	}
	return 0, false
}

// QuoteMaskWord classifies one 64-byte block's quote bytes into a bitmask,
// exposed for callers that want to reconcile Speculate's scalar result
// against the SIMD second-pass quote mask for the same block. The
// orchestrator in this module does not call it.
func QuoteMaskWord(block [64]byte, d dialect.Dialect) uint64 {
	return bitmask.Classify(block, d.QuoteChar)
}
