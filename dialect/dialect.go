// Package dialect describes the small, value-typed CSV dialect consumed by
// every stage of the indexing pipeline.
package dialect

import "fmt"

// LineEnding is an informational flag set by detection code; the core
// itself never branches on it.
type LineEnding int

const (
	Unknown LineEnding = iota
	LF
	CRLF
	CR
	Mixed
)

// Dialect configures how a CSV-like buffer is tokenized.
type Dialect struct {
	Delimiter   byte
	QuoteChar   byte
	EscapeChar  byte
	DoubleQuote bool
	// CommentChar, if non-zero, marks lines whose first non-leading-
	// whitespace byte matches it as comments: skipped, uncounted, unindexed.
	CommentChar byte
	LineEnding  LineEnding
}

// CSV returns the standard comma-delimited, double-quoted dialect.
func CSV() Dialect {
	return Dialect{Delimiter: ',', QuoteChar: '"', EscapeChar: '"', DoubleQuote: true}
}

// TSV returns a tab-delimited dialect.
func TSV() Dialect {
	return Dialect{Delimiter: '\t', QuoteChar: '"', EscapeChar: '"', DoubleQuote: true}
}

// Semicolon returns a semicolon-delimited dialect (European CSV).
func Semicolon() Dialect {
	return Dialect{Delimiter: ';', QuoteChar: '"', EscapeChar: '"', DoubleQuote: true}
}

// Pipe returns a pipe-delimited dialect.
func Pipe() Dialect {
	return Dialect{Delimiter: '|', QuoteChar: '"', EscapeChar: '"', DoubleQuote: true}
}

// CSVWithComments returns the standard CSV dialect with comment-line
// skipping enabled for the given comment character.
func CSVWithComments(comment byte) Dialect {
	d := CSV()
	d.CommentChar = comment
	return d
}

// IsValid reports whether the dialect satisfies the core's invariants
// without allocating an error.
func (d Dialect) IsValid() bool {
	if d.Delimiter == d.QuoteChar {
		return false
	}
	if d.Delimiter == '\n' || d.Delimiter == '\r' {
		return false
	}
	if d.QuoteChar == '\n' || d.QuoteChar == '\r' {
		return false
	}
	if d.Delimiter != '\t' && (d.Delimiter < 32 || d.Delimiter > 126) {
		return false
	}
	if d.QuoteChar < 32 || d.QuoteChar > 126 {
		return false
	}
	return true
}

// Validate is the throwing counterpart of IsValid, returning a descriptive
// error for the first invariant violated.
func (d Dialect) Validate() error {
	if d.Delimiter == d.QuoteChar {
		return fmt.Errorf("dialect: delimiter and quote character cannot be the same (%q)", d.Delimiter)
	}
	if d.Delimiter == '\n' || d.Delimiter == '\r' {
		return fmt.Errorf("dialect: delimiter cannot be a newline character")
	}
	if d.QuoteChar == '\n' || d.QuoteChar == '\r' {
		return fmt.Errorf("dialect: quote character cannot be a newline character")
	}
	if d.Delimiter != '\t' && (d.Delimiter < 32 || d.Delimiter > 126) {
		return fmt.Errorf("dialect: delimiter must be printable ASCII or tab")
	}
	if d.QuoteChar < 32 || d.QuoteChar > 126 {
		return fmt.Errorf("dialect: quote character must be printable ASCII")
	}
	return nil
}

// IsRowTerminator reports whether b, given the following byte (0 if none
// follows), ends a record. CRLF's CR is not itself a terminator; its LF is.
func (d Dialect) IsRowTerminator(b, next byte, hasNext bool) bool {
	if b == '\n' {
		return true
	}
	if b == '\r' {
		return !(hasNext && next == '\n')
	}
	return false
}

// CommentLineEnd reports whether the line starting at src[i] is a comment
// line — its first non-space/tab byte within [i,end) is CommentChar — and,
// if so, returns the position just past its terminating row terminator (or
// end, if the line runs off the end of src with no terminator). Comment
// lines contribute no separators and are never classified as field data;
// every indexing stage skips them at a record boundary using this check.
// A zero CommentChar disables the feature entirely.
func (d Dialect) CommentLineEnd(src []byte, i, end int) (next int, isComment bool) {
	if d.CommentChar == 0 {
		return i, false
	}
	p := i
	for p < end && (src[p] == ' ' || src[p] == '\t') {
		p++
	}
	if p >= end || src[p] != d.CommentChar {
		return i, false
	}
	for p < end {
		b := src[p]
		hasNext := p+1 < len(src)
		var nx byte
		if hasNext {
			nx = src[p+1]
		}
		if d.IsRowTerminator(b, nx, hasNext) {
			if b == '\r' && hasNext && nx == '\n' {
				p++
			}
			return p + 1, true
		}
		p++
	}
	return end, true
}
