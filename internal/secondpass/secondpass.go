// Package secondpass emits the ascending stream of field-separator byte
// offsets for one chunk of a CSV buffer: the delimiter or row-terminator
// byte ending each field outside a quoted region.
//
// Three entry points share one contract (spec.md §4.2): a SIMD/bitmask
// variant (ScanInto) for the hot path, a scalar state machine (ScanScalar)
// that serves as the reference oracle in this package's tests, and an
// error-reporting variant (ScanWithErrors) that drives the same state
// machine while detecting malformed input. The state machine is written
// as nested switch statements over (state, byte class); it is not
// table-driven and not branch-free.
package secondpass

import (
	"fmt"

	"github.com/csvquery/vroomdex/dialect"
	"github.com/csvquery/vroomdex/internal/bitmask"
	"github.com/csvquery/vroomdex/internal/indexstore"
	"github.com/csvquery/vroomdex/vroomerr"
)

// Result carries what the orchestrator needs to know from one chunk scan:
// how many separators were emitted and whether the chunk ended outside
// any quoted field (i.e. the speculative chunk boundary was correct).
type Result struct {
	Count            int
	AtRecordBoundary bool
	CarryOut         uint64 // quote parity (0 or 1) carried into the next chunk
}

// ScanInto scans src[start:end] in 64-byte blocks, writing every emitted
// separator position into out (which must be large enough; see
// internal/indexstore's allocators) and returns how many were written.
// carryIn is the quote parity (0 or 1) inherited from whatever precedes
// start in the same logical scan.
//
// When d.CommentChar is set, ScanInto defers to scanScalarInto instead:
// excising a variable-length comment range cleanly from a fixed-width
// bitmask block is not worth the complexity a rare dialect feature would
// add to the hot path, so comment-aware scans take the same scalar route
// as ScanWithErrors.
func ScanInto(src []byte, start, end int, d dialect.Dialect, carryIn uint64, out indexstore.Slab) Result {
	if d.CommentChar != 0 {
		return scanScalarInto(src, start, end, d, carryIn, out)
	}

	n := 0
	parity := carryIn

	for blockStart := start; blockStart < end; blockStart += 64 {
		blockEnd := blockStart + 64
		if blockEnd > end {
			blockEnd = blockStart + (end - blockStart)
		}
		width := blockEnd - blockStart

		var block [64]byte
		copy(block[:], src[blockStart:blockEnd])

		quoteBits := bitmask.Classify(block, d.QuoteChar)
		delimBits := bitmask.Classify(block, d.Delimiter)
		lfBits := bitmask.Classify(block, '\n')
		crBits := bitmask.Classify(block, '\r')

		nextByteIsLF := func(pos int) bool {
			abs := blockStart + pos + 1
			return abs < len(src) && src[abs] == '\n'
		}
		nlBits := bitmask.LineEndingMask(lfBits, crBits, nextByteIsLF)

		validLane := uint64(1)<<uint(width) - 1
		if width == 64 {
			validLane = ^uint64(0)
		}

		insideQuote, carryOut := bitmask.QuoteMask(quoteBits, parity)
		parity = carryOut

		fieldSep := (delimBits | nlBits) &^ insideQuote & validLane

		before := n
		posOut := bitmask.Compress(fieldSep, blockStart, nil)
		for _, p := range posOut {
			if n < len(out) {
				out[n] = p
			}
			n++
		}
		_ = before
	}

	return Result{Count: n, AtRecordBoundary: parity == 0, CarryOut: parity}
}

// state is the branchless scalar state machine's current field/record
// position.
type state int

const (
	recordStart state = iota
	fieldStart
	unquotedField
	quotedField
	quotedEnd
)

type class int

const (
	classOther class = iota
	classDelim
	classQuote
	classCR
	classLF
)

func classify(b byte, d dialect.Dialect) class {
	switch {
	case b == d.Delimiter:
		return classDelim
	case b == d.QuoteChar:
		return classQuote
	case b == '\r':
		return classCR
	case b == '\n':
		return classLF
	default:
		return classOther
	}
}

// ScanScalar is the reference oracle: a state-machine walk over
// src[start:end] producing the same ascending position stream as
// ScanInto for well-formed input. On malformed quoting the two differ: a
// quote inside an unquoted field is plain data here but toggles
// ScanInto's quote parity. startQuoted lets callers resume mid-quote
// across chunk boundaries. It returns the position stream directly
// (tests compare it byte-for-byte against ScanInto's output); ScanInto
// and ScanWithErrors write into a caller-owned slab instead of
// allocating.
func ScanScalar(src []byte, start, end int, d dialect.Dialect, startQuoted bool) ([]int64, Result) {
	st := recordStart
	if startQuoted {
		st = quotedField
	}

	n := 0
	var positions []int64

	i := start
	for i < end {
		if st == recordStart {
			if next, ok := d.CommentLineEnd(src, i, end); ok {
				i = next
				continue
			}
		}

		b := src[i]
		c := classify(b, d)

		switch st {
		case recordStart, fieldStart:
			switch c {
			case classQuote:
				st = quotedField
			case classDelim:
				positions = append(positions, int64(i))
				n++
				st = fieldStart
			case classCR, classLF:
				if c == classCR && i+1 < end && src[i+1] == '\n' {
					i++
				}
				positions = append(positions, int64(i))
				n++
				st = recordStart
			default:
				st = unquotedField
			}
		case unquotedField:
			switch c {
			case classDelim:
				positions = append(positions, int64(i))
				n++
				st = fieldStart
			case classCR, classLF:
				if c == classCR && i+1 < end && src[i+1] == '\n' {
					i++
				}
				positions = append(positions, int64(i))
				n++
				st = recordStart
			case classQuote:
				// quote inside unquoted field: treated as ordinary data
				// by this permissive variant (see ScanWithErrors for the
				// error-reporting one).
			}
		case quotedField:
			if c == classQuote {
				st = quotedEnd
			}
		case quotedEnd:
			switch c {
			case classQuote:
				st = quotedField // escaped ""
			case classDelim:
				positions = append(positions, int64(i))
				n++
				st = fieldStart
			case classCR, classLF:
				if c == classCR && i+1 < end && src[i+1] == '\n' {
					i++
				}
				positions = append(positions, int64(i))
				n++
				st = recordStart
			default:
				// invalid character after closing quote: permissively
				// treated as re-entering unquoted field data.
				st = unquotedField
			}
		}
		i++
	}

	return positions, Result{Count: n, AtRecordBoundary: st != quotedField, CarryOut: boolToParity(st == quotedField)}
}

func boolToParity(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// ScanWithErrors drives the same state machine as ScanScalar while
// detecting the malformed-input cases spec.md §4.2 names, reporting them
// to errs. Each reported error carries its byte Offset only; its Line,
// Column and Snippet fields are left zero, and LocateByteOffset computes
// them on demand from the offset. Until errs.ShouldStop reports true
// (fail-fast mode after the first error, or any fatal error), it emits
// the same position stream a permissive scan would, so downstream
// consumers see every well-formed separator even when some of the input
// is broken; once it reports true the scan ends early.
func ScanWithErrors(src []byte, start, end int, d dialect.Dialect, startQuoted bool, out indexstore.Slab, errs *vroomerr.Collector) Result {
	st := recordStart
	if startQuoted {
		st = quotedField
	}

	n := 0
	i := start
	for i < end {
		if errs.ShouldStop() {
			break
		}
		if st == recordStart {
			if next, ok := d.CommentLineEnd(src, i, end); ok {
				i = next
				continue
			}
		}
		b := src[i]
		c := classify(b, d)

		if b == 0 {
			errs.Add(vroomerr.ParseError{
				Code:     vroomerr.NullByte,
				Severity: vroomerr.Recoverable,
				Offset:   int64(i),
				Message:  "null byte in data",
			})
		}

		switch st {
		case recordStart, fieldStart:
			switch c {
			case classQuote:
				st = quotedField
			case classDelim:
				emit(out, &n, i)
				st = fieldStart
			case classCR, classLF:
				if c == classCR && i+1 < end && src[i+1] == '\n' {
					i++
				}
				emit(out, &n, i)
				st = recordStart
			default:
				st = unquotedField
			}
		case unquotedField:
			switch c {
			case classDelim:
				emit(out, &n, i)
				st = fieldStart
			case classCR, classLF:
				if c == classCR && i+1 < end && src[i+1] == '\n' {
					i++
				}
				emit(out, &n, i)
				st = recordStart
			case classQuote:
				errs.Add(vroomerr.ParseError{
					Code:     vroomerr.QuoteInUnquotedField,
					Severity: vroomerr.Recoverable,
					Offset:   int64(i),
					Message:  "quote character inside unquoted field",
				})
			}
		case quotedField:
			if c == classQuote {
				st = quotedEnd
			}
		case quotedEnd:
			switch c {
			case classQuote:
				st = quotedField
			case classDelim:
				emit(out, &n, i)
				st = fieldStart
			case classCR, classLF:
				if c == classCR && i+1 < end && src[i+1] == '\n' {
					i++
				}
				emit(out, &n, i)
				st = recordStart
			default:
				errs.Add(vroomerr.ParseError{
					Code:     vroomerr.InvalidQuoteEscape,
					Severity: vroomerr.Recoverable,
					Offset:   int64(i),
					Message:  "invalid character immediately after closing quote",
				})
				st = unquotedField
			}
		}
		i++
	}

	if st == quotedField {
		errs.Add(vroomerr.ParseError{
			Code:     vroomerr.UnclosedQuote,
			Severity: vroomerr.Fatal,
			Offset:   int64(end),
			Message:  "unclosed quote at end of buffer",
		})
	}

	return Result{Count: n, AtRecordBoundary: st != quotedField, CarryOut: boolToParity(st == quotedField)}
}

// scanScalarInto drives the same state machine as ScanScalar but writes
// positions directly into out instead of allocating, the way
// ScanWithErrors does. It is ScanInto's fallback whenever d.CommentChar
// is set.
func scanScalarInto(src []byte, start, end int, d dialect.Dialect, carryIn uint64, out indexstore.Slab) Result {
	st := recordStart
	if carryIn != 0 {
		st = quotedField
	}

	n := 0
	i := start
	for i < end {
		if st == recordStart {
			if next, ok := d.CommentLineEnd(src, i, end); ok {
				i = next
				continue
			}
		}
		b := src[i]
		c := classify(b, d)

		switch st {
		case recordStart, fieldStart:
			switch c {
			case classQuote:
				st = quotedField
			case classDelim:
				emit(out, &n, i)
				st = fieldStart
			case classCR, classLF:
				if c == classCR && i+1 < end && src[i+1] == '\n' {
					i++
				}
				emit(out, &n, i)
				st = recordStart
			default:
				st = unquotedField
			}
		case unquotedField:
			switch c {
			case classDelim:
				emit(out, &n, i)
				st = fieldStart
			case classCR, classLF:
				if c == classCR && i+1 < end && src[i+1] == '\n' {
					i++
				}
				emit(out, &n, i)
				st = recordStart
			case classQuote:
				// quote inside unquoted field: treated as ordinary data by
				// this permissive variant, matching ScanScalar.
			}
		case quotedField:
			if c == classQuote {
				st = quotedEnd
			}
		case quotedEnd:
			switch c {
			case classQuote:
				st = quotedField
			case classDelim:
				emit(out, &n, i)
				st = fieldStart
			case classCR, classLF:
				if c == classCR && i+1 < end && src[i+1] == '\n' {
					i++
				}
				emit(out, &n, i)
				st = recordStart
			default:
				st = unquotedField
			}
		}
		i++
	}

	return Result{Count: n, AtRecordBoundary: st != quotedField, CarryOut: boolToParity(st == quotedField)}
}

func emit(out indexstore.Slab, n *int, pos int) {
	if *n < len(out) {
		out[*n] = uint64(pos)
	}
	*n++
}

// Location describes a human-facing position derived lazily from a byte
// offset, for error reporting.
type Location struct {
	Line, Column int64
	Snippet      string
}

// LocateByteOffset computes line, column (both 1-based), and a bounded
// printable-safe snippet around offset within src. window is the number
// of bytes of context kept on each side (spec.md default: 20).
func LocateByteOffset(src []byte, offset int64, window int) Location {
	var line, col int64 = 1, 1
	for i := int64(0); i < offset && int(i) < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}

	lo := offset - int64(window)
	if lo < 0 {
		lo = 0
	}
	hi := offset + int64(window)
	if hi > int64(len(src)) {
		hi = int64(len(src))
	}

	buf := make([]byte, 0, hi-lo)
	for i := lo; i < hi; i++ {
		b := src[i]
		if b < 0x20 || b > 0x7e {
			b = '.'
		}
		buf = append(buf, b)
	}

	return Location{Line: line, Column: col, Snippet: fmt.Sprintf("%s", buf)}
}
