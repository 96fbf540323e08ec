// Package vroomerr defines the error taxonomy, severities, and the
// per-worker/merged ErrorCollector used across the indexer pipeline.
package vroomerr

import (
	"fmt"
	"sort"
	"sync"
)

// Code identifies the kind of parse error encountered.
type Code int

const (
	None Code = iota
	UnclosedQuote
	InvalidQuoteEscape
	QuoteInUnquotedField
	InconsistentFieldCount
	FieldTooLarge
	MixedLineEndings
	InvalidUTF8
	NullByte
	EmptyHeader
	DuplicateColumnNames
	AmbiguousSeparator
	FileTooLarge
	IndexAllocationOverflow
	IOError
	InternalError
)

var codeNames = [...]string{
	"NONE",
	"UNCLOSED_QUOTE",
	"INVALID_QUOTE_ESCAPE",
	"QUOTE_IN_UNQUOTED_FIELD",
	"INCONSISTENT_FIELD_COUNT",
	"FIELD_TOO_LARGE",
	"MIXED_LINE_ENDINGS",
	"INVALID_UTF8",
	"NULL_BYTE",
	"EMPTY_HEADER",
	"DUPLICATE_COLUMN_NAMES",
	"AMBIGUOUS_SEPARATOR",
	"FILE_TOO_LARGE",
	"INDEX_ALLOCATION_OVERFLOW",
	"IO_ERROR",
	"INTERNAL_ERROR",
}

// String returns the canonical name of the error code, e.g. "UNCLOSED_QUOTE".
func (c Code) String() string {
	if int(c) < 0 || int(c) >= len(codeNames) {
		return "UNKNOWN"
	}
	return codeNames[c]
}

// Severity classifies how serious a ParseError is.
type Severity int

const (
	Warning Severity = iota
	Recoverable
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "WARNING"
	case Recoverable:
		return "RECOVERABLE"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Mode controls how the pipeline reacts to recoverable errors.
type Mode int

const (
	// FailFast stops at the first error of any severity.
	FailFast Mode = iota
	// Permissive continues past recoverable errors, stops on fatal ones.
	Permissive
	// BestEffort suppresses all non-fatal errors.
	BestEffort
)

// ParseError is a single reported defect, with enough context to render a
// useful message without re-scanning the whole buffer.
type ParseError struct {
	Code     Code
	Severity Severity
	Line     int64
	Column   int64
	Offset   int64
	Snippet  string
	Message  string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s (%s) at line %d col %d offset %d: %s", e.Code, e.Severity, e.Line, e.Column, e.Offset, e.Message)
}

// NewError builds a standalone fatal ParseError with no location context,
// for call sites (allocation, cache I/O) that fail before any byte offset
// is meaningful.
func NewError(code Code, message string) error {
	return ParseError{Code: code, Severity: Fatal, Message: message}
}

// DefaultMaxErrors is the default cap on the number of errors retained by a
// Collector before further errors are counted as suppressed.
const DefaultMaxErrors = 10_000

// Collector gathers ParseErrors, enforcing a configurable maximum while
// still tracking whether a fatal error occurred even after truncation.
type Collector struct {
	mu         sync.Mutex
	mode       Mode
	maxErrors  int
	errors     []ParseError
	suppressed int64
	hasFatal   bool
}

// NewCollector creates a Collector for the given mode with the default
// maximum error count.
func NewCollector(mode Mode) *Collector {
	return NewCollectorWithLimit(mode, DefaultMaxErrors)
}

// NewCollectorWithLimit creates a Collector with an explicit error cap.
func NewCollectorWithLimit(mode Mode, maxErrors int) *Collector {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Collector{mode: mode, maxErrors: maxErrors}
}

// Add records an error. A fatal error always sets the has-fatal flag, even
// if the error list itself is already full, so ShouldStop remains correct
// after truncation.
func (c *Collector) Add(e ParseError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Severity == Fatal {
		c.hasFatal = true
	}
	if c.mode == BestEffort && e.Severity != Fatal {
		return
	}
	if len(c.errors) >= c.maxErrors {
		c.suppressed++
		return
	}
	c.errors = append(c.errors, e)
}

// ShouldStop reports whether the collector's mode/state demands the
// in-progress worker halt immediately.
func (c *Collector) ShouldStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasFatal {
		return true
	}
	if c.mode == FailFast && len(c.errors) > 0 {
		return true
	}
	return false
}

// HasFatal reports whether a fatal error was ever recorded.
func (c *Collector) HasFatal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasFatal
}

// Errors returns a copy of the retained errors.
func (c *Collector) Errors() []ParseError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ParseError, len(c.errors))
	copy(out, c.errors)
	return out
}

// SortByOffset orders the retained errors by byte offset in place. The
// orchestrator calls this after merging per-worker collectors, whose
// errors otherwise arrive grouped by worker rather than file position.
func (c *Collector) SortByOffset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.Slice(c.errors, func(i, j int) bool { return c.errors[i].Offset < c.errors[j].Offset })
}

// Suppressed returns the number of errors dropped once the cap was reached.
func (c *Collector) Suppressed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressed
}

// Mode returns the collector's configured error mode.
func (c *Collector) Mode() Mode {
	return c.mode
}

// Merge appends another collector's retained errors and suppressed count
// into this one. Used by the orchestrator to combine per-worker collectors.
func (c *Collector) Merge(other *Collector) {
	if other == nil {
		return
	}
	other.mu.Lock()
	errs := make([]ParseError, len(other.errors))
	copy(errs, other.errors)
	suppressed := other.suppressed
	fatal := other.hasFatal
	other.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasFatal = c.hasFatal || fatal
	c.suppressed += suppressed
	for _, e := range errs {
		if len(c.errors) >= c.maxErrors {
			c.suppressed++
			continue
		}
		c.errors = append(c.errors, e)
	}
}
