package extractor

import "fmt"

// Result is the outcome of a typed field access: NA means the field fell
// in the NA set (or was empty), Err means the field was present but did
// not parse as T, and otherwise Value holds the parsed result.
type Result[T any] struct {
	Value T
	NA    bool
	Err   error
}

// Ok reports whether Value holds a usable, non-NA, error-free result.
func (r Result[T]) Ok() bool { return !r.NA && r.Err == nil }

// Scalar enumerates the concrete types Get and Column may be instantiated
// with, matching spec.md §4.7's {i16, i32, i64, u16, u32, u64, f64, bool,
// string} set.
type Scalar interface {
	~int16 | ~int32 | ~int64 | ~uint16 | ~uint32 | ~uint64 | ~float64 | ~bool | ~string
}

// Get parses (row, col) as T. Go methods cannot carry their own type
// parameters, so this is a package-level function taking the Extractor
// explicitly rather than e.Get[T](row, col).
func Get[T Scalar](e *Extractor, row, col int) Result[T] {
	if cc, ok := e.colConfigs[col]; ok && cc.Type == SKIP {
		return Result[T]{NA: true}
	}

	s, na := e.fieldForParse(row, col)
	if na {
		return Result[T]{NA: true}
	}

	maxDigits := e.cfg.maxIntegerDigits()

	var out any
	var err error
	switch any(*new(T)).(type) {
	case int16:
		var v int64
		v, err = parseBoundedInt(s, 16, maxDigits)
		out = int16(v)
	case int32:
		var v int64
		v, err = parseBoundedInt(s, 32, maxDigits)
		out = int32(v)
	case int64:
		out, err = parseBoundedInt(s, 64, maxDigits)
	case uint16:
		var v uint64
		v, err = parseBoundedUint(s, 16, maxDigits)
		out = uint16(v)
	case uint32:
		var v uint64
		v, err = parseBoundedUint(s, 32, maxDigits)
		out = uint32(v)
	case uint64:
		out, err = parseBoundedUint(s, 64, maxDigits)
	case float64:
		out, err = parseFloatSpec(s)
	case bool:
		out, err = parseBoolSpec(s, e.cfg.trueValues(), e.cfg.falseValues())
	case string:
		out = s
	default:
		err = fmt.Errorf("extractor: unsupported Get type %T", *new(T))
	}

	if err != nil {
		return Result[T]{Err: err}
	}
	v, _ := out.(T)
	return Result[T]{Value: v}
}

// Column parses column col for every data row in file order.
func Column[T Scalar](e *Extractor, col int) []Result[T] {
	out := make([]Result[T], e.numRows)
	for r := int64(0); r < e.numRows; r++ {
		out[r] = Get[T](e, int(r), col)
	}
	return out
}

// ColumnOr parses column col, substituting def for any NA or parse error.
func ColumnOr[T Scalar](e *Extractor, col int, def T) []T {
	out := make([]T, e.numRows)
	for r := int64(0); r < e.numRows; r++ {
		res := Get[T](e, int(r), col)
		if res.Ok() {
			out[r] = res.Value
		} else {
			out[r] = def
		}
	}
	return out
}

// ColumnStringView returns the raw bytes of column col for every data row.
func (e *Extractor) ColumnStringView(col int) [][]byte {
	out := make([][]byte, e.numRows)
	for r := int64(0); r < e.numRows; r++ {
		out[r] = e.StringView(int(r), col)
	}
	return out
}

// ColumnString returns the decoded string of column col for every data row.
func (e *Extractor) ColumnString(col int) []string {
	out := make([]string, e.numRows)
	for r := int64(0); r < e.numRows; r++ {
		out[r] = e.String(int(r), col)
	}
	return out
}
