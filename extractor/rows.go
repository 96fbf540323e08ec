package extractor

import "strings"

// RowFilter configures Rows' lazily-applied view over the unfiltered,
// physically-indexed rows.
type RowFilter struct {
	Skip          int  // drop this many leading data rows
	NMax          int  // keep at most this many thereafter; 0 means unbounded
	SkipEmptyRows bool // drop rows whose fields are all empty/whitespace
}

// RowIter lazily walks data rows under a RowFilter. Call Next until it
// returns false.
type RowIter struct {
	e       *Extractor
	filter  RowFilter
	next    int64
	skipped int
	emitted int
}

// Rows returns a lazy iterator over data rows matching filter.
func (e *Extractor) Rows(filter RowFilter) *RowIter {
	return &RowIter{e: e, filter: filter}
}

// Next advances to the next matching row, returning its physical row
// index and true, or (0, false) once the filter is exhausted.
func (it *RowIter) Next() (int, bool) {
	for it.next < it.e.numRows {
		if it.filter.NMax > 0 && it.emitted >= it.filter.NMax {
			return 0, false
		}
		row := int(it.next)
		it.next++

		if it.filter.SkipEmptyRows && it.e.rowIsEmpty(row) {
			continue
		}
		if it.skipped < it.filter.Skip {
			it.skipped++
			continue
		}
		it.emitted++
		return row, true
	}
	return 0, false
}

// Size returns the number of rows Next would yield in total, by running
// the filter to completion. With SkipEmptyRows set this is O(n) in the
// unfiltered row count, as spec.md §4.7 calls out explicitly.
func (it *RowIter) Size() int {
	clone := &RowIter{e: it.e, filter: it.filter}
	n := 0
	for {
		if _, ok := clone.Next(); !ok {
			break
		}
		n++
	}
	return n
}

func (e *Extractor) rowIsEmpty(row int) bool {
	for c := 0; c < e.columns; c++ {
		s := e.trimmedField(row, c)
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}
