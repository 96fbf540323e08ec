// Package compact turns a freshly scanned Index Store's per-thread slabs
// into the layouts the Value Extractor needs for O(1) field lookup: a
// flat, file-order concatenation, and optionally a column-major transpose
// of that flat array.
package compact

import (
	"fmt"
	"sort"

	"github.com/csvquery/vroomdex/internal/indexstore"
)

// Flatten produces st.FlatIndexes, the file-order concatenation of every
// worker's slab. It is idempotent: a second call, or a store that is
// already mmap-backed (and therefore already flat), is a no-op.
func Flatten(st *indexstore.Store) error {
	if st.IsMmapBacked() {
		return nil
	}
	if st.FlatIndexes != nil && st.FlatCount == st.TotalSeparators() {
		return nil
	}

	order := make([]int, st.NThreads)
	for i := range order {
		order[i] = i
	}
	// Workers are already ordered by chunk start, but sort defensively by
	// each worker's first separator position so out-of-order construction
	// (e.g. a test harness populating workers by hand) still flattens
	// correctly.
	sort.Slice(order, func(a, b int) bool {
		ta, tb := order[a], order[b]
		if st.NIndexes[ta] == 0 || st.NIndexes[tb] == 0 {
			return st.ChunkStarts[ta] < st.ChunkStarts[tb]
		}
		return st.Indexes[ta][0] < st.Indexes[tb][0]
	})

	total := st.TotalSeparators()
	flat := make([]int64, total)
	var cursor int64
	for _, t := range order {
		n := st.NIndexes[t]
		slab := st.Indexes[t][:n]
		for i := int64(0); i < n; i++ {
			flat[cursor] = int64(slab[i])
			cursor++
		}
	}

	st.FlatIndexes = flat
	st.FlatCount = total
	return nil
}

// Transpose produces a column-major view of the already-flattened
// index: col_indexes[c*nrows+r] = flat_indexes[r*columns+c]. Ragged
// input (total separators not a multiple of columns) produces a
// truncated view over whole rows only. After a successful transpose,
// FlatIndexes is released to keep memory at roughly 1x rather than 2x.
func Transpose(st *indexstore.Store, columns int) error {
	if columns <= 0 {
		return fmt.Errorf("compact: columns must be > 0, got %d", columns)
	}
	if st.IsMmapBacked() {
		return nil
	}
	if st.ColIndexes != nil && st.ColCount == st.FlatCount {
		return nil
	}
	if st.FlatIndexes == nil {
		if err := Flatten(st); err != nil {
			return err
		}
	}

	nrows := st.FlatCount / int64(columns)
	col := make([]int64, nrows*int64(columns))
	for r := int64(0); r < nrows; r++ {
		for c := 0; c < columns; c++ {
			col[int64(c)*nrows+r] = st.FlatIndexes[r*int64(columns)+int64(c)]
		}
	}

	st.ColIndexes = col
	st.ColCount = nrows * int64(columns)
	st.Columns = columns
	st.FlatIndexes = nil
	return nil
}
