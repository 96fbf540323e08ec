package compact

import (
	"testing"

	"github.com/csvquery/vroomdex/internal/indexstore"
)

func buildStore(t *testing.T, perThread [][]uint64) *indexstore.Store {
	t.Helper()
	counts := make([]int64, len(perThread))
	for i, s := range perThread {
		counts[i] = int64(len(s))
	}
	st, err := indexstore.AllocCountedPerThread(counts, 1000, false)
	if err != nil {
		t.Fatal(err)
	}
	st.ChunkStarts = make([]int64, len(perThread))
	for i, s := range perThread {
		copy(st.Indexes[i], s)
		st.NIndexes[i] = int64(len(s))
		if i > 0 {
			st.ChunkStarts[i] = int64(s[0])
		}
	}
	return st
}

func TestFlattenConcatenatesInChunkOrder(t *testing.T) {
	st := buildStore(t, [][]uint64{{1, 5, 9}, {14, 20}, {25, 30, 35}})

	if err := Flatten(st); err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 5, 9, 14, 20, 25, 30, 35}
	if len(st.FlatIndexes) != len(want) {
		t.Fatalf("FlatIndexes = %v, want %v", st.FlatIndexes, want)
	}
	for i := range want {
		if st.FlatIndexes[i] != want[i] {
			t.Errorf("FlatIndexes[%d] = %d, want %d", i, st.FlatIndexes[i], want[i])
		}
	}
	if st.FlatCount != int64(len(want)) {
		t.Errorf("FlatCount = %d, want %d", st.FlatCount, len(want))
	}
}

func TestFlattenIsIdempotent(t *testing.T) {
	st := buildStore(t, [][]uint64{{1, 5}, {9, 14}})
	if err := Flatten(st); err != nil {
		t.Fatal(err)
	}
	first := append([]int64(nil), st.FlatIndexes...)

	if err := Flatten(st); err != nil {
		t.Fatal(err)
	}
	if len(st.FlatIndexes) != len(first) {
		t.Fatalf("second Flatten changed length: %v vs %v", st.FlatIndexes, first)
	}
	for i := range first {
		if st.FlatIndexes[i] != first[i] {
			t.Errorf("second Flatten changed value at %d: %d vs %d", i, st.FlatIndexes[i], first[i])
		}
	}
}

func TestTransposeColumnMajorAndFreesFlat(t *testing.T) {
	// 2 columns, 3 rows: flat = [r0c0, r0c1, r1c0, r1c1, r2c0, r2c1]
	st := buildStore(t, [][]uint64{{1, 2, 3, 4, 5, 6}})
	st.ChunkStarts = []int64{0}

	if err := Transpose(st, 2); err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 3, 5, 2, 4, 6} // col0: r0,r1,r2 ; col1: r0,r1,r2
	if len(st.ColIndexes) != len(want) {
		t.Fatalf("ColIndexes = %v, want %v", st.ColIndexes, want)
	}
	for i := range want {
		if st.ColIndexes[i] != want[i] {
			t.Errorf("ColIndexes[%d] = %d, want %d", i, st.ColIndexes[i], want[i])
		}
	}
	if st.FlatIndexes != nil {
		t.Error("expected FlatIndexes to be released after Transpose")
	}
}

func TestTransposeRejectsNonPositiveColumns(t *testing.T) {
	st := buildStore(t, [][]uint64{{1, 2}})
	st.ChunkStarts = []int64{0}
	if err := Transpose(st, 0); err == nil {
		t.Fatal("expected an error for columns <= 0")
	}
}
