// Package indexstore holds the separator positions the two-pass indexer
// produces: a tagged union of exactly one owned representation per
// lifecycle stage (heap-allocated during a build, mmap-backed once loaded
// from an on-disk cache, or a refcounted handle shared across readers) —
// never more than one representation alive for the same data, unlike a
// raw-pointer-plus-smart-pointer pairing.
package indexstore

import (
	"fmt"
	"sync/atomic"

	"github.com/csvquery/vroomdex/vroomerr"
)

// Owner identifies which arm of the tagged union backs a Store's slabs.
type Owner int

const (
	ownerHeap Owner = iota
	ownerMmap
	ownerShared
)

// SlabPadding is appended to every allocated slab so the SIMD second pass
// may speculatively write a position or two past the last valid separator
// before its lane-mask check discards the excess.
const SlabPadding = 8

// Slab is a disjoint window into the Store's single backing array. Slabs
// never overlap, so concurrent workers write to distinct Slabs without
// synchronization.
type Slab []uint64

// Store is the Index Store: per-thread separator positions plus the
// layout metadata needed to address them, in exactly one of three
// ownership modes.
type Store struct {
	owner Owner

	Columns   int
	NThreads  int
	NIndexes  []int64  // per-thread count of valid entries in Indexes[t]
	Indexes   []Slab   // per-thread slabs into backing
	backing   []uint64 // the single allocation every Indexes[t] slices into

	// RegionSize is the uniform per-worker stride when layout is uniform;
	// 0 when RegionOffsets is populated instead. Exactly one is nonzero.
	RegionSize    int64
	RegionOffsets []int64

	ChunkStarts []int64

	FlatIndexes []int64
	FlatCount   int64

	ColIndexes []int64
	ColCount   int64

	// closeMmap releases the memory map backing this store, if any.
	closeMmap func() error

	refs *int32 // non-nil only for ownerShared stores
}

// NewEmpty returns a zero-value Store ready for an allocator to populate.
func NewEmpty() *Store {
	return &Store{owner: ownerHeap}
}

// IsMmapBacked reports whether the store was loaded from a memory-mapped
// cache file (see MarkMmapBacked), in which case mutation and compaction
// are forbidden/no-ops respectively.
func (s *Store) IsMmapBacked() bool { return s.owner == ownerMmap }

// MarkMmapBacked transitions a Store populated directly from a memory map
// (see cache.Load) into the mmap-backed arm. close releases the mapping
// when the Store (or its last shared reference) is dropped.
func (s *Store) MarkMmapBacked(close func() error) {
	s.owner = ownerMmap
	s.closeMmap = close
}

// Close releases any OS resources the store holds (a memory map). It is
// safe to call on a heap-owned store, where it is a no-op.
func (s *Store) Close() error {
	if s.refs != nil {
		if atomic.AddInt32(s.refs, -1) > 0 {
			return nil
		}
	}
	if s.closeMmap != nil {
		f := s.closeMmap
		s.closeMmap = nil
		return f()
	}
	return nil
}

// SharedStore is a reference-counted handle to a Store. Multiple Value
// Extractors may hold one concurrently; the underlying Store (and its
// memory map, if any) is released only when the last handle is closed.
type SharedStore struct {
	store *Store
}

// Share converts s into the shared-ownership arm and returns the first
// handle. Subsequent calls to Acquire on the returned handle increment
// the refcount; s itself must not be used directly after this call.
func (s *Store) Share() *SharedStore {
	if s.refs == nil {
		var n int32 = 1
		s.refs = &n
		s.owner = ownerShared
	} else {
		atomic.AddInt32(s.refs, 1)
	}
	return &SharedStore{store: s}
}

// Acquire returns another handle to the same shared Store, incrementing
// the refcount.
func (h *SharedStore) Acquire() *SharedStore {
	atomic.AddInt32(h.store.refs, 1)
	return &SharedStore{store: h.store}
}

// Store returns the underlying Store for read access. Callers must not
// hold this pointer past a call to Close.
func (h *SharedStore) Store() *Store { return h.store }

// Close decrements the refcount, releasing the underlying Store's
// resources when it reaches zero.
func (h *SharedStore) Close() error { return h.store.Close() }

// --- allocators (spec.md §4.4) ---

func safeMul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/a != b {
		return 0, false
	}
	return r, true
}

// AllocUniform allocates n equal slabs of maxPossible+SlabPadding entries
// each, for the conservative path where per-chunk counts are not yet
// known.
func AllocUniform(n int, maxPossible int64) (*Store, error) {
	perSlab := maxPossible + SlabPadding
	if perSlab < maxPossible {
		return nil, vroomerr.NewError(vroomerr.IndexAllocationOverflow, "indexstore: uniform slab size overflow")
	}
	total, ok := safeMul(perSlab, int64(n))
	if !ok {
		return nil, vroomerr.NewError(vroomerr.IndexAllocationOverflow, "indexstore: uniform total size overflow")
	}
	st := buildStore(n, total)
	st.RegionSize = perSlab
	for t := 0; t < n; t++ {
		off := perSlab * int64(t)
		st.Indexes[t] = Slab(st.backing[off : off+perSlab])
	}
	return st, nil
}

// AllocCountedGlobal sizes the whole index as (total+SlabPadding)*nThreads
// under a uniform layout, used by the single-threaded path where
// nThreads is 1.
func AllocCountedGlobal(nThreads int, total int64) (*Store, error) {
	return AllocUniform(nThreads, total)
}

// AllocCountedPerThread allocates one contiguous buffer sized to the sum
// of each chunk's actual count plus padding, with an explicit offset
// table — the fast-path allocator, and the memory-saving win over
// AllocUniform.
func AllocCountedPerThread(counts []int64, fileLength int64, quoted bool) (*Store, error) {
	n := len(counts)
	offsets := make([]int64, n)
	var cursor int64
	for t, c := range counts {
		slab := c + SlabPadding
		if quoted {
			// Error-recovery in the scalar second pass can legitimately
			// emit more separators than the SIMD first pass counted, so
			// bound every slab by the whole file length as a safety
			// margin when quotes are present anywhere in the input.
			if m := fileLength + SlabPadding; m > slab {
				slab = m
			}
		}
		offsets[t] = cursor
		next := cursor + slab
		if next < cursor {
			return nil, vroomerr.NewError(vroomerr.IndexAllocationOverflow, "indexstore: per-thread cumulative offset overflow")
		}
		cursor = next
	}
	st := buildStore(n, cursor)
	st.RegionOffsets = offsets
	for t := range counts {
		end := cursor
		if t+1 < n {
			end = offsets[t+1]
		}
		st.Indexes[t] = Slab(st.backing[offsets[t]:end])
	}
	return st, nil
}

func buildStore(n int, backingLen int64) *Store {
	return &Store{
		owner:    ownerHeap,
		NThreads: n,
		NIndexes: make([]int64, n),
		Indexes:  make([]Slab, n),
		backing:  make([]uint64, backingLen),
	}
}

// Validate checks the structural invariants spec.md §3 places on a
// populated Store: it is meant for tests and defensive assertions, not
// the hot path.
func (s *Store) Validate() error {
	if s.NThreads < 1 {
		return fmt.Errorf("indexstore: n_threads must be >= 1, got %d", s.NThreads)
	}
	if len(s.NIndexes) != s.NThreads || len(s.Indexes) != s.NThreads {
		return fmt.Errorf("indexstore: per-thread arrays length mismatch")
	}
	if (s.RegionSize != 0) == (len(s.RegionOffsets) != 0) {
		return fmt.Errorf("indexstore: exactly one of RegionSize/RegionOffsets must be populated")
	}
	for t := 0; t < s.NThreads; t++ {
		slab := s.Indexes[t][:s.NIndexes[t]]
		for i := 1; i < len(slab); i++ {
			if slab[i] <= slab[i-1] {
				return fmt.Errorf("indexstore: worker %d positions not strictly ascending at %d", t, i)
			}
		}
		if t > 0 && s.ChunkStarts[t] <= s.ChunkStarts[t-1] {
			return fmt.Errorf("indexstore: chunk_starts not strictly ascending at %d", t)
		}
	}
	if s.ChunkStarts != nil && s.ChunkStarts[0] != 0 {
		return fmt.Errorf("indexstore: chunk_starts[0] must be 0")
	}
	if s.FlatIndexes != nil {
		var sum int64
		for _, c := range s.NIndexes {
			sum += c
		}
		if s.FlatCount != sum {
			return fmt.Errorf("indexstore: flat_count %d != sum(n_indexes) %d", s.FlatCount, sum)
		}
		for i := int64(1); i < s.FlatCount; i++ {
			if s.FlatIndexes[i] <= s.FlatIndexes[i-1] {
				return fmt.Errorf("indexstore: flat_indexes not strictly ascending")
			}
		}
	}
	return nil
}

// TotalSeparators returns sum(n_indexes).
func (s *Store) TotalSeparators() int64 {
	var sum int64
	for _, c := range s.NIndexes {
		sum += c
	}
	return sum
}
