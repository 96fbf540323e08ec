// Package vroomdex indexes delimiter-separated files in parallel and
// extracts typed field values from the resulting index without
// re-scanning the source buffer.
//
// The pipeline is two passes over 64-byte blocks (internal/firstpass,
// internal/secondpass) coordinated by Parser, landing in an
// internal/indexstore.Store that internal/compact and cache can
// flatten, transpose, and persist, and that the extractor package reads
// from.
package vroomdex

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/csvquery/vroomdex/dialect"
	"github.com/csvquery/vroomdex/internal/bytesource"
	"github.com/csvquery/vroomdex/internal/compact"
	"github.com/csvquery/vroomdex/internal/firstpass"
	"github.com/csvquery/vroomdex/internal/indexstore"
	"github.com/csvquery/vroomdex/internal/secondpass"
	"github.com/csvquery/vroomdex/vroomerr"
)

// minChunkBytes is the smallest chunk size the parallel path will carve
// the buffer into; below it, the fixed cost of per-worker speculation
// and allocation outweighs any benefit from more workers.
const minChunkBytes = 64

// ProgressFunc is called as bytes are processed, weighted 10% to the
// first pass and 90% to the second. Returning false requests
// cancellation: the orchestrator drains in-flight workers (so none
// reference freed memory) but reports ParseResult.Successful = false.
type ProgressFunc func(percent int) bool

// ParseOptions configures one Parse call.
type ParseOptions struct {
	Dialect      dialect.Dialect
	Workers      int
	Errors       *vroomerr.Collector // non-nil forces the conservative two-pass path, or the error-reporting scan on the single-threaded path
	Progress     ProgressFunc
	MaxFileSize  int64 // 0 means unlimited
	MaxFieldSize int64 // 0 means unlimited; enforced by callers reading spans, not here
}

// ParseResult is what a successful (or cancelled) Parse call produces.
type ParseResult struct {
	Store      *indexstore.Store
	Successful bool
}

// Parser coordinates the two-pass scan across a fixed worker count.
type Parser struct {
	workers int
}

// NewParser returns a Parser that fans work out across workers goroutines.
// workers <= 0 defaults to runtime.NumCPU().
func NewParser(workers int) *Parser {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Parser{workers: workers}
}

// progressTracker implements the atomic bytes-counter / CAS-throttled
// percent / release-store cancel flag scheme spec.md §5 requires.
type progressTracker struct {
	total       int64
	processed   int64
	lastPercent int32
	cancelled   int32
	cb          ProgressFunc
}

func newProgressTracker(total int64, cb ProgressFunc) *progressTracker {
	return &progressTracker{total: total, cb: cb}
}

func (p *progressTracker) add(n int64) {
	if p.cb == nil || p.total == 0 {
		return
	}
	processed := atomic.AddInt64(&p.processed, n)
	percent := int32(processed * 100 / p.total)
	if percent > 100 {
		percent = 100
	}
	last := atomic.LoadInt32(&p.lastPercent)
	if percent <= last {
		return
	}
	if !atomic.CompareAndSwapInt32(&p.lastPercent, last, percent) {
		return // another goroutine already advanced it this tick
	}
	if !p.cb(int(percent)) {
		atomic.StoreInt32(&p.cancelled, 1)
	}
}

func (p *progressTracker) isCancelled() bool {
	return atomic.LoadInt32(&p.cancelled) != 0
}

// Parse indexes src under opts, coordinating the two passes across
// p.workers goroutines.
func (p *Parser) Parse(src *bytesource.Source, opts ParseOptions) (ParseResult, error) {
	d := opts.Dialect
	if err := d.Validate(); err != nil {
		return ParseResult{}, err
	}

	length := src.Len()
	if opts.MaxFileSize > 0 && int64(length) > opts.MaxFileSize {
		return ParseResult{}, vroomerr.NewError(vroomerr.FileTooLarge, fmt.Sprintf("vroomdex: file is %d bytes, exceeds MaxFileSize %d", length, opts.MaxFileSize))
	}

	workers := p.workers
	chunkSize := length / workers
	degenerate := workers <= 1 || chunkSize < minChunkBytes

	progress := newProgressTracker(int64(length), opts.Progress)

	if degenerate {
		return p.parseSingleThreaded(src, d, opts.Errors, progress)
	}

	if opts.Errors != nil {
		return p.parseConservative(src, d, opts.Errors, progress)
	}

	result, fellBack, err := p.parseFastPath(src, d, progress)
	if err != nil {
		return ParseResult{}, err
	}
	if fellBack {
		return p.parseConservative(src, d, vroomerr.NewCollector(vroomerr.Permissive), progress)
	}
	return result, nil
}

func (p *Parser) parseSingleThreaded(src *bytesource.Source, d dialect.Dialect, errs *vroomerr.Collector, progress *progressTracker) (ParseResult, error) {
	buf := src.Bytes()
	length := len(buf)

	counts := firstpass.Count(buf, 0, length, d)
	progress.add(int64(length) / 10)

	st, err := indexstore.AllocCountedGlobal(1, counts.NSeparators)
	if err != nil {
		return ParseResult{}, err
	}
	st.ChunkStarts = []int64{0}

	var res secondpass.Result
	if errs != nil {
		res = secondpass.ScanWithErrors(buf, 0, length, d, false, st.Indexes[0], errs)
	} else {
		res = secondpass.ScanInto(buf, 0, length, d, 0, st.Indexes[0])
	}
	st.NIndexes[0] = int64(res.Count)
	progress.add(int64(length) * 9 / 10)

	if err := compact.Flatten(st); err != nil {
		return ParseResult{}, err
	}
	finalizeColumns(st, buf)

	return ParseResult{Store: st, Successful: !progress.isCancelled()}, nil
}

// splitChunks divides [0, length) into n roughly-equal pieces.
func splitChunks(length, n int) [][2]int {
	chunkSize := length / n
	chunks := make([][2]int, n)
	for i := 0; i < n; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if i == n-1 {
			end = length
		}
		chunks[i] = [2]int{start, end}
	}
	return chunks
}

// parseFastPath implements spec.md §4.3's parallel fast path: speculative
// boundary discovery, per-chunk counting, right-sized allocation, and a
// SIMD second pass. It reports fellBack=true (with no error) when
// speculation could not be validated and the caller must retry via the
// conservative path.
func (p *Parser) parseFastPath(src *bytesource.Source, d dialect.Dialect, progress *progressTracker) (result ParseResult, fellBack bool, err error) {
	buf := src.Bytes()
	length := len(buf)
	n := p.workers

	splits := splitChunks(length, n)

	// Step 1: speculative boundary discovery.
	starts := make([]int, n)
	starts[0] = 0
	var specWG sync.WaitGroup
	var specFailed int32
	for i := 1; i < n; i++ {
		specWG.Add(1)
		go func(i int) {
			defer specWG.Done()
			pos, ok := firstpass.Speculate(buf, splits[i][0], splits[i][1], d, false)
			if !ok {
				atomic.StoreInt32(&specFailed, 1)
				return
			}
			starts[i] = int(pos) + 1
		}(i)
	}
	specWG.Wait()
	if atomic.LoadInt32(&specFailed) != 0 {
		return ParseResult{}, true, nil
	}

	chunks := make([][2]int, n)
	for i := 0; i < n; i++ {
		end := length
		if i+1 < n {
			end = starts[i+1]
		}
		if starts[i] >= end {
			return ParseResult{}, true, nil // degenerate chunk: no room for any boundary
		}
		chunks[i] = [2]int{starts[i], end}
	}

	// Step 2: per-chunk separator counting.
	counts := make([]int64, n)
	var anyQuoted int32
	var countWG sync.WaitGroup
	for i := 0; i < n; i++ {
		countWG.Add(1)
		go func(i int) {
			defer countWG.Done()
			c := firstpass.Count(buf, chunks[i][0], chunks[i][1], d)
			counts[i] = c.NSeparators
			if c.NQuotes > 0 {
				atomic.StoreInt32(&anyQuoted, 1)
			}
			progress.add(int64(chunks[i][1]-chunks[i][0]) / 10)
		}(i)
	}
	countWG.Wait()

	// Step 3: right-sized allocation.
	st, allocErr := indexstore.AllocCountedPerThread(counts, int64(length), anyQuoted != 0)
	if allocErr != nil {
		return ParseResult{}, false, allocErr
	}
	st.ChunkStarts = make([]int64, n)
	for i := range chunks {
		st.ChunkStarts[i] = int64(chunks[i][0])
	}

	// Step 4: second pass.
	results := make([]secondpass.Result, n)
	var scanWG sync.WaitGroup
	for i := 0; i < n; i++ {
		scanWG.Add(1)
		go func(i int) {
			defer scanWG.Done()
			results[i] = secondpass.ScanInto(buf, chunks[i][0], chunks[i][1], d, 0, st.Indexes[i])
			st.NIndexes[i] = int64(results[i].Count)
			progress.add(int64(chunks[i][1]-chunks[i][0]) * 9 / 10)
		}(i)
	}
	scanWG.Wait()

	// Step 5: validate the speculation. Every non-terminal worker must
	// have ended outside a quoted field for its chunk boundary to have
	// been a real record boundary.
	for i := 0; i < n-1; i++ {
		if !results[i].AtRecordBoundary {
			return ParseResult{}, true, nil
		}
	}

	if err := compact.Flatten(st); err != nil {
		return ParseResult{}, false, err
	}
	finalizeColumns(st, buf)

	return ParseResult{Store: st, Successful: !progress.isCancelled()}, false, nil
}

// parseConservative implements spec.md §4.3's conservative two-pass path:
// cumulative-parity reconciliation of chunk boundaries, followed by an
// error-reporting second pass with merged, re-sorted collectors.
func (p *Parser) parseConservative(src *bytesource.Source, d dialect.Dialect, errs *vroomerr.Collector, progress *progressTracker) (ParseResult, error) {
	buf := src.Bytes()
	length := len(buf)
	n := p.workers
	if n < 1 {
		n = 1
	}
	splits := splitChunks(length, n)

	firstCounts := make([]firstpass.Counts, n)
	var countWG sync.WaitGroup
	for i := 0; i < n; i++ {
		countWG.Add(1)
		go func(i int) {
			defer countWG.Done()
			firstCounts[i] = firstpass.Count(buf, splits[i][0], splits[i][1], d)
			progress.add(int64(splits[i][1]-splits[i][0]) / 10)
		}(i)
	}
	countWG.Wait()

	// Cumulative-parity reconciliation: walk chunks in order, tracking
	// whether the running quote count entering each chunk is even or
	// odd, and pick that chunk's boundary from the matching first/odd
	// latch the first pass recorded.
	starts := make([]int, n)
	starts[0] = 0
	parityOdd := false
	for i := 0; i < n; i++ {
		c := firstCounts[i]
		var nl int64 = -1
		if parityOdd {
			nl = c.FirstOddNL
		} else {
			nl = c.FirstEvenNL
		}
		if i+1 < n {
			if nl == -1 {
				// No suitable boundary in this chunk at all: caller must
				// fall back to single-threaded for the whole buffer.
				return p.parseSingleThreaded(src, d, errs, progress)
			}
			starts[i+1] = splits[i][0] + int(nl) + 1
		}
		if c.NQuotes%2 != 0 {
			parityOdd = !parityOdd
		}
	}

	chunks := make([][2]int, n)
	for i := 0; i < n; i++ {
		end := length
		if i+1 < n {
			end = starts[i+1]
		}
		chunks[i] = [2]int{starts[i], end}
	}

	counts := make([]int64, n)
	for i := 0; i < n; i++ {
		counts[i] = firstCounts[i].NSeparators
	}
	st, err := indexstore.AllocCountedPerThread(counts, int64(length), true)
	if err != nil {
		return ParseResult{}, err
	}
	st.ChunkStarts = make([]int64, n)
	for i := range chunks {
		st.ChunkStarts[i] = int64(chunks[i][0])
	}

	collectors := make([]*vroomerr.Collector, n)
	var scanWG sync.WaitGroup
	for i := 0; i < n; i++ {
		scanWG.Add(1)
		go func(i int) {
			defer scanWG.Done()
			local := vroomerr.NewCollectorWithLimit(errs.Mode(), 0)
			res := secondpass.ScanWithErrors(buf, chunks[i][0], chunks[i][1], d, false, st.Indexes[i], local)
			st.NIndexes[i] = int64(res.Count)
			collectors[i] = local
			progress.add(int64(chunks[i][1]-chunks[i][0]) * 9 / 10)
		}(i)
	}
	scanWG.Wait()

	for _, c := range collectors {
		errs.Merge(c)
	}
	errs.SortByOffset()

	if err := compact.Flatten(st); err != nil {
		return ParseResult{}, err
	}
	finalizeColumns(st, buf)

	return ParseResult{Store: st, Successful: !progress.isCancelled()}, nil
}

// finalizeColumns sets st.Columns to (index of the first row-terminator
// position in file order) + 1, per spec.md §4.3's post-conditions.
// Row terminators are recorded at the '\n' byte, or at the '\r' of a bare
// CR (CRLF's '\r' is never indexed), so the first flat position whose
// source byte is '\n' or '\r' ends the header/first row. Must run after
// the store has been flattened.
func finalizeColumns(st *indexstore.Store, buf []byte) {
	for i, pos := range st.FlatIndexes[:st.FlatCount] {
		if buf[pos] == '\n' || buf[pos] == '\r' {
			st.Columns = i + 1
			return
		}
	}
}
