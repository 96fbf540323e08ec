// Package cache persists a flattened Index Store to disk in the .vidx v3
// binary format and reloads it from a memory map, so a second run
// against an unchanged source file can skip the two-pass scan entirely.
package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/csvquery/vroomdex/internal/indexstore"
	"github.com/csvquery/vroomdex/internal/mmapio"
)

// Version is the only .vidx format this package writes or reads.
const Version byte = 3

const headerSize = 40 // up to and including the n_threads pad, before n_indexes[]

// Status enumerates the outcome of a Load or Write call.
type Status int

const (
	OK Status = iota
	Corrupted
	PermissionDenied
	DiskFull
	VersionMismatch
	SourceChanged
	IoError
	NotFound
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Corrupted:
		return "Corrupted"
	case PermissionDenied:
		return "PermissionDenied"
	case DiskFull:
		return "DiskFull"
	case VersionMismatch:
		return "VersionMismatch"
	case SourceChanged:
		return "SourceChanged"
	case IoError:
		return "IoError"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// SourceMeta is the freshness token stored alongside the index: the
// source file's mtime and size at the time the cache was built.
type SourceMeta struct {
	Mtime int64
	Size  int64
}

// PathMode selects how ResolvePath locates a cache file for a source.
type PathMode int

const (
	// SameDir places the cache next to the source as <source>.vidx,
	// falling back to UserCache if the source directory is not writable.
	SameDir PathMode = iota
	UserCache
	Custom
)

// ResolvePath computes the .vidx path for sourcePath under mode. customDir
// is only consulted when mode is Custom. warn, if non-nil, is called with
// a human-readable message whenever a fallback is taken.
func ResolvePath(sourcePath string, mode PathMode, customDir string, warn func(string)) (string, error) {
	switch mode {
	case SameDir:
		dir := filepath.Dir(sourcePath)
		if writable(dir) {
			return sourcePath + ".vidx", nil
		}
		if warn != nil {
			warn(fmt.Sprintf("cache: %s is not writable, falling back to user cache directory", dir))
		}
		return userCachePath(sourcePath)
	case UserCache:
		return userCachePath(sourcePath)
	case Custom:
		if customDir == "" {
			return "", fmt.Errorf("cache: Custom mode requires a non-empty directory")
		}
		return filepath.Join(customDir, filepath.Base(sourcePath)+".vidx"), nil
	default:
		return "", fmt.Errorf("cache: unknown path mode %d", mode)
	}
}

func writable(dir string) bool {
	probe := filepath.Join(dir, ".vidx-write-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

func userCachePath(sourcePath string) (string, error) {
	canonical, err := filepath.Abs(sourcePath)
	if err != nil {
		canonical = sourcePath
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}

	h := fnv.New64a()
	h.Write([]byte(canonical))
	name := fmt.Sprintf("%016x.vidx", h.Sum64())

	base := userCacheDir()
	return filepath.Join(base, "libvroom", name), nil
}

func userCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return dir
	}
	if dir := os.Getenv("HOME"); dir != "" {
		return filepath.Join(dir, ".cache")
	}
	if dir := os.Getenv("USERPROFILE"); dir != "" {
		return filepath.Join(dir, "AppData", "Local")
	}
	return os.TempDir()
}

// StatSource reads the freshness token for path.
func StatSource(path string) (SourceMeta, error) {
	st, err := os.Stat(path)
	if err != nil {
		return SourceMeta{}, err
	}
	return SourceMeta{Mtime: st.ModTime().Unix(), Size: st.Size()}, nil
}

// WriteOptions configures Write's optional side channel.
type WriteOptions struct {
	// AuditLogPath, if non-empty, appends one lz4-compressed, newline-
	// delimited JSON-free event line per successful Write call recording
	// (time, path, bytes) — for operators diagnosing cache churn. Failed
	// writes are not recorded.
	// It is a diagnostic side channel, never read back by Load.
	AuditLogPath string
}

// Write serializes st's flattened index for source to path, atomically:
// it writes to path+".tmp" and renames over path, deleting the temp file
// on any failure. st must already be flattened (st.FlatIndexes populated);
// per-thread-only stores are linearized via compact.Flatten by the caller
// before calling Write.
func Write(st *indexstore.Store, source SourceMeta, path string, opts WriteOptions) (Status, error) {
	if st.FlatIndexes == nil {
		return IoError, fmt.Errorf("cache: Write requires a flattened store (FlatIndexes is nil)")
	}

	if len(st.ChunkStarts) != st.NThreads {
		return IoError, fmt.Errorf("cache: Write requires ChunkStarts for every thread (have %d, want %d)", len(st.ChunkStarts), st.NThreads)
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + 8*st.NThreads + 8*st.NThreads + 8*len(st.FlatIndexes))

	header := make([]byte, headerSize)
	header[0] = Version
	binary.LittleEndian.PutUint64(header[8:16], uint64(source.Mtime))
	binary.LittleEndian.PutUint64(header[16:24], uint64(source.Size))
	binary.LittleEndian.PutUint64(header[24:32], uint64(st.Columns))
	binary.LittleEndian.PutUint16(header[32:34], uint16(st.NThreads))
	buf.Write(header)

	for _, n := range st.NIndexes {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(n))
		buf.Write(b[:])
	}

	// chunk_starts[] is a second per-thread table, parallel to n_indexes[]:
	// the real byte offset where each worker's chunk began, needed to
	// reconstruct indexstore.Store.ChunkStarts on Load (the flat index
	// stream alone cannot recover it, since a chunk's first separator
	// position is not its starting byte offset).
	for _, cs := range st.ChunkStarts {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(cs))
		buf.Write(b[:])
	}

	for _, pos := range st.FlatIndexes {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(pos))
		buf.Write(b[:])
	}

	tmpPath := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return classifyWriteErr(err)
	}
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		os.Remove(tmpPath)
		return classifyWriteErr(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return classifyWriteErr(err)
	}

	if opts.AuditLogPath != "" {
		appendAuditEvent(opts.AuditLogPath, path, buf.Len())
	}

	return OK, nil
}

func classifyWriteErr(err error) (Status, error) {
	if os.IsPermission(err) {
		return PermissionDenied, err
	}
	if pathErr, ok := err.(*os.PathError); ok && pathErr.Err.Error() == "no space left on device" {
		return DiskFull, err
	}
	return IoError, err
}

func appendAuditEvent(logPath, vidxPath string, n int) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	zw := lz4.NewWriter(f)
	defer zw.Close()
	line := fmt.Sprintf("%s\t%s\t%d\n", time.Now().UTC().Format(time.RFC3339), vidxPath, n)
	zw.Write([]byte(line))
}

// Load mmaps and validates path, returning a mmap-backed Store. The
// n_indexes, chunk_starts and separator tables are copied out of the
// mapping into heap slices, so the Store's arrays do not point into it;
// the mapping itself stays open until the Store is closed. The caller's fresh stat of
// the source file, current, is compared against the cached freshness
// token. On true corruption (not staleness), the file is deleted before
// returning.
func Load(path string, current SourceMeta) (*indexstore.Store, Status, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NotFound, err
		}
		return nil, IoError, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, IoError, err
	}
	if info.Size() < headerSize {
		f.Close()
		if info.Size() > 0 {
			os.Remove(path)
		}
		if info.Size() == 0 {
			return nil, NotFound, fmt.Errorf("cache: %s is empty", path)
		}
		return nil, Corrupted, fmt.Errorf("cache: %s is smaller than the %d-byte header", path, headerSize)
	}

	data, err := mmapio.MmapFile(f)
	f.Close()
	if err != nil {
		return nil, IoError, err
	}

	if data[0] != Version {
		mmapio.MunmapFile(data)
		return nil, VersionMismatch, fmt.Errorf("cache: %s has version %d, want %d", path, data[0], Version)
	}

	mtime := int64(binary.LittleEndian.Uint64(data[8:16]))
	size := int64(binary.LittleEndian.Uint64(data[16:24]))
	if mtime != current.Mtime || size != current.Size {
		mmapio.MunmapFile(data)
		return nil, SourceChanged, fmt.Errorf("cache: %s is stale for its source", path)
	}

	columns := int64(binary.LittleEndian.Uint64(data[24:32]))
	nThreads := int(binary.LittleEndian.Uint16(data[32:34]))

	nIndexesEnd := headerSize + 8*nThreads
	chunkStartsEnd := nIndexesEnd + 8*nThreads
	if nIndexesEnd < headerSize || chunkStartsEnd < nIndexesEnd || chunkStartsEnd > len(data) {
		mmapio.MunmapFile(data)
		os.Remove(path)
		return nil, Corrupted, fmt.Errorf("cache: %s per-thread tables out of bounds", path)
	}

	nIndexes := make([]int64, nThreads)
	var total int64
	for t := 0; t < nThreads; t++ {
		off := headerSize + 8*t
		n := int64(binary.LittleEndian.Uint64(data[off : off+8]))
		if n < 0 || total+n < total {
			mmapio.MunmapFile(data)
			os.Remove(path)
			return nil, Corrupted, fmt.Errorf("cache: %s n_indexes overflow", path)
		}
		nIndexes[t] = n
		total += n
	}

	chunkStarts := make([]int64, nThreads)
	for t := 0; t < nThreads; t++ {
		off := nIndexesEnd + 8*t
		chunkStarts[t] = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	}
	if nThreads > 0 && chunkStarts[0] != 0 {
		mmapio.MunmapFile(data)
		os.Remove(path)
		return nil, Corrupted, fmt.Errorf("cache: %s chunk_starts[0] must be 0", path)
	}
	for t := 1; t < nThreads; t++ {
		if chunkStarts[t] <= chunkStarts[t-1] {
			mmapio.MunmapFile(data)
			os.Remove(path)
			return nil, Corrupted, fmt.Errorf("cache: %s chunk_starts not strictly ascending at %d", path, t)
		}
	}

	flatBytes, ok := safeMul8(total)
	if !ok || chunkStartsEnd+flatBytes > int64(len(data)) {
		mmapio.MunmapFile(data)
		os.Remove(path)
		return nil, Corrupted, fmt.Errorf("cache: %s flat index region out of bounds", path)
	}

	st := indexstore.NewEmpty()
	st.Columns = int(columns)
	st.NThreads = nThreads
	st.NIndexes = nIndexes
	st.ChunkStarts = chunkStarts

	flatStart := chunkStartsEnd
	flat := make([]int64, total)
	for i := int64(0); i < total; i++ {
		off := flatStart + int(i*8)
		flat[i] = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	}
	st.FlatIndexes = flat
	st.FlatCount = total

	// Re-derive per-thread slab views over the flat array so callers that
	// still want per-worker access (e.g. re-validation) see a consistent
	// Store regardless of load path. The real chunk starts above already
	// came from the chunk_starts[] table, not from this reconstruction.
	st.Indexes = make([]indexstore.Slab, nThreads)
	st.RegionOffsets = make([]int64, nThreads)
	var cursor int64
	for t := 0; t < nThreads; t++ {
		n := nIndexes[t]
		st.RegionOffsets[t] = cursor
		slab := make(indexstore.Slab, n)
		for i := int64(0); i < n; i++ {
			slab[i] = uint64(flat[cursor+i])
		}
		st.Indexes[t] = slab
		cursor += n
	}

	st.MarkMmapBacked(func() error { return mmapio.MunmapFile(data) })

	return st, OK, nil
}

func safeMul8(n int64) (int64, bool) {
	if n == 0 {
		return 0, true
	}
	r := n * 8
	if r/8 != n || r < 0 {
		return 0, false
	}
	return r, true
}
