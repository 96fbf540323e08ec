//go:build !windows

// Package mmapio provides zero-copy file mapping for the byte source and
// the index cache loader.
package mmapio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MmapFile memory-maps f read-only for its full size and returns the
// mapped bytes. The caller must call MunmapFile when done.
func MmapFile(f *os.File) ([]byte, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return []byte{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return data, nil
}

// MmapFilePadded maps f read-only, over-mapping to the next page boundary
// with MAP_PRIVATE so that at least slack bytes past size are addressable.
// Bytes beyond the file's actual content are zero-filled by the kernel
// (standard beyond-EOF mmap behavior) and never written back. The returned
// slice's length is the full over-mapped region (required so MunmapFile,
// which rejects len != cap slices, can release it); callers must track the
// file's logical size separately. Use this for the byte source, which
// needs safe 64-byte tail reads without a copy.
func MmapFilePadded(f *os.File, slack int) (data []byte, logicalSize int, err error) {
	st, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	size := int(st.Size())
	if size == 0 {
		return []byte{}, 0, nil
	}

	pageSize := unix.Getpagesize()
	mapLen := ((size+slack)/pageSize + 1) * pageSize

	data, err = unix.Mmap(int(f.Fd()), 0, mapLen, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		// Some filesystems/kernels reject mapping past EOF; fall back to an
		// exact mapping and let the caller copy-pad instead.
		data, err = unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
		return data, size, err
	}
	return data, size, nil
}

// MunmapFile releases a mapping obtained from MmapFile.
func MunmapFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}
