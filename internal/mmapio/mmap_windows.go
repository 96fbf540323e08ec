//go:build windows

package mmapio

import (
	"io"
	"os"
)

// MmapFile falls back to reading the whole file on Windows, mirroring the
// teacher's own mmap_windows.go. Proper FileMapping/MapViewOfFile support
// is a follow-up; this keeps the zero-copy contract on POSIX where the
// throughput actually matters.
func MmapFile(f *os.File) ([]byte, error) {
	return io.ReadAll(f)
}

// MunmapFile is a no-op for the ReadAll fallback.
func MunmapFile(data []byte) error {
	return nil
}

// MmapFilePadded falls back to ReadAll on Windows; the caller always sees
// logicalSize == len(data), so bytesource copy-pads the tail itself.
func MmapFilePadded(f *os.File, slack int) (data []byte, logicalSize int, err error) {
	data, err = io.ReadAll(f)
	return data, len(data), err
}
