// Package bytesource provides the padded, slack-guaranteed byte buffer that
// every scanning stage reads 64 bytes at a time from.
package bytesource

import (
	"fmt"
	"io"
	"os"

	"github.com/csvquery/vroomdex/internal/mmapio"
)

// Slack is the minimum number of readable bytes required past the logical
// end of the buffer, so that 64-byte block reads at the tail never run off
// the allocation.
const Slack = 64

// Source is an immutable view over a padded byte buffer plus its logical
// length. buf may be longer than Len (padding and, for mmap sources, page
// rounding); the contract only guarantees len(buf) >= Len+Slack.
type Source struct {
	buf     []byte
	length  int
	onClose func() error
}

// Len returns the logical length of the source, not counting padding.
func (s *Source) Len() int { return s.length }

// Bytes returns the logical [0:Len) view. Do not read past Len via this
// slice; use Block64 for padded reads.
func (s *Source) Bytes() []byte { return s.buf[:s.length] }

// Block64 returns 64 bytes starting at off, reading into the padding
// region if off+64 exceeds the logical length. off must be < Len.
func (s *Source) Block64(off int) [64]byte {
	var block [64]byte
	copy(block[:], s.buf[off:])
	return block
}

// Close releases any OS resources (e.g. an mmap) backing the source.
func (s *Source) Close() error {
	if s.onClose == nil {
		return nil
	}
	f := s.onClose
	s.onClose = nil
	return f()
}

func pad(b []byte) []byte {
	out := make([]byte, len(b)+Slack)
	copy(out, b)
	return out
}

// FromBytes wraps a caller-owned slice. If it does not already carry at
// least Slack bytes of spare capacity, it is copied once into a padded
// buffer; this is a documented allocation, never a silent truncation.
func FromBytes(b []byte) (*Source, error) {
	if cap(b)-len(b) >= Slack {
		return &Source{buf: b[:len(b):cap(b)], length: len(b)}, nil
	}
	return &Source{buf: pad(b), length: len(b)}, nil
}

// FromReader reads r fully into a padded buffer.
func FromReader(r io.Reader) (*Source, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("bytesource: read: %w", err)
	}
	return &Source{buf: pad(b), length: len(b)}, nil
}

// FromMmap opens path and memory-maps it read-only. The returned Source
// must be Closed to release the mapping. If the mapped region lacks
// sufficient tail slack (e.g. the platform fallback mapped only the exact
// file size), the data is copied once into a padded heap buffer instead.
func FromMmap(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bytesource: open %s: %w", path, err)
	}
	defer f.Close()

	data, length, err := mmapio.MmapFilePadded(f, Slack)
	if err != nil {
		return nil, err
	}

	if len(data)-length >= Slack {
		return &Source{buf: data, length: length, onClose: func() error { return mmapio.MunmapFile(data) }}, nil
	}

	padded := pad(data[:length])
	_ = mmapio.MunmapFile(data)
	return &Source{buf: padded, length: length}, nil
}
