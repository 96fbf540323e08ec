//go:build amd64

package bitmask

import "golang.org/x/sys/cpu"

func capabilities() string {
	switch {
	case cpu.X86.HasAVX512F:
		return "amd64: AVX512F detected (unused; scan is scalar SWAR)"
	case cpu.X86.HasAVX2:
		return "amd64: AVX2 detected (unused; scan is scalar SWAR)"
	case cpu.X86.HasSSE42:
		return "amd64: SSE4.2 detected (unused; scan is scalar SWAR)"
	default:
		return "amd64: no relevant SIMD extension detected"
	}
}
