//go:build arm64

package bitmask

import "golang.org/x/sys/cpu"

func capabilities() string {
	if cpu.ARM64.HasASIMD {
		return "arm64: ASIMD detected (unused; scan is scalar SWAR)"
	}
	return "arm64: no relevant SIMD extension detected"
}
