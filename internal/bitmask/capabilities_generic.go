//go:build !amd64 && !arm64

package bitmask

func capabilities() string {
	return "generic: no architecture-specific capability probe"
}
