//go:build !unix

package storage

import "os"

const (
	accessRead  uint32 = 0x4
	accessWrite uint32 = 0x2
)

// canAccess falls back to the permission bits where access(2) is unavailable.
func canAccess(path string, mode uint32) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return uint32(fi.Mode().Perm()>>6)&mode != 0
}
