//go:build unix

package storage

import "golang.org/x/sys/unix"

const (
	accessRead  = unix.R_OK
	accessWrite = unix.W_OK
)

func canAccess(path string, mode uint32) bool {
	return unix.Access(path, mode) == nil
}
