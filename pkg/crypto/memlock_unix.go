//go:build !windows

package crypto

import "golang.org/x/sys/unix"

// LockMemory asks the kernel to keep b out of swap. It is best effort: an
// unprivileged process may exceed RLIMIT_MEMLOCK, in which case the error is
// returned and the caller decides whether to continue.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

// UnlockMemory releases a lock taken with LockMemory.
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munlock(b)
}
