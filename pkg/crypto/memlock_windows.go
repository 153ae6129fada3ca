//go:build windows

package crypto

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// LockMemory keeps b resident in physical memory (VirtualLock). Best effort.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.VirtualLock(uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)))
}

// UnlockMemory releases a lock taken with LockMemory.
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.VirtualUnlock(uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)))
}
