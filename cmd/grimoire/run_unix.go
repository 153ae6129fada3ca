//go:build !windows

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// signalsToNotify returns the signals that stop grimoire gracefully.
func signalsToNotify() []os.Signal {
	return []os.Signal{os.Interrupt, unix.SIGTERM, unix.SIGHUP}
}

// disableCoreDumps sets RLIMIT_CORE to 0 so a crash cannot write the
// decrypted vault to disk.
func disableCoreDumps() error {
	return unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0})
}
