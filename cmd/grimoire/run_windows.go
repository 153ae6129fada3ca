//go:build windows

package main

import (
	"os"
)

// signalsToNotify returns the signals that stop grimoire gracefully.
func signalsToNotify() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// disableCoreDumps is a no-op on Windows.
func disableCoreDumps() error {
	return nil
}
