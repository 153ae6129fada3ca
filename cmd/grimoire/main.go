// Package main provides the grimoire command: the vault process with its
// console and local transports, plus the helper commands browser extensions
// and AI assistants launch to reach it.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
