// Package main is jobctl, the operator CLI for inspecting and maintaining a
// jobkeeper database. It opens the SQLite file directly, so it works while
// the server is stopped.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
