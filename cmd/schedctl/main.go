// Package main is a command line tool for inspecting recurrence rules and
// requesting manual report runs.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
