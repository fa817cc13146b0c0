// Command duplink deduplicates identical file content under one or more
// directories by replacing redundant copies with hard links (or symbolic
// links as a fallback).
package main

import (
	"os"

	"github.com/duplink/duplink/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Stdout, os.Stderr, os.Args[1:], os.Environ()))
}
