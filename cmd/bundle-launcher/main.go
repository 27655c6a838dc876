// Package main is the entry point for bundle-launcher.
//
// The binary is meant to be distributed with a zip of scripts appended to
// it (see internal/launcher). All work is delegated to internal/cli.
package main

import (
	"github.com/shinji-kodama/bundle-launcher/internal/cli"
)

func main() {
	cli.Execute()
}
