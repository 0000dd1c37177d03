// Package main provides the entry point for the dispatchctl operator CLI.
package main

import (
	"github.com/probefleet/dispatch/cmd/cli"
)

// Build information - set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
