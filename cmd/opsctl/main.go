// Package main is the entry point for the opsctl CLI.
// The CLI is the operator terminal tool for interacting with the opsplane API.
package main

import (
	"os"

	"opsplane/cmd/opsctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
