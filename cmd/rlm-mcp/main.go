// Package main provides the entry point for the rlm-mcp CLI.
package main

import (
	"os"

	"github.com/adrianwedd/rlm-mcp/cmd/rlm-mcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
