// Package cmd provides the CLI commands for rlm-mcp.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adrianwedd/rlm-mcp/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the rlm-mcp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rlm-mcp",
		Short: "Session-scoped document processing MCP server",
		Long: `rlm-mcp holds, chunks, searches, and annotates document corpora on
behalf of language-model clients over the Model Context Protocol.

Run 'rlm-mcp serve' to start the stdio server.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("rlm-mcp version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: <data_dir>/config.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
