package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adrianwedd/rlm-mcp/internal/config"
	"github.com/adrianwedd/rlm-mcp/internal/store"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check data directory health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ok := true

			check := func(label string, err error) {
				if err != nil {
					ok = false
					fmt.Fprintf(out, "✗ %s: %v\n", label, err)
				} else {
					fmt.Fprintf(out, "✓ %s\n", label)
				}
			}

			check("data dir", dirExists(cfg.DataDir))
			check("blob dir", dirExists(cfg.BlobDir))
			check("index dir", dirExists(cfg.IndexDir))

			// Opening the store runs migrations and the schema
			// version guard.
			st, err := store.NewSQLiteStore(cfg.DatabasePath)
			check("metadata store", err)
			if err == nil {
				_ = st.Close()
			}

			// Leftover temp files from crashed atomic writes are safe
			// to report and ignore.
			stragglers, _ := filepath.Glob(filepath.Join(cfg.IndexDir, "*", "*.tmp"))
			if len(stragglers) > 0 {
				fmt.Fprintf(out, "! %d stale index temp files (safe to delete)\n", len(stragglers))
			}

			if !ok {
				return fmt.Errorf("doctor found problems")
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}

func dirExists(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	return nil
}
