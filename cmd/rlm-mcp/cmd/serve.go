package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/adrianwedd/rlm-mcp/internal/blob"
	"github.com/adrianwedd/rlm-mcp/internal/config"
	"github.com/adrianwedd/rlm-mcp/internal/engine"
	"github.com/adrianwedd/rlm-mcp/internal/export"
	"github.com/adrianwedd/rlm-mcp/internal/index"
	"github.com/adrianwedd/rlm-mcp/internal/lockfile"
	"github.com/adrianwedd/rlm-mcp/internal/logging"
	rlmmcp "github.com/adrianwedd/rlm-mcp/internal/mcp"
	"github.com/adrianwedd/rlm-mcp/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			logger, cleanup, err := logging.Setup(logging.Config{
				Level:         cfg.Logging.Level,
				FilePath:      cfg.Logging.FilePath,
				MaxSizeMB:     cfg.Logging.MaxSizeMB,
				MaxFiles:      cfg.Logging.MaxFiles,
				WriteToStderr: cfg.Logging.WriteToStderr,
			})
			if err != nil {
				return err
			}
			defer cleanup()
			slog.SetDefault(logger)

			// Refuse to share a data directory with another process.
			lock := lockfile.New(cfg.DataDir)
			if err := lock.Acquire(); err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			st, err := store.NewSQLiteStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			blobs, err := blob.NewStore(cfg.BlobDir)
			if err != nil {
				return err
			}
			persist, err := index.NewPersistence(cfg.IndexDir, logger)
			if err != nil {
				return err
			}

			// The uploader is optional: without a token, export fails
			// per-call instead of blocking server start.
			var uploader export.Uploader
			if gh, err := export.NewGitHubUploader(os.Getenv("GITHUB_TOKEN")); err == nil {
				uploader = gh
			} else {
				logger.Warn("GitHub export disabled", slog.String("reason", err.Error()))
			}

			eng, err := engine.New(cfg, st, blobs, persist, logger, uploader)
			if err != nil {
				return err
			}

			server, err := rlmmcp.NewServer(eng, logger)
			if err != nil {
				return err
			}
			return server.Serve(cmd.Context())
		},
	}
}
