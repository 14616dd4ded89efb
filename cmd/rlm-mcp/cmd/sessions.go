package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adrianwedd/rlm-mcp/internal/config"
	"github.com/adrianwedd/rlm-mcp/internal/store"
)

func newSessionsCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			st, err := store.NewSQLiteStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if sessionID != "" {
				return printSession(cmd.Context(), cmd, st, sessionID)
			}
			return fmt.Errorf("pass --session to inspect a session")
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to inspect")
	return cmd
}

func printSession(ctx context.Context, cmd *cobra.Command, st store.Store, sessionID string) error {
	session, err := st.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	docs, err := st.CountDocuments(ctx, sessionID)
	if err != nil {
		return err
	}
	spans, err := st.CountSpans(ctx, sessionID)
	if err != nil {
		return err
	}
	artifacts, err := st.CountArtifacts(ctx, sessionID)
	if err != nil {
		return err
	}
	stats, err := st.GetSessionStats(ctx, sessionID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", session.ID)
	if session.Name != "" {
		fmt.Fprintf(w, "Name:\t%s\n", session.Name)
	}
	fmt.Fprintf(w, "Status:\t%s\n", session.Status)
	fmt.Fprintf(w, "Tool calls:\t%d/%d\n", session.ToolCallsUsed, session.Config.MaxToolCalls)
	fmt.Fprintf(w, "Documents:\t%d (%d chars, ~%d tokens)\n", docs, stats.TotalChars, stats.TotalTokensEst)
	fmt.Fprintf(w, "Spans:\t%d\n", spans)
	fmt.Fprintf(w, "Artifacts:\t%d\n", artifacts)
	return w.Flush()
}
