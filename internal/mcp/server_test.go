package mcp

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianwedd/rlm-mcp/internal/blob"
	"github.com/adrianwedd/rlm-mcp/internal/config"
	"github.com/adrianwedd/rlm-mcp/internal/engine"
	"github.com/adrianwedd/rlm-mcp/internal/index"
	"github.com/adrianwedd/rlm-mcp/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dataDir := t.TempDir()
	cfg := config.NewConfig()
	cfg.DataDir = dataDir
	cfg.DatabasePath = filepath.Join(dataDir, "rlm.db")
	cfg.BlobDir = filepath.Join(dataDir, "blobs")
	cfg.IndexDir = filepath.Join(dataDir, "indexes")
	require.NoError(t, cfg.EnsureDirectories())

	logger := slog.New(slog.DiscardHandler)

	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	blobs, err := blob.NewStore(cfg.BlobDir)
	require.NoError(t, err)
	persist, err := index.NewPersistence(cfg.IndexDir, logger)
	require.NoError(t, err)

	eng, err := engine.New(cfg, st, blobs, persist, logger, nil)
	require.NoError(t, err)

	server, err := NewServer(eng, logger)
	require.NoError(t, err)
	return server
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestListTools_CanonicalNames(t *testing.T) {
	server := newTestServer(t)

	tools := server.ListTools()

	// The exact canonical surface, no more, no less.
	want := []string{
		"rlm.session.create",
		"rlm.session.info",
		"rlm.session.close",
		"rlm.docs.load",
		"rlm.docs.list",
		"rlm.docs.peek",
		"rlm.chunk.create",
		"rlm.span.get",
		"rlm.search.query",
		"rlm.artifact.store",
		"rlm.artifact.list",
		"rlm.artifact.get",
		"rlm.export.github",
	}
	require.Len(t, tools, len(want))
	for i, name := range want {
		assert.Equal(t, name, tools[i].Name)
		assert.NotEmpty(t, tools[i].Description)
	}
}

func TestListTools_NamingConvention(t *testing.T) {
	server := newTestServer(t)

	for _, tool := range server.ListTools() {
		parts := strings.Split(tool.Name, ".")
		require.Len(t, parts, 3, "tool %q must be rlm.<category>.<action>", tool.Name)
		assert.Equal(t, "rlm", parts[0])
	}
}

func TestMCPServer_Exposed(t *testing.T) {
	server := newTestServer(t)
	assert.NotNil(t, server.MCPServer())
}
