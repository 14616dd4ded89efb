package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCmd()

	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "sessions", "doctor", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestVersionCmd_PrintsVersion(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "rlm-mcp")
}

func TestVersionCmd_JSON(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--json"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"go_version"`)
}

func TestDoctorCmd_FreshDataDir(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("RLM_MCP_DATA_DIR", dataDir)

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)

	// Doctor on a never-initialized dir reports the missing pieces
	// without panicking.
	root.SetArgs([]string{"doctor"})
	err := root.Execute()
	assert.Error(t, err)
	assert.Contains(t, out.String(), "data dir")
}
