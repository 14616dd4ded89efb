package logging

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

func TestRotatingWriter_AppendsAcrossOpens(t *testing.T) {
	path := t.TempDir() + "/test.log"

	w, err := NewRotatingWriter(path, 10, 3)
	require.NoError(t, err)
	_, err = w.Write([]byte("line one\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := NewRotatingWriter(path, 10, 3)
	require.NoError(t, err)
	_, err = w2.Write([]byte("line two\n"))
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	data, err := readFile(path)
	require.NoError(t, err)
	assert.Contains(t, data, "line one")
	assert.Contains(t, data, "line two")
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	path := t.TempDir() + "/rotate.log"

	// 1MB threshold is the minimum; write past it to force rotation.
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	payload := strings.Repeat("x", 512*1024)
	for range 3 {
		_, err = w.Write([]byte(payload))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	// The rotated file exists alongside the active one.
	_, err = os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
}
