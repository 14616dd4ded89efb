package index

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianwedd/rlm-mcp/internal/store"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()
	p, err := NewPersistence(filepath.Join(t.TempDir(), "indexes"), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return p
}

func sampleIndex() (*BM25, Metadata) {
	idx := NewBM25()
	idx.AddDocument("doc1", "the quick brown fox")
	idx.AddDocument("doc2", "python tutorial for beginners")
	idx.Build()
	meta := Metadata{
		DocCount:       2,
		DocFingerprint: "abc123",
		TokenizerName:  TokenizerName,
	}
	return idx, meta
}

func TestPersistence_SaveLoadRoundTrip(t *testing.T) {
	p := newTestPersistence(t)
	idx, meta := sampleIndex()

	require.NoError(t, p.Save("session-1", idx, meta))

	loaded, loadedMeta, err := p.Load("session-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.NotNil(t, loadedMeta)

	// An equivalent index produces the same top-k for the same query.
	want := idx.Search("quick fox", 5)
	got := loaded.Search("quick fox", 5)
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.Equal(t, want[i].DocID, got[i].DocID)
		assert.InDelta(t, want[i].Score, got[i].Score, 1e-12)
	}
	assert.True(t, meta.Equal(*loadedMeta))
}

func TestPersistence_LoadAbsent(t *testing.T) {
	p := newTestPersistence(t)

	idx, meta, err := p.Load("never-saved")
	require.NoError(t, err)
	assert.Nil(t, idx)
	assert.Nil(t, meta)
}

func TestPersistence_CorruptedIndexTreatedAsAbsent(t *testing.T) {
	p := newTestPersistence(t)
	idx, meta := sampleIndex()
	require.NoError(t, p.Save("session-1", idx, meta))

	// Truncate the index file to simulate a crashed write.
	indexPath := filepath.Join(p.SessionDir("session-1"), "index.bin")
	require.NoError(t, os.WriteFile(indexPath, []byte("garbage"), 0o644))

	loaded, loadedMeta, err := p.Load("session-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.Nil(t, loadedMeta)

	// The corrupted directory was removed so the rebuild starts clean.
	_, statErr := os.Stat(p.SessionDir("session-1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPersistence_NoTempFilesAfterSave(t *testing.T) {
	p := newTestPersistence(t)
	idx, meta := sampleIndex()
	require.NoError(t, p.Save("session-1", idx, meta))

	stragglers, err := filepath.Glob(filepath.Join(p.SessionDir("session-1"), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, stragglers)
}

func TestPersistence_Invalidate(t *testing.T) {
	p := newTestPersistence(t)
	idx, meta := sampleIndex()
	require.NoError(t, p.Save("session-1", idx, meta))
	require.True(t, p.Exists("session-1"))

	p.Invalidate("session-1")

	assert.False(t, p.Exists("session-1"))
}

func TestMetadata_Staleness(t *testing.T) {
	base := Metadata{DocCount: 2, DocFingerprint: "fp", TokenizerName: TokenizerName}

	assert.True(t, base.Equal(base))
	assert.False(t, base.Equal(Metadata{DocCount: 3, DocFingerprint: "fp", TokenizerName: TokenizerName}))
	assert.False(t, base.Equal(Metadata{DocCount: 2, DocFingerprint: "other", TokenizerName: TokenizerName}))
	assert.False(t, base.Equal(Metadata{DocCount: 2, DocFingerprint: "fp", TokenizerName: "simple-v2"}))
}

func TestComputeDocFingerprint_OrderIndependent(t *testing.T) {
	a := []store.DocFingerprint{
		{DocID: "doc-a", ContentHash: "hash1"},
		{DocID: "doc-b", ContentHash: "hash2"},
	}
	b := []store.DocFingerprint{
		{DocID: "doc-b", ContentHash: "hash2"},
		{DocID: "doc-a", ContentHash: "hash1"},
	}

	// The fingerprint is a pure function of the multiset of pairs.
	assert.Equal(t, ComputeDocFingerprint(a), ComputeDocFingerprint(b))
}

func TestComputeDocFingerprint_SensitiveToContentChange(t *testing.T) {
	a := []store.DocFingerprint{{DocID: "doc-a", ContentHash: "hash1"}}
	b := []store.DocFingerprint{{DocID: "doc-a", ContentHash: "hash2"}}

	assert.NotEqual(t, ComputeDocFingerprint(a), ComputeDocFingerprint(b))
}
