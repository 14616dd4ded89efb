package blob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	return store
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	// Given: some content
	content := "hello, blob store"

	// When: storing and retrieving it
	hash, err := store.Put(content)
	require.NoError(t, err)

	got, err := store.Get(hash)
	require.NoError(t, err)

	// Then: the round trip is exact and the hash is 64 hex chars
	assert.Equal(t, content, got)
	assert.Len(t, hash, 64)
}

func TestStore_PutIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	hash1, err := store.Put("same content")
	require.NoError(t, err)
	hash2, err := store.Put("same content")
	require.NoError(t, err)

	assert.Equal(t, hash1, hash2)
}

func TestStore_ShardedLayout(t *testing.T) {
	store := newTestStore(t)

	hash, err := store.Put("sharded")
	require.NoError(t, err)

	// The payload lives at root/hh/<hex64>.
	_, err = os.Stat(filepath.Join(store.root, hash[:2], hash))
	assert.NoError(t, err)
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(Hash("never stored"))

	require.Error(t, err)
	assert.Equal(t, rlmerrors.KindContentMissing, rlmerrors.KindOf(err))
}

func TestStore_HashWithoutWriting(t *testing.T) {
	store := newTestStore(t)

	hash := Hash("not written")

	assert.Len(t, hash, 64)
	assert.False(t, store.Exists(hash))
}

func TestStore_GetSlice(t *testing.T) {
	store := newTestStore(t)
	hash, err := store.Put("0123456789")
	require.NoError(t, err)

	tests := []struct {
		name       string
		start, end int
		want       string
	}{
		{"middle", 2, 5, "234"},
		{"to end with -1", 5, -1, "56789"},
		{"whole", 0, -1, "0123456789"},
		{"clamped end", 8, 100, "89"},
		{"empty", 3, 3, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetSlice(hash, tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_GetSliceCountsCodePoints(t *testing.T) {
	store := newTestStore(t)

	// Multi-byte characters count as one offset unit each.
	hash, err := store.Put("héllo wörld")
	require.NoError(t, err)

	got, err := store.GetSlice(hash, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, "éll", got)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	hash, err := store.Put("deletable")
	require.NoError(t, err)

	deleted, err := store.Delete(hash)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, store.Exists(hash))

	// Deleting again reports false, not an error.
	deleted, err = store.Delete(hash)
	require.NoError(t, err)
	assert.False(t, deleted)
}
