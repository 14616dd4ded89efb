// Package blob implements the content-addressed blob store.
//
// Layout: {root}/{hash[:2]}/{hash}. Content is keyed by the SHA-256 hex
// of its UTF-8 bytes, so identical content loaded by different sessions
// shares a single file and writes are idempotent.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/text"
)

// Store is a content-addressed blob store rooted at a directory.
type Store struct {
	root string
}

// NewStore creates the store, making the root directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob dir %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Hash computes the SHA-256 hex of content without storing it.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (s *Store) path(contentHash string) string {
	return filepath.Join(s.root, contentHash[:2], contentHash)
}

// Put stores content and returns its hash. Writing is skipped when the
// target file already exists (content-addressed = idempotent), so
// concurrent Puts of the same content are safe.
func (s *Store) Put(content string) (string, error) {
	contentHash := Hash(content)
	blobPath := s.path(contentHash)

	if _, err := os.Stat(blobPath); err == nil {
		return contentHash, nil
	}

	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return "", rlmerrors.Wrap(rlmerrors.KindStorage, "failed to create blob shard dir", err)
	}

	// Write-temp-then-rename so a crashed write never leaves a partial
	// blob under the content address.
	tmp, err := os.CreateTemp(filepath.Dir(blobPath), contentHash+".tmp*")
	if err != nil {
		return "", rlmerrors.Wrap(rlmerrors.KindStorage, "failed to create blob temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", rlmerrors.Wrap(rlmerrors.KindStorage, "failed to write blob", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", rlmerrors.Wrap(rlmerrors.KindStorage, "failed to close blob temp file", err)
	}
	if err := os.Rename(tmpPath, blobPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", rlmerrors.Wrap(rlmerrors.KindStorage, "failed to finalize blob", err)
	}

	return contentHash, nil
}

// Get retrieves content by hash. Returns a content_missing error when
// the blob is absent.
func (s *Store) Get(contentHash string) (string, error) {
	if len(contentHash) < 2 {
		return "", rlmerrors.ContentMissing(contentHash)
	}
	data, err := os.ReadFile(s.path(contentHash))
	if os.IsNotExist(err) {
		return "", rlmerrors.ContentMissing(contentHash)
	}
	if err != nil {
		return "", rlmerrors.Wrap(rlmerrors.KindStorage, "failed to read blob", err).
			WithDetail("content_hash", contentHash)
	}
	return string(data), nil
}

// Exists reports whether content with the given hash is stored.
func (s *Store) Exists(contentHash string) bool {
	if len(contentHash) < 2 {
		return false
	}
	_, err := os.Stat(s.path(contentHash))
	return err == nil
}

// Delete removes a blob. Blobs may be referenced by multiple sessions,
// so this exists for out-of-band cleanup only.
func (s *Store) Delete(contentHash string) (bool, error) {
	if len(contentHash) < 2 {
		return false, nil
	}
	err := os.Remove(s.path(contentHash))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, rlmerrors.Wrap(rlmerrors.KindStorage, "failed to delete blob", err)
	}
	return true, nil
}

// GetSlice returns the [start, end) code-point slice of the content.
// end == -1 means "to the end of the content".
func (s *Store) GetSlice(contentHash string, start, end int) (string, error) {
	content, err := s.Get(contentHash)
	if err != nil {
		return "", err
	}
	return text.Slice(content, start, end), nil
}
