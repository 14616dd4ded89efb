package index

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrianwedd/rlm-mcp/internal/store"
)

// Persisted file names inside each session's index directory.
const (
	indexFileName    = "index.bin"
	metadataFileName = "metadata.bin"
)

// Metadata is the fingerprint tuple persisted next to an index. An
// index is stale when any field differs from the current values.
type Metadata struct {
	DocCount       int
	DocFingerprint string
	TokenizerName  string
}

// Equal reports whether two metadata tuples match.
func (m Metadata) Equal(other Metadata) bool {
	return m.DocCount == other.DocCount &&
		m.DocFingerprint == other.DocFingerprint &&
		m.TokenizerName == other.TokenizerName
}

// ComputeDocFingerprint hashes the id-sorted concatenation of all
// content hashes: stable under reordering, sensitive to any content
// change, cheap to recompute.
func ComputeDocFingerprint(fps []store.DocFingerprint) string {
	sorted := make([]store.DocFingerprint, len(fps))
	copy(sorted, fps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DocID < sorted[j].DocID })

	var sb strings.Builder
	for _, fp := range sorted {
		sb.WriteString(fp.ContentHash)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Persistence stores per-session serialized indexes under a root
// directory, with atomic writes and corruption recovery.
type Persistence struct {
	root   string
	logger *slog.Logger
}

// NewPersistence creates the persistence layer rooted at dir.
func NewPersistence(dir string, logger *slog.Logger) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persistence{root: dir, logger: logger.With(slog.String("logger", "rlm_mcp.index"))}, nil
}

// SessionDir returns the index directory for a session.
func (p *Persistence) SessionDir(sessionID string) string {
	return filepath.Join(p.root, sessionID)
}

// Save persists the index and its metadata atomically (temp file +
// fsync + rename). Temp files are removed on partial failure.
func (p *Persistence) Save(sessionID string, idx *BM25, meta Metadata) error {
	dir := p.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session index dir: %w", err)
	}

	indexPath := filepath.Join(dir, indexFileName)
	metadataPath := filepath.Join(dir, metadataFileName)

	if err := writeAtomic(indexPath, idx); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}
	if err := writeAtomic(metadataPath, meta); err != nil {
		// Without metadata the index can never validate as fresh;
		// remove it so the next load sees a clean absence.
		_ = os.Remove(indexPath)
		return fmt.Errorf("failed to persist index metadata: %w", err)
	}

	p.logger.Info("index persisted",
		slog.String("session_id", sessionID),
		slog.Int("doc_count", meta.DocCount),
		slog.String("tokenizer", meta.TokenizerName))
	return nil
}

func writeAtomic(path string, v any) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Load reads a persisted index and its metadata. Returns (nil, nil, nil)
// when no index exists. A corrupted or truncated file is logged, the
// session's index directory is deleted, and absence is returned so the
// engine rebuilds from scratch.
func (p *Persistence) Load(sessionID string) (*BM25, *Metadata, error) {
	dir := p.SessionDir(sessionID)
	indexPath := filepath.Join(dir, indexFileName)
	metadataPath := filepath.Join(dir, metadataFileName)

	if !fileExists(indexPath) || !fileExists(metadataPath) {
		return nil, nil, nil
	}

	// Metadata first: smaller, faster to reject on.
	var meta Metadata
	if err := readGob(metadataPath, &meta); err != nil {
		p.corrupted(sessionID, err)
		return nil, nil, nil
	}

	idx := &BM25{}
	if err := readGob(indexPath, idx); err != nil {
		p.corrupted(sessionID, err)
		return nil, nil, nil
	}

	p.logger.Info("index loaded from disk",
		slog.String("session_id", sessionID),
		slog.Int("doc_count", meta.DocCount))
	return idx, &meta, nil
}

func (p *Persistence) corrupted(sessionID string, err error) {
	p.logger.Warn("corrupted index detected, discarding",
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()))
	p.Invalidate(sessionID)
}

func readGob(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(v)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Exists reports whether a persisted index directory is present.
func (p *Persistence) Exists(sessionID string) bool {
	return fileExists(filepath.Join(p.SessionDir(sessionID), indexFileName))
}

// Invalidate deletes a session's persisted index directory. Called on
// document loads, corruption, and manual invalidation.
func (p *Persistence) Invalidate(sessionID string) {
	dir := p.SessionDir(sessionID)
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("failed to invalidate persisted index",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}
