package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/blob"
	"github.com/adrianwedd/rlm-mcp/internal/model"
	"github.com/adrianwedd/rlm-mcp/internal/text"
)

// SourceInput is one docs.load source descriptor.
type SourceInput struct {
	Type           string `json:"type" jsonschema:"source kind: inline, file, glob, or directory"`
	Content        string `json:"content,omitempty" jsonschema:"document text for inline sources"`
	Path           string `json:"path,omitempty" jsonschema:"file path, glob pattern, or directory"`
	TokenCountHint int    `json:"token_count_hint,omitempty" jsonschema:"client-provided token count override"`
	Recursive      bool   `json:"recursive,omitempty" jsonschema:"recurse into subdirectories for glob and directory sources"`
	IncludePattern string `json:"include_pattern,omitempty" jsonschema:"regex that matched paths must satisfy"`
	ExcludePattern string `json:"exclude_pattern,omitempty" jsonschema:"regex that excludes matched paths"`
}

// DocsLoadInput is the input for rlm.docs.load.
type DocsLoadInput struct {
	SessionID string        `json:"session_id" jsonschema:"session to load into"`
	Sources   []SourceInput `json:"sources" jsonschema:"source descriptors to load"`
}

// LoadedDocument describes one loaded document in the response.
type LoadedDocument struct {
	DocID           string `json:"doc_id"`
	ContentHash     string `json:"content_hash"`
	Source          string `json:"source"`
	LengthChars     int    `json:"length_chars"`
	LengthTokensEst int    `json:"length_tokens_est"`
}

// DocsLoadOutput is the output of rlm.docs.load.
type DocsLoadOutput struct {
	Loaded         []LoadedDocument `json:"loaded"`
	Errors         []string         `json:"errors"`
	TotalChars     int              `json:"total_chars"`
	TotalTokensEst int              `json:"total_tokens_est"`
}

// DocsListInput is the input for rlm.docs.list.
type DocsListInput struct {
	SessionID string `json:"session_id" jsonschema:"session to query"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum documents to return, default 100"`
	Offset    int    `json:"offset,omitempty" jsonschema:"pagination offset"`
}

// DocumentInfo is one docs.list entry.
type DocumentInfo struct {
	DocID           string `json:"doc_id"`
	ContentHash     string `json:"content_hash"`
	Source          string `json:"source"`
	LengthChars     int    `json:"length_chars"`
	LengthTokensEst int    `json:"length_tokens_est"`
	SpanCount       int    `json:"span_count"`
}

// DocsListOutput is the output of rlm.docs.list.
type DocsListOutput struct {
	Documents []DocumentInfo `json:"documents"`
	Total     int            `json:"total"`
	HasMore   bool           `json:"has_more"`
}

// DocsPeekInput is the input for rlm.docs.peek.
type DocsPeekInput struct {
	SessionID string `json:"session_id" jsonschema:"session containing the document"`
	DocID     string `json:"doc_id" jsonschema:"document to peek"`
	Start     int    `json:"start,omitempty" jsonschema:"start offset in characters, inclusive"`
	End       int    `json:"end,omitempty" jsonschema:"end offset in characters, exclusive; -1 or omitted means end of document"`
}

// DocsPeekOutput is the output of rlm.docs.peek.
type DocsPeekOutput struct {
	Content     string        `json:"content"`
	Span        model.SpanRef `json:"span"`
	ContentHash string        `json:"content_hash"`
	Truncated   bool          `json:"truncated"`
	TotalLength int           `json:"total_length"`
}

// LoadDocuments loads a batch of sources. Each failing source records
// an error string; the rest succeed and are inserted in one metadata
// transaction. Any successful load invalidates the session's index.
func (e *Engine) LoadDocuments(ctx context.Context, in DocsLoadInput) (DocsLoadOutput, error) {
	return run(ctx, e, "rlm.docs.load", in.SessionID, toMap(in), func(ctx context.Context) (DocsLoadOutput, error) {
		if _, err := e.requireActiveSession(ctx, in.SessionID); err != nil {
			return DocsLoadOutput{}, err
		}

		// New documents make any existing index stale. Drop both the
		// memory entry and the on-disk directory before loading so the
		// next search sees the new corpus.
		mu := e.sessionLock(in.SessionID)
		mu.Lock()
		e.invalidateIndex(in.SessionID)
		mu.Unlock()

		type sourceResult struct {
			docs []*model.Document
			err  string
		}
		results := make([]sourceResult, len(in.Sources))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.MaxConcurrentLoads)
		for i, source := range in.Sources {
			g.Go(func() error {
				docs, err := e.loadSource(gctx, in.SessionID, source)
				if err != nil {
					results[i] = sourceResult{err: err.Error()}
					return nil
				}
				results[i] = sourceResult{docs: docs}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return DocsLoadOutput{}, err
		}

		out := DocsLoadOutput{Loaded: []LoadedDocument{}, Errors: []string{}}
		var allDocs []*model.Document
		for _, res := range results {
			if res.err != "" {
				out.Errors = append(out.Errors, res.err)
				continue
			}
			allDocs = append(allDocs, res.docs...)
		}

		if err := e.store.CreateDocumentsBatch(ctx, allDocs); err != nil {
			return DocsLoadOutput{}, err
		}

		for _, doc := range allDocs {
			out.Loaded = append(out.Loaded, LoadedDocument{
				DocID:           doc.ID,
				ContentHash:     doc.ContentHash,
				Source:          doc.Source.Label(),
				LengthChars:     doc.LengthChars,
				LengthTokensEst: doc.LengthTokensEst,
			})
			out.TotalChars += doc.LengthChars
			out.TotalTokensEst += doc.LengthTokensEst
		}
		return out, nil
	})
}

// loadSource resolves one source descriptor into documents. The blob
// write happens here; the metadata rows are batch-inserted by the
// caller.
func (e *Engine) loadSource(ctx context.Context, sessionID string, source SourceInput) ([]*model.Document, error) {
	switch source.Type {
	case "inline":
		if source.Content == "" {
			return nil, rlmerrors.New(rlmerrors.KindInvalidInput, "inline source missing content")
		}
		doc, err := e.buildDocument(sessionID, source.Content, model.DocumentSource{Type: "inline"}, source.TokenCountHint, nil)
		if err != nil {
			return nil, err
		}
		return []*model.Document{doc}, nil

	case "file":
		if source.Path == "" {
			return nil, rlmerrors.New(rlmerrors.KindInvalidInput, "file source missing path")
		}
		doc, err := e.loadFile(sessionID, source.Path, source.TokenCountHint)
		if err != nil {
			return nil, err
		}
		return []*model.Document{doc}, nil

	case "glob":
		if source.Path == "" {
			return nil, rlmerrors.New(rlmerrors.KindInvalidInput, "glob source missing path")
		}
		paths, err := expandGlob(source.Path, source.Recursive)
		if err != nil {
			return nil, err
		}
		return e.loadFiles(ctx, sessionID, paths, source)

	case "directory":
		if source.Path == "" {
			return nil, rlmerrors.New(rlmerrors.KindInvalidInput, "directory source missing path")
		}
		paths, err := expandDirectory(source.Path, source.Recursive)
		if err != nil {
			return nil, err
		}
		return e.loadFiles(ctx, sessionID, paths, source)

	default:
		return nil, rlmerrors.Newf(rlmerrors.KindUnknownSource, "unknown source type: %q", source.Type)
	}
}

// loadFiles loads a list of paths, applying include/exclude filters.
// Individual unreadable files are skipped, not fatal.
func (e *Engine) loadFiles(ctx context.Context, sessionID string, paths []string, source SourceInput) ([]*model.Document, error) {
	paths, err := filterPaths(paths, source.IncludePattern, source.ExcludePattern)
	if err != nil {
		return nil, err
	}

	var docs []*model.Document
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := e.loadFile(sessionID, path, source.TokenCountHint)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// loadFile reads a single file into a document, enforcing the
// configured size cap.
func (e *Engine) loadFile(sessionID, path string, tokenHint int) (*model.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, rlmerrors.Wrap(rlmerrors.KindInvalidInput,
			fmt.Sprintf("file not found: %s", path), err)
	}
	maxBytes := int64(e.cfg.MaxFileSizeMB) * 1024 * 1024
	if info.Size() > maxBytes {
		return nil, rlmerrors.Newf(rlmerrors.KindOversizeSource,
			"file too large: %s (%.1fMB > %dMB limit)",
			path, float64(info.Size())/(1024*1024), e.cfg.MaxFileSizeMB)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rlmerrors.Wrap(rlmerrors.KindStorage,
			fmt.Sprintf("failed to read %s", path), err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return e.buildDocument(sessionID, string(data),
		model.DocumentSource{Type: "file", Path: abs},
		tokenHint,
		map[string]string{"filename": filepath.Base(path)})
}

// buildDocument writes the blob and assembles the metadata row.
func (e *Engine) buildDocument(sessionID, content string, source model.DocumentSource, tokenHint int, metadata map[string]string) (*model.Document, error) {
	contentHash, err := e.blobs.Put(content)
	if err != nil {
		return nil, err
	}
	chars := text.Len(content)
	return &model.Document{
		ID:              model.NewID(),
		SessionID:       sessionID,
		ContentHash:     contentHash,
		Source:          source,
		LengthChars:     chars,
		LengthTokensEst: model.EstimateTokens(e.tokens, content, tokenHint),
		Metadata:        metadata,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// expandGlob resolves a glob pattern to file paths. With recursive set,
// the pattern is matched against base names under the current tree.
func expandGlob(pattern string, recursive bool) ([]string, error) {
	if !recursive {
		paths, err := filepath.Glob(pattern)
		if err != nil {
			return nil, rlmerrors.Wrap(rlmerrors.KindInvalidInput, "invalid glob pattern", err)
		}
		return onlyFiles(paths), nil
	}

	var paths []string
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ok, matchErr := filepath.Match(pattern, d.Name())
		if matchErr != nil {
			return matchErr
		}
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, rlmerrors.Wrap(rlmerrors.KindInvalidInput, "invalid glob pattern", err)
	}
	return paths, nil
}

// expandDirectory lists files in a directory, optionally recursive.
func expandDirectory(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, rlmerrors.Wrap(rlmerrors.KindInvalidInput,
			fmt.Sprintf("directory not found: %s", dir), err)
	}
	if !info.IsDir() {
		return nil, rlmerrors.Newf(rlmerrors.KindInvalidInput, "not a directory: %s", dir)
	}

	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, rlmerrors.Wrap(rlmerrors.KindStorage, "failed to read directory", err)
		}
		var paths []string
		for _, entry := range entries {
			if !entry.IsDir() {
				paths = append(paths, filepath.Join(dir, entry.Name()))
			}
		}
		return paths, nil
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, rlmerrors.Wrap(rlmerrors.KindStorage, "failed to walk directory", err)
	}
	return paths, nil
}

func onlyFiles(paths []string) []string {
	var files []string
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			files = append(files, path)
		}
	}
	return files
}

func filterPaths(paths []string, includePattern, excludePattern string) ([]string, error) {
	var include, exclude *regexp.Regexp
	var err error
	if includePattern != "" {
		if include, err = regexp.Compile(includePattern); err != nil {
			return nil, rlmerrors.Wrap(rlmerrors.KindInvalidInput, "invalid include_pattern", err)
		}
	}
	if excludePattern != "" {
		if exclude, err = regexp.Compile(excludePattern); err != nil {
			return nil, rlmerrors.Wrap(rlmerrors.KindInvalidInput, "invalid exclude_pattern", err)
		}
	}

	var filtered []string
	for _, path := range paths {
		if include != nil && !include.MatchString(path) {
			continue
		}
		if exclude != nil && exclude.MatchString(path) {
			continue
		}
		filtered = append(filtered, path)
	}
	return filtered, nil
}

// ListDocuments pages through a session's documents with span counts.
func (e *Engine) ListDocuments(ctx context.Context, in DocsListInput) (DocsListOutput, error) {
	return run(ctx, e, "rlm.docs.list", in.SessionID, toMap(in), func(ctx context.Context) (DocsListOutput, error) {
		if _, err := e.requireSession(ctx, in.SessionID); err != nil {
			return DocsListOutput{}, err
		}

		limit := in.Limit
		if limit <= 0 {
			limit = 100
		}

		// Fetch one extra row to compute has_more without a second count.
		docs, err := e.store.GetDocuments(ctx, in.SessionID, limit+1, in.Offset)
		if err != nil {
			return DocsListOutput{}, err
		}
		hasMore := len(docs) > limit
		if hasMore {
			docs = docs[:limit]
		}

		total, err := e.store.CountDocuments(ctx, in.SessionID)
		if err != nil {
			return DocsListOutput{}, err
		}

		out := DocsListOutput{Documents: []DocumentInfo{}, Total: total, HasMore: hasMore}
		for _, doc := range docs {
			spanCount, err := e.store.CountSpansForDocument(ctx, doc.ID)
			if err != nil {
				return DocsListOutput{}, err
			}
			out.Documents = append(out.Documents, DocumentInfo{
				DocID:           doc.ID,
				ContentHash:     doc.ContentHash,
				Source:          doc.Source.Label(),
				LengthChars:     doc.LengthChars,
				LengthTokensEst: doc.LengthTokensEst,
				SpanCount:       spanCount,
			})
		}
		return out, nil
	})
}

// PeekDocument returns a slice of a document, capped at the session's
// peek limit.
func (e *Engine) PeekDocument(ctx context.Context, in DocsPeekInput) (DocsPeekOutput, error) {
	return run(ctx, e, "rlm.docs.peek", in.SessionID, toMap(in), func(ctx context.Context) (DocsPeekOutput, error) {
		session, err := e.requireSession(ctx, in.SessionID)
		if err != nil {
			return DocsPeekOutput{}, err
		}

		doc, err := e.store.GetDocument(ctx, in.DocID)
		if err != nil {
			return DocsPeekOutput{}, err
		}
		if doc == nil {
			return DocsPeekOutput{}, rlmerrors.DocumentNotFound(in.DocID)
		}
		if doc.SessionID != in.SessionID {
			return DocsPeekOutput{}, rlmerrors.CrossSession("document", in.DocID, in.SessionID)
		}

		end := in.End
		if end == 0 {
			end = -1
		}
		content, err := e.blobs.GetSlice(doc.ContentHash, in.Start, end)
		if err != nil {
			return DocsPeekOutput{}, err
		}

		content, truncated := truncate(content, charLimit(session, true))

		actualEnd := in.Start + text.Len(content)
		if end != -1 && end < actualEnd {
			actualEnd = end
		}

		return DocsPeekOutput{
			Content:     content,
			Span:        model.SpanRef{DocID: in.DocID, Start: in.Start, End: actualEnd},
			ContentHash: blob.Hash(content),
			Truncated:   truncated,
			TotalLength: doc.LengthChars,
		}, nil
	})
}
