package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adrianwedd/rlm-mcp/internal/model"
)

// manifestVersion is the export manifest format version.
const manifestVersion = "0.1"

// File is one file in an export tree, relative to the export path.
type File struct {
	Path    string
	Content string
}

// Bundle is a fully assembled export tree.
type Bundle struct {
	Files []File
}

// ContentReader resolves a document's content by hash. Satisfied by the
// blob store.
type ContentReader interface {
	Get(contentHash string) (string, error)
}

// BuildBundle assembles the export tree for a session: manifest.json,
// one JSON file per artifact, a JSONL trace file, and (optionally) one
// text file plus one metadata file per document.
func BuildBundle(session *model.Session, docs []*model.Document, artifacts []*model.Artifact, traces []*model.TraceEntry, blobs ContentReader, includeDocs bool) (*Bundle, error) {
	bundle := &Bundle{}

	manifest := map[string]any{
		"version":     manifestVersion,
		"exported_at": time.Now().UTC().Format(time.RFC3339Nano),
		"session": map[string]any{
			"id":         session.ID,
			"name":       session.Name,
			"config":     session.Config,
			"created_at": session.CreatedAt.Format(time.RFC3339Nano),
			"closed_at":  closedAt(session),
		},
		"documents": documentIndex(docs, includeDocs),
		"artifacts": artifactIndex(artifacts),
		"traces": map[string]any{
			"file":  "traces/trace.jsonl",
			"count": len(traces),
		},
	}
	if err := bundle.addJSON("manifest.json", manifest); err != nil {
		return nil, err
	}

	for _, artifact := range artifacts {
		record := map[string]any{
			"artifact_id": artifact.ID,
			"span_id":     artifact.SpanID,
			"type":        artifact.Type,
			"content":     artifact.Content,
			"provenance":  artifact.Provenance,
			"created_at":  artifact.CreatedAt.Format(time.RFC3339Nano),
		}
		if err := bundle.addJSON("artifacts/"+artifact.ID+".json", record); err != nil {
			return nil, err
		}
	}

	var lines []string
	for _, trace := range traces {
		line, err := json.Marshal(map[string]any{
			"ts":  trace.Timestamp.Format(time.RFC3339Nano),
			"op":  trace.Operation,
			"in":  trace.Input,
			"out": trace.Output,
			"ms":  trace.DurationMS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode trace line: %w", err)
		}
		lines = append(lines, string(line))
	}
	bundle.Files = append(bundle.Files, File{
		Path:    "traces/trace.jsonl",
		Content: strings.Join(lines, "\n"),
	})

	if includeDocs {
		for _, doc := range docs {
			meta := map[string]any{
				"doc_id":       doc.ID,
				"content_hash": doc.ContentHash,
				"source":       doc.Source,
				"length_chars": doc.LengthChars,
				"metadata":     doc.Metadata,
			}
			if err := bundle.addJSON("docs/"+doc.ID+".meta.json", meta); err != nil {
				return nil, err
			}
			content, err := blobs.Get(doc.ContentHash)
			if err != nil {
				// A pruned blob drops the content file; the metadata
				// file still records the document.
				continue
			}
			bundle.Files = append(bundle.Files, File{
				Path:    "docs/" + doc.ID + ".txt",
				Content: content,
			})
		}
	}

	return bundle, nil
}

func (b *Bundle) addJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	b.Files = append(b.Files, File{Path: path, Content: string(data)})
	return nil
}

func closedAt(session *model.Session) any {
	if session.ClosedAt == nil {
		return nil
	}
	return session.ClosedAt.Format(time.RFC3339Nano)
}

func documentIndex(docs []*model.Document, includeDocs bool) []map[string]any {
	index := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		index = append(index, map[string]any{
			"doc_id":       doc.ID,
			"content_hash": doc.ContentHash,
			"source":       doc.Source,
			"length_chars": doc.LengthChars,
			"included":     includeDocs,
		})
	}
	return index
}

func artifactIndex(artifacts []*model.Artifact) []map[string]any {
	index := make([]map[string]any, 0, len(artifacts))
	for _, artifact := range artifacts {
		index = append(index, map[string]any{
			"artifact_id": artifact.ID,
			"file":        "artifacts/" + artifact.ID + ".json",
		})
	}
	return index
}

// RedactBundle applies secret redaction to every file in the bundle,
// returning the total number of redacted occurrences.
func RedactBundle(bundle *Bundle) int {
	total := 0
	for i, file := range bundle.Files {
		redacted, count := Redact(file.Content)
		if count > 0 {
			bundle.Files[i].Content = redacted
			total += count
		}
	}
	return total
}

// DefaultBranch returns the default export branch name for a session:
// rlm/session/<UTC-timestamp>-<session_id[:8]>.
func DefaultBranch(sessionID string, now time.Time) string {
	return fmt.Sprintf("rlm/session/%s-%s", now.UTC().Format("20060102T150405Z"), shortID(sessionID))
}

// DefaultPath returns the default export path for a session:
// .rlm/sessions/<UTC-timestamp>_<session_id[:8]>.
func DefaultPath(sessionID string, now time.Time) string {
	return fmt.Sprintf(".rlm/sessions/%s_%s", now.UTC().Format("20060102T150405Z"), shortID(sessionID))
}

func shortID(sessionID string) string {
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}
