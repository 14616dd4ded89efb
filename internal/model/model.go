// Package model defines the core entities shared across the server:
// sessions, documents, spans, artifacts, and trace entries.
//
// Identifier semantics:
//   - Session, document, span, artifact, and trace ids are opaque
//     session-local UUID strings generated at creation.
//   - content_hash is the 64-hex SHA-256 of UTF-8 content. It is global
//     and the only cross-session dedup key (blob store address).
package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the session lifecycle state.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusExported  SessionStatus = "exported"
)

// NewID generates a new opaque identifier (UUIDv4).
func NewID() string {
	return uuid.NewString()
}

// ModelHints is advisory metadata for client subcall decisions.
type ModelHints struct {
	RootModel    string `json:"root_model,omitempty" yaml:"root_model,omitempty"`
	SubcallModel string `json:"subcall_model,omitempty" yaml:"subcall_model,omitempty"`
	BulkModel    string `json:"bulk_model,omitempty" yaml:"bulk_model,omitempty"`
}

// SessionConfig holds per-session limits and caps.
type SessionConfig struct {
	MaxToolCalls        int         `json:"max_tool_calls"`
	MaxCharsPerResponse int         `json:"max_chars_per_response"`
	MaxCharsPerPeek     int         `json:"max_chars_per_peek"`
	ChunkCacheEnabled   bool        `json:"chunk_cache_enabled"`
	ModelHints          *ModelHints `json:"model_hints,omitempty"`
}

// Session is a bounded workspace with a budget, caps, a document set,
// derived spans and artifacts, and a trace log.
type Session struct {
	ID            string        `json:"session_id"`
	Name          string        `json:"name,omitempty"`
	Status        SessionStatus `json:"status"`
	Config        SessionConfig `json:"config"`
	CreatedAt     time.Time     `json:"created_at"`
	ClosedAt      *time.Time    `json:"closed_at,omitempty"`
	ToolCallsUsed int           `json:"tool_calls_used"`
}

// DocumentSource describes where a document came from.
type DocumentSource struct {
	Type string `json:"type"` // inline, file, glob, directory, url
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Label returns the human-facing source label used in tool responses.
func (s DocumentSource) Label() string {
	switch {
	case s.Path != "":
		return s.Path
	case s.URL != "":
		return s.URL
	default:
		return "inline"
	}
}

// Document is an immutable record of content loaded into a session.
// The content itself lives in the blob store under ContentHash.
type Document struct {
	ID              string            `json:"doc_id"`
	SessionID       string            `json:"session_id"`
	ContentHash     string            `json:"content_hash"`
	Source          DocumentSource    `json:"source"`
	LengthChars     int               `json:"length_chars"`
	LengthTokensEst int               `json:"length_tokens_est"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ChunkStrategy describes how a document was (or should be) chunked.
// Stored verbatim with every span; exact equality against a requested
// strategy is the chunk-cache key.
type ChunkStrategy struct {
	Type      string `json:"type"` // fixed, lines, delimiter, manual
	ChunkSize int    `json:"chunk_size,omitempty"`
	LineCount int    `json:"line_count,omitempty"`
	Overlap   int    `json:"overlap,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
	MaxChunks int    `json:"max_chunks,omitempty"`
}

// SpanRef is a half-open character range inside one document.
type SpanRef struct {
	DocID string `json:"doc_id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Span is a persisted [start, end) character range over a document,
// with the hash of the referenced slice and the strategy that made it.
type Span struct {
	ID          string        `json:"span_id"`
	DocumentID  string        `json:"document_id"`
	StartOffset int           `json:"start_offset"`
	EndOffset   int           `json:"end_offset"`
	ContentHash string        `json:"content_hash"`
	Strategy    ChunkStrategy `json:"strategy"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Ref converts the span to a SpanRef.
func (s *Span) Ref() SpanRef {
	return SpanRef{DocID: s.DocumentID, Start: s.StartOffset, End: s.EndOffset}
}

// ArtifactProvenance records how an artifact was produced.
type ArtifactProvenance struct {
	Model      string    `json:"model,omitempty"`
	PromptHash string    `json:"prompt_hash,omitempty"`
	Tool       string    `json:"tool,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Artifact is a derived, structured record optionally bound to a span.
// An artifact with no SpanID is session-level.
type Artifact struct {
	ID         string              `json:"artifact_id"`
	SessionID  string              `json:"session_id"`
	SpanID     string              `json:"span_id,omitempty"`
	Type       string              `json:"type"`
	Content    map[string]any      `json:"content"`
	Provenance *ArtifactProvenance `json:"provenance,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// TraceEntry is an append-only record of one tool call.
type TraceEntry struct {
	ID             string         `json:"trace_id"`
	SessionID      string         `json:"session_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Operation      string         `json:"operation"` // canonical rlm.<category>.<action>
	Input          map[string]any `json:"input"`
	Output         map[string]any `json:"output"`
	DurationMS     int64          `json:"duration_ms"`
	ClientReported map[string]any `json:"client_reported,omitempty"`
}

// SessionSummary is returned on session close.
type SessionSummary struct {
	Documents int `json:"documents"`
	Spans     int `json:"spans"`
	Artifacts int `json:"artifacts"`
	ToolCalls int `json:"tool_calls"`
}
