// Package store persists sessions, documents, spans, artifacts, and
// traces in a single-file SQLite database (modernc.org/sqlite, no CGO).
package store

import (
	"context"

	"github.com/adrianwedd/rlm-mcp/internal/model"
)

// DocFingerprint pairs a document id with its content hash; the ordered
// set for a session feeds the index staleness fingerprint.
type DocFingerprint struct {
	DocID       string
	ContentHash string
}

// SessionStats aggregates document sizes for a session.
type SessionStats struct {
	TotalChars     int
	TotalTokensEst int
}

// Store is the typed metadata store contract.
type Store interface {
	// Session operations.
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	UpdateSession(ctx context.Context, session *model.Session) error

	// IncrementToolCalls atomically bumps the counter and returns the
	// post-increment value. Two concurrent callers never observe the
	// same value.
	IncrementToolCalls(ctx context.Context, sessionID string) (int, error)

	// TryIncrementToolCalls is the race-free budget primitive: when
	// used < max it increments and returns (true, used+1); otherwise it
	// returns (false, used) without modifying the row.
	TryIncrementToolCalls(ctx context.Context, sessionID string, max int) (bool, int, error)

	// Document operations.
	CreateDocument(ctx context.Context, doc *model.Document) error
	CreateDocumentsBatch(ctx context.Context, docs []*model.Document) error
	GetDocument(ctx context.Context, docID string) (*model.Document, error)
	GetDocuments(ctx context.Context, sessionID string, limit, offset int) ([]*model.Document, error)
	CountDocuments(ctx context.Context, sessionID string) (int, error)
	GetSessionStats(ctx context.Context, sessionID string) (*SessionStats, error)
	GetDocumentFingerprints(ctx context.Context, sessionID string) ([]DocFingerprint, error)

	// Span operations.
	CreateSpan(ctx context.Context, span *model.Span) error
	GetSpan(ctx context.Context, spanID string) (*model.Span, error)
	GetSpansByDocument(ctx context.Context, docID string) ([]*model.Span, error)
	CountSpans(ctx context.Context, sessionID string) (int, error)
	CountSpansForDocument(ctx context.Context, docID string) (int, error)

	// Artifact operations.
	CreateArtifact(ctx context.Context, artifact *model.Artifact) error
	GetArtifact(ctx context.Context, artifactID string) (*model.Artifact, error)
	GetArtifacts(ctx context.Context, sessionID, spanID, artifactType string) ([]*model.Artifact, error)
	CountArtifacts(ctx context.Context, sessionID string) (int, error)

	// Trace operations.
	CreateTrace(ctx context.Context, trace *model.TraceEntry) error
	GetTraces(ctx context.Context, sessionID string) ([]*model.TraceEntry, error)

	// Lifecycle.
	Close() error
}
