package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/model"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Verify interface implementation at compile time.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and runs
// pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer prevents SQLITE_BUSY under concurrent tool calls;
	// the atomic increment relies on statement-level serialization.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	return string(data), nil
}

// --- Session operations ---

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *model.Session) error {
	cfg, err := marshalJSON(session.Config)
	if err != nil {
		return err
	}
	var name any
	if session.Name != "" {
		name = session.Name
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, status, config, created_at, tool_calls_used)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, name, string(session.Status), cfg,
		encodeTime(session.CreatedAt), session.ToolCallsUsed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession fetches a session by id, or a session_not_found error.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, status, config, created_at, closed_at, tool_calls_used FROM sessions WHERE id = ?",
		sessionID,
	)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*model.Session, error) {
	var (
		session   model.Session
		name      sql.NullString
		status    string
		cfg       string
		createdAt string
		closedAt  sql.NullString
	)
	err := row.Scan(&session.ID, &name, &status, &cfg, &createdAt, &closedAt, &session.ToolCallsUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	session.Name = name.String
	session.Status = model.SessionStatus(status)
	if err := json.Unmarshal([]byte(cfg), &session.Config); err != nil {
		return nil, fmt.Errorf("failed to decode session config: %w", err)
	}
	if session.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to decode created_at: %w", err)
	}
	if closedAt.Valid {
		t, err := decodeTime(closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decode closed_at: %w", err)
		}
		session.ClosedAt = &t
	}
	return &session, nil
}

// UpdateSession performs a full-row update.
func (s *SQLiteStore) UpdateSession(ctx context.Context, session *model.Session) error {
	cfg, err := marshalJSON(session.Config)
	if err != nil {
		return err
	}
	var name, closedAt any
	if session.Name != "" {
		name = session.Name
	}
	if session.ClosedAt != nil {
		closedAt = encodeTime(*session.ClosedAt)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET name = ?, status = ?, config = ?, closed_at = ?, tool_calls_used = ?
		WHERE id = ?`,
		name, string(session.Status), cfg, closedAt, session.ToolCallsUsed, session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rlmerrors.SessionNotFound(session.ID)
	}
	return nil
}

// IncrementToolCalls atomically bumps the counter via UPDATE..RETURNING.
func (s *SQLiteStore) IncrementToolCalls(ctx context.Context, sessionID string) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx,
		"UPDATE sessions SET tool_calls_used = tool_calls_used + 1 WHERE id = ? RETURNING tool_calls_used",
		sessionID,
	).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, rlmerrors.SessionNotFound(sessionID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment tool calls: %w", err)
	}
	return used, nil
}

// TryIncrementToolCalls is the conditional variant: the WHERE clause
// carries the budget check so the read-modify-write is one statement.
func (s *SQLiteStore) TryIncrementToolCalls(ctx context.Context, sessionID string, max int) (bool, int, error) {
	var used int
	err := s.db.QueryRowContext(ctx, `
		UPDATE sessions SET tool_calls_used = tool_calls_used + 1
		WHERE id = ? AND tool_calls_used < ?
		RETURNING tool_calls_used`,
		sessionID, max,
	).Scan(&used)
	if err == nil {
		return true, used, nil
	}
	if err != sql.ErrNoRows {
		return false, 0, fmt.Errorf("failed to reserve tool call: %w", err)
	}

	// Denied: distinguish "missing session" from "budget exhausted".
	err = s.db.QueryRowContext(ctx,
		"SELECT tool_calls_used FROM sessions WHERE id = ?", sessionID,
	).Scan(&used)
	if err == sql.ErrNoRows {
		return false, 0, rlmerrors.SessionNotFound(sessionID)
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read tool calls: %w", err)
	}
	return false, used, nil
}

// --- Document operations ---

func insertDocument(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, doc *model.Document) error {
	source, err := marshalJSON(doc.Source)
	if err != nil {
		return err
	}
	var metadata any
	if len(doc.Metadata) > 0 {
		metadata, err = marshalJSON(doc.Metadata)
		if err != nil {
			return err
		}
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO documents (id, session_id, content_hash, source, length_chars, length_tokens_est, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SessionID, doc.ContentHash, source,
		doc.LengthChars, doc.LengthTokensEst, metadata, encodeTime(doc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// CreateDocument inserts a single document.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	return insertDocument(ctx, s.db, doc)
}

// CreateDocumentsBatch inserts all documents in one transaction.
func (s *SQLiteStore) CreateDocumentsBatch(ctx context.Context, docs []*model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch insert: %w", err)
	}
	for _, doc := range docs {
		if err := insertDocument(ctx, tx, doc); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch insert: %w", err)
	}
	return nil
}

func scanDocument(rows interface{ Scan(...any) error }) (*model.Document, error) {
	var (
		doc       model.Document
		source    string
		metadata  sql.NullString
		createdAt string
	)
	err := rows.Scan(&doc.ID, &doc.SessionID, &doc.ContentHash, &source,
		&doc.LengthChars, &doc.LengthTokensEst, &metadata, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(source), &doc.Source); err != nil {
		return nil, fmt.Errorf("failed to decode document source: %w", err)
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode document metadata: %w", err)
		}
	}
	if doc.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to decode created_at: %w", err)
	}
	return &doc, nil
}

const documentColumns = "id, session_id, content_hash, source, length_chars, length_tokens_est, metadata, created_at"

// GetDocument fetches a document by id, nil when absent.
func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", docID)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// GetDocuments lists session documents in insertion order.
func (s *SQLiteStore) GetDocuments(ctx context.Context, sessionID string, limit, offset int) ([]*model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE session_id = ? ORDER BY created_at, id LIMIT ? OFFSET ?",
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments counts documents in a session.
func (s *SQLiteStore) CountDocuments(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// GetSessionStats sums document sizes for a session.
func (s *SQLiteStore) GetSessionStats(ctx context.Context, sessionID string) (*SessionStats, error) {
	stats := &SessionStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(length_chars), 0), COALESCE(SUM(length_tokens_est), 0)
		FROM documents WHERE session_id = ?`,
		sessionID).Scan(&stats.TotalChars, &stats.TotalTokensEst)
	if err != nil {
		return nil, fmt.Errorf("failed to read session stats: %w", err)
	}
	return stats, nil
}

// GetDocumentFingerprints returns (doc_id, content_hash) pairs ordered
// by doc id, the input to the index staleness fingerprint.
func (s *SQLiteStore) GetDocumentFingerprints(ctx context.Context, sessionID string) ([]DocFingerprint, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, content_hash FROM documents WHERE session_id = ? ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []DocFingerprint
	for rows.Next() {
		var fp DocFingerprint
		if err := rows.Scan(&fp.DocID, &fp.ContentHash); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

// --- Span operations ---

// CreateSpan inserts a span.
func (s *SQLiteStore) CreateSpan(ctx context.Context, span *model.Span) error {
	strategy, err := marshalJSON(span.Strategy)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO spans (id, document_id, start_offset, end_offset, content_hash, strategy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		span.ID, span.DocumentID, span.StartOffset, span.EndOffset,
		span.ContentHash, strategy, encodeTime(span.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert span: %w", err)
	}
	return nil
}

func scanSpan(rows interface{ Scan(...any) error }) (*model.Span, error) {
	var (
		span      model.Span
		strategy  string
		createdAt string
	)
	err := rows.Scan(&span.ID, &span.DocumentID, &span.StartOffset, &span.EndOffset,
		&span.ContentHash, &strategy, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(strategy), &span.Strategy); err != nil {
		return nil, fmt.Errorf("failed to decode span strategy: %w", err)
	}
	if span.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to decode created_at: %w", err)
	}
	return &span, nil
}

const spanColumns = "id, document_id, start_offset, end_offset, content_hash, strategy, created_at"

// GetSpan fetches a span by id, nil when absent.
func (s *SQLiteStore) GetSpan(ctx context.Context, spanID string) (*model.Span, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+spanColumns+" FROM spans WHERE id = ?", spanID)
	span, err := scanSpan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get span: %w", err)
	}
	return span, nil
}

// GetSpansByDocument lists a document's spans ordered by start offset.
func (s *SQLiteStore) GetSpansByDocument(ctx context.Context, docID string) ([]*model.Span, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+spanColumns+" FROM spans WHERE document_id = ? ORDER BY start_offset, id", docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spans: %w", err)
	}
	defer rows.Close()

	var spans []*model.Span
	for rows.Next() {
		span, err := scanSpan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

// CountSpans counts spans across all documents of a session.
func (s *SQLiteStore) CountSpans(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM spans sp
		JOIN documents d ON sp.document_id = d.id
		WHERE d.session_id = ?`,
		sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count spans: %w", err)
	}
	return count, nil
}

// CountSpansForDocument counts spans for one document.
func (s *SQLiteStore) CountSpansForDocument(ctx context.Context, docID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM spans WHERE document_id = ?", docID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count spans: %w", err)
	}
	return count, nil
}

// --- Artifact operations ---

// CreateArtifact inserts an artifact.
func (s *SQLiteStore) CreateArtifact(ctx context.Context, artifact *model.Artifact) error {
	content, err := marshalJSON(artifact.Content)
	if err != nil {
		return err
	}
	var spanID, provenance any
	if artifact.SpanID != "" {
		spanID = artifact.SpanID
	}
	if artifact.Provenance != nil {
		provenance, err = marshalJSON(artifact.Provenance)
		if err != nil {
			return err
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, session_id, span_id, type, content, provenance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID, artifact.SessionID, spanID, artifact.Type,
		content, provenance, encodeTime(artifact.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}
	return nil
}

func scanArtifact(rows interface{ Scan(...any) error }) (*model.Artifact, error) {
	var (
		artifact   model.Artifact
		spanID     sql.NullString
		content    string
		provenance sql.NullString
		createdAt  string
	)
	err := rows.Scan(&artifact.ID, &artifact.SessionID, &spanID, &artifact.Type,
		&content, &provenance, &createdAt)
	if err != nil {
		return nil, err
	}
	artifact.SpanID = spanID.String
	if err := json.Unmarshal([]byte(content), &artifact.Content); err != nil {
		return nil, fmt.Errorf("failed to decode artifact content: %w", err)
	}
	if provenance.Valid {
		artifact.Provenance = &model.ArtifactProvenance{}
		if err := json.Unmarshal([]byte(provenance.String), artifact.Provenance); err != nil {
			return nil, fmt.Errorf("failed to decode artifact provenance: %w", err)
		}
	}
	if artifact.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to decode created_at: %w", err)
	}
	return &artifact, nil
}

const artifactColumns = "id, session_id, span_id, type, content, provenance, created_at"

// GetArtifact fetches an artifact by id, nil when absent.
func (s *SQLiteStore) GetArtifact(ctx context.Context, artifactID string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+artifactColumns+" FROM artifacts WHERE id = ?", artifactID)
	artifact, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return artifact, nil
}

// GetArtifacts lists artifacts with optional span and type filters.
func (s *SQLiteStore) GetArtifacts(ctx context.Context, sessionID, spanID, artifactType string) ([]*model.Artifact, error) {
	query := "SELECT " + artifactColumns + " FROM artifacts WHERE session_id = ?"
	args := []any{sessionID}
	if spanID != "" {
		query += " AND span_id = ?"
		args = append(args, spanID)
	}
	if artifactType != "" {
		query += " AND type = ?"
		args = append(args, artifactType)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*model.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

// CountArtifacts counts artifacts in a session.
func (s *SQLiteStore) CountArtifacts(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM artifacts WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count artifacts: %w", err)
	}
	return count, nil
}

// --- Trace operations ---

// CreateTrace appends a trace entry.
func (s *SQLiteStore) CreateTrace(ctx context.Context, trace *model.TraceEntry) error {
	input, err := marshalJSON(trace.Input)
	if err != nil {
		return err
	}
	output, err := marshalJSON(trace.Output)
	if err != nil {
		return err
	}
	var clientReported any
	if trace.ClientReported != nil {
		clientReported, err = marshalJSON(trace.ClientReported)
		if err != nil {
			return err
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO traces (id, session_id, timestamp, operation, input, output, duration_ms, client_reported)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trace.ID, trace.SessionID, encodeTime(trace.Timestamp), trace.Operation,
		input, output, trace.DurationMS, clientReported,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trace: %w", err)
	}
	return nil
}

// GetTraces lists a session's traces ordered by timestamp ascending.
func (s *SQLiteStore) GetTraces(ctx context.Context, sessionID string) ([]*model.TraceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, timestamp, operation, input, output, duration_ms, client_reported
		FROM traces WHERE session_id = ? ORDER BY timestamp, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	defer rows.Close()

	var traces []*model.TraceEntry
	for rows.Next() {
		var (
			trace          model.TraceEntry
			timestamp      string
			input, output  string
			clientReported sql.NullString
		)
		if err := rows.Scan(&trace.ID, &trace.SessionID, &timestamp, &trace.Operation,
			&input, &output, &trace.DurationMS, &clientReported); err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		if trace.Timestamp, err = decodeTime(timestamp); err != nil {
			return nil, fmt.Errorf("failed to decode timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(input), &trace.Input); err != nil {
			return nil, fmt.Errorf("failed to decode trace input: %w", err)
		}
		if err := json.Unmarshal([]byte(output), &trace.Output); err != nil {
			return nil, fmt.Errorf("failed to decode trace output: %w", err)
		}
		if clientReported.Valid {
			if err := json.Unmarshal([]byte(clientReported.String), &trace.ClientReported); err != nil {
				return nil, fmt.Errorf("failed to decode client_reported: %w", err)
			}
		}
		traces = append(traces, &trace)
	}
	return traces, rows.Err()
}
