// Package engine implements the stateful core of the server: session
// lifecycle with atomic budget accounting, per-session concurrency
// control, lazy index management, response-size caps, and the trace log.
//
// Concurrency model: single process, concurrent callers. A per-session
// mutex serializes index build/load/invalidate and session close. The
// tool-call budget is NOT guarded by that mutex; the metadata store's
// atomic conditional increment is the single point of serialization for
// budget checks.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adrianwedd/rlm-mcp/internal/blob"
	"github.com/adrianwedd/rlm-mcp/internal/config"
	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/export"
	"github.com/adrianwedd/rlm-mcp/internal/index"
	"github.com/adrianwedd/rlm-mcp/internal/logging"
	"github.com/adrianwedd/rlm-mcp/internal/model"
	"github.com/adrianwedd/rlm-mcp/internal/store"
	"github.com/adrianwedd/rlm-mcp/internal/text"
)

// indexBuildLimit caps how many documents a single index build will
// load. Sessions past the cap still answer queries from a partial
// index; the engine never fails closed because an index is too large.
const indexBuildLimit = 100_000

// Engine is the integration point between the metadata store, blob
// store, index persistence, and the tool surface.
type Engine struct {
	cfg      *config.Config
	store    store.Store
	blobs    *blob.Store
	persist  *index.Persistence
	logger   *slog.Logger
	tokens   model.TokenCounter
	uploader export.Uploader

	// indexes caches built BM25 indexes per session. LRU eviction of
	// idle sessions is safe: an evicted index is rebuilt on demand.
	indexes *lru.Cache[string, *index.BM25]

	// locks maps session id to its mutex. locksMu guards only the map
	// itself and is never held across I/O.
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex
}

// New creates an engine over the given collaborators. uploader may be
// nil, in which case export.github fails with a configuration error.
func New(cfg *config.Config, st store.Store, blobs *blob.Store, persist *index.Persistence, logger *slog.Logger, uploader export.Uploader) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("logger", "rlm_mcp.engine"))
	indexes, err := lru.New[string, *index.BM25](cfg.IndexCacheSize)
	if err != nil {
		return nil, err
	}

	var counter model.TokenCounter = model.HeuristicCounter{}
	if strings.EqualFold(cfg.TokenCounter, config.TokenCounterTiktoken) {
		counter = &model.TiktokenCounter{}
	}

	return &Engine{
		cfg:      cfg,
		store:    st,
		blobs:    blobs,
		persist:  persist,
		logger:   logger,
		tokens:   counter,
		uploader: uploader,
		indexes:  indexes,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Store exposes the metadata store for CLI inspection commands.
func (e *Engine) Store() store.Store {
	return e.store
}

// sessionLock returns the mutex for a session, creating it if needed.
// The outer lock is held only for the map operation.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[sessionID] = mu
	}
	return mu
}

// releaseSessionLock drops a session's mutex from the map. Best-effort
// cleanup after close; the lock must not be held by the caller.
func (e *Engine) releaseSessionLock(sessionID string) {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	delete(e.locks, sessionID)
}

// IndexBuilt reports whether a built index is cached for the session.
func (e *Engine) IndexBuilt(sessionID string) bool {
	return e.indexes.Contains(sessionID)
}

// getOrBuildIndex returns the session's BM25 index, loading it from
// disk when fresh or rebuilding it from the metadata store otherwise.
// The bool result reports whether a build happened during this call.
func (e *Engine) getOrBuildIndex(ctx context.Context, sessionID string) (*index.BM25, bool, error) {
	mu := e.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if idx, ok := e.indexes.Get(sessionID); ok {
		return idx, false, nil
	}

	// Try the persisted index, validating freshness by fingerprint.
	if idx, meta, err := e.persist.Load(sessionID); err == nil && idx != nil && meta != nil {
		current, err := e.currentMetadata(ctx, sessionID)
		if err != nil {
			return nil, false, err
		}
		if meta.Equal(current) {
			e.indexes.Add(sessionID, idx)
			return idx, false, nil
		}
		e.logger.Info("persisted index stale, rebuilding",
			slog.String("session_id", sessionID))
		e.persist.Invalidate(sessionID)
	}

	// Build from scratch.
	total, err := e.store.CountDocuments(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if total > indexBuildLimit {
		e.logger.Warn("document count exceeds index build limit, indexing a prefix",
			slog.String("session_id", sessionID),
			slog.Int("doc_count", total),
			slog.Int("limit", indexBuildLimit))
	}
	docs, err := e.store.GetDocuments(ctx, sessionID, indexBuildLimit, 0)
	if err != nil {
		return nil, false, err
	}

	idx := index.NewBM25()
	for _, doc := range docs {
		content, err := e.blobs.Get(doc.ContentHash)
		if err != nil {
			// A pruned blob drops the document from the index; reads
			// through docs.peek still surface content_missing.
			e.logger.Warn("skipping document with missing content",
				slog.String("doc_id", doc.ID),
				slog.String("content_hash", doc.ContentHash))
			continue
		}
		idx.AddDocument(doc.ID, content)
	}
	idx.Build()
	e.indexes.Add(sessionID, idx)

	e.logger.Info("index built",
		slog.String("session_id", sessionID),
		slog.Int("doc_count", idx.DocCount()))
	return idx, true, nil
}

// currentMetadata computes the live fingerprint tuple for a session.
func (e *Engine) currentMetadata(ctx context.Context, sessionID string) (index.Metadata, error) {
	fps, err := e.store.GetDocumentFingerprints(ctx, sessionID)
	if err != nil {
		return index.Metadata{}, err
	}
	return index.Metadata{
		DocCount:       len(fps),
		DocFingerprint: index.ComputeDocFingerprint(fps),
		TokenizerName:  index.TokenizerName,
	}, nil
}

// invalidateIndex drops both the in-memory cache entry and the
// persisted on-disk index for a session. Unconditional on docs.load.
func (e *Engine) invalidateIndex(sessionID string) {
	e.indexes.Remove(sessionID)
	e.persist.Invalidate(sessionID)
}

// charLimit returns the session's response or peek cap.
func charLimit(session *model.Session, peek bool) int {
	if peek {
		return session.Config.MaxCharsPerPeek
	}
	return session.Config.MaxCharsPerResponse
}

// truncate shortens content to at most max code points.
func truncate(content string, max int) (string, bool) {
	if text.Len(content) <= max {
		return content, false
	}
	return text.Slice(content, 0, max), true
}

// --- Operation middleware ---

// budgetExempt lists operations that skip the atomic budget check:
// session.create performs its own post-create increment, and
// session.close must work on a session at its cap so it can still be
// closed and flushed.
var budgetExempt = map[string]bool{
	"rlm.session.create": true,
	"rlm.session.close":  true,
}

// run wraps every tool operation: correlation id, start/end logs,
// session validation, atomic budget reservation, trace entry (success
// or failure), and duration accounting.
func run[Out any](ctx context.Context, e *Engine, operation, sessionID string, input map[string]any, fn func(context.Context) (Out, error)) (Out, error) {
	var zero Out

	ctx = logging.WithCorrelationID(ctx, model.NewID())
	start := time.Now()

	e.logger.InfoContext(ctx, "operation started",
		slog.String("operation", operation),
		slog.String("session_id", sessionID))

	fail := func(err error) (Out, error) {
		durationMS := time.Since(start).Milliseconds()
		e.logger.ErrorContext(ctx, "operation failed",
			slog.String("operation", operation),
			slog.String("session_id", sessionID),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()))
		if sessionID != "" {
			e.writeTrace(ctx, sessionID, operation, input, map[string]any{
				"error": err.Error(),
				"kind":  string(rlmerrors.KindOf(err)),
			}, durationMS)
		}
		return zero, err
	}

	if !budgetExempt[operation] {
		session, err := e.store.GetSession(ctx, sessionID)
		if err != nil {
			return fail(err)
		}
		if session == nil {
			return fail(rlmerrors.SessionNotFound(sessionID))
		}
		allowed, used, err := e.store.TryIncrementToolCalls(ctx, sessionID, session.Config.MaxToolCalls)
		if err != nil {
			return fail(err)
		}
		if !allowed {
			return fail(rlmerrors.BudgetExceeded(sessionID, used, session.Config.MaxToolCalls))
		}
	}

	out, err := fn(ctx)
	durationMS := time.Since(start).Milliseconds()
	if err != nil {
		return fail(err)
	}

	e.logger.InfoContext(ctx, "operation completed",
		slog.String("operation", operation),
		slog.String("session_id", sessionID),
		slog.Int64("duration_ms", durationMS))

	traceSession := sessionID
	if traceSession == "" {
		// session.create learns its id from the output.
		traceSession = sessionIDFrom(out)
	}
	if traceSession != "" {
		e.writeTrace(ctx, traceSession, operation, input, toMap(out), durationMS)
	}

	return out, nil
}

// writeTrace appends a trace entry; trace failures are logged, never
// propagated into the operation result.
func (e *Engine) writeTrace(ctx context.Context, sessionID, operation string, input, output map[string]any, durationMS int64) {
	trace := &model.TraceEntry{
		ID:         model.NewID(),
		SessionID:  sessionID,
		Timestamp:  time.Now().UTC(),
		Operation:  operation,
		Input:      input,
		Output:     output,
		DurationMS: durationMS,
	}
	if err := e.store.CreateTrace(ctx, trace); err != nil {
		e.logger.WarnContext(ctx, "failed to write trace entry",
			slog.String("session_id", sessionID),
			slog.String("operation", operation),
			slog.String("error", err.Error()))
	}
}

// toMap converts a typed value to a JSON object map for trace storage.
func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"result": string(data)}
	}
	return m
}

// sessionIDFrom pulls a session_id field out of an output value.
func sessionIDFrom(v any) string {
	m := toMap(v)
	id, _ := m["session_id"].(string)
	return id
}
