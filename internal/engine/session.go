package engine

import (
	"context"
	"log/slog"
	"time"

	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/model"
)

// SessionCreateInput is the input for rlm.session.create.
type SessionCreateInput struct {
	Name   string               `json:"name,omitempty" jsonschema:"human-readable session name"`
	Config *SessionConfigInput  `json:"config,omitempty" jsonschema:"session limits and caps"`
}

// SessionConfigInput carries the caller's config overrides; zero fields
// fall back to server defaults.
type SessionConfigInput struct {
	MaxToolCalls        int               `json:"max_tool_calls,omitempty" jsonschema:"maximum tool calls for this session"`
	MaxCharsPerResponse int               `json:"max_chars_per_response,omitempty" jsonschema:"character cap for span.get and search.query responses"`
	MaxCharsPerPeek     int               `json:"max_chars_per_peek,omitempty" jsonschema:"character cap for docs.peek responses"`
	ChunkCacheEnabled   *bool             `json:"chunk_cache_enabled,omitempty" jsonschema:"reuse spans when the same strategy is requested again"`
	ModelHints          *model.ModelHints `json:"model_hints,omitempty" jsonschema:"advisory model routing hints"`
}

// SessionCreateOutput is the output of rlm.session.create.
type SessionCreateOutput struct {
	SessionID string              `json:"session_id"`
	CreatedAt string              `json:"created_at"`
	Config    model.SessionConfig `json:"config"`
}

// SessionInfoInput is the input for rlm.session.info.
type SessionInfoInput struct {
	SessionID string `json:"session_id" jsonschema:"session to query"`
}

// SessionInfoOutput is the output of rlm.session.info.
type SessionInfoOutput struct {
	SessionID          string              `json:"session_id"`
	Name               string              `json:"name,omitempty"`
	Status             string              `json:"status"`
	CreatedAt          string              `json:"created_at"`
	ClosedAt           string              `json:"closed_at,omitempty"`
	DocumentCount      int                 `json:"document_count"`
	TotalChars         int                 `json:"total_chars"`
	TotalTokensEst     int                 `json:"total_tokens_est"`
	ToolCallsUsed      int                 `json:"tool_calls_used"`
	ToolCallsRemaining int                 `json:"tool_calls_remaining"`
	IndexBuilt         bool                `json:"index_built"`
	Config             model.SessionConfig `json:"config"`
}

// SessionCloseInput is the input for rlm.session.close.
type SessionCloseInput struct {
	SessionID string `json:"session_id" jsonschema:"session to close"`
}

// SessionCloseOutput is the output of rlm.session.close.
type SessionCloseOutput struct {
	SessionID string               `json:"session_id"`
	Status    string               `json:"status"`
	ClosedAt  string               `json:"closed_at"`
	Summary   model.SessionSummary `json:"summary"`
}

// CreateSession creates a session and charges its first budget unit to
// the create call itself.
func (e *Engine) CreateSession(ctx context.Context, in SessionCreateInput) (SessionCreateOutput, error) {
	return run(ctx, e, "rlm.session.create", "", toMap(in), func(ctx context.Context) (SessionCreateOutput, error) {
		cfg := model.SessionConfig{
			MaxToolCalls:        e.cfg.DefaultMaxToolCalls,
			MaxCharsPerResponse: e.cfg.DefaultMaxCharsPerResponse,
			MaxCharsPerPeek:     e.cfg.DefaultMaxCharsPerPeek,
			ChunkCacheEnabled:   true,
		}
		if in.Config != nil {
			if in.Config.MaxToolCalls > 0 {
				cfg.MaxToolCalls = in.Config.MaxToolCalls
			}
			if in.Config.MaxCharsPerResponse > 0 {
				cfg.MaxCharsPerResponse = in.Config.MaxCharsPerResponse
			}
			if in.Config.MaxCharsPerPeek > 0 {
				cfg.MaxCharsPerPeek = in.Config.MaxCharsPerPeek
			}
			if in.Config.ChunkCacheEnabled != nil {
				cfg.ChunkCacheEnabled = *in.Config.ChunkCacheEnabled
			}
			cfg.ModelHints = in.Config.ModelHints
		}

		session := &model.Session{
			ID:        model.NewID(),
			Name:      in.Name,
			Status:    model.StatusActive,
			Config:    cfg,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.store.CreateSession(ctx, session); err != nil {
			return SessionCreateOutput{}, err
		}

		// session.create consumes one unit of its own budget.
		if _, err := e.store.IncrementToolCalls(ctx, session.ID); err != nil {
			return SessionCreateOutput{}, err
		}

		return SessionCreateOutput{
			SessionID: session.ID,
			CreatedAt: session.CreatedAt.Format(time.RFC3339Nano),
			Config:    cfg,
		}, nil
	})
}

// SessionInfo returns counts, sums, budget state, and config.
func (e *Engine) SessionInfo(ctx context.Context, in SessionInfoInput) (SessionInfoOutput, error) {
	return run(ctx, e, "rlm.session.info", in.SessionID, toMap(in), func(ctx context.Context) (SessionInfoOutput, error) {
		session, err := e.store.GetSession(ctx, in.SessionID)
		if err != nil {
			return SessionInfoOutput{}, err
		}
		if session == nil {
			return SessionInfoOutput{}, rlmerrors.SessionNotFound(in.SessionID)
		}

		docCount, err := e.store.CountDocuments(ctx, in.SessionID)
		if err != nil {
			return SessionInfoOutput{}, err
		}
		stats, err := e.store.GetSessionStats(ctx, in.SessionID)
		if err != nil {
			return SessionInfoOutput{}, err
		}

		out := SessionInfoOutput{
			SessionID:          session.ID,
			Name:               session.Name,
			Status:             string(session.Status),
			CreatedAt:          session.CreatedAt.Format(time.RFC3339Nano),
			DocumentCount:      docCount,
			TotalChars:         stats.TotalChars,
			TotalTokensEst:     stats.TotalTokensEst,
			ToolCallsUsed:      session.ToolCallsUsed,
			ToolCallsRemaining: session.Config.MaxToolCalls - session.ToolCallsUsed,
			IndexBuilt:         e.IndexBuilt(in.SessionID),
			Config:             session.Config,
		}
		if session.ClosedAt != nil {
			out.ClosedAt = session.ClosedAt.Format(time.RFC3339Nano)
		}
		return out, nil
	})
}

// CloseSession flips the session to completed, computes summary counts,
// persists the in-memory index (best effort), and releases the
// session's lock. Exempt from the budget check so a session at its cap
// can still be closed and flushed.
func (e *Engine) CloseSession(ctx context.Context, in SessionCloseInput) (SessionCloseOutput, error) {
	out, err := run(ctx, e, "rlm.session.close", in.SessionID, toMap(in), func(ctx context.Context) (SessionCloseOutput, error) {
		mu := e.sessionLock(in.SessionID)
		mu.Lock()
		defer mu.Unlock()

		session, err := e.store.GetSession(ctx, in.SessionID)
		if err != nil {
			return SessionCloseOutput{}, err
		}
		if session == nil {
			return SessionCloseOutput{}, rlmerrors.SessionNotFound(in.SessionID)
		}
		if session.Status != model.StatusActive {
			return SessionCloseOutput{}, rlmerrors.AlreadyClosed(in.SessionID)
		}

		closedAt := time.Now().UTC()
		session.Status = model.StatusCompleted
		session.ClosedAt = &closedAt
		if err := e.store.UpdateSession(ctx, session); err != nil {
			return SessionCloseOutput{}, err
		}

		docCount, err := e.store.CountDocuments(ctx, in.SessionID)
		if err != nil {
			return SessionCloseOutput{}, err
		}
		spanCount, err := e.store.CountSpans(ctx, in.SessionID)
		if err != nil {
			return SessionCloseOutput{}, err
		}
		artifactCount, err := e.store.CountArtifacts(ctx, in.SessionID)
		if err != nil {
			return SessionCloseOutput{}, err
		}

		// Persist the in-memory index before dropping it. Persistence
		// failures are logged, never propagated: the close succeeds.
		if idx, ok := e.indexes.Get(in.SessionID); ok {
			meta, err := e.currentMetadata(ctx, in.SessionID)
			if err == nil {
				err = e.persist.Save(in.SessionID, idx, meta)
			}
			if err != nil {
				e.logger.WarnContext(ctx, "failed to persist index during close",
					slog.String("session_id", in.SessionID),
					slog.String("error", err.Error()))
			}
			e.indexes.Remove(in.SessionID)
		}

		return SessionCloseOutput{
			SessionID: session.ID,
			Status:    string(session.Status),
			ClosedAt:  closedAt.Format(time.RFC3339Nano),
			Summary: model.SessionSummary{
				Documents: docCount,
				Spans:     spanCount,
				Artifacts: artifactCount,
				ToolCalls: session.ToolCallsUsed,
			},
		}, nil
	})
	if err == nil {
		e.releaseSessionLock(in.SessionID)
	}
	return out, err
}

// requireSession loads a session or fails with session_not_found.
func (e *Engine) requireSession(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, rlmerrors.SessionNotFound(sessionID)
	}
	return session, nil
}

// requireActiveSession loads a session and rejects mutating operations
// on completed or exported sessions.
func (e *Engine) requireActiveSession(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := e.requireSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.StatusActive {
		return nil, rlmerrors.Newf(rlmerrors.KindAlreadyClosed,
			"session %s is %s and rejects mutating operations", sessionID, session.Status).
			WithDetail("session_id", sessionID)
	}
	return session, nil
}
