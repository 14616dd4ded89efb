package engine

import (
	"context"
	"time"

	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/blob"
	"github.com/adrianwedd/rlm-mcp/internal/model"
)

// ArtifactStoreInput is the input for rlm.artifact.store.
type ArtifactStoreInput struct {
	SessionID  string                    `json:"session_id" jsonschema:"session to store the artifact in"`
	Type       string                    `json:"type" jsonschema:"artifact type tag, e.g. summary, extraction, classification"`
	Content    map[string]any            `json:"content" jsonschema:"structured artifact content"`
	SpanID     string                    `json:"span_id,omitempty" jsonschema:"existing span to bind the artifact to"`
	Span       *model.SpanRef            `json:"span,omitempty" jsonschema:"inline span reference; a manual span is persisted from it"`
	Provenance *model.ArtifactProvenance `json:"provenance,omitempty" jsonschema:"provenance metadata: model, prompt_hash, tool"`
}

// ArtifactStoreOutput is the output of rlm.artifact.store.
type ArtifactStoreOutput struct {
	ArtifactID string `json:"artifact_id"`
	SpanID     string `json:"span_id,omitempty"`
}

// ArtifactListInput is the input for rlm.artifact.list.
type ArtifactListInput struct {
	SessionID string `json:"session_id" jsonschema:"session to query"`
	SpanID    string `json:"span_id,omitempty" jsonschema:"filter by span"`
	Type      string `json:"type,omitempty" jsonschema:"filter by artifact type"`
}

// ArtifactSummary is one artifact.list entry.
type ArtifactSummary struct {
	ArtifactID string                    `json:"artifact_id"`
	SpanID     string                    `json:"span_id,omitempty"`
	Type       string                    `json:"type"`
	CreatedAt  string                    `json:"created_at"`
	Provenance *model.ArtifactProvenance `json:"provenance,omitempty"`
}

// ArtifactListOutput is the output of rlm.artifact.list.
type ArtifactListOutput struct {
	Artifacts []ArtifactSummary `json:"artifacts"`
}

// ArtifactGetInput is the input for rlm.artifact.get.
type ArtifactGetInput struct {
	SessionID  string `json:"session_id" jsonschema:"session containing the artifact"`
	ArtifactID string `json:"artifact_id" jsonschema:"artifact to retrieve"`
}

// ArtifactGetOutput is the output of rlm.artifact.get. The referenced
// span, if any, is materialized into an embedded reference so callers
// do not need a second round-trip.
type ArtifactGetOutput struct {
	ArtifactID string                    `json:"artifact_id"`
	SpanID     string                    `json:"span_id,omitempty"`
	Span       *model.SpanRef            `json:"span,omitempty"`
	Type       string                    `json:"type"`
	Content    map[string]any            `json:"content"`
	Provenance *model.ArtifactProvenance `json:"provenance,omitempty"`
	CreatedAt  string                    `json:"created_at"`
}

// StoreArtifact persists a derived artifact. When an inline span
// reference is supplied, a manual-strategy span is created for it; any
// span id, provided or resolved, must belong to the current session.
func (e *Engine) StoreArtifact(ctx context.Context, in ArtifactStoreInput) (ArtifactStoreOutput, error) {
	return run(ctx, e, "rlm.artifact.store", in.SessionID, toMap(in), func(ctx context.Context) (ArtifactStoreOutput, error) {
		if _, err := e.requireActiveSession(ctx, in.SessionID); err != nil {
			return ArtifactStoreOutput{}, err
		}

		spanID := in.SpanID
		if spanID == "" && in.Span != nil {
			resolved, err := e.persistManualSpan(ctx, in.SessionID, *in.Span)
			if err != nil {
				return ArtifactStoreOutput{}, err
			}
			spanID = resolved
		}

		if spanID != "" {
			span, err := e.store.GetSpan(ctx, spanID)
			if err != nil {
				return ArtifactStoreOutput{}, err
			}
			if span == nil {
				return ArtifactStoreOutput{}, rlmerrors.SpanNotFound(spanID)
			}
			// Walk span -> document -> session to enforce integrity.
			doc, err := e.store.GetDocument(ctx, span.DocumentID)
			if err != nil {
				return ArtifactStoreOutput{}, err
			}
			if doc == nil || doc.SessionID != in.SessionID {
				return ArtifactStoreOutput{}, rlmerrors.CrossSession("span", spanID, in.SessionID)
			}
		}

		provenance := in.Provenance
		if provenance != nil && provenance.Timestamp.IsZero() {
			provenance.Timestamp = time.Now().UTC()
		}

		artifact := &model.Artifact{
			ID:         model.NewID(),
			SessionID:  in.SessionID,
			SpanID:     spanID,
			Type:       in.Type,
			Content:    in.Content,
			Provenance: provenance,
			CreatedAt:  time.Now().UTC(),
		}
		if err := e.store.CreateArtifact(ctx, artifact); err != nil {
			return ArtifactStoreOutput{}, err
		}

		return ArtifactStoreOutput{ArtifactID: artifact.ID, SpanID: spanID}, nil
	})
}

// persistManualSpan creates a span with a manual strategy descriptor
// from an inline {doc_id, start, end} reference.
func (e *Engine) persistManualSpan(ctx context.Context, sessionID string, ref model.SpanRef) (string, error) {
	doc, err := e.store.GetDocument(ctx, ref.DocID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", rlmerrors.DocumentNotFound(ref.DocID)
	}
	if doc.SessionID != sessionID {
		return "", rlmerrors.CrossSession("document", ref.DocID, sessionID)
	}
	if ref.Start < 0 || ref.End < ref.Start || ref.End > doc.LengthChars {
		return "", rlmerrors.Newf(rlmerrors.KindInvalidInput,
			"span [%d, %d) out of bounds for document of %d chars", ref.Start, ref.End, doc.LengthChars)
	}

	content, err := e.blobs.GetSlice(doc.ContentHash, ref.Start, ref.End)
	if err != nil {
		return "", err
	}

	span := &model.Span{
		ID:          model.NewID(),
		DocumentID:  ref.DocID,
		StartOffset: ref.Start,
		EndOffset:   ref.End,
		ContentHash: blob.Hash(content),
		Strategy:    model.ChunkStrategy{Type: "manual"},
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateSpan(ctx, span); err != nil {
		return "", err
	}
	return span.ID, nil
}

// ListArtifacts lists a session's artifacts with optional filters.
func (e *Engine) ListArtifacts(ctx context.Context, in ArtifactListInput) (ArtifactListOutput, error) {
	return run(ctx, e, "rlm.artifact.list", in.SessionID, toMap(in), func(ctx context.Context) (ArtifactListOutput, error) {
		if _, err := e.requireSession(ctx, in.SessionID); err != nil {
			return ArtifactListOutput{}, err
		}

		artifacts, err := e.store.GetArtifacts(ctx, in.SessionID, in.SpanID, in.Type)
		if err != nil {
			return ArtifactListOutput{}, err
		}

		out := ArtifactListOutput{Artifacts: []ArtifactSummary{}}
		for _, artifact := range artifacts {
			out.Artifacts = append(out.Artifacts, ArtifactSummary{
				ArtifactID: artifact.ID,
				SpanID:     artifact.SpanID,
				Type:       artifact.Type,
				CreatedAt:  artifact.CreatedAt.Format(time.RFC3339Nano),
				Provenance: artifact.Provenance,
			})
		}
		return out, nil
	})
}

// GetArtifact retrieves a full artifact with its resolved span.
func (e *Engine) GetArtifact(ctx context.Context, in ArtifactGetInput) (ArtifactGetOutput, error) {
	return run(ctx, e, "rlm.artifact.get", in.SessionID, toMap(in), func(ctx context.Context) (ArtifactGetOutput, error) {
		if _, err := e.requireSession(ctx, in.SessionID); err != nil {
			return ArtifactGetOutput{}, err
		}

		artifact, err := e.store.GetArtifact(ctx, in.ArtifactID)
		if err != nil {
			return ArtifactGetOutput{}, err
		}
		if artifact == nil {
			return ArtifactGetOutput{}, rlmerrors.ArtifactNotFound(in.ArtifactID)
		}
		if artifact.SessionID != in.SessionID {
			return ArtifactGetOutput{}, rlmerrors.CrossSession("artifact", in.ArtifactID, in.SessionID)
		}

		out := ArtifactGetOutput{
			ArtifactID: artifact.ID,
			SpanID:     artifact.SpanID,
			Type:       artifact.Type,
			Content:    artifact.Content,
			Provenance: artifact.Provenance,
			CreatedAt:  artifact.CreatedAt.Format(time.RFC3339Nano),
		}
		if artifact.SpanID != "" {
			span, err := e.store.GetSpan(ctx, artifact.SpanID)
			if err != nil {
				return ArtifactGetOutput{}, err
			}
			if span != nil {
				ref := span.Ref()
				out.Span = &ref
			}
		}
		return out, nil
	})
}
