package engine

import (
	"context"
	"time"

	"github.com/adrianwedd/rlm-mcp/internal/chunk"
	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/blob"
	"github.com/adrianwedd/rlm-mcp/internal/model"
	"github.com/adrianwedd/rlm-mcp/internal/text"
)

// previewChars is how much of each span docs.chunk responses preview.
const previewChars = 100

// ChunkCreateInput is the input for rlm.chunk.create.
type ChunkCreateInput struct {
	SessionID string              `json:"session_id" jsonschema:"session containing the document"`
	DocID     string              `json:"doc_id" jsonschema:"document to chunk"`
	Strategy  model.ChunkStrategy `json:"strategy" jsonschema:"chunking strategy descriptor"`
}

// SpanInfo is one chunk.create result entry.
type SpanInfo struct {
	SpanID      string        `json:"span_id"`
	Index       int           `json:"index"`
	Span        model.SpanRef `json:"span"`
	LengthChars int           `json:"length_chars"`
	ContentHash string        `json:"content_hash"`
	Preview     string        `json:"preview"`
}

// ChunkCreateOutput is the output of rlm.chunk.create.
type ChunkCreateOutput struct {
	Spans      []SpanInfo `json:"spans"`
	TotalSpans int        `json:"total_spans"`
	Cached     bool       `json:"cached"`
}

// SpanGetInput is the input for rlm.span.get.
type SpanGetInput struct {
	SessionID string   `json:"session_id" jsonschema:"session containing the spans"`
	SpanIDs   []string `json:"span_ids" jsonschema:"spans to retrieve"`
}

// SpanContent is one span.get result entry.
type SpanContent struct {
	SpanID      string        `json:"span_id"`
	Span        model.SpanRef `json:"span"`
	Content     string        `json:"content"`
	ContentHash string        `json:"content_hash"`
	Truncated   bool          `json:"truncated"`
}

// SpanGetOutput is the output of rlm.span.get.
type SpanGetOutput struct {
	Spans              []SpanContent `json:"spans"`
	TotalCharsReturned int           `json:"total_chars_returned"`
}

// CreateChunks chunks a document with the given strategy. When spans
// produced by the exact same strategy already exist (and the session's
// chunk cache is enabled), they are returned with cached=true.
func (e *Engine) CreateChunks(ctx context.Context, in ChunkCreateInput) (ChunkCreateOutput, error) {
	return run(ctx, e, "rlm.chunk.create", in.SessionID, toMap(in), func(ctx context.Context) (ChunkCreateOutput, error) {
		session, err := e.requireActiveSession(ctx, in.SessionID)
		if err != nil {
			return ChunkCreateOutput{}, err
		}

		doc, err := e.store.GetDocument(ctx, in.DocID)
		if err != nil {
			return ChunkCreateOutput{}, err
		}
		if doc == nil {
			return ChunkCreateOutput{}, rlmerrors.DocumentNotFound(in.DocID)
		}
		if doc.SessionID != in.SessionID {
			return ChunkCreateOutput{}, rlmerrors.CrossSession("document", in.DocID, in.SessionID)
		}

		// Validate parameters before anything else; an invalid
		// strategy never reaches the chunk loop or the cache check.
		if _, err := chunk.New(in.Strategy); err != nil {
			return ChunkCreateOutput{}, err
		}

		if session.Config.ChunkCacheEnabled {
			existing, err := e.store.GetSpansByDocument(ctx, in.DocID)
			if err != nil {
				return ChunkCreateOutput{}, err
			}
			if len(existing) > 0 && existing[0].Strategy == in.Strategy {
				out := ChunkCreateOutput{Cached: true}
				for i, span := range existing {
					preview, err := e.spanPreview(doc.ContentHash, span)
					if err != nil {
						return ChunkCreateOutput{}, err
					}
					out.Spans = append(out.Spans, SpanInfo{
						SpanID:      span.ID,
						Index:       i,
						Span:        model.SpanRef{DocID: in.DocID, Start: span.StartOffset, End: span.EndOffset},
						LengthChars: span.EndOffset - span.StartOffset,
						ContentHash: span.ContentHash,
						Preview:     preview,
					})
				}
				out.TotalSpans = len(out.Spans)
				return out, nil
			}
		}

		content, err := e.blobs.Get(doc.ContentHash)
		if err != nil {
			return ChunkCreateOutput{}, err
		}

		ranges, err := chunk.Apply(in.Strategy, content)
		if err != nil {
			return ChunkCreateOutput{}, err
		}

		out := ChunkCreateOutput{}
		for i, r := range ranges {
			spanContent := text.Slice(content, r.Start, r.End)
			contentHash := blob.Hash(spanContent)

			span := &model.Span{
				ID:          model.NewID(),
				DocumentID:  in.DocID,
				StartOffset: r.Start,
				EndOffset:   r.End,
				ContentHash: contentHash,
				Strategy:    in.Strategy,
				CreatedAt:   time.Now().UTC(),
			}
			if err := e.store.CreateSpan(ctx, span); err != nil {
				return ChunkCreateOutput{}, err
			}

			out.Spans = append(out.Spans, SpanInfo{
				SpanID:      span.ID,
				Index:       i,
				Span:        model.SpanRef{DocID: in.DocID, Start: r.Start, End: r.End},
				LengthChars: r.End - r.Start,
				ContentHash: contentHash,
				Preview:     text.Slice(spanContent, 0, previewChars),
			})
		}
		out.TotalSpans = len(out.Spans)
		return out, nil
	})
}

func (e *Engine) spanPreview(contentHash string, span *model.Span) (string, error) {
	content, err := e.blobs.GetSlice(contentHash, span.StartOffset, span.EndOffset)
	if err != nil {
		return "", err
	}
	return text.Slice(content, 0, previewChars), nil
}

// GetSpans retrieves span contents with provenance, accumulating up to
// the session's response cap: the last included span is truncated to
// the remaining budget and later spans are omitted.
func (e *Engine) GetSpans(ctx context.Context, in SpanGetInput) (SpanGetOutput, error) {
	return run(ctx, e, "rlm.span.get", in.SessionID, toMap(in), func(ctx context.Context) (SpanGetOutput, error) {
		session, err := e.requireSession(ctx, in.SessionID)
		if err != nil {
			return SpanGetOutput{}, err
		}

		maxChars := charLimit(session, false)
		out := SpanGetOutput{Spans: []SpanContent{}}

		for _, spanID := range in.SpanIDs {
			if out.TotalCharsReturned >= maxChars {
				break
			}

			span, err := e.store.GetSpan(ctx, spanID)
			if err != nil {
				return SpanGetOutput{}, err
			}
			if span == nil {
				return SpanGetOutput{}, rlmerrors.SpanNotFound(spanID)
			}

			doc, err := e.store.GetDocument(ctx, span.DocumentID)
			if err != nil {
				return SpanGetOutput{}, err
			}
			if doc == nil || doc.SessionID != in.SessionID {
				return SpanGetOutput{}, rlmerrors.CrossSession("span", spanID, in.SessionID)
			}

			content, err := e.blobs.GetSlice(doc.ContentHash, span.StartOffset, span.EndOffset)
			if err != nil {
				return SpanGetOutput{}, err
			}

			remaining := maxChars - out.TotalCharsReturned
			content, truncated := truncate(content, remaining)
			out.TotalCharsReturned += text.Len(content)

			out.Spans = append(out.Spans, SpanContent{
				SpanID:      span.ID,
				Span:        span.Ref(),
				Content:     content,
				ContentHash: span.ContentHash,
				Truncated:   truncated,
			})
		}
		return out, nil
	})
}
