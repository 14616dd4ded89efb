package engine

import (
	"context"
	"regexp"
	"strings"

	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/index"
	"github.com/adrianwedd/rlm-mcp/internal/model"
	"github.com/adrianwedd/rlm-mcp/internal/text"
)

const (
	defaultSearchLimit   = 10
	defaultContextChars  = 200
	searchDocumentLimit  = 10_000
)

// SearchInput is the input for rlm.search.query.
type SearchInput struct {
	SessionID    string   `json:"session_id" jsonschema:"session to search"`
	Query        string   `json:"query" jsonschema:"search query string"`
	Method       string   `json:"method,omitempty" jsonschema:"search method: bm25 (default), regex, or literal"`
	DocIDs       []string `json:"doc_ids,omitempty" jsonschema:"restrict results to these documents"`
	Limit        int      `json:"limit,omitempty" jsonschema:"maximum matches to return, default 10"`
	ContextChars int      `json:"context_chars,omitempty" jsonschema:"characters of context around each match, default 200"`
}

// SearchMatch is one search result.
type SearchMatch struct {
	DocID          string        `json:"doc_id"`
	Span           model.SpanRef `json:"span"`
	Score          float64       `json:"score"`
	Context        string        `json:"context"`
	HighlightStart int           `json:"highlight_start"`
	HighlightEnd   int           `json:"highlight_end"`
	Truncated      bool          `json:"truncated,omitempty"`
}

// SearchOutput is the output of rlm.search.query.
type SearchOutput struct {
	Matches            []SearchMatch `json:"matches"`
	TotalMatches       int           `json:"total_matches"`
	IndexBuilt         bool          `json:"index_built"`
	IndexBuiltThisCall bool          `json:"index_built_this_call"`
}

// Search executes a query with the selected method, extracts a context
// window per match, and enforces the session's response cap. Highlight
// offsets always satisfy 0 <= start <= end <= len(context), including
// after cap truncation.
func (e *Engine) Search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	return run(ctx, e, "rlm.search.query", in.SessionID, toMap(in), func(ctx context.Context) (SearchOutput, error) {
		session, err := e.requireSession(ctx, in.SessionID)
		if err != nil {
			return SearchOutput{}, err
		}

		limit := in.Limit
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		contextChars := in.ContextChars
		if contextChars <= 0 {
			contextChars = defaultContextChars
		}

		docs, err := e.store.GetDocuments(ctx, in.SessionID, searchDocumentLimit, 0)
		if err != nil {
			return SearchOutput{}, err
		}
		if len(in.DocIDs) > 0 {
			allowed := make(map[string]bool, len(in.DocIDs))
			for _, id := range in.DocIDs {
				allowed[id] = true
			}
			filtered := docs[:0]
			for _, doc := range docs {
				if allowed[doc.ID] {
					filtered = append(filtered, doc)
				}
			}
			docs = filtered
		}

		if len(docs) == 0 {
			return SearchOutput{
				Matches:    []SearchMatch{},
				IndexBuilt: e.IndexBuilt(in.SessionID),
			}, nil
		}

		var matches []SearchMatch
		builtThisCall := false

		method := in.Method
		if method == "" {
			method = "bm25"
		}
		switch method {
		case "bm25":
			matches, builtThisCall, err = e.searchBM25(ctx, in.SessionID, docs, in.Query, limit, contextChars)
		case "regex":
			matches, err = e.searchRegex(docs, in.Query, limit, contextChars)
		case "literal":
			matches, err = e.searchLiteral(docs, in.Query, limit, contextChars)
		default:
			err = rlmerrors.Newf(rlmerrors.KindInvalidInput, "unknown search method: %q", method)
		}
		if err != nil {
			return SearchOutput{}, err
		}

		totalMatches := len(matches)
		matches = capMatches(matches, charLimit(session, false))

		return SearchOutput{
			Matches:            matches,
			TotalMatches:       totalMatches,
			IndexBuilt:         e.IndexBuilt(in.SessionID),
			IndexBuiltThisCall: builtThisCall,
		}, nil
	})
}

// capMatches enforces the response cap across match contexts: the last
// included match is shortened to the remaining budget, later matches
// are dropped, and highlights are re-clamped into the shortened
// context.
func capMatches(matches []SearchMatch, maxChars int) []SearchMatch {
	out := make([]SearchMatch, 0, len(matches))
	used := 0
	for _, match := range matches {
		contextLen := text.Len(match.Context)
		if used+contextLen > maxChars {
			remaining := maxChars - used
			if remaining > 0 {
				match.Context = text.Slice(match.Context, 0, remaining)
				match.Truncated = true
				match.HighlightEnd = clamp(match.HighlightEnd, 0, remaining)
				match.HighlightStart = clamp(match.HighlightStart, 0, match.HighlightEnd)
				out = append(out, match)
			}
			break
		}
		out = append(out, match)
		used += contextLen
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// searchBM25 ranks whole documents with the session index. Because the
// index may rank non-allowed documents above allowed ones, the inner
// limit expands (doubling, capped at the corpus size) until enough
// allowed results are collected or the whole corpus was considered.
func (e *Engine) searchBM25(ctx context.Context, sessionID string, docs []*model.Document, query string, limit, contextChars int) ([]SearchMatch, bool, error) {
	idx, builtThisCall, err := e.getOrBuildIndex(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if idx.DocCount() == 0 {
		return nil, builtThisCall, nil
	}

	allowed := make(map[string]bool, len(docs))
	for _, doc := range docs {
		allowed[doc.ID] = true
	}

	var hits []index.ScoredDocument
	innerLimit := limit
	for {
		hits = hits[:0]
		for _, hit := range idx.Search(query, innerLimit) {
			if allowed[hit.DocID] {
				hits = append(hits, hit)
			}
		}
		if len(hits) >= limit || innerLimit >= idx.DocCount() {
			break
		}
		innerLimit *= 2
		if innerLimit > idx.DocCount() {
			innerLimit = idx.DocCount()
		}
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	matches := make([]SearchMatch, 0, len(hits))
	for _, hit := range hits {
		matches = append(matches, bm25Match(hit, query, contextChars))
	}
	return matches, builtThisCall, nil
}

// bm25Match extracts a context window centered on the best literal
// position for the query: the first occurrence of the query itself,
// else of its first token, else offset 0.
func bm25Match(hit index.ScoredDocument, query string, contextChars int) SearchMatch {
	content := []rune(hit.Content)
	lower := []rune(strings.ToLower(hit.Content))

	pos := runeIndexOf(lower, []rune(strings.ToLower(query)), 0)
	if pos < 0 {
		if tokens := index.Tokenize(query); len(tokens) > 0 {
			pos = runeIndexOf(lower, []rune(tokens[0]), 0)
		}
	}
	if pos < 0 {
		pos = 0
	}

	start := clamp(pos-contextChars/2, 0, len(content))
	end := clamp(pos+contextChars/2, start, len(content))
	contextText := string(content[start:end])

	highlightStart := clamp(pos-start, 0, end-start)
	highlightEnd := clamp(highlightStart+text.Len(query), highlightStart, end-start)

	return SearchMatch{
		DocID:          hit.DocID,
		Span:           model.SpanRef{DocID: hit.DocID, Start: start, End: end},
		Score:          hit.Score,
		Context:        contextText,
		HighlightStart: highlightStart,
		HighlightEnd:   highlightEnd,
	}
}

// searchRegex scans each document with a case-insensitive pattern, one
// match per non-overlapping occurrence, constant score 1.0.
func (e *Engine) searchRegex(docs []*model.Document, query string, limit, contextChars int) ([]SearchMatch, error) {
	pattern, err := regexp.Compile("(?i)" + query)
	if err != nil {
		return nil, rlmerrors.Wrap(rlmerrors.KindInvalidInput, "invalid regex query", err)
	}

	var matches []SearchMatch
	for _, doc := range docs {
		if len(matches) >= limit {
			break
		}
		content, err := e.blobs.Get(doc.ContentHash)
		if err != nil {
			continue
		}

		byteMatches := pattern.FindAllStringIndex(content, -1)
		if len(byteMatches) == 0 {
			continue
		}
		toRune := text.ByteToRuneOffsets(content)
		runes := []rune(content)

		for _, m := range byteMatches {
			if len(matches) >= limit {
				break
			}
			matches = append(matches, windowMatch(doc.ID, runes, toRune(m[0]), toRune(m[1]), contextChars, 1.0))
		}
	}
	return matches, nil
}

// searchLiteral scans each document for case-insensitive substring
// occurrences, same shape as regex.
func (e *Engine) searchLiteral(docs []*model.Document, query string, limit, contextChars int) ([]SearchMatch, error) {
	queryRunes := []rune(strings.ToLower(query))
	if len(queryRunes) == 0 {
		return nil, rlmerrors.New(rlmerrors.KindInvalidInput, "literal query must not be empty")
	}

	var matches []SearchMatch
	for _, doc := range docs {
		if len(matches) >= limit {
			break
		}
		content, err := e.blobs.Get(doc.ContentHash)
		if err != nil {
			continue
		}
		runes := []rune(content)
		lower := []rune(strings.ToLower(content))

		pos := 0
		for len(matches) < limit {
			idx := runeIndexOf(lower, queryRunes, pos)
			if idx < 0 {
				break
			}
			matches = append(matches, windowMatch(doc.ID, runes, idx, idx+len(queryRunes), contextChars, 1.0))
			pos = idx + 1
		}
	}
	return matches, nil
}

// windowMatch builds a match whose context extends contextChars/2 on
// each side of the [matchStart, matchEnd) occurrence.
func windowMatch(docID string, content []rune, matchStart, matchEnd, contextChars int, score float64) SearchMatch {
	start := clamp(matchStart-contextChars/2, 0, len(content))
	end := clamp(matchEnd+contextChars/2, start, len(content))
	contextLen := end - start

	return SearchMatch{
		DocID:          docID,
		Span:           model.SpanRef{DocID: docID, Start: start, End: end},
		Score:          score,
		Context:        string(content[start:end]),
		HighlightStart: clamp(matchStart-start, 0, contextLen),
		HighlightEnd:   clamp(matchEnd-start, 0, contextLen),
	}
}

// runeIndexOf finds needle in haystack at or after from, in rune
// offsets. Returns -1 when absent.
func runeIndexOf(haystack, needle []rune, from int) int {
	if len(needle) == 0 || from < 0 {
		return -1
	}
	for i := from; i+len(needle) <= len(haystack); i++ {
		found := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				found = false
				break
			}
		}
		if found {
			return i
		}
	}
	return -1
}
