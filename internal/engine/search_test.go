package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/text"
)

// assertHighlightInvariant checks 0 <= start <= end <= len(context)
// for every match.
func assertHighlightInvariant(t *testing.T, matches []SearchMatch) {
	t.Helper()
	for _, m := range matches {
		contextLen := text.Len(m.Context)
		assert.GreaterOrEqual(t, m.HighlightStart, 0)
		assert.LessOrEqual(t, m.HighlightStart, m.HighlightEnd)
		assert.LessOrEqual(t, m.HighlightEnd, contextLen)
	}
}

func TestSearch_BM25RanksAndHighlights(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := h.createSession(t, nil)
	h.loadInline(t, sessionID, "the quick brown fox jumps over the lazy dog")
	h.loadInline(t, sessionID, "python tutorial with no relevant animals")
	h.loadInline(t, sessionID, "cooking recipes for slow sunday afternoons")

	out, err := h.engine.Search(ctx, SearchInput{SessionID: sessionID, Query: "quick fox"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Matches)

	top := out.Matches[0]
	assert.Contains(t, top.Context, "quick")
	assert.Greater(t, top.Score, 0.0)
	// "quick fox" is not a literal substring, so the highlight anchors
	// on the first query token.
	highlighted := text.Slice(top.Context, top.HighlightStart, top.HighlightEnd)
	assert.True(t, strings.HasPrefix(highlighted, "quick"), "highlight %q should anchor on the match", highlighted)
	assertHighlightInvariant(t, out.Matches)
}

func TestSearch_EmptySession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := h.createSession(t, nil)

	out, err := h.engine.Search(ctx, SearchInput{SessionID: sessionID, Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, out.Matches)
	assert.False(t, out.IndexBuilt)
}

func TestSearch_DocIDFilterWithExpansion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := h.createSession(t, nil)

	// Several documents score higher for the query than the allowed
	// one, forcing the inner limit to expand.
	for range 5 {
		h.loadInline(t, sessionID, strings.Repeat("target keyword dense text ", 20))
	}
	allowedID := h.loadInline(t, sessionID, "one faint target mention in quiet prose")

	out, err := h.engine.Search(ctx, SearchInput{
		SessionID: sessionID,
		Query:     "target",
		DocIDs:    []string{allowedID},
		Limit:     3,
	})
	require.NoError(t, err)

	require.Len(t, out.Matches, 1)
	assert.Equal(t, allowedID, out.Matches[0].DocID)
}

func TestSearch_Regex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := h.createSession(t, nil)
	h.loadInline(t, sessionID, "Error: code 404\nerror: code 500\nall fine")

	out, err := h.engine.Search(ctx, SearchInput{
		SessionID: sessionID,
		Query:     `error: code \d+`,
		Method:    "regex",
	})
	require.NoError(t, err)

	// Case-insensitive, one match per occurrence, constant score.
	require.Len(t, out.Matches, 2)
	for _, m := range out.Matches {
		assert.Equal(t, 1.0, m.Score)
		highlighted := text.Slice(m.Context, m.HighlightStart, m.HighlightEnd)
		assert.Regexp(t, `(?i)error: code \d+`, highlighted)
	}
	assertHighlightInvariant(t, out.Matches)
}

func TestSearch_RegexInvalidPattern(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := h.createSession(t, nil)
	h.loadInline(t, sessionID, "content")

	_, err := h.engine.Search(ctx, SearchInput{SessionID: sessionID, Query: "[", Method: "regex"})
	require.Error(t, err)
	assert.Equal(t, rlmerrors.KindInvalidInput, rlmerrors.KindOf(err))
}

func TestSearch_Literal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := h.createSession(t, nil)
	h.loadInline(t, sessionID, "Needle here, and NEEDLE there, and needle everywhere")

	out, err := h.engine.Search(ctx, SearchInput{
		SessionID: sessionID,
		Query:     "needle",
		Method:    "literal",
	})
	require.NoError(t, err)

	assert.Len(t, out.Matches, 3)
	for _, m := range out.Matches {
		highlighted := strings.ToLower(text.Slice(m.Context, m.HighlightStart, m.HighlightEnd))
		assert.Equal(t, "needle", highlighted)
	}
}

func TestSearch_LiteralLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := h.createSession(t, nil)
	h.loadInline(t, sessionID, strings.Repeat("spot ", 50))

	out, err := h.engine.Search(ctx, SearchInput{
		SessionID: sessionID, Query: "spot", Method: "literal", Limit: 7,
	})
	require.NoError(t, err)
	assert.Len(t, out.Matches, 7)
	assert.Equal(t, 7, out.TotalMatches)
}

func TestSearch_UnknownMethod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := h.createSession(t, nil)
	h.loadInline(t, sessionID, "content")

	_, err := h.engine.Search(ctx, SearchInput{SessionID: sessionID, Query: "x", Method: "vector"})
	require.Error(t, err)
	assert.Equal(t, rlmerrors.KindInvalidInput, rlmerrors.KindOf(err))
}

func TestSearch_ResponseCapReclampsHighlights(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// Minimum response cap is 1000 chars; contexts of ~600 overflow it
	// on the second match.
	sessionID := h.createSession(t, &SessionConfigInput{MaxCharsPerResponse: 1000})
	content := strings.Repeat("padding words before ", 30) + "beacon" + strings.Repeat(" trailing after text", 30)
	h.loadInline(t, sessionID, content)
	h.loadInline(t, sessionID, content+" ")

	out, err := h.engine.Search(ctx, SearchInput{
		SessionID:    sessionID,
		Query:        "beacon",
		Method:       "literal",
		ContextChars: 1200,
	})
	require.NoError(t, err)

	require.NotEmpty(t, out.Matches)
	total := 0
	for _, m := range out.Matches {
		total += text.Len(m.Context)
	}
	assert.LessOrEqual(t, total, 1000)

	// Some match was shortened, and every highlight still satisfies
	// the invariant inside its (possibly truncated) context.
	last := out.Matches[len(out.Matches)-1]
	assert.True(t, last.Truncated)
	assertHighlightInvariant(t, out.Matches)
}

func TestSearch_UnicodeOffsets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := h.createSession(t, nil)
	h.loadInline(t, sessionID, "日本語のテキスト beacon 日本語のテキスト")

	out, err := h.engine.Search(ctx, SearchInput{
		SessionID: sessionID, Query: "beacon", Method: "literal", ContextChars: 10,
	})
	require.NoError(t, err)

	require.Len(t, out.Matches, 1)
	m := out.Matches[0]
	assert.Equal(t, "beacon", text.Slice(m.Context, m.HighlightStart, m.HighlightEnd))
	assertHighlightInvariant(t, out.Matches)
}

// S4: loading new documents invalidates both cache tiers; the next
// search rebuilds over the new corpus.
func TestScenario_IndexInvalidationOnLoad(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sessionID := h.createSession(t, nil)
	h.loadInline(t, sessionID, "first corpus about ships")

	// Build and persist the index (close persists; reopen via search).
	out, err := h.engine.Search(ctx, SearchInput{SessionID: sessionID, Query: "ships"})
	require.NoError(t, err)
	require.True(t, out.IndexBuilt)

	// Load doc B: memory entry and on-disk directory must both go.
	h.loadInline(t, sessionID, "second corpus about trains")
	assert.False(t, h.engine.IndexBuilt(sessionID))
	assert.False(t, h.persist.Exists(sessionID))

	// The invariant: after docs.load returns, the persisted index
	// directory does not exist even if one was saved earlier.
	out, err = h.engine.Search(ctx, SearchInput{SessionID: sessionID, Query: "trains"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Matches)
	assert.True(t, out.IndexBuiltThisCall)
}

// S3: a second engine over the same data directory reloads the
// persisted index without rebuilding.
func TestScenario_IndexPersistsAcrossRestart(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	h1 := newHarnessAt(t, dataDir)
	sessionID := h1.createSession(t, nil)
	h1.loadInline(t, sessionID, "alpha document about lighthouses")
	h1.loadInline(t, sessionID, "beta document about submarines")

	first, err := h1.engine.Search(ctx, SearchInput{SessionID: sessionID, Query: "lighthouses"})
	require.NoError(t, err)
	require.NotEmpty(t, first.Matches)

	_, err = h1.engine.CloseSession(ctx, SessionCloseInput{SessionID: sessionID})
	require.NoError(t, err)
	require.True(t, h1.persist.Exists(sessionID))

	// A fresh engine instance sees the persisted index as current and
	// serves the same top match without a rebuild.
	h2 := newHarnessAt(t, dataDir)
	second, err := h2.engine.Search(ctx, SearchInput{SessionID: sessionID, Query: "lighthouses"})
	require.NoError(t, err)
	require.NotEmpty(t, second.Matches)
	assert.Equal(t, first.Matches[0].DocID, second.Matches[0].DocID)
	assert.False(t, second.IndexBuiltThisCall)
}

func TestScenario_CorruptedPersistedIndexRebuilds(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	h1 := newHarnessAt(t, dataDir)
	sessionID := h1.createSession(t, nil)
	h1.loadInline(t, sessionID, "resilient content survives corruption")
	_, err := h1.engine.Search(ctx, SearchInput{SessionID: sessionID, Query: "resilient"})
	require.NoError(t, err)
	_, err = h1.engine.CloseSession(ctx, SessionCloseInput{SessionID: sessionID})
	require.NoError(t, err)

	// Corrupt the serialized index on disk.
	corruptPath := h1.persist.SessionDir(sessionID) + "/index.bin"
	require.NoError(t, writeGarbage(corruptPath))

	h2 := newHarnessAt(t, dataDir)
	out, err := h2.engine.Search(ctx, SearchInput{SessionID: sessionID, Query: "resilient"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Matches)
	assert.True(t, out.IndexBuiltThisCall, "corrupted index must trigger a rebuild")
}
