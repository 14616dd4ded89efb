package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/model"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		strategy model.ChunkStrategy
	}{
		{"unknown type", model.ChunkStrategy{Type: "semantic"}},
		{"fixed zero size", model.ChunkStrategy{Type: "fixed", ChunkSize: 0}},
		{"fixed overlap equals size", model.ChunkStrategy{Type: "fixed", ChunkSize: 10, Overlap: 10}},
		{"fixed overlap above size", model.ChunkStrategy{Type: "fixed", ChunkSize: 10, Overlap: 15}},
		{"fixed negative overlap", model.ChunkStrategy{Type: "fixed", ChunkSize: 10, Overlap: -1}},
		{"lines zero count", model.ChunkStrategy{Type: "lines", LineCount: 0}},
		{"lines overlap equals count", model.ChunkStrategy{Type: "lines", LineCount: 5, Overlap: 5}},
		{"delimiter empty", model.ChunkStrategy{Type: "delimiter"}},
		{"delimiter bad regex", model.ChunkStrategy{Type: "delimiter", Delimiter: "["}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.strategy)
			require.Error(t, err)
			assert.Equal(t, rlmerrors.KindInvalidStrategy, rlmerrors.KindOf(err))
		})
	}
}

func TestFixed_ExactWindows(t *testing.T) {
	ranges, err := Apply(model.ChunkStrategy{Type: "fixed", ChunkSize: 4}, "abcdefgh")
	require.NoError(t, err)

	assert.Equal(t, []Range{{0, 4}, {4, 8}}, ranges)
}

func TestFixed_TruncatedFinalWindow(t *testing.T) {
	ranges, err := Apply(model.ChunkStrategy{Type: "fixed", ChunkSize: 3}, "abcdefgh")
	require.NoError(t, err)

	assert.Equal(t, []Range{{0, 3}, {3, 6}, {6, 8}}, ranges)
}

func TestFixed_Overlap(t *testing.T) {
	// chunk_size 4, overlap 1: windows advance by 3.
	ranges, err := Apply(model.ChunkStrategy{Type: "fixed", ChunkSize: 4, Overlap: 1}, "abcdefghij")
	require.NoError(t, err)

	assert.Equal(t, []Range{{0, 4}, {3, 7}, {6, 10}}, ranges)
}

func TestFixed_CoversWholeDocument(t *testing.T) {
	content := strings.Repeat("x", 1037)
	ranges, err := Apply(model.ChunkStrategy{Type: "fixed", ChunkSize: 100, Overlap: 10}, content)
	require.NoError(t, err)

	// Spans concatenated in order cover [0, len) with overlap, and no
	// fixed span exceeds chunk_size.
	assert.Equal(t, 0, ranges[0].Start)
	assert.Equal(t, len(content), ranges[len(ranges)-1].End)
	for i, r := range ranges {
		assert.LessOrEqual(t, r.End-r.Start, 100)
		if i > 0 {
			assert.LessOrEqual(t, r.Start, ranges[i-1].End, "no gap between consecutive spans")
		}
	}
}

func TestFixed_MaxChunks(t *testing.T) {
	ranges, err := Apply(model.ChunkStrategy{Type: "fixed", ChunkSize: 2, MaxChunks: 3}, "abcdefghij")
	require.NoError(t, err)

	assert.Len(t, ranges, 3)
}

func TestFixed_EmptyContent(t *testing.T) {
	ranges, err := Apply(model.ChunkStrategy{Type: "fixed", ChunkSize: 10}, "")
	require.NoError(t, err)
	assert.Empty(t, ranges)
}

func TestLines_IncludesTrailingNewline(t *testing.T) {
	content := "one\ntwo\nthree\nfour\n"

	ranges, err := Apply(model.ChunkStrategy{Type: "lines", LineCount: 2}, content)
	require.NoError(t, err)

	// First chunk spans "one\ntwo\n": from the first character of line
	// 0 to the first character of line 2.
	require.GreaterOrEqual(t, len(ranges), 2)
	assert.Equal(t, Range{0, 8}, ranges[0])
	assert.Equal(t, "one\ntwo\n", content[ranges[0].Start:ranges[0].End])
	assert.Equal(t, "three\nfour\n", content[ranges[1].Start:ranges[1].End])
}

func TestLines_Overlap(t *testing.T) {
	content := "a\nb\nc\nd\ne\n"

	// line_count 3, overlap 1: second chunk starts at line 2.
	ranges, err := Apply(model.ChunkStrategy{Type: "lines", LineCount: 3, Overlap: 1}, content)
	require.NoError(t, err)

	assert.Equal(t, "a\nb\nc\n", content[ranges[0].Start:ranges[0].End])
	assert.Equal(t, "c\nd\ne\n", content[ranges[1].Start:ranges[1].End])
}

func TestDelimiter_NoMatches(t *testing.T) {
	content := "no delimiters here"

	ranges, err := Apply(model.ChunkStrategy{Type: "delimiter", Delimiter: `^## `}, content)
	require.NoError(t, err)

	assert.Equal(t, []Range{{0, len(content)}}, ranges)
}

func TestDelimiter_PrefixAndSections(t *testing.T) {
	content := "intro\n## a\nbody a\n## b\nbody b"

	ranges, err := Apply(model.ChunkStrategy{Type: "delimiter", Delimiter: `## `}, content)
	require.NoError(t, err)

	// Leading prefix is chunk zero; each delimiter opens its chunk.
	require.Len(t, ranges, 3)
	assert.Equal(t, "intro\n", content[ranges[0].Start:ranges[0].End])
	assert.Equal(t, "## a\nbody a\n", content[ranges[1].Start:ranges[1].End])
	assert.Equal(t, "## b\nbody b", content[ranges[2].Start:ranges[2].End])
}

func TestDelimiter_MatchAtStart(t *testing.T) {
	content := "## first\n## second"

	ranges, err := Apply(model.ChunkStrategy{Type: "delimiter", Delimiter: `## `}, content)
	require.NoError(t, err)

	// No empty prefix chunk when the content starts with a delimiter.
	require.Len(t, ranges, 2)
	assert.Equal(t, 0, ranges[0].Start)
}

func TestDelimiter_MultibyteOffsets(t *testing.T) {
	content := "héllo|wörld|日本"

	ranges, err := Apply(model.ChunkStrategy{Type: "delimiter", Delimiter: `\|`}, content)
	require.NoError(t, err)

	// Offsets are code points, so the runes of each chunk round-trip.
	runes := []rune(content)
	require.Len(t, ranges, 3)
	assert.Equal(t, "héllo", string(runes[ranges[0].Start:ranges[0].End]))
	assert.Equal(t, "|wörld", string(runes[ranges[1].Start:ranges[1].End]))
	assert.Equal(t, "|日本", string(runes[ranges[2].Start:ranges[2].End]))
}

func TestApply_DeterministicReplay(t *testing.T) {
	content := strings.Repeat("def a():\n    pass\n", 50)
	strategy := model.ChunkStrategy{Type: "fixed", ChunkSize: 100}

	first, err := Apply(strategy, content)
	require.NoError(t, err)
	second, err := Apply(strategy, content)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
