package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := NewID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestHeuristicCounter(t *testing.T) {
	counter := HeuristicCounter{}

	// ceil(chars/4)
	assert.Equal(t, 0, counter.Count(""))
	assert.Equal(t, 1, counter.Count("ab"))
	assert.Equal(t, 1, counter.Count("abcd"))
	assert.Equal(t, 2, counter.Count("abcde"))

	// Characters are code points, not bytes.
	assert.Equal(t, 1, counter.Count("日本語テ"))
}

func TestEstimateTokens_HintWins(t *testing.T) {
	assert.Equal(t, 99, EstimateTokens(HeuristicCounter{}, "short", 99))
	assert.Equal(t, 2, EstimateTokens(HeuristicCounter{}, "eight ch", 0))
	assert.Equal(t, 2, EstimateTokens(nil, "eight ch", 0))
}

func TestDocumentSource_Label(t *testing.T) {
	assert.Equal(t, "inline", DocumentSource{Type: "inline"}.Label())
	assert.Equal(t, "/tmp/x.txt", DocumentSource{Type: "file", Path: "/tmp/x.txt"}.Label())
	assert.Equal(t, "https://example.com", DocumentSource{Type: "url", URL: "https://example.com"}.Label())
}

func TestSpan_Ref(t *testing.T) {
	span := &Span{DocumentID: "doc-1", StartOffset: 5, EndOffset: 20}

	assert.Equal(t, SpanRef{DocID: "doc-1", Start: 5, End: 20}, span.Ref())
}

func TestChunkStrategy_ExactEquality(t *testing.T) {
	a := ChunkStrategy{Type: "fixed", ChunkSize: 100, Overlap: 10}
	b := ChunkStrategy{Type: "fixed", ChunkSize: 100, Overlap: 10}
	c := ChunkStrategy{Type: "fixed", ChunkSize: 100, Overlap: 10, MaxChunks: 5}

	// Chunk-cache reuse compares the stored strategy exactly.
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
