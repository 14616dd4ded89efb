// Package chunk produces ordered (start, end) half-open code-point
// ranges over document content. Three deterministic strategies: fixed
// windows, line groups, and delimiter regex.
//
// Parameter validation happens at construction; an invalid strategy
// never reaches the chunk loop.
package chunk

import (
	"regexp"
	"strings"

	rlmerrors "github.com/adrianwedd/rlm-mcp/internal/errors"
	"github.com/adrianwedd/rlm-mcp/internal/model"
	"github.com/adrianwedd/rlm-mcp/internal/text"
)

// Range is a half-open [Start, End) offset pair in code points.
type Range struct {
	Start int
	End   int
}

// Chunker yields chunk ranges over content.
type Chunker interface {
	Chunk(content string) []Range
}

// New builds a Chunker from a strategy descriptor, validating its
// parameters.
func New(strategy model.ChunkStrategy) (Chunker, error) {
	switch strategy.Type {
	case "fixed":
		return newFixed(strategy.ChunkSize, strategy.Overlap)
	case "lines":
		return newLines(strategy.LineCount, strategy.Overlap)
	case "delimiter":
		return newDelimiter(strategy.Delimiter)
	default:
		return nil, rlmerrors.Newf(rlmerrors.KindInvalidStrategy,
			"unknown strategy type: %q", strategy.Type)
	}
}

// Apply runs the strategy over content, honoring MaxChunks.
func Apply(strategy model.ChunkStrategy, content string) ([]Range, error) {
	chunker, err := New(strategy)
	if err != nil {
		return nil, err
	}
	ranges := chunker.Chunk(content)
	if strategy.MaxChunks > 0 && len(ranges) > strategy.MaxChunks {
		ranges = ranges[:strategy.MaxChunks]
	}
	return ranges, nil
}

// --- Fixed size ---

type fixedChunker struct {
	chunkSize int
	overlap   int
}

func newFixed(chunkSize, overlap int) (Chunker, error) {
	if chunkSize <= 0 {
		return nil, rlmerrors.Newf(rlmerrors.KindInvalidStrategy,
			"chunk_size must be > 0, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		// overlap >= chunk_size would never make forward progress.
		return nil, rlmerrors.Newf(rlmerrors.KindInvalidStrategy,
			"overlap must be in [0, chunk_size-1], got overlap=%d chunk_size=%d", overlap, chunkSize)
	}
	return &fixedChunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Chunk yields windows of chunkSize advancing by chunkSize-overlap; the
// final window is truncated at the content end.
func (c *fixedChunker) Chunk(content string) []Range {
	length := text.Len(content)
	if length == 0 {
		return nil
	}
	step := c.chunkSize - c.overlap

	var ranges []Range
	for start := 0; start < length; start += step {
		end := start + c.chunkSize
		if end > length {
			end = length
		}
		ranges = append(ranges, Range{Start: start, End: end})
		if end >= length {
			break
		}
	}
	return ranges
}

// --- By line ---

type linesChunker struct {
	lineCount int
	overlap   int
}

func newLines(lineCount, overlap int) (Chunker, error) {
	if lineCount <= 0 {
		return nil, rlmerrors.Newf(rlmerrors.KindInvalidStrategy,
			"line_count must be > 0, got %d", lineCount)
	}
	if overlap < 0 || overlap >= lineCount {
		return nil, rlmerrors.Newf(rlmerrors.KindInvalidStrategy,
			"overlap must be in [0, line_count-1], got overlap=%d line_count=%d", overlap, lineCount)
	}
	return &linesChunker{lineCount: lineCount, overlap: overlap}, nil
}

// Chunk groups lines; each chunk spans from the first character of its
// first line to the first character of the line after its last line, so
// trailing newlines are included.
func (c *linesChunker) Chunk(content string) []Range {
	if content == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	// Offsets of each line start, in code points, plus the content end.
	offsets := make([]int, 0, len(lines)+1)
	offset := 0
	for _, line := range lines {
		offsets = append(offsets, offset)
		offset += text.Len(line) + 1 // +1 for the newline
	}
	offsets = append(offsets, text.Len(content))

	step := c.lineCount - c.overlap
	var ranges []Range
	for i := 0; i < len(lines); i += step {
		endIdx := i + c.lineCount
		if endIdx > len(lines) {
			endIdx = len(lines)
		}
		ranges = append(ranges, Range{Start: offsets[i], End: offsets[endIdx]})
		if endIdx >= len(lines) {
			break
		}
	}
	return ranges
}

// --- Delimiter regex ---

type delimiterChunker struct {
	pattern *regexp.Regexp
}

func newDelimiter(delimiter string) (Chunker, error) {
	if delimiter == "" {
		return nil, rlmerrors.New(rlmerrors.KindInvalidStrategy,
			"delimiter strategy requires a non-empty delimiter pattern")
	}
	pattern, err := regexp.Compile(delimiter)
	if err != nil {
		return nil, rlmerrors.Wrap(rlmerrors.KindInvalidStrategy,
			"invalid delimiter pattern", err)
	}
	return &delimiterChunker{pattern: pattern}, nil
}

// Chunk splits at every non-overlapping match. The delimiter is not
// consumed: each chunk starts at a match and runs to the next match (or
// the content end). A non-empty prefix before the first match is chunk
// zero; with no matches the whole document is one chunk.
func (c *delimiterChunker) Chunk(content string) []Range {
	length := text.Len(content)
	if length == 0 {
		return nil
	}

	byteMatches := c.pattern.FindAllStringIndex(content, -1)
	if len(byteMatches) == 0 {
		return []Range{{Start: 0, End: length}}
	}

	toRune := text.ByteToRuneOffsets(content)
	starts := make([]int, len(byteMatches))
	for i, m := range byteMatches {
		starts[i] = toRune(m[0])
	}

	var ranges []Range
	if starts[0] > 0 {
		ranges = append(ranges, Range{Start: 0, End: starts[0]})
	}
	for i, start := range starts {
		end := length
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return ranges
}
