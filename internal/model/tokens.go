package model

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts for document content.
// Estimates are advisory; character counts are the ground truth.
type TokenCounter interface {
	Count(content string) int
}

// HeuristicCounter approximates tokens as ceil(chars/4).
type HeuristicCounter struct{}

// Count implements TokenCounter.
func (HeuristicCounter) Count(content string) int {
	chars := len([]rune(content))
	return (chars + 3) / 4
}

// TiktokenCounter counts tokens with the cl100k_base encoding.
// Falls back to the heuristic if the encoding cannot be loaded.
type TiktokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(content string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.encoding = enc
		}
	})
	if c.encoding == nil {
		return HeuristicCounter{}.Count(content)
	}
	return len(c.encoding.Encode(content, nil, nil))
}

// EstimateTokens returns the client hint when provided, otherwise the
// counter's estimate for content.
func EstimateTokens(counter TokenCounter, content string, hint int) int {
	if hint > 0 {
		return hint
	}
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return counter.Count(content)
}
