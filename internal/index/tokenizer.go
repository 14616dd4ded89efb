package index

import (
	"regexp"
	"strings"
)

// TokenizerName identifies the canonical tokenizer. It is persisted
// with every index; any change to the tokenization algorithm must
// change this identifier so stale indexes are rebuilt.
const TokenizerName = "simple-v1"

// wordRunRegex matches runs of word characters: Unicode letters,
// digits, and underscore.
var wordRunRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize applies the simple-v1 tokenizer: lowercase, extract word
// runs, split each run on underscores, drop empty tokens.
func Tokenize(content string) []string {
	runs := wordRunRegex.FindAllString(strings.ToLower(content), -1)

	var tokens []string
	for _, run := range runs {
		for _, token := range strings.Split(run, "_") {
			if token != "" {
				tokens = append(tokens, token)
			}
		}
	}
	return tokens
}
