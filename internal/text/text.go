// Package text provides the rune-offset helpers shared by the blob
// store, chunker, and search so that span offsets round-trip exactly.
//
// All character offsets in this codebase count Unicode code points.
package text

import "unicode/utf8"

// Len returns the number of code points in s.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}

// Slice returns s[start:end] in code-point offsets. end == -1 means
// "to the end". Offsets are clamped to [0, Len(s)].
func Slice(s string, start, end int) string {
	runes := []rune(s)
	n := len(runes)
	if end == -1 || end > n {
		end = n
	}
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	if end < start {
		end = start
	}
	return string(runes[start:end])
}

// ByteToRuneOffsets converts byte offsets into code-point offsets for s.
// The returned function is valid for offsets in [0, len(s)] that fall on
// rune boundaries; it answers in O(1) after an O(len) precomputation.
func ByteToRuneOffsets(s string) func(byteOff int) int {
	table := make(map[int]int, utf8.RuneCountInString(s)+1)
	runeIdx := 0
	for byteIdx := range s {
		table[byteIdx] = runeIdx
		runeIdx++
	}
	table[len(s)] = runeIdx
	return func(byteOff int) int {
		return table[byteOff]
	}
}
