package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLen(t *testing.T) {
	assert.Equal(t, 0, Len(""))
	assert.Equal(t, 5, Len("hello"))
	assert.Equal(t, 5, Len("héllo"))
	assert.Equal(t, 2, Len("日本"))
}

func TestSlice(t *testing.T) {
	tests := []struct {
		name       string
		s          string
		start, end int
		want       string
	}{
		{"ascii middle", "hello world", 6, 11, "world"},
		{"end -1", "hello", 2, -1, "llo"},
		{"clamp negative start", "hello", -3, 2, "he"},
		{"clamp oversize end", "hello", 3, 99, "lo"},
		{"end before start", "hello", 4, 2, ""},
		{"multibyte", "héllo", 1, 3, "él"},
		{"cjk", "日本語テスト", 2, 4, "語テ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slice(tt.s, tt.start, tt.end))
		})
	}
}

func TestByteToRuneOffsets(t *testing.T) {
	s := "aé日b"
	toRune := ByteToRuneOffsets(s)

	assert.Equal(t, 0, toRune(0)) // 'a'
	assert.Equal(t, 1, toRune(1)) // 'é' starts at byte 1
	assert.Equal(t, 2, toRune(3)) // '日' starts at byte 3
	assert.Equal(t, 3, toRune(6)) // 'b' starts at byte 6
	assert.Equal(t, 4, toRune(7)) // end of string
}
