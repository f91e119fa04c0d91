package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []TextChunk
	}{
		{name: "blank", text: "   \n", size: 10, overlap: 2},
		{name: "short", text: "hello", size: 10, overlap: 2, want: []TextChunk{{Content: "hello", Start: 0, End: 5}}},
		{
			name: "overlapping windows", text: "abcdefghij", size: 4, overlap: 1,
			want: []TextChunk{
				{Content: "abcd", Start: 0, End: 4},
				{Content: "defg", Start: 3, End: 7},
				{Content: "ghij", Start: 6, End: 10},
			},
		},
		{
			name: "overlap not smaller than size", text: "abcdef", size: 3, overlap: 3,
			want: []TextChunk{{Content: "abc", Start: 0, End: 3}, {Content: "def", Start: 3, End: 6}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitText(tt.text, tt.size, tt.overlap))
		})
	}
}

func TestSplitText_RuneSafe(t *testing.T) {
	text := strings.Repeat("héllo wörld ✓ ", 200)
	chunks := SplitText(text, DefaultChunkSize, DefaultChunkOverlap)
	require.NotEmpty(t, chunks)

	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content), "chunk %d is not valid utf-8", i)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), DefaultChunkSize)
		if i > 0 {
			assert.Equal(t, chunks[i-1].End-DefaultChunkOverlap, c.Start)
		}
	}
	assert.Equal(t, utf8.RuneCountInString(text), chunks[len(chunks)-1].End)
}

func TestSplitParagraphs(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []TextChunk
	}{
		{name: "blank", text: "\n \n\t", size: 10},
		{
			name: "packs paragraphs up to size",
			text: "Alpha one.\n\nBeta two.\n\n\nGamma three is long",
			size: 25,
			want: []TextChunk{
				{Content: "Alpha one.\n\nBeta two.", Start: 0, End: 21},
				{Content: "Gamma three is long", Start: 24, End: 43},
			},
		},
		{
			name: "trims surrounding whitespace",
			text: "  \n\n  hello  \n\n",
			size: 10,
			want: []TextChunk{{Content: "hello", Start: 6, End: 11}},
		},
		{
			name: "long paragraph falls back to windows",
			text: "para\n\nabcdefghij",
			size: 4, overlap: 1,
			want: []TextChunk{
				{Content: "para", Start: 0, End: 4},
				{Content: "abcd", Start: 6, End: 10},
				{Content: "defg", Start: 9, End: 13},
				{Content: "ghij", Start: 12, End: 16},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitParagraphs(tt.text, tt.size, tt.overlap))
		})
	}
}

func TestSplitParagraphs_RuneOffsets(t *testing.T) {
	text := "héllo wörld\n\nçava"
	chunks := SplitParagraphs(text, 11, 0)
	require.Len(t, chunks, 2)
	runes := []rune(text)
	for _, c := range chunks {
		assert.Equal(t, c.Content, string(runes[c.Start:c.End]))
	}
}
