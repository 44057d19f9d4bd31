package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_NoSplitting(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		maxSize int
	}{
		{"zero max size", "one two three", 0},
		{"negative max size", "one two three", -5},
		{"fits", "short", 100},
		{"exact fit", "12345", 5},
		{"empty", "", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, []string{tt.text}, Split(tt.text, tt.maxSize, DefaultDelimiters))
		})
	}
}

func TestSplit_ParagraphsFirst(t *testing.T) {
	text := "first paragraph\n\nsecond paragraph\n\nthird"
	got := Split(text, 20, DefaultDelimiters)

	assert.Equal(t, []string{"first paragraph\n\n", "second paragraph\n\n", "third"}, got)
	assert.Equal(t, text, strings.Join(got, ""))
}

func TestSplit_MergesSmallPieces(t *testing.T) {
	got := Split("a b c d e f", 4, DefaultDelimiters)

	assert.Equal(t, []string{"a b ", "c d ", "e f"}, got)
}

func TestSplit_FallsThroughDelimiters(t *testing.T) {
	text := "line one is long\nline two"
	got := Split(text, 10, DefaultDelimiters)

	for _, p := range got {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 10, "piece %q", p)
	}
	assert.Equal(t, text, strings.Join(got, ""))
}

func TestSplit_CharacterLevel(t *testing.T) {
	got := Split("abcdefghij", 3, DefaultDelimiters)

	assert.Equal(t, []string{"abc", "def", "ghi", "j"}, got)
}

func TestSplit_IndivisibleTokenEmittedWhole(t *testing.T) {
	got := Split("tiny supercalifragilistic end", 6, []string{" "})

	assert.Equal(t, []string{"tiny ", "supercalifragilistic ", "end"}, got)
}

func TestSplit_CountsRunes(t *testing.T) {
	text := "日本語 テキスト です"
	got := Split(text, 5, DefaultDelimiters)

	for _, p := range got {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 5)
	}
	assert.Equal(t, text, strings.Join(got, ""))
}

func TestSplit_Properties(t *testing.T) {
	texts := []string{
		strings.Repeat("lorem ipsum dolor sit amet ", 40),
		"para one\n\npara two is a little longer\nwith a second line\n\n" + strings.Repeat("x", 90),
		"trailing delimiters \n\n\n\n  ",
		"\n\n\nleading breaks and words",
	}

	for _, maxSize := range []int{1, 7, 16, 50, 200} {
		for _, text := range texts {
			got := Split(text, maxSize, DefaultDelimiters)
			require.NotEmpty(t, got)
			assert.Equal(t, text, strings.Join(got, ""), "lossless at max %d", maxSize)
			for _, p := range got {
				assert.LessOrEqual(t, utf8.RuneCountInString(p), maxSize, "bounded at max %d", maxSize)
				assert.NotEmpty(t, p)
			}
		}
	}
}
