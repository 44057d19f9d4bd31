// Package chunker splits long text into bounded pieces along a delimiter
// hierarchy.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultDelimiters is the default split hierarchy: paragraph break, line
// break, space, then single characters.
var DefaultDelimiters = []string{"\n\n", "\n", " ", ""}

// Split splits text into pieces of at most maxSize characters.
//
// Delimiters are tried in order. A delimiter stays attached to the piece it
// terminates, so joining the output reproduces text exactly. Adjacent
// pieces are merged greedily while they fit. A piece that is still too long
// is split again with the next delimiter; the empty delimiter splits into
// single characters. When the delimiters are exhausted the piece is
// emitted whole, even if it exceeds maxSize.
//
// maxSize <= 0 disables splitting and returns text as the only element.
// Sizes are counted in runes.
func Split(text string, maxSize int, delimiters []string) []string {
	if maxSize <= 0 || utf8.RuneCountInString(text) <= maxSize {
		return []string{text}
	}
	return split(text, maxSize, delimiters)
}

func split(text string, maxSize int, delimiters []string) []string {
	if utf8.RuneCountInString(text) <= maxSize || len(delimiters) == 0 {
		return []string{text}
	}

	delim, rest := delimiters[0], delimiters[1:]
	pieces := splitKeep(text, delim)
	if len(pieces) < 2 {
		return split(text, maxSize, rest)
	}

	var (
		out    []string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if bufLen > 0 {
			out = append(out, buf.String())
			buf.Reset()
			bufLen = 0
		}
	}

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if n > maxSize {
			flush()
			out = append(out, split(p, maxSize, rest)...)
			continue
		}
		if bufLen+n > maxSize {
			flush()
		}
		buf.WriteString(p)
		bufLen += n
	}
	flush()

	return out
}

// splitKeep splits s after each occurrence of delim. The empty delimiter
// splits s into runes.
func splitKeep(s, delim string) []string {
	if delim == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(s))
		for _, r := range s {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	pieces := strings.SplitAfter(s, delim)
	// SplitAfter yields a trailing empty string when s ends with delim.
	if n := len(pieces); n > 0 && pieces[n-1] == "" {
		pieces = pieces[:n-1]
	}
	return pieces
}
