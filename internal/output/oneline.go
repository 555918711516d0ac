// Package output renders command results: multi-line text, the single-line
// escaped form used by --oneline, and simple aligned tables.
package output

import (
	"io"
	"strings"
)

// OnelineEscape folds a command's output onto one line: each embedded
// newline becomes the two characters `\n` and each backslash becomes `\\`.
// A trailing newline on the input is dropped first so the encoded line does
// not end in a spurious `\n` sequence.
func OnelineEscape(s string) string {
	s = strings.TrimSuffix(s, "\n")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Oneline writes the escaped form of s followed by exactly one real newline.
func Oneline(w io.Writer, s string) error {
	_, err := io.WriteString(w, OnelineEscape(s)+"\n")
	return err
}
