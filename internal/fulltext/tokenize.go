package fulltext

import (
	"strings"
	"unicode/utf8"
)

// DefaultMinWordLength is the shortest token kept, in runes.
const DefaultMinWordLength = 3

// Tokenize lowercases text, replaces every character that is not a word
// character ([0-9A-Za-z_]) or a Latin-1/Latin Extended-A letter
// (U+00C0-U+017F) with a space, splits on whitespace and drops tokens
// shorter than minLen runes.
func Tokenize(text string, minLen int) []string {
	if minLen <= 0 {
		minLen = DefaultMinWordLength
	}
	cleaned := strings.Map(func(r rune) rune {
		if keepRune(r) {
			return r
		}
		return ' '
	}, strings.ToLower(text))

	fields := strings.Fields(cleaned)
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minLen {
			out = append(out, f)
		}
	}
	return out
}

func keepRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 0x00C0 && r <= 0x017F:
		return true
	}
	return false
}
