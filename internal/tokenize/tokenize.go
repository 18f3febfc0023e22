// Package tokenize provides the normalization and tokenization shared by
// full-text indexing, query parsing, and entity alias matching.
package tokenize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/orsinium-labs/stopwords"
)

// isJoiner reports punctuation that commonly appears inside a single word or
// name: "O'Brien", "state-of-the-art", "v2.0". These are kept attached to
// their token instead of splitting it.
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘',
		'-', '–', '—',
		'·', '.', '_', '/', '#', '&':
		return true
	default:
		return false
	}
}

func isSeparator(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || isJoiner(r) {
		return false
	}
	return true
}

// Canonicalize folds text to a normalized form: lowercase, joiners kept,
// every other separator collapsed to a single space.
func Canonicalize(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	lastWasSpace := true
	for _, ch := range s {
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else if !lastWasSpace {
			out.WriteRune(' ')
			lastWasSpace = true
		}
	}

	result := out.String()
	if len(result) > 0 && result[len(result)-1] == ' ' {
		result = result[:len(result)-1]
	}
	return result
}

// Token is one word with its byte span in the original string.
type Token struct {
	Text  string
	Start int
	End   int
}

// TokenizeWithOffsets splits text into canonicalized tokens while preserving
// byte offsets into the original string.
func TokenizeWithOffsets(s string) []Token {
	out := make([]Token, 0, 64)

	i := 0
	for i < len(s) {
		for i < len(s) {
			r, w := utf8.DecodeRuneInString(s[i:])
			if !isSeparator(r) {
				break
			}
			i += w
		}
		start := i

		for i < len(s) {
			r, w := utf8.DecodeRuneInString(s[i:])
			if isSeparator(r) {
				break
			}
			i += w
		}
		end := i

		if start < end {
			out = append(out, Token{Text: Canonicalize(s[start:end]), Start: start, End: end})
		}
	}

	return out
}

var english = stopwords.MustGet("en")

// Words tokenizes s and drops stopwords, returning plain terms suitable for
// BM25 indexing or querying.
func Words(s string) []string {
	toks := TokenizeWithOffsets(s)
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if t.Text == "" || english.Contains(t.Text) {
			continue
		}
		out = append(out, t.Text)
	}
	return out
}

// IsStopword reports whether word (already canonicalized) is a stopword.
func IsStopword(word string) bool {
	return english.Contains(word)
}
