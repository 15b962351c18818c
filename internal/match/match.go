// Package match implements author normalization and the phrase matching
// used by catalog search.
package match

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxAuthorLen bounds the length of a watched author string.
const MaxAuthorLen = 128

// NormalizeAuthor lower-cases an author and collapses inner whitespace.
// Watched authors and item authors are compared in this form.
func NormalizeAuthor(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ValidateAuthor checks that a user-supplied author can be watched.
func ValidateAuthor(s string) error {
	n := NormalizeAuthor(s)
	if n == "" {
		return fmt.Errorf("author is required")
	}
	if len(n) > MaxAuthorLen {
		return fmt.Errorf("author is longer than %d bytes", MaxAuthorLen)
	}
	return nil
}

// Terms splits a search query into lower-cased word tokens.
// Surrounding quotes are ignored; punctuation separates tokens.
func Terms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// PhraseQuery renders a query as a single quoted phrase for full-text
// engines, so "acme games" matches the words next to each other.
// Returns "" when the query has no searchable terms.
func PhraseQuery(query string) string {
	terms := Terms(query)
	if len(terms) == 0 {
		return ""
	}
	return `"` + strings.Join(terms, " ") + `"`
}

// Score rates how well author matches the query phrase.
// It is 0 when the phrase does not occur in author and 1 for an exact
// match; longer authors containing the phrase score proportionally less.
func Score(author string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	words := Terms(author)
	if len(words) < len(terms) {
		return 0
	}
	for i := 0; i+len(terms) <= len(words); i++ {
		if equalWords(words[i:i+len(terms)], terms) {
			return float64(len(terms)) / float64(len(words))
		}
	}
	return 0
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
