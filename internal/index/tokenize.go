package index

import (
	"strings"
	"unicode"
)

// Tokenize splits text into lowercase tokens on whitespace and
// punctuation, discarding tokens shorter than minLen runes.
func Tokenize(text string, minLen int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < minLen {
			continue
		}
		out = append(out, f)
	}
	return out
}

// tokenCounts aggregates occurrence counts over the entry's title, body,
// and tags.
func (db *DB) tokenCounts(e Entry) map[string]int {
	counts := make(map[string]int)
	for _, tok := range Tokenize(e.Title, db.minTokenLen) {
		counts[tok]++
	}
	for _, tok := range Tokenize(e.Body, db.minTokenLen) {
		counts[tok]++
	}
	for _, tag := range e.Tags {
		for _, tok := range Tokenize(tag, db.minTokenLen) {
			counts[tok]++
		}
	}
	return counts
}
