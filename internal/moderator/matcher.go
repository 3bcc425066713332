package moderator

import (
	"strings"
	"unicode"
)

// Matcher tests text against a word list using case-insensitive whole-word
// matching. Text is split on every rune that is not a letter, digit or
// apostrophe, and apostrophes at either end of a token are trimmed. A list
// entry of several words matches the same consecutive tokens.
type Matcher struct {
	entries [][]string
}

func NewMatcher(words []string) *Matcher {
	m := &Matcher{}
	for _, w := range words {
		if tokens := tokenize(w); len(tokens) > 0 {
			m.entries = append(m.entries, tokens)
		}
	}
	return m
}

// Match reports whether any entry occurs in text.
func (m *Matcher) Match(text string) bool {
	if len(m.entries) == 0 {
		return false
	}
	tokens := tokenize(text)
	for _, entry := range m.entries {
		if containsRun(tokens, entry) {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	tokens := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'"); f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func containsRun(tokens, run []string) bool {
	for i := 0; i+len(run) <= len(tokens); i++ {
		match := true
		for j := range run {
			if tokens[i+j] != run[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
