package domain

import (
	"strings"
	"unicode"
)

// NormalizeContent lowercases, strips punctuation, collapses whitespace and
// trims. It is the canonical form used by every dedup predicate.
func NormalizeContent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens splits normalized content into tokens.
func Tokens(s string) []string {
	return strings.Fields(NormalizeContent(s))
}

// TokenSet returns the unique-token set of the normalized content.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokens(s) {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard computes token-set similarity in [0,1]. Two empty sets are treated
// as identical.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
