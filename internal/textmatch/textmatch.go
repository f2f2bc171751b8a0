// Package textmatch provides cheap title normalization and keyword overlap helpers
// shared by clustering, hotspot scoring and correlation.
package textmatch

import (
	"strings"
	"unicode"
)

// MinTokenLength is the shortest token kept by Tokens.
const MinTokenLength = 3

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true, "that": true,
	"this": true, "into": true, "over": true, "after": true, "before": true, "about": true,
	"amid": true, "says": true, "said": true, "will": true, "would": true, "could": true,
	"has": true, "have": true, "had": true, "are": true, "was": true, "were": true,
	"its": true, "their": true, "his": true, "her": true, "than": true, "then": true,
	"what": true, "when": true, "who": true, "why": true, "how": true, "not": true,
	"but": true, "new": true, "more": true, "most": true, "out": true, "off": true,
	"news": true, "live": true, "update": true, "updates": true, "report": true,
	"reports": true, "amp": true, "via": true, "you": true, "your": true, "all": true,
	"can": true, "may": true, "been": true, "being": true, "there": true, "they": true,
}

// Normalize lower-cases s and replaces every non letter/digit rune with a space.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
}

// Tokens returns the distinct significant tokens of s in first-seen order.
func Tokens(s string) []string {
	fields := strings.Fields(Normalize(s))
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < MinTokenLength || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Set is a token set.
type Set map[string]struct{}

// NewSet builds a Set from tokens.
func NewSet(tokens []string) Set {
	s := make(Set, len(tokens))
	for _, t := range tokens {
		s[t] = struct{}{}
	}
	return s
}

// Overlap counts tokens present in both sets.
func Overlap(a, b Set) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when both are empty.
func Jaccard(a, b Set) float64 {
	inter := Overlap(a, b)
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// ContainsFold reports whether substr occurs in s, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
