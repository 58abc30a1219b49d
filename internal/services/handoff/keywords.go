package handoff

import (
	"strings"
)

// DefaultKeywords are the phrases that always hand the conversation to a human.
var DefaultKeywords = []string{
	"human",
	"agent",
	"real person",
	"talk to a human",
	"speak to someone",
	"representative",
	"operator",
	"live support",
}

// ParseKeywords splits a comma list, lowercases it and drops blanks.
func ParseKeywords(raw string) []string {
	out := make([]string, 0)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// matchKeyword returns the first keyword contained in text, case-insensitively.
func matchKeyword(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}
