// Package noise separates substantive review comments from low-content acknowledgements.
package noise

import (
	"strings"
	"unicode/utf16"
)

const (
	minCommentLength     = 5
	minUnqualifiedLength = 15
)

var acknowledgements = []string{
	"thanks", "thank you", "thx", "ty",
	"lgtm", "looks good", "looks good to me",
	"+1", "👍", "approved", "approve",
	"ok", "okay", "nice", "great", "good",
	"done", "fixed", "merged", "ship it",
	"🚀", "🎉", "✅", "cool", "awesome", "sgtm",
}

var substantiveKeywords = []string{"bug", "fix", "issue", "error", "change", "update"}

// IsMeaningfulComment reports whether a comment carries review signal. Comments shorter than five
// characters are rejected; characters are UTF-16 code units, so most emoji count twice. So are acknowledgements, and short comments without a substantive
// keyword. An acknowledgement that leads into a substantive remark ("lgtm but please fix the null
// check") is kept.
func IsMeaningfulComment(text string) bool {
	trimmed := strings.TrimSpace(text)
	length := utf16Length(trimmed)
	if length < minCommentLength {
		return false
	}

	lowered := strings.ToLower(trimmed)
	hasKeyword := containsKeyword(lowered)
	switch acknowledgementMatch(lowered) {
	case matchExact:
		return false
	case matchAffix:
		if !hasKeyword {
			return false
		}
	}
	if length < minUnqualifiedLength && !hasKeyword {
		return false
	}
	return true
}

type match int

const (
	matchNone match = iota
	matchExact
	matchAffix
)

func acknowledgementMatch(lowered string) match {
	result := matchNone
	for _, phrase := range acknowledgements {
		if lowered == phrase {
			return matchExact
		}
		if strings.HasPrefix(lowered, phrase+" ") || strings.HasSuffix(lowered, " "+phrase) {
			result = matchAffix
		}
	}
	return result
}

func containsKeyword(lowered string) bool {
	for _, keyword := range substantiveKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

// utf16Length counts UTF-16 code units, the unit comment length thresholds are defined in.
func utf16Length(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
