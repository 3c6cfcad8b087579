package identity

import (
	"strings"
	"unicode"

	"github.com/cam3ron2/delivery-heatmap/internal/collect"
)

// DefaultMatchThreshold is the minimum similarity (0-100) FindClosestName accepts.
const DefaultMatchThreshold = 80.0

// RosterMatch is the outcome of correlating one roster name with group members.
type RosterMatch struct {
	Name        string `json:"name"`
	Matched     bool   `json:"matched"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// FindClosestName returns the name in names closest to candidate. Exact normalized matches and
// whole-word containment match immediately; otherwise the best Levenshtein similarity is used,
// preferring names that share a substring with the candidate. The match is reported only when its
// similarity reaches threshold.
func FindClosestName(candidate string, names []string, threshold float64) (string, bool) {
	normalizedCandidate := normalizeName(candidate)
	if normalizedCandidate == "" || len(names) == 0 {
		return "", false
	}
	candidateParts := strings.Fields(strings.ToLower(candidate))

	bestName := ""
	bestScore := -1.0
	for _, name := range names {
		normalizedName := normalizeName(name)
		if normalizedName == "" {
			continue
		}
		if normalizedName == normalizedCandidate {
			return name, true
		}

		nameParts := strings.Fields(strings.ToLower(name))
		if containsAllParts(nameParts, candidateParts) || containsAllParts(candidateParts, nameParts) {
			return name, true
		}

		if strings.Contains(normalizedName, normalizedCandidate) || strings.Contains(normalizedCandidate, normalizedName) {
			if score := similarity(normalizedCandidate, normalizedName); score > bestScore {
				bestName, bestScore = name, score
			}
		}
	}

	if bestName == "" {
		for _, name := range names {
			normalizedName := normalizeName(name)
			if normalizedName == "" {
				continue
			}
			if score := similarity(normalizedCandidate, normalizedName); score > bestScore {
				bestName, bestScore = name, score
			}
		}
	}

	if bestName == "" || bestScore < threshold {
		return "", false
	}
	return bestName, true
}

// Similarity scores two names from 0 to 100 by Levenshtein distance over their normalized forms.
func Similarity(a, b string) float64 {
	return similarity(normalizeName(a), normalizeName(b))
}

// MatchRoster correlates names from another system (for example an issue-tracker team roster)
// with group members by display name, falling back to the username for members without one.
func MatchRoster(roster []string, members []collect.Member, threshold float64) []RosterMatch {
	names := make([]string, 0, len(members))
	byName := make(map[string]collect.Member, len(members))
	for _, member := range members {
		name := strings.TrimSpace(member.DisplayName)
		if name == "" {
			name = strings.TrimSpace(member.Username)
		}
		if name == "" {
			continue
		}
		if _, exists := byName[name]; exists {
			continue
		}
		byName[name] = member
		names = append(names, name)
	}

	matches := make([]RosterMatch, 0, len(roster))
	for _, entry := range roster {
		match := RosterMatch{Name: entry}
		if closest, ok := FindClosestName(entry, names, threshold); ok {
			member := byName[closest]
			match.Matched = true
			match.Username = member.Username
			match.DisplayName = closest
		}
		matches = append(matches, match)
	}
	return matches
}

func similarity(a, b string) float64 {
	left := []rune(a)
	right := []rune(b)
	maxLen := max(len(left), len(right))
	if maxLen == 0 {
		return 100
	}
	distance := levenshtein(left, right)
	return float64(maxLen-distance) / float64(maxLen) * 100
}

// levenshtein fills the full (n+1)x(m+1) edit-distance matrix.
func levenshtein(a, b []rune) int {
	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}
	return matrix[len(a)][len(b)]
}

func normalizeName(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// containsAllParts reports whether every part is present in set. Empty part lists never match.
func containsAllParts(set, parts []string) bool {
	if len(parts) == 0 || len(set) == 0 {
		return false
	}
	lookup := make(map[string]struct{}, len(set))
	for _, part := range set {
		lookup[part] = struct{}{}
	}
	for _, part := range parts {
		if _, ok := lookup[part]; !ok {
			return false
		}
	}
	return true
}
