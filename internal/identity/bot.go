package identity

import "strings"

var botMarkers = []string{"bot", "security", "system", "pipeline", "ci", "auto"}

// IsBot reports whether username looks like an automation account. The check is a
// case-insensitive substring match, so short markers also hit some human names.
func IsBot(username string) bool {
	lowered := strings.ToLower(username)
	for _, marker := range botMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
