// Package identity maps source-control actors to canonical display names.
package identity

import (
	"strings"

	"github.com/cam3ron2/delivery-heatmap/internal/collect"
)

const githubNoReplySuffix = "@users.noreply.github.com"

// Map resolves usernames to display names. Keys are lowercase and unique; it is read-only once built.
type Map struct {
	names     map[string]string
	usernames map[string]string
}

// NewMap builds a Map from group members. The first occurrence of a username wins.
func NewMap(members []collect.Member) Map {
	m := Map{
		names:     make(map[string]string, len(members)),
		usernames: make(map[string]string, len(members)),
	}
	for _, member := range members {
		key := normalizeKey(member.Username)
		if key == "" {
			continue
		}
		if _, exists := m.names[key]; exists {
			continue
		}
		display := strings.TrimSpace(member.DisplayName)
		m.names[key] = display
		if display != "" {
			if _, exists := m.usernames[strings.ToLower(display)]; !exists {
				m.usernames[strings.ToLower(display)] = strings.TrimSpace(member.Username)
			}
		}
	}
	return m
}

// Len returns the number of known usernames.
func (m Map) Len() int {
	return len(m.names)
}

// Lookup returns the display name of a known username.
func (m Map) Lookup(username string) (string, bool) {
	display, ok := m.names[normalizeKey(username)]
	return display, ok
}

// Resolve returns the display name for username: the mapped name, else fallbackName, else the
// username itself.
func (m Map) Resolve(username, fallbackName string) string {
	if display, ok := m.Lookup(username); ok && display != "" {
		return display
	}
	if trimmed := strings.TrimSpace(fallbackName); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(username)
}

// ResolveCommitAuthor attributes a git author (name and email only) to a username and display
// name. Unmatched authors are attributed to their raw author name.
func (m Map) ResolveCommitAuthor(name, email string) (username, display string) {
	name = strings.TrimSpace(name)

	if local := emailLocalPart(email); local != "" {
		if _, ok := m.Lookup(local); ok {
			return local, m.Resolve(local, name)
		}
	}

	if login := githubNoReplyLogin(email); login != "" {
		return login, m.Resolve(login, name)
	}

	if name != "" {
		if _, ok := m.Lookup(name); ok {
			return normalizeKey(name), m.Resolve(name, name)
		}
		if known, ok := m.usernames[strings.ToLower(name)]; ok {
			return known, m.Resolve(known, name)
		}
		return name, name
	}

	if local := emailLocalPart(email); local != "" {
		return local, local
	}
	return "", ""
}

func normalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func emailLocalPart(email string) string {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 {
		return ""
	}
	return normalizeKey(parts[0])
}

// githubNoReplyLogin extracts the login from "<id>+<login>@users.noreply.github.com" or
// "<login>@users.noreply.github.com".
func githubNoReplyLogin(email string) string {
	lowered := normalizeKey(email)
	if !strings.HasSuffix(lowered, githubNoReplySuffix) {
		return ""
	}
	local := strings.TrimSuffix(lowered, githubNoReplySuffix)
	if _, login, found := strings.Cut(local, "+"); found {
		local = login
	}
	return strings.TrimSpace(local)
}
