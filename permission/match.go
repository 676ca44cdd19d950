package permission

import "strings"

// Wildcard is the universal grant.
const Wildcard = "*"

// Match reports whether any grant satisfies required. A grant satisfies a
// check by exact match, by `resource:*` for any action on that resource, or
// by the universal wildcard.
func Match(grants []string, required string) bool {
	if required == "" {
		return false
	}
	resource, _, hasAction := strings.Cut(required, ":")
	for _, g := range grants {
		switch {
		case g == Wildcard, g == required:
			return true
		case hasAction && g == resource+":*":
			return true
		}
	}
	return false
}

// ValidGrant reports whether g is a well formed grant.
func ValidGrant(g string) bool {
	if g == Wildcard {
		return true
	}
	resource, action, ok := strings.Cut(g, ":")
	if !ok || resource == "" || action == "" || resource == Wildcard {
		return false
	}
	return !strings.ContainsAny(g, " \t\n") && strings.Count(g, ":") == 1
}
