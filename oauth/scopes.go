package oauth

import "strings"

// DefaultScope is granted when a request names no scope.
const DefaultScope = "read write"

// ParseScopes splits a space-delimited scope string.
func ParseScopes(s string) []string {
	return strings.Fields(s)
}

// FormatScopes joins scopes with single spaces.
func FormatScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// normalizeScope collapses whitespace, or returns def if s is blank.
func normalizeScope(s, def string) string {
	if f := ParseScopes(s); len(f) > 0 {
		return FormatScopes(f)
	}
	return def
}

// scopeSubset reports whether every scope in requested appears in allowed.
func scopeSubset(requested, allowed string) bool {
	set := map[string]bool{}
	for _, s := range ParseScopes(allowed) {
		set[s] = true
	}
	for _, s := range ParseScopes(requested) {
		if !set[s] {
			return false
		}
	}
	return true
}
