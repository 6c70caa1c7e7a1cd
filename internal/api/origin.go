package api

import "strings"

// MatchOrigin reports whether origin satisfies pattern. Patterns may be "*",
// an exact origin, "scheme://host:*" for any port, or "scheme://*.domain"
// for any subdomain.
func MatchOrigin(origin string, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return origin == pattern
	}

	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
		withoutPort := origin
		if idx := strings.LastIndex(origin, ":"); idx > strings.Index(origin, "//") {
			withoutPort = origin[:idx]
		}
		return withoutPort == prefix
	}

	for _, scheme := range []string{"https://", "http://"} {
		if !strings.HasPrefix(pattern, scheme+"*.") {
			continue
		}
		suffix := strings.TrimPrefix(pattern, scheme+"*")
		host, ok := strings.CutPrefix(origin, scheme)
		return ok && strings.HasSuffix(host, suffix) && len(host) > len(suffix)
	}

	return false
}
