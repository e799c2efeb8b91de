package jobs

import (
	"strings"
)

// ParseRoute splits a path like /api/edits/{id}/{action} into the ID and the
// optional action. apiPrefix must include the trailing slash, e.g.
// "/api/edits/". ok is false for an empty ID or extra path segments.
func ParseRoute(path, apiPrefix string) (id, action string, ok bool) {
	rest, found := strings.CutPrefix(path, apiPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if parts[0] == "" || len(parts) > 2 {
		return "", "", false
	}
	if len(parts) == 2 {
		action = parts[1]
	}
	return parts[0], action, true
}
