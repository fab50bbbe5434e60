package enforcer

import (
	"strings"

	"github.com/casbin/casbin/v2/util"
)

// MatchResource checks a requested path against a policy pattern with
// casbin's keyMatch:
//
//	"/api/roles"    matches "/api/roles" only
//	"/api/roles/*"  matches "/api/roles/42" and "/api/roles/42/assign", not "/api/roles"
//	"/*"            matches any path
//
// A trailing slash on the request is ignored.
func MatchResource(pattern, resource string) bool {
	if len(resource) > 1 {
		resource = strings.TrimRight(resource, "/")
	}
	return util.KeyMatch(resource, pattern)
}

// MatchAction compares verbs case-insensitively; "*" matches anything.
func MatchAction(pattern, action string) bool {
	if pattern == AnyAction {
		return true
	}
	return strings.EqualFold(pattern, action)
}

func policyMatches(p Policy, resource, action string) bool {
	return MatchAction(p.Action, action) && MatchResource(p.Resource, resource)
}
