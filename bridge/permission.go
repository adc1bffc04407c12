package bridge

import (
	"regexp"
	"sort"
	"strings"
)

var (
	namespacePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	actionPattern    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
)

// ValidTarget reports whether namespace and action are well-formed route names.
func ValidTarget(namespace, action string) bool {
	return namespacePattern.MatchString(namespace) && actionPattern.MatchString(action)
}

// PermissionSet is a set of normalized permission strings such as
// "file.read", "file.*" or "*".
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set, lowercasing and trimming every entry.
func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether perm is in the set verbatim.
func (s PermissionSet) Has(perm string) bool {
	_, ok := s[perm]
	return ok
}

// Sorted returns the entries in lexical order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RouteKey returns the lowercase "namespace.action" permission key.
func RouteKey(namespace, action string) string {
	return strings.ToLower(namespace) + "." + strings.ToLower(action)
}

// HasRoutePermission grants a route when the set contains the exact
// "ns.action", the namespace wildcard "ns.*", or the global wildcard "*".
// Namespace and action are compared lowercase.
func HasRoutePermission(perms PermissionSet, namespace, action string) bool {
	if len(perms) == 0 {
		return false
	}
	ns := strings.ToLower(namespace)
	if perms.Has(RouteKey(namespace, action)) {
		return true
	}
	if perms.Has(ns + ".*") {
		return true
	}
	return perms.Has("*")
}
