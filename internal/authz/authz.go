// Package authz decides whether an authenticated credential may invoke a tool.
//
// Decisions are pure functions of the AuthContext's allow-list. Denials are
// reported as booleans so the dispatcher can still render a uniform response
// and audit the attempt.
package authz

import (
	"slices"
	"strings"

	"github.com/ashita-ai/kouba/internal/model"
)

// Allowed reports whether ac may invoke tool. The wildcard grants every tool.
func Allowed(ac *model.AuthContext, tool string) bool {
	if ac == nil || tool == "" {
		return false
	}
	return slices.Contains(ac.AllowedTools, model.AllTools) || slices.Contains(ac.AllowedTools, tool)
}

// FilterNames returns the subset of names ac may invoke, preserving order.
func FilterNames(ac *model.AuthContext, names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if Allowed(ac, n) {
			out = append(out, n)
		}
	}
	return out
}

// DescribeAllowList renders ac's allow-list for denial messages.
func DescribeAllowList(ac *model.AuthContext) string {
	if ac == nil || len(ac.AllowedTools) == 0 {
		return "none"
	}
	if slices.Contains(ac.AllowedTools, model.AllTools) {
		return "all tools"
	}
	return strings.Join(ac.AllowedTools, ", ")
}
