// Package core defines the data model shared by the router, the draft
// generator, the scheduler and the synthesizer.
package core

import "strings"

// Role is one of the fixed specialist perspectives that can answer a query.
type Role string

const (
	RoleMacro     Role = "macro"
	RoleFirm      Role = "firm"
	RoleHousehold Role = "household"

	// RoleCombined is output-only: it marks the synthesized card.
	RoleCombined Role = "combined"
)

// CanonicalOrder is the order roles appear in every valid RolePath.
var CanonicalOrder = []Role{RoleMacro, RoleFirm, RoleHousehold}

// AdapterName names the generation adapter a role runs with.
type AdapterName string

// ParseRole maps a wire value to a generating role. The legacy names
// "eco" and "house" are accepted as aliases.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "macro", "eco":
		return RoleMacro, true
	case "firm":
		return RoleFirm, true
	case "household", "house":
		return RoleHousehold, true
	default:
		return "", false
	}
}

// ParseRoles parses values in order, dropping unknown entries and
// duplicates. At most three roles are returned.
func ParseRoles(values []string) []Role {
	out := make([]Role, 0, len(CanonicalOrder))
	for _, v := range values {
		role, ok := ParseRole(v)
		if !ok || containsRole(out, role) {
			continue
		}
		out = append(out, role)
		if len(out) == len(CanonicalOrder) {
			break
		}
	}
	return out
}

// IsGenerating reports whether r is one of the three answering roles.
func (r Role) IsGenerating() bool {
	switch r {
	case RoleMacro, RoleFirm, RoleHousehold:
		return true
	}
	return false
}

// Namespace returns the evidence namespace a role retrieves from.
func (r Role) Namespace() string {
	return string(r)
}

// AdapterFor selects the generation adapter for a role.
func AdapterFor(r Role) AdapterName {
	switch r {
	case RoleMacro:
		return "eco-lora"
	case RoleFirm:
		return "firm-lora"
	case RoleHousehold:
		return "house-lora"
	default:
		return ""
	}
}

func containsRole(roles []Role, r Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}
