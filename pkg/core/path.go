package core

import "strings"

// RolePath is the ordered, duplicate-free set of roles selected to answer a
// query. Valid paths are exactly the members of AllowedPaths.
type RolePath []Role

// AllowedPaths is the fixed allow-list shared by validation and routing.
var AllowedPaths = []RolePath{
	{RoleMacro},
	{RoleFirm},
	{RoleHousehold},
	{RoleMacro, RoleFirm},
	{RoleFirm, RoleHousehold},
	{RoleMacro, RoleHousehold},
	{RoleMacro, RoleFirm, RoleHousehold},
}

// FullPath is the default path used when nothing narrows the question.
func FullPath() RolePath {
	return RolePath{RoleMacro, RoleFirm, RoleHousehold}
}

// IsAllowed reports whether p is one of AllowedPaths.
func (p RolePath) IsAllowed() bool {
	for _, allowed := range AllowedPaths {
		if p.Equal(allowed) {
			return true
		}
	}
	return false
}

// Equal reports element-wise equality.
func (p RolePath) Equal(other RolePath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Contains reports whether r is on the path.
func (p RolePath) Contains(r Role) bool {
	return containsRole(p, r)
}

// Index returns the position of r on the path or -1.
func (p RolePath) Index(r Role) int {
	for i, x := range p {
		if x == r {
			return i
		}
	}
	return -1
}

// Strings returns the wire names of the path.
func (p RolePath) Strings() []string {
	out := make([]string, len(p))
	for i, r := range p {
		out[i] = string(r)
	}
	return out
}

func (p RolePath) String() string {
	return strings.Join(p.Strings(), "→")
}

// NormalizePath validates roles against the allow-list. Duplicates and
// non-generating roles are dropped and the rest reordered canonically; a
// result that is still not allowed falls back to the single macro path.
func NormalizePath(roles []Role) RolePath {
	seen := make(map[Role]bool, len(roles))
	candidate := make(RolePath, 0, len(roles))
	for _, r := range roles {
		if !r.IsGenerating() || seen[r] {
			continue
		}
		seen[r] = true
		candidate = append(candidate, r)
	}
	if candidate.IsAllowed() {
		return candidate
	}
	ordered := make(RolePath, 0, len(candidate))
	for _, r := range CanonicalOrder {
		if seen[r] {
			ordered = append(ordered, r)
		}
	}
	if len(ordered) > 0 && ordered.IsAllowed() {
		return ordered
	}
	return RolePath{RoleMacro}
}

// ExecutionMode selects how the roles on a path are scheduled.
type ExecutionMode string

const (
	// ModeConcurrent runs every role independently.
	ModeConcurrent ExecutionMode = "parallel"
	// ModeChained runs roles in path order, each seeing prior drafts.
	ModeChained ExecutionMode = "sequential"
)

// ParseMode parses a wire mode. "auto", "" and unknown values report
// explicit=false so the default rule applies.
func ParseMode(s string) (mode ExecutionMode, explicit bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "parallel", "concurrent":
		return ModeConcurrent, true
	case "sequential", "chained":
		return ModeChained, true
	default:
		return "", false
	}
}

// DefaultMode is chained for multi-role paths and concurrent otherwise.
func DefaultMode(p RolePath) ExecutionMode {
	if len(p) > 1 {
		return ModeChained
	}
	return ModeConcurrent
}
