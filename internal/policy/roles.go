package policy

import (
	"strings"

	"github.com/sealbox/sealbox/internal/model"
)

// groupRoles maps normalized group names to roles. The mapping is a fixed
// table so the same group set always derives the same role set.
var groupRoles = map[string]model.Role{
	"admin":           model.RoleAdmin,
	"admins":          model.RoleAdmin,
	"administrators":  model.RoleAdmin,
	"manager":         model.RoleManager,
	"managers":        model.RoleManager,
	"hr":              model.RoleHR,
	"human-resources": model.RoleHR,
	"finance":         model.RoleFinance,
	"accounting":      model.RoleFinance,
	"legal":           model.RoleLegal,
	"it":              model.RoleIT,
	"it-support":      model.RoleIT,
	"research":        model.RoleResearch,
	"r-and-d":         model.RoleResearch,
	"operations":      model.RoleOperations,
	"ops":             model.RoleOperations,
	"executive":       model.RoleExecutive,
	"executives":      model.RoleExecutive,
	"staff":           model.RoleStaff,
	"employees":       model.RoleStaff,
}

// RolesForGroups derives the actor's role set from its group memberships.
// Unrecognized groups contribute nothing; an actor whose groups match no role
// (including an actor with no groups at all) gets the single role staff.
func RolesForGroups(groups []string) []model.Role {
	seen := make(map[model.Role]struct{}, len(groups))
	var roles []model.Role
	for _, g := range groups {
		name := strings.ToLower(strings.TrimSpace(g))
		role, ok := groupRoles[name]
		if !ok {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		roles = []model.Role{model.RoleStaff}
	}
	return roles
}
