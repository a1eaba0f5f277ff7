// Package tenant enforces tenant isolation, the fixed role/permission lattice, and HMAC-signed
// URLs for sample asset access (§4.11, §4.12).
package tenant

import "github.com/klabs/labelqueue/internal/core"

const (
	RoleLabeler     = "labeler"
	RoleAuditor     = "auditor"
	RoleAdjudicator = "adjudicator"
	RoleAdmin       = "admin"
)

var permissionLattice = map[string][]string{
	RoleLabeler:     {"fetch_next", "submit_label", "skip"},
	RoleAuditor:     {"fetch_next", "submit_label", "skip", "view_labels", "view_agreement"},
	RoleAdjudicator: {"fetch_next", "submit_label", "skip", "view_labels", "view_agreement", "override_label", "resolve_conflict"},
	RoleAdmin:       {"fetch_next", "submit_label", "skip", "view_labels", "view_agreement", "override_label", "resolve_conflict", "manage_queue", "manage_schema", "export", "manage_labelers"},
}

// roleRank orders roles for CanOverride: a role can override actions taken by any role ranked
// at or below it.
var roleRank = map[string]int{
	RoleLabeler:     0,
	RoleAuditor:     1,
	RoleAdjudicator: 2,
	RoleAdmin:       3,
}

// Access implements core.TenantAccess.
type Access struct{}

func New() Access { return Access{} }

func (Access) EnsureIsolation(resourceTenant, actorTenant string) error {
	if resourceTenant == "" || actorTenant == "" {
		return core.ErrTenantRequired
	}
	if resourceTenant != actorTenant {
		return core.ErrTenantMismatch
	}
	return nil
}

func (Access) Permissions(role string) []string {
	return permissionLattice[role]
}

func (a Access) HasPermission(role, permission string) bool {
	for _, p := range a.Permissions(role) {
		if p == permission {
			return true
		}
	}
	return false
}

func (Access) CanOverride(actorRole, targetRole string) bool {
	actorR, okA := roleRank[actorRole]
	targetR, okT := roleRank[targetRole]
	if !okA || !okT {
		return false
	}
	return actorR > targetR
}
