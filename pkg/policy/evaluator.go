package policy

import (
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/roles"
)

// Evaluate decides whether actor may perform action on target.
//
// Rules are checked in a fixed order and the first match wins. Evaluate reads
// nothing but its arguments.
func Evaluate(actor Actor, action Action, target Target) Decision {
	// 1. Platform bypass
	if roles.IsPlatformSuperAdmin(actor.Role) {
		return allow(ReasonPlatformBypass)
	}

	// 2. Inactive actors can do nothing
	if actor.Status != models.UserStatusActive {
		return deny(ReasonInactiveActor)
	}

	self := target.Kind == KindUser && target.ID == actor.ID

	// 3. Self-protection
	if self && action.selfProtected() {
		return deny(ReasonSelfChangeForbidden)
	}
	if self && action == ActionChangeOwnPassword {
		return allow(ReasonSelfService)
	}

	// 4. Platform admins are out of reach
	if roles.IsPlatformSuperAdmin(target.Role) || roles.IsPlatformSuperAdmin(target.ProposedRole) {
		return deny(ReasonPlatformAdminShielded)
	}

	// 5. Tenant boundary
	if actor.TenantID == nil || target.TenantID == nil || *actor.TenantID != *target.TenantID {
		return deny(ReasonCrossTenantForbidden)
	}

	if action == ActionView {
		return allow(ReasonSameTenantRead)
	}

	// 6 and 7. Rank and role floors
	switch target.Kind {
	case KindUser, KindInvitation:
		return evaluateRank(actor, action, target)
	case KindTheme:
		return evaluateFloor(actor, roles.TenantAdmin)
	case KindTenant:
		switch action {
		case ActionUpdate:
			return evaluateFloor(actor, roles.TenantOwner)
		default:
			return deny(ReasonPlatformOnly)
		}
	}
	return deny(ReasonInsufficientRank)
}

// evaluateRank applies the role hierarchy to user-like targets
func evaluateRank(actor Actor, action Action, target Target) Decision {
	if action == ActionChangeOwnPassword {
		// only the account holder
		return deny(ReasonInsufficientRank)
	}
	switch actor.Role {
	case roles.TenantOwner:
		return allow(ReasonTenantOwner)
	case roles.TenantAdmin:
		if !roles.Outranks(actor.Role, target.Role) {
			return deny(ReasonInsufficientRank)
		}
		if target.ProposedRole != "" && !roles.Outranks(actor.Role, target.ProposedRole) {
			return deny(ReasonInsufficientRank)
		}
		return allow(ReasonOutranksTarget)
	default:
		return deny(ReasonReadOnlyRole)
	}
}

// evaluateFloor allows actors ranked at or above floor
func evaluateFloor(actor Actor, floor roles.Slug) Decision {
	if roles.Rank(actor.Role) >= roles.Rank(floor) {
		return allow(ReasonOutranksTarget)
	}
	if roles.Rank(actor.Role) <= roles.Rank(roles.TenantEditor) {
		return deny(ReasonReadOnlyRole)
	}
	return deny(ReasonInsufficientRank)
}
