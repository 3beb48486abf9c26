package policy

import (
	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/roles"
)

// Action represents an operation an actor attempts on a target
type Action string

const (
	ActionView              Action = "view"
	ActionCreate            Action = "create"
	ActionUpdate            Action = "update"
	ActionUpdateRole        Action = "update_role"
	ActionUpdateStatus      Action = "update_status"
	ActionSyncRoles         Action = "sync_roles"
	ActionImpersonate       Action = "impersonate"
	ActionDelete            Action = "delete"
	ActionChangeOwnPassword Action = "change_own_password"
)

// Actions lists every action known to the evaluator
func Actions() []Action {
	return []Action{
		ActionView, ActionCreate, ActionUpdate, ActionUpdateRole, ActionUpdateStatus,
		ActionSyncRoles, ActionImpersonate, ActionDelete, ActionChangeOwnPassword,
	}
}

// selfProtected actions can never be applied by an actor to their own account
func (a Action) selfProtected() bool {
	switch a {
	case ActionUpdateRole, ActionUpdateStatus, ActionSyncRoles:
		return true
	}
	return false
}

// Kind is the type of resource a target refers to
type Kind string

const (
	KindUser       Kind = "user"
	KindInvitation Kind = "invitation"
	KindTenant     Kind = "tenant"
	KindTheme      Kind = "theme"
)

// Actor is a snapshot of the authenticated principal
type Actor struct {
	ID       int64
	Role     roles.Slug
	TenantID *int64
	Status   models.UserStatus
}

// Target is a snapshot of the user or resource an action would affect.
//
// For user targets Role is the user's current role. For invitation targets Role is
// the role the invitation grants. ProposedRole is the role being assigned by a
// create or update_role action, if any. For tenant and theme targets TenantID is
// the owning tenant.
type Target struct {
	Kind         Kind
	ID           int64
	Role         roles.Slug
	ProposedRole roles.Slug
	TenantID     *int64
}

// Reason is a stable code explaining a decision
type Reason string

const (
	ReasonPlatformBypass        Reason = "platform_bypass"
	ReasonSelfService           Reason = "self_service"
	ReasonSameTenantRead        Reason = "same_tenant_read"
	ReasonTenantOwner           Reason = "tenant_owner"
	ReasonOutranksTarget        Reason = "outranks_target"
	ReasonInactiveActor         Reason = "inactive_actor"
	ReasonSelfChangeForbidden   Reason = "self_change_forbidden"
	ReasonPlatformAdminShielded Reason = "platform_admin_shielded"
	ReasonCrossTenantForbidden  Reason = "cross_tenant_forbidden"
	ReasonInsufficientRank      Reason = "insufficient_rank"
	ReasonReadOnlyRole          Reason = "read_only_role"
	ReasonPlatformOnly          Reason = "platform_only"
)

// Decision is the outcome of a policy evaluation
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func allow(r Reason) Decision { return Decision{Allowed: true, Reason: r} }
func deny(r Reason) Decision { return Decision{Allowed: false, Reason: r} }

// Err converts a denial into a coded error. It returns nil for allowed decisions.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	code := domainerr.CodeForbidden
	switch d.Reason {
	case ReasonSelfChangeForbidden:
		code = domainerr.CodeSelfChangeForbidden
	case ReasonPlatformAdminShielded:
		code = domainerr.CodePlatformAdminShielded
	case ReasonCrossTenantForbidden:
		code = domainerr.CodeCrossTenantForbidden
	}
	return domainerr.New(code, reasonMessages[d.Reason])
}

var reasonMessages = map[Reason]string{
	ReasonInactiveActor:         "your account is not active",
	ReasonSelfChangeForbidden:   "you cannot change your own role or status",
	ReasonPlatformAdminShielded: "platform administrators can only be managed by platform administrators",
	ReasonCrossTenantForbidden:  "the target belongs to another tenant",
	ReasonInsufficientRank:      "your role does not outrank the target",
	ReasonReadOnlyRole:          "your role has read-only access",
	ReasonPlatformOnly:          "only platform administrators can perform this action",
}

// ActorFromUser builds an actor snapshot from a stored user
func ActorFromUser(u *models.User) Actor {
	a := Actor{ID: u.ID, TenantID: u.TenantID, Status: u.Status}
	if r, ok := roles.ByID(u.RoleID); ok {
		a.Role = r.Slug
	}
	return a
}

// UserTarget builds a user target snapshot from a stored user
func UserTarget(u *models.User) Target {
	t := Target{Kind: KindUser, ID: u.ID, TenantID: u.TenantID}
	if r, ok := roles.ByID(u.RoleID); ok {
		t.Role = r.Slug
	}
	return t
}

// InvitationTarget builds a target for an invitation granting roleID in tenantID
func InvitationTarget(id int64, tenantID *int64, roleID int64) Target {
	t := Target{Kind: KindInvitation, ID: id, TenantID: tenantID}
	if r, ok := roles.ByID(roleID); ok {
		t.Role = r.Slug
	}
	return t
}

// TenantTarget builds a target for a tenant resource
func TenantTarget(tenantID int64) Target {
	return Target{Kind: KindTenant, ID: tenantID, TenantID: &tenantID}
}

// ThemeTarget builds a target for a theme owned by tenantID
func ThemeTarget(themeID, tenantID int64) Target {
	return Target{Kind: KindTheme, ID: themeID, TenantID: &tenantID}
}
