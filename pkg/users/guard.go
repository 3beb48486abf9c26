package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/roles"
	"github.com/platinummonkey/backoffice/pkg/store"
)

// Guard enforces the data invariants of role assignment, independent of who
// asks for the change:
//
//   - a user without a tenant holds the platform role and a tenant user holds a
//     tenant role
//   - only platform super admins grant the platform role
//   - a tenant keeps at least one owner
type Guard struct{}

// AssignmentStore is the part of a transaction role assignment needs
type AssignmentStore interface {
	store.UserStore
	GetTenantForUpdate(ctx context.Context, id int64) (*models.Tenant, error)
}

// NewGuard creates a guard
func NewGuard() *Guard {
	return &Guard{}
}

// CheckAssignment validates giving newRoleID to target and returns target's
// current role
func (g *Guard) CheckAssignment(ctx context.Context, users AssignmentStore, actor, target *models.User, newRoleID int64) (roles.Role, error) {
	prior, ok := roles.ByID(target.RoleID)
	if !ok {
		return roles.Role{}, fmt.Errorf("user %d holds unknown role %d", target.ID, target.RoleID)
	}
	next, ok := roles.ByID(newRoleID)
	if !ok {
		return prior, domainerr.New(domainerr.CodeInvalidInput, "unknown role")
	}

	if err := CheckScope(target.TenantID, next); err != nil {
		return prior, err
	}

	if roles.IsPlatformSuperAdmin(next.Slug) {
		actorRole, _ := roles.ByID(actor.RoleID)
		if !roles.IsPlatformSuperAdmin(actorRole.Slug) {
			return prior, domainerr.New(domainerr.CodeForbidden, "only platform administrators can grant the platform role")
		}
	}

	if prior.Slug == roles.TenantOwner && next.Slug != roles.TenantOwner {
		if err := ensureAnotherOwner(ctx, users, *target.TenantID, target.ID, false); err != nil {
			return prior, err
		}
	}
	return prior, nil
}

// ensureAnotherOwner fails unless the tenant has an owner besides targetID.
// The tenant row is locked before counting so concurrent demotions of two
// owners serialize and the second one sees the first.
func ensureAnotherOwner(ctx context.Context, users AssignmentStore, tenantID, targetID int64, activeOnly bool) error {
	if _, err := users.GetTenantForUpdate(ctx, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainerr.New(domainerr.CodeNotFound, "tenant not found")
		}
		return fmt.Errorf("failed to lock tenant: %w", err)
	}
	others, err := users.CountUsersWithRole(ctx, tenantID, roles.IDTenantOwner, targetID, activeOnly)
	if err != nil {
		return fmt.Errorf("failed to count owners: %w", err)
	}
	if others == 0 {
		if activeOnly {
			return domainerr.New(domainerr.CodeLastOwnerViolation, "a tenant must keep at least one active owner")
		}
		return domainerr.New(domainerr.CodeLastOwnerViolation, "a tenant must keep at least one owner")
	}
	return nil
}

// Assign checks and persists a role change and returns the prior role
func (g *Guard) Assign(ctx context.Context, users AssignmentStore, actor, target *models.User, newRoleID int64, now time.Time) (roles.Role, error) {
	prior, err := g.CheckAssignment(ctx, users, actor, target, newRoleID)
	if err != nil {
		return prior, err
	}
	if err := users.UpdateUserRole(ctx, target.ID, newRoleID, now); err != nil {
		return prior, fmt.Errorf("failed to update role: %w", err)
	}
	target.RoleID = newRoleID
	target.UpdatedAt = now
	return prior, nil
}

// CheckScope rejects a role that does not match the presence of a tenant
func CheckScope(tenantID *int64, role roles.Role) error {
	if (tenantID == nil) != (role.Scope == roles.ScopePlatform) {
		if tenantID == nil {
			return domainerr.New(domainerr.CodeScopeMismatch, "users without a tenant can only hold the platform role")
		}
		return domainerr.New(domainerr.CodeScopeMismatch, "tenant users can only hold tenant roles")
	}
	return nil
}
