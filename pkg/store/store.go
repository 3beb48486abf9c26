// Package store defines the transactional storage abstraction used by the back
// office services.
//
// Every service operation runs its reads and writes inside one RunInTx call.
// Implementations must give each transaction an isolated, all-or-nothing view:
// a returned error discards every write made through the Tx.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/models"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update matched no row or a unique
// constraint was violated
var ErrConflict = errors.New("conflict")

// Store runs transactions
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available inside a transaction
type Tx interface {
	TenantStore
	UserStore
	InvitationStore
	audit.Appender
}

// TenantStore manages tenants
type TenantStore interface {
	GetTenant(ctx context.Context, id int64) (*models.Tenant, error)
	// GetTenantForUpdate reads a tenant and locks it until the transaction ends.
	// Seat checks go through this lock.
	GetTenantForUpdate(ctx context.Context, id int64) (*models.Tenant, error)
	CreateTenant(ctx context.Context, t *models.Tenant) error
	UpdateTenant(ctx context.Context, t *models.Tenant) error
	// ListTenants returns tenants ordered by id. Soft-deleted tenants are
	// included only when includeDeleted is set.
	ListTenants(ctx context.Context, includeDeleted bool) ([]*models.Tenant, error)
}

// UserStore manages users
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	UpdateUserRole(ctx context.Context, userID, roleID int64, updatedAt time.Time) error
	UpdateUserStatus(ctx context.Context, userID int64, status models.UserStatus, updatedAt time.Time) error
	CountActiveUsers(ctx context.Context, tenantID int64) (int, error)
	// CountUsersWithRole counts users of a tenant holding roleID, excluding
	// excludeUserID. When activeOnly is set only active users are counted.
	CountUsersWithRole(ctx context.Context, tenantID, roleID, excludeUserID int64, activeOnly bool) (int, error)
	ListUsers(ctx context.Context, tenantID int64) ([]*models.User, error)
}

// InvitationStore manages invitations
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitation(ctx context.Context, id int64) (*models.Invitation, error)
	GetInvitationForUpdate(ctx context.Context, id int64) (*models.Invitation, error)
	// GetPendingInvitationByTokenForUpdate returns the pending, unexpired
	// invitation for token and locks it. ErrNotFound otherwise.
	GetPendingInvitationByTokenForUpdate(ctx context.Context, token string, now time.Time) (*models.Invitation, error)
	// UpdateInvitation writes inv only if the stored status still equals
	// expectedStatus. ErrConflict otherwise.
	UpdateInvitation(ctx context.Context, inv *models.Invitation, expectedStatus models.InvitationStatus) error
	// FindPendingInvitation returns a pending invitation for the same tenant and
	// email, expired or not. ErrNotFound if none exists.
	FindPendingInvitation(ctx context.Context, tenantID *int64, email string) (*models.Invitation, error)
	ListInvitations(ctx context.Context, tenantID *int64) ([]*models.Invitation, error)
	// ListExpiredPending returns up to limit pending invitations whose expiry is
	// before now.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.Invitation, error)
}

// LoadActor reads the acting user. An unknown actor is reported as forbidden
// rather than not found.
func LoadActor(ctx context.Context, users UserStore, actorID int64) (*models.User, error) {
	u, err := users.GetUser(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		return nil, domainerr.New(domainerr.CodeForbidden, "unknown actor")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load actor: %w", err)
	}
	return u, nil
}

// LoadUser reads a user, mapping ErrNotFound to a coded not found error
func LoadUser(ctx context.Context, users UserStore, id int64) (*models.User, error) {
	u, err := users.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, domainerr.New(domainerr.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// LoadTenant reads a tenant, optionally locking it, mapping ErrNotFound to a
// coded not found error
func LoadTenant(ctx context.Context, tenants TenantStore, id int64, forUpdate bool) (*models.Tenant, error) {
	get := tenants.GetTenant
	if forUpdate {
		get = tenants.GetTenantForUpdate
	}
	t, err := get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, domainerr.New(domainerr.CodeNotFound, "tenant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}
