package models

import (
	"strings"
	"time"
)

// TenantStatus represents tenant lifecycle status
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusPending   TenantStatus = "pending"
)

// Valid reports whether s is a known tenant status
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantStatusActive, TenantStatusSuspended, TenantStatusPending:
		return true
	}
	return false
}

// Tenant is an isolated customer account that owns users and invitations
type Tenant struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Slug      string       `json:"slug"`
	Status    TenantStatus `json:"status"`
	SeatLimit int          `json:"seat_limit"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	DeletedAt *time.Time   `json:"deleted_at,omitempty"`
}

// IsActive reports whether the tenant is active and not deleted
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive && t.DeletedAt == nil
}

// AcceptsMembers reports whether users may join or be reactivated. Pending
// tenants accept members so their first owner can be onboarded.
func (t *Tenant) AcceptsMembers() bool {
	return t.Status != TenantStatusSuspended && t.DeletedAt == nil
}

// UserStatus represents user account status
type UserStatus string

const (
	UserStatusActive        UserStatus = "active"
	UserStatusPendingInvite UserStatus = "pending_invite"
	UserStatusSuspended     UserStatus = "suspended"
	UserStatusLocked        UserStatus = "locked"
)

// Valid reports whether s is a known user status
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusPendingInvite, UserStatusSuspended, UserStatusLocked:
		return true
	}
	return false
}

// User is an account holding exactly one role
type User struct {
	ID            int64      `json:"id"`
	TenantID      *int64     `json:"tenant_id,omitempty"`
	RoleID        int64      `json:"role_id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	PasswordHash  string     `json:"-"`
	Status        UserStatus `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// InvitationStatus represents the stored state of an invitation
type InvitationStatus string

const (
	InvitationStatusPending   InvitationStatus = "pending"
	InvitationStatusAccepted  InvitationStatus = "accepted"
	InvitationStatusCancelled InvitationStatus = "cancelled"
	InvitationStatusExpired   InvitationStatus = "expired"
)

// Invitation grants an email address a role in a tenant once accepted
type Invitation struct {
	ID         int64            `json:"id"`
	TenantID   *int64           `json:"tenant_id,omitempty"`
	Email      string           `json:"email"`
	RoleID     int64            `json:"role_id"`
	Token      string           `json:"token,omitempty"`
	Status     InvitationStatus `json:"status"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	LastSentAt *time.Time       `json:"last_sent_at,omitempty"`
	SendCount  int              `json:"send_count"`
	InvitedBy  *int64           `json:"invited_by,omitempty"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// IsExpiredAt reports whether a pending invitation has passed its expiry.
func (i *Invitation) IsExpiredAt(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// EffectiveStatus folds dynamic expiry into the stored status.
func (i *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationStatusPending && i.IsExpiredAt(now) {
		return InvitationStatusExpired
	}
	return i.Status
}

// NormalizeEmail lower-cases and trims an email address for comparison
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 {
	return &v
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}

// SameTenant compares two nullable tenant ids
func SameTenant(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
