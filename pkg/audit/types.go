package audit

import (
	"context"
	"time"
)

// Action is a stable dotted key naming an audited mutation
type Action string

const (
	ActionUserCreated       Action = "user.created"
	ActionUserRoleChanged   Action = "user.role_changed"
	ActionUserStatusChanged Action = "user.status_changed"
	ActionUserImpersonated  Action = "user.impersonated"

	ActionInvitationCreated   Action = "invitation.created"
	ActionInvitationResent    Action = "invitation.resent"
	ActionInvitationCancelled Action = "invitation.cancelled"
	ActionInvitationAccepted  Action = "invitation.accepted"
	ActionInvitationExpired   Action = "invitation.expired"

	ActionTenantCreated          Action = "tenant.created"
	ActionTenantUpdated          Action = "tenant.updated"
	ActionTenantSeatLimitChanged Action = "tenant.seat_limit_changed"
	ActionTenantSuspended        Action = "tenant.suspended"
	ActionTenantResumed          Action = "tenant.resumed"
	ActionTenantDeleted          Action = "tenant.deleted"
)

// SubjectType names the kind of entity an entry refers to
type SubjectType string

const (
	SubjectUser       SubjectType = "user"
	SubjectInvitation SubjectType = "invitation"
	SubjectTenant     SubjectType = "tenant"
	SubjectTheme      SubjectType = "theme"
)

// Entry is one immutable audit log record
type Entry struct {
	ID          int64       `json:"id"`
	ActorID     *int64      `json:"actor_id,omitempty"`
	Action      Action      `json:"action"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   string      `json:"subject_id"`
	Meta        Meta        `json:"meta"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Meta is the structured context stored with an entry
type Meta struct {
	// Tenant of the affected entity
	TenantID *int64 `json:"tenant_id,omitempty"`
	// Actor's own tenant
	ActorTenantID  *int64 `json:"actor_tenant_id,omitempty"`
	Impersonated   bool   `json:"impersonated"`
	ImpersonatorID *int64 `json:"impersonator_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Device    string `json:"device,omitempty"`

	RecentReauth bool `json:"recent_reauth"`

	Changes map[string]Change      `json:"changes,omitempty"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}

// Change is the before and after value of one field
type Change struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// Appender persists entries. Stores implement it on their transaction type so an
// entry commits or rolls back with the mutation it describes.
type Appender interface {
	AppendAudit(ctx context.Context, entry *Entry) error
}

// ReauthChecker reports whether a user completed step-up authentication on the
// given session recently
type ReauthChecker interface {
	Recent(ctx context.Context, userID int64, sessionID string) (bool, error)
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID     *int64
	TenantID    *int64
	Actions     []Action
	SubjectType SubjectType
	SubjectID   string
	RequestID   string

	Limit  int
	Offset int

	// SortOrder is "asc" or "desc" on created_at
	SortOrder string
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// Stats summarizes audit activity over a time range
type Stats struct {
	TotalEntries    int64            `json:"total_entries"`
	EntriesByAction map[Action]int64 `json:"entries_by_action"`
	UniqueActors    int64            `json:"unique_actors"`
	SystemEntries   int64            `json:"system_entries"`
	Impersonated    int64            `json:"impersonated"`
}
