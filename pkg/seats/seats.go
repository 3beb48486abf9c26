// Package seats keeps every tenant within its seat limit.
//
// A seat is consumed by each active user. Invitations do not hold a seat; the
// authoritative check happens when the invitation is accepted, under a lock on
// the tenant row.
package seats

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/store"
)

var tracer = otel.Tracer("github.com/platinummonkey/backoffice/pkg/seats")

// SeatLimitError is returned when a tenant has no free seat, or when a new limit
// would fall below the current usage
type SeatLimitError struct {
	TenantID int64
	Used     int
	Limit    int
}

func (e *SeatLimitError) Error() string {
	if e.Used > e.Limit {
		return fmt.Sprintf("seat limit %d is below the %d active users of tenant %d", e.Limit, e.Used, e.TenantID)
	}
	return fmt.Sprintf("seat limit reached: %d of %d seats in use", e.Used, e.Limit)
}

// ErrorCode implements the domainerr coder interface
func (e *SeatLimitError) ErrorCode() domainerr.Code {
	return domainerr.CodeSeatLimitReached
}

// Is matches domainerr sentinels carrying the seat limit code
func (e *SeatLimitError) Is(target error) bool {
	var de *domainerr.Error
	return errors.As(target, &de) && de.Code == domainerr.CodeSeatLimitReached
}

// IsSeatLimitReached checks if an error is a seat limit error
func IsSeatLimitReached(err error) bool {
	var e *SeatLimitError
	return errors.As(err, &e)
}

// Available returns the free seats for a limit and usage, never negative
func Available(limit, used int) int {
	if limit-used < 0 {
		return 0
	}
	return limit - used
}

// Usage is a point-in-time view of a tenant's seats
type Usage struct {
	TenantID  int64 `json:"tenant_id"`
	Used      int   `json:"used"`
	Limit     int   `json:"limit"`
	Available int   `json:"available"`
}

// CanAddSeat reports whether one more active user fits
func (u Usage) CanAddSeat() bool {
	return u.Available > 0
}

// Locker is the part of a transaction the accountant needs
type Locker interface {
	GetTenantForUpdate(ctx context.Context, id int64) (*models.Tenant, error)
	CountActiveUsers(ctx context.Context, tenantID int64) (int, error)
}

// Accountant checks seat availability inside a caller's transaction
type Accountant struct {
	metrics *observability.Metrics
}

// NewAccountant creates an accountant. metrics may be nil.
func NewAccountant(metrics *observability.Metrics) *Accountant {
	return &Accountant{metrics: metrics}
}

// Usage counts active users of tenant
func (a *Accountant) Usage(ctx context.Context, tx Locker, tenant *models.Tenant) (Usage, error) {
	used, err := tx.CountActiveUsers(ctx, tenant.ID)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to count active users: %w", err)
	}
	return Usage{
		TenantID:  tenant.ID,
		Used:      used,
		Limit:     tenant.SeatLimit,
		Available: Available(tenant.SeatLimit, used),
	}, nil
}

// EnsureSeat returns a SeatLimitError unless tenant has a free seat
func (a *Accountant) EnsureSeat(ctx context.Context, tx Locker, tenant *models.Tenant, operation string) error {
	usage, err := a.Usage(ctx, tx, tenant)
	if err != nil {
		return err
	}
	if !usage.CanAddSeat() {
		a.metrics.RecordSeatRejection(operation)
		return &SeatLimitError{TenantID: tenant.ID, Used: usage.Used, Limit: usage.Limit}
	}
	return nil
}

// ClaimSeat locks the tenant row, checks that it accepts members and has a free
// seat, and returns the locked tenant. The lock holds until the transaction ends,
// so concurrent claims on the last seat serialize and only one succeeds.
func (a *Accountant) ClaimSeat(ctx context.Context, tx Locker, tenantID int64, operation string) (*models.Tenant, error) {
	ctx, span := tracer.Start(ctx, "seats.ClaimSeat")
	defer span.End()
	span.SetAttributes(attribute.Int64("tenant.id", tenantID), attribute.String("operation", operation))

	tenant, err := tx.GetTenantForUpdate(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainerr.New(domainerr.CodeNotFound, "tenant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock tenant: %w", err)
	}
	if !tenant.AcceptsMembers() {
		return nil, domainerr.New(domainerr.CodeTenantInactive, "tenant is suspended or deleted")
	}
	if err := a.EnsureSeat(ctx, tx, tenant, operation); err != nil {
		return nil, err
	}
	return tenant, nil
}

// EnforceLimitOnIncrease rejects a new limit that is not positive or is below
// the current active user count
func EnforceLimitOnIncrease(tenant *models.Tenant, newLimit, used int) error {
	if newLimit <= 0 {
		return domainerr.New(domainerr.CodeInvalidInput, "seat limit must be positive")
	}
	if newLimit < used {
		return &SeatLimitError{TenantID: tenant.ID, Used: used, Limit: newLimit}
	}
	return nil
}

// Service exposes seat reads
type Service struct {
	store      store.Store
	accountant *Accountant
}

// NewService creates a seat service
func NewService(st store.Store, accountant *Accountant) *Service {
	if accountant == nil {
		accountant = NewAccountant(nil)
	}
	return &Service{store: st, accountant: accountant}
}

// SeatsAvailable returns the number of free seats of a tenant
func (s *Service) SeatsAvailable(ctx context.Context, tenantID int64) (int, error) {
	usage, err := s.Usage(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return usage.Available, nil
}

// Usage returns the current seat usage of a tenant
func (s *Service) Usage(ctx context.Context, tenantID int64) (Usage, error) {
	var usage Usage
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tenant, err := tx.GetTenant(ctx, tenantID)
		if errors.Is(err, store.ErrNotFound) {
			return domainerr.New(domainerr.CodeNotFound, "tenant not found")
		}
		if err != nil {
			return fmt.Errorf("failed to get tenant: %w", err)
		}
		usage, err = s.accountant.Usage(ctx, tx, tenant)
		return err
	})
	return usage, err
}
