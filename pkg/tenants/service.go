package tenants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/policy"
	"github.com/platinummonkey/backoffice/pkg/seats"
	"github.com/platinummonkey/backoffice/pkg/session"
	"github.com/platinummonkey/backoffice/pkg/store"
)

var tracer = otel.Tracer("github.com/platinummonkey/backoffice/pkg/tenants")

// DefaultSeatLimit is used when a tenant is created without a limit
const DefaultSeatLimit = 5

// CreateRequest describes a new tenant. Slug is derived from Name when empty.
type CreateRequest struct {
	Name      string              `json:"name"`
	Slug      string              `json:"slug,omitempty"`
	SeatLimit int                 `json:"seat_limit,omitempty"`
	Status    models.TenantStatus `json:"status,omitempty"`
}

// UpdateRequest holds the editable tenant fields. Nil fields are left unchanged.
type UpdateRequest struct {
	Name *string `json:"name,omitempty"`
}

// Service manages the tenant lifecycle
type Service struct {
	store      store.Store
	audit      *audit.Writer
	accountant *seats.Accountant
	enforcer   *policy.Enforcer
	clock      clockwork.Clock
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithClock sets the clock
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a tenant service
func NewService(st store.Store, writer *audit.Writer, opts ...Option) *Service {
	s := &Service{
		store:  st,
		audit:  writer,
		clock:  clockwork.NewRealClock(),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.accountant = seats.NewAccountant(s.metrics)
	s.enforcer = policy.NewEnforcer(s.metrics, s.logger)
	return s
}

// Create registers a new tenant. Only platform administrators create tenants.
func (s *Service) Create(ctx context.Context, sess session.Session, actorID int64, req CreateRequest) (*models.Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenants.Create", trace.WithAttributes(attribute.Int64("actor.id", actorID)))
	defer span.End()

	tenant, err := newTenant(req)
	if err != nil {
		return nil, err
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.clock.Now().UTC()

		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		// a tenant that does not exist yet is judged against the actor's own
		// tenant, which leaves the decision to the tenant lifecycle rules
		target := policy.Target{Kind: policy.KindTenant, TenantID: actor.TenantID}
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionCreate, target); err != nil {
			return err
		}

		tenant.CreatedAt, tenant.UpdatedAt = now, now
		if err := tx.CreateTenant(ctx, tenant); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domainerr.New(domainerr.CodeInvalidInput, "a tenant with this slug already exists")
			}
			return fmt.Errorf("failed to create tenant: %w", err)
		}

		_, err = s.audit.Record(ctx, tx, sess, audit.NewEntry(audit.ActionTenantCreated).
			Actor(actor).
			Subject(audit.SubjectTenant, tenant.ID).
			Tenant(&tenant.ID).
			Change("name", nil, tenant.Name).
			Change("slug", nil, tenant.Slug).
			Change("status", nil, string(tenant.Status)).
			Change("seat_limit", nil, tenant.SeatLimit))
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return tenant, nil
}

func newTenant(req CreateRequest) (*models.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domainerr.New(domainerr.CodeInvalidInput, "tenant name is required")
	}
	slug := req.Slug
	if slug == "" {
		slug = generateSlug(name)
	}
	if !validSlug(slug) {
		return nil, domainerr.New(domainerr.CodeInvalidInput, "slug may only contain lowercase letters, digits and dashes")
	}

	t := &models.Tenant{
		Name:      name,
		Slug:      slug,
		Status:    req.Status,
		SeatLimit: req.SeatLimit,
	}
	if t.Status == "" {
		t.Status = models.TenantStatusActive
	}
	if !t.Status.Valid() {
		return nil, domainerr.New(domainerr.CodeInvalidInput, "unknown tenant status")
	}
	if t.SeatLimit == 0 {
		t.SeatLimit = DefaultSeatLimit
	}
	if t.SeatLimit < 0 {
		return nil, domainerr.New(domainerr.CodeInvalidInput, "seat limit must be positive")
	}
	return t, nil
}

// Update changes editable tenant fields. Tenant owners may update their own tenant.
func (s *Service) Update(ctx context.Context, sess session.Session, actorID, tenantID int64, req UpdateRequest) (*models.Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenants.Update", trace.WithAttributes(
		attribute.Int64("actor.id", actorID), attribute.Int64("tenant.id", tenantID)))
	defer span.End()

	var tenant *models.Tenant
	err := s.mutate(ctx, sess, actorID, tenantID, policy.ActionUpdate, func(ctx context.Context, tx store.Tx, actor *models.User, t *models.Tenant) (*audit.Builder, error) {
		tenant = t
		before := map[string]interface{}{"name": t.Name}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return nil, domainerr.New(domainerr.CodeInvalidInput, "tenant name is required")
			}
			t.Name = name
		}
		after := map[string]interface{}{"name": t.Name}
		if before["name"] == after["name"] {
			return nil, domainerr.New(domainerr.CodeNoOp, "nothing to update")
		}
		return audit.NewEntry(audit.ActionTenantUpdated).Diff(before, after), nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return tenant, nil
}

// UpdateSeatLimit changes the seat limit. The new limit may not fall below the
// number of active users.
func (s *Service) UpdateSeatLimit(ctx context.Context, sess session.Session, actorID, tenantID int64, newLimit int) (*models.Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenants.UpdateSeatLimit", trace.WithAttributes(
		attribute.Int64("actor.id", actorID), attribute.Int64("tenant.id", tenantID),
		attribute.Int("seat_limit", newLimit)))
	defer span.End()

	var tenant *models.Tenant
	err := s.mutate(ctx, sess, actorID, tenantID, policy.ActionUpdate, func(ctx context.Context, tx store.Tx, actor *models.User, t *models.Tenant) (*audit.Builder, error) {
		tenant = t
		if t.SeatLimit == newLimit {
			return nil, domainerr.New(domainerr.CodeNoOp, "seat limit unchanged")
		}
		usage, err := s.accountant.Usage(ctx, tx, t)
		if err != nil {
			return nil, err
		}
		if err := seats.EnforceLimitOnIncrease(t, newLimit, usage.Used); err != nil {
			return nil, err
		}
		old := t.SeatLimit
		t.SeatLimit = newLimit
		return audit.NewEntry(audit.ActionTenantSeatLimitChanged).
			Change("seat_limit", old, newLimit).
			With("used", usage.Used), nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return tenant, nil
}

// Suspend stops a tenant from taking new members
func (s *Service) Suspend(ctx context.Context, sess session.Session, actorID, tenantID int64) (*models.Tenant, error) {
	return s.setStatus(ctx, sess, actorID, tenantID, models.TenantStatusSuspended, audit.ActionTenantSuspended)
}

// Resume reactivates a suspended or pending tenant
func (s *Service) Resume(ctx context.Context, sess session.Session, actorID, tenantID int64) (*models.Tenant, error) {
	return s.setStatus(ctx, sess, actorID, tenantID, models.TenantStatusActive, audit.ActionTenantResumed)
}

func (s *Service) setStatus(ctx context.Context, sess session.Session, actorID, tenantID int64, status models.TenantStatus, action audit.Action) (*models.Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenants.SetStatus", trace.WithAttributes(
		attribute.Int64("actor.id", actorID), attribute.Int64("tenant.id", tenantID),
		attribute.String("status", string(status))))
	defer span.End()

	var tenant *models.Tenant
	err := s.mutate(ctx, sess, actorID, tenantID, policy.ActionUpdateStatus, func(ctx context.Context, tx store.Tx, actor *models.User, t *models.Tenant) (*audit.Builder, error) {
		tenant = t
		if t.Status == status {
			return nil, domainerr.New(domainerr.CodeNoOp, "tenant already has this status")
		}
		old := t.Status
		t.Status = status
		return audit.NewEntry(action).Change("status", string(old), string(status)), nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return tenant, nil
}

// Delete soft deletes a tenant. Its users and audit history are kept.
func (s *Service) Delete(ctx context.Context, sess session.Session, actorID, tenantID int64) error {
	ctx, span := tracer.Start(ctx, "tenants.Delete", trace.WithAttributes(
		attribute.Int64("actor.id", actorID), attribute.Int64("tenant.id", tenantID)))
	defer span.End()

	err := s.mutate(ctx, sess, actorID, tenantID, policy.ActionDelete, func(ctx context.Context, tx store.Tx, actor *models.User, t *models.Tenant) (*audit.Builder, error) {
		now := s.clock.Now().UTC()
		t.DeletedAt = &now
		return audit.NewEntry(audit.ActionTenantDeleted).Change("deleted_at", nil, now.Format(time.RFC3339)), nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// mutate loads and locks a live tenant, authorizes action, applies fn, persists
// the tenant and records the entry fn returns
func (s *Service) mutate(ctx context.Context, sess session.Session, actorID, tenantID int64, action policy.Action,
	fn func(ctx context.Context, tx store.Tx, actor *models.User, t *models.Tenant) (*audit.Builder, error)) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.clock.Now().UTC()

		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		tenant, err := store.LoadTenant(ctx, tx, tenantID, true)
		if err != nil {
			return err
		}
		if tenant.DeletedAt != nil {
			return domainerr.New(domainerr.CodeNotFound, "tenant not found")
		}
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), action, policy.TenantTarget(tenant.ID)); err != nil {
			return err
		}

		b, err := fn(ctx, tx, actor, tenant)
		if err != nil {
			return err
		}
		tenant.UpdatedAt = now
		if err := tx.UpdateTenant(ctx, tenant); err != nil {
			return fmt.Errorf("failed to update tenant: %w", err)
		}

		_, err = s.audit.Record(ctx, tx, sess, b.
			Actor(actor).
			Subject(audit.SubjectTenant, tenant.ID).
			Tenant(&tenant.ID))
		return err
	})
}

// Get returns one live tenant. Members of the tenant and platform staff may
// read it. A deleted tenant is NotFound for everyone; staff see it through
// List with includeDeleted.
func (s *Service) Get(ctx context.Context, actorID, tenantID int64) (*models.Tenant, error) {
	var tenant *models.Tenant
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		tenant, err = store.LoadTenant(ctx, tx, tenantID, false)
		if err != nil {
			return err
		}
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionView, policy.TenantTarget(tenant.ID)); err != nil {
			return err
		}
		if tenant.DeletedAt != nil {
			return domainerr.New(domainerr.CodeNotFound, "tenant not found")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// List returns the tenants visible to the actor: every live tenant for
// platform staff, the actor's own tenant otherwise
func (s *Service) List(ctx context.Context, actorID int64, includeDeleted bool) ([]*models.Tenant, error) {
	var out []*models.Tenant
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if actor.TenantID != nil {
			if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionView, policy.TenantTarget(*actor.TenantID)); err != nil {
				return err
			}
			t, err := store.LoadTenant(ctx, tx, *actor.TenantID, false)
			if err != nil {
				return err
			}
			if t.DeletedAt == nil {
				out = []*models.Tenant{t}
			}
			return nil
		}

		out, err = tx.ListTenants(ctx, includeDeleted)
		if err != nil {
			return fmt.Errorf("failed to list tenants: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
