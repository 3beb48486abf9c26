package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/policy"
	"github.com/platinummonkey/backoffice/pkg/reauth"
	"github.com/platinummonkey/backoffice/pkg/roles"
	"github.com/platinummonkey/backoffice/pkg/seats"
	"github.com/platinummonkey/backoffice/pkg/secrets"
	"github.com/platinummonkey/backoffice/pkg/session"
	"github.com/platinummonkey/backoffice/pkg/store"
)

var tracer = otel.Tracer("github.com/platinummonkey/backoffice/pkg/users")

// CreateRequest describes a directly created user. TenantID is nil for
// platform staff.
type CreateRequest struct {
	TenantID *int64 `json:"tenant_id,omitempty"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	RoleID   int64  `json:"role_id"`
	Password string `json:"password"`
}

// Impersonation is the result of starting to act as another user
type Impersonation struct {
	User    *models.User    `json:"user"`
	Session session.Session `json:"session"`
}

// Service changes user roles and statuses
type Service struct {
	store      store.Store
	audit      *audit.Writer
	guard      *Guard
	accountant *seats.Accountant
	enforcer   *policy.Enforcer
	hasher     *secrets.Hasher
	reauth     reauth.Tracker
	clock      clockwork.Clock
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithReauthTracker enables impersonation, which requires a recent step-up
func WithReauthTracker(t reauth.Tracker) Option {
	return func(s *Service) { s.reauth = t }
}

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

// WithHasher sets the password hasher
func WithHasher(h *secrets.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// NewService creates a user service
func NewService(st store.Store, writer *audit.Writer, opts ...Option) *Service {
	s := &Service{
		store:  st,
		audit:  writer,
		guard:  NewGuard(),
		clock:  clockwork.NewRealClock(),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hasher == nil {
		s.hasher = secrets.NewHasher(0)
	}
	s.accountant = seats.NewAccountant(s.metrics)
	s.enforcer = policy.NewEnforcer(s.metrics, s.logger)
	return s
}

// ChangeUserRole gives target a new role
func (s *Service) ChangeUserRole(ctx context.Context, sess session.Session, actorID, targetID, newRoleID int64) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "users.ChangeUserRole", trace.WithAttributes(
		attribute.Int64("actor.id", actorID), attribute.Int64("target.id", targetID)))
	defer span.End()

	next, ok := roles.ByID(newRoleID)
	if !ok {
		return nil, domainerr.New(domainerr.CodeInvalidInput, "unknown role")
	}

	var target *models.User
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.clock.Now().UTC()

		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		target, err = store.LoadUser(ctx, tx, targetID)
		if err != nil {
			return err
		}

		t := policy.UserTarget(target)
		t.ProposedRole = next.Slug
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionUpdateRole, t); err != nil {
			return err
		}
		if target.RoleID == next.ID {
			return domainerr.New(domainerr.CodeNoOp, "user already holds this role")
		}

		prior, err := s.guard.Assign(ctx, tx, actor, target, next.ID, now)
		if err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, tx, sess, audit.NewEntry(audit.ActionUserRoleChanged).
			Actor(actor).
			Subject(audit.SubjectUser, target.ID).
			Tenant(target.TenantID).
			Change("role", string(prior.Slug), string(next.Slug)))
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return target, nil
}

// ChangeUserStatus moves target to newStatus. Activating a tenant user takes a
// seat. Deactivating the last active owner of a tenant is refused.
func (s *Service) ChangeUserStatus(ctx context.Context, sess session.Session, actorID, targetID int64, newStatus models.UserStatus) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "users.ChangeUserStatus", trace.WithAttributes(
		attribute.Int64("actor.id", actorID), attribute.Int64("target.id", targetID),
		attribute.String("status", string(newStatus))))
	defer span.End()

	if !newStatus.Valid() {
		return nil, domainerr.New(domainerr.CodeInvalidInput, "unknown user status")
	}

	var target *models.User
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.clock.Now().UTC()

		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		target, err = store.LoadUser(ctx, tx, targetID)
		if err != nil {
			return err
		}
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionUpdateStatus, policy.UserTarget(target)); err != nil {
			return err
		}
		if target.Status == newStatus {
			return domainerr.New(domainerr.CodeNoOp, "user already has this status")
		}

		if target.TenantID != nil {
			if newStatus == models.UserStatusActive {
				if _, err := s.accountant.ClaimSeat(ctx, tx, *target.TenantID, "user.activate"); err != nil {
					return err
				}
			} else if target.Status == models.UserStatusActive && target.RoleID == roles.IDTenantOwner {
				if err := ensureAnotherOwner(ctx, tx, *target.TenantID, target.ID, true); err != nil {
					return err
				}
			}
		}

		prev := target.Status
		if err := tx.UpdateUserStatus(ctx, target.ID, newStatus, now); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		target.Status = newStatus
		target.UpdatedAt = now

		_, err = s.audit.Record(ctx, tx, sess, audit.NewEntry(audit.ActionUserStatusChanged).
			Actor(actor).
			Subject(audit.SubjectUser, target.ID).
			Tenant(target.TenantID).
			Change("status", string(prev), string(newStatus)))
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return target, nil
}

// CreateUser creates an active user directly, taking a seat in its tenant
func (s *Service) CreateUser(ctx context.Context, sess session.Session, actorID int64, req CreateRequest) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "users.CreateUser", trace.WithAttributes(attribute.Int64("actor.id", actorID)))
	defer span.End()

	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil || addr.Name != "" {
		return nil, domainerr.New(domainerr.CodeInvalidInput, "a valid email address is required")
	}
	role, ok := roles.ByID(req.RoleID)
	if !ok {
		return nil, domainerr.New(domainerr.CodeInvalidInput, "unknown role")
	}
	if err := CheckScope(req.TenantID, role); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		TenantID:     req.TenantID,
		RoleID:       role.ID,
		Email:        models.NormalizeEmail(addr.Address),
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Status:       models.UserStatusActive,
	}
	if user.Name == "" {
		user.Name = user.Email
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.clock.Now().UTC()

		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		t := policy.Target{Kind: policy.KindUser, Role: role.Slug, ProposedRole: role.Slug, TenantID: req.TenantID}
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionCreate, t); err != nil {
			return err
		}

		if _, err := tx.GetUserByEmail(ctx, user.Email); err == nil {
			return domainerr.New(domainerr.CodeEmailAlreadyInUse, "this email address is already registered")
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to look up email: %w", err)
		}

		if req.TenantID != nil {
			if _, err := s.accountant.ClaimSeat(ctx, tx, *req.TenantID, "user.create"); err != nil {
				return err
			}
		}

		user.CreatedAt, user.UpdatedAt = now, now
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domainerr.New(domainerr.CodeEmailAlreadyInUse, "this email address is already registered")
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		_, err = s.audit.Record(ctx, tx, sess, audit.NewEntry(audit.ActionUserCreated).
			Actor(actor).
			Subject(audit.SubjectUser, user.ID).
			Tenant(user.TenantID).
			Change("email", nil, user.Email).
			Change("role", nil, string(role.Slug)).
			Change("status", nil, string(user.Status)).
			Change("password", nil, "set"))
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return user, nil
}

// Impersonate starts acting as target. The actor must have stepped up on the
// current session within the re-authentication window.
func (s *Service) Impersonate(ctx context.Context, sess session.Session, actorID, targetID int64) (*Impersonation, error) {
	ctx, span := tracer.Start(ctx, "users.Impersonate", trace.WithAttributes(
		attribute.Int64("actor.id", actorID), attribute.Int64("target.id", targetID)))
	defer span.End()

	if sess.IsImpersonation() {
		return nil, domainerr.New(domainerr.CodeForbidden, "cannot impersonate from an impersonated session")
	}
	if actorID == targetID {
		return nil, domainerr.New(domainerr.CodeInvalidInput, "cannot impersonate yourself")
	}

	var result *Impersonation
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		target, err := store.LoadUser(ctx, tx, targetID)
		if err != nil {
			return err
		}
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionImpersonate, policy.UserTarget(target)); err != nil {
			return err
		}
		if target.Status != models.UserStatusActive {
			return domainerr.New(domainerr.CodeInvalidInput, "only active users can be impersonated")
		}

		recent := false
		if s.reauth != nil && sess.ID != "" {
			recent, err = s.reauth.Recent(ctx, actor.ID, sess.ID)
			if err != nil {
				return fmt.Errorf("failed to check re-authentication: %w", err)
			}
		}
		if !recent {
			return domainerr.New(domainerr.CodeReauthRequired, "confirm your password to continue")
		}

		if _, err := s.audit.Record(ctx, tx, sess, audit.NewEntry(audit.ActionUserImpersonated).
			Actor(actor).
			Subject(audit.SubjectUser, target.ID).
			Tenant(target.TenantID)); err != nil {
			return err
		}

		result = &Impersonation{
			User: target,
			Session: session.Session{
				ID:             uuid.New().String(),
				ImpersonatorID: models.Int64Ptr(actor.ID),
				RequestID:      sess.RequestID,
				IPAddress:      sess.IPAddress,
				UserAgent:      sess.UserAgent,
			},
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// Reauthenticate checks the actor's password and opens the step-up window for
// the current session
func (s *Service) Reauthenticate(ctx context.Context, sess session.Session, actorID int64, password string) error {
	ctx, span := tracer.Start(ctx, "users.Reauthenticate", trace.WithAttributes(attribute.Int64("actor.id", actorID)))
	defer span.End()

	if s.reauth == nil {
		return domainerr.New(domainerr.CodeForbidden, "re-authentication is not enabled")
	}
	if sess.ID == "" {
		return domainerr.New(domainerr.CodeInvalidInput, "a session id is required")
	}
	if sess.IsImpersonation() {
		return domainerr.New(domainerr.CodeForbidden, "cannot re-authenticate an impersonated session")
	}

	var actor *models.User
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		actor, err = store.LoadActor(ctx, tx, actorID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if actor.Status != models.UserStatusActive || actor.PasswordHash == "" {
		return domainerr.New(domainerr.CodeForbidden, "invalid password")
	}
	if err := s.hasher.Verify(password, actor.PasswordHash); err != nil {
		s.logger.WithContext(ctx).WithField("actor_id", actorID).Info("re-authentication failed")
		return err
	}
	if err := s.reauth.Mark(ctx, actor.ID, sess.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record re-authentication: %w", err)
	}
	return nil
}

// Get returns one user
func (s *Service) Get(ctx context.Context, actorID, userID int64) (*models.User, error) {
	var user *models.User
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		user, err = store.LoadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		return s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionView, policy.UserTarget(user))
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// List returns the users of a tenant
func (s *Service) List(ctx context.Context, actorID, tenantID int64) ([]*models.User, error) {
	var out []*models.User
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionView,
			policy.Target{Kind: policy.KindUser, TenantID: &tenantID}); err != nil {
			return err
		}
		out, err = tx.ListUsers(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
