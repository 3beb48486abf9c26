package invitations

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/domainerr"
	mailer "github.com/platinummonkey/backoffice/pkg/mail"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/policy"
	"github.com/platinummonkey/backoffice/pkg/roles"
	"github.com/platinummonkey/backoffice/pkg/seats"
	"github.com/platinummonkey/backoffice/pkg/secrets"
	"github.com/platinummonkey/backoffice/pkg/session"
	"github.com/platinummonkey/backoffice/pkg/store"
)

const (
	// DefaultTTL is how long an invitation stays acceptable after a send
	DefaultTTL = 168 * time.Hour
	// DefaultCooldown is the minimum time between two sends
	DefaultCooldown = 5 * time.Minute
	// DefaultSweepBatch bounds one ExpireStale run
	DefaultSweepBatch = 500
)

var tracer = otel.Tracer("github.com/platinummonkey/backoffice/pkg/invitations")

// CreateRequest describes a new invitation. TenantID is nil for platform staff.
type CreateRequest struct {
	TenantID *int64 `json:"tenant_id,omitempty"`
	Email    string `json:"email"`
	RoleID   int64  `json:"role_id"`
}

// AcceptPayload is what the invitee submits with the token
type AcceptPayload struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Service runs the invitation lifecycle
type Service struct {
	store      store.Store
	mailer     mailer.Dispatcher
	audit      *audit.Writer
	accountant *seats.Accountant
	enforcer   *policy.Enforcer
	hasher     *secrets.Hasher
	clock      clockwork.Clock
	logger     *observability.Logger
	metrics    *observability.Metrics

	ttl               time.Duration
	cooldown          time.Duration
	checkSeatOnCreate bool
}

// Option configures a Service
type Option func(*Service)

// WithTTL sets the invitation lifetime
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithCooldown sets the minimum time between sends
func WithCooldown(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.cooldown = d
		}
	}
}

// WithSeatCheckOnCreate rejects new invitations while the tenant has no free
// seat. Acceptance always checks.
func WithSeatCheckOnCreate(enabled bool) Option {
	return func(s *Service) { s.checkSeatOnCreate = enabled }
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

// WithHasher sets the password hasher used at acceptance
func WithHasher(h *secrets.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// NewService creates an invitation service
func NewService(st store.Store, dispatcher mailer.Dispatcher, writer *audit.Writer, opts ...Option) *Service {
	s := &Service{
		store:    st,
		mailer:   dispatcher,
		audit:    writer,
		clock:    clockwork.NewRealClock(),
		logger:   observability.NopLogger(),
		ttl:      DefaultTTL,
		cooldown: DefaultCooldown,
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

// Create issues an invitation and sends the first email
func (s *Service) Create(ctx context.Context, sess session.Session, actorID int64, req CreateRequest) (inv *models.Invitation, err error) {
	ctx, span := s.start(ctx, "invitations.Create", attribute.Int64("actor.id", actorID))
	defer func() { s.finish(span, "create", err) }()

	email, role, err := validateCreate(req)
	if err != nil {
		return nil, err
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.clock.Now().UTC()

		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		target := policy.InvitationTarget(0, req.TenantID, role.ID)
		target.ProposedRole = role.Slug
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionCreate, target); err != nil {
			return err
		}

		var tenant *models.Tenant
		if req.TenantID != nil {
			tenant, err = store.LoadTenant(ctx, tx, *req.TenantID, s.checkSeatOnCreate)
			if err != nil {
				return err
			}
			if !tenant.AcceptsMembers() {
				return domainerr.New(domainerr.CodeTenantInactive, "tenant is suspended or deleted")
			}
			if s.checkSeatOnCreate {
				if err := s.accountant.EnsureSeat(ctx, tx, tenant, "invitation.create"); err != nil {
					return err
				}
			}
		}

		if err := s.ensureEmailFree(ctx, tx, email); err != nil {
			return err
		}
		if err := s.ensureNoLivePending(ctx, tx, req.TenantID, email, 0, now); err != nil {
			return err
		}

		token, err := secrets.GenerateToken()
		if err != nil {
			return err
		}
		inv = &models.Invitation{
			TenantID:   req.TenantID,
			Email:      email,
			RoleID:     role.ID,
			Token:      token,
			Status:     models.InvitationStatusPending,
			ExpiresAt:  models.TimePtr(now.Add(s.ttl)),
			LastSentAt: models.TimePtr(now),
			SendCount:  1,
			InvitedBy:  models.Int64Ptr(actor.ID),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.CreateInvitation(ctx, inv); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domainerr.New(domainerr.CodeDuplicatePending, "a pending invitation already exists for this email")
			}
			return fmt.Errorf("failed to create invitation: %w", err)
		}

		if _, err := s.audit.Record(ctx, tx, sess, audit.NewEntry(audit.ActionInvitationCreated).
			Actor(actor).
			Subject(audit.SubjectInvitation, inv.ID).
			Tenant(inv.TenantID).
			Change("status", nil, string(inv.Status)).
			Change("email", nil, inv.Email).
			Change("role", nil, string(role.Slug)).
			With("expires_at", inv.ExpiresAt.Format(time.RFC3339))); err != nil {
			return err
		}

		return s.send(ctx, inv, tenant, role, actor, false)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Resend sends the invitation again. An invitation that is no longer pending
// or has expired is reopened with a new token; a live one only has its expiry
// extended.
func (s *Service) Resend(ctx context.Context, sess session.Session, actorID, invitationID int64) (inv *models.Invitation, err error) {
	ctx, span := s.start(ctx, "invitations.Resend", attribute.Int64("actor.id", actorID), attribute.Int64("invitation.id", invitationID))
	defer func() { s.finish(span, "resend", err) }()

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.clock.Now().UTC()

		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		inv, err = s.lockInvitation(ctx, tx, invitationID)
		if err != nil {
			return err
		}
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionUpdate,
			policy.InvitationTarget(inv.ID, inv.TenantID, inv.RoleID)); err != nil {
			return err
		}

		if inv.Status == models.InvitationStatusAccepted {
			return domainerr.New(domainerr.CodeAlreadyAccepted, "invitation has already been accepted")
		}
		if inv.LastSentAt != nil {
			if retryAt := inv.LastSentAt.Add(s.cooldown); now.Before(retryAt) {
				return newCooldownError(inv.ID, retryAt, now)
			}
		}

		var tenant *models.Tenant
		if inv.TenantID != nil {
			tenant, err = store.LoadTenant(ctx, tx, *inv.TenantID, false)
			if err != nil {
				return err
			}
			if !tenant.AcceptsMembers() {
				return domainerr.New(domainerr.CodeTenantInactive, "tenant is suspended or deleted")
			}
		}
		if err := s.ensureEmailFree(ctx, tx, inv.Email); err != nil {
			return err
		}

		prevStatus := inv.Status
		prevExpires := formatTime(inv.ExpiresAt)
		prevToken := inv.Token
		prevCount := inv.SendCount
		reopen := inv.Status != models.InvitationStatusPending || inv.IsExpiredAt(now)

		entry := audit.NewEntry(audit.ActionInvitationResent).
			Actor(actor).
			Subject(audit.SubjectInvitation, inv.ID).
			Tenant(inv.TenantID).
			With("reopened", reopen)

		if reopen {
			if err := s.ensureNoLivePending(ctx, tx, inv.TenantID, inv.Email, inv.ID, now); err != nil {
				return err
			}
			token, err := secrets.GenerateToken()
			if err != nil {
				return err
			}
			inv.Token = token
			inv.Status = models.InvitationStatusPending
			entry.Change("status", string(prevStatus), string(inv.Status)).
				Change("token", prevToken, inv.Token)
		}
		inv.ExpiresAt = models.TimePtr(now.Add(s.ttl))
		inv.LastSentAt = models.TimePtr(now)
		inv.SendCount++
		inv.UpdatedAt = now

		if err := tx.UpdateInvitation(ctx, inv, prevStatus); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domainerr.New(domainerr.CodeDuplicatePending, "a pending invitation already exists for this email")
			}
			return fmt.Errorf("failed to update invitation: %w", err)
		}

		entry.Change("expires_at", prevExpires, formatTime(inv.ExpiresAt)).
			Change("send_count", prevCount, inv.SendCount)
		if _, err := s.audit.Record(ctx, tx, sess, entry); err != nil {
			return err
		}

		role, _ := roles.ByID(inv.RoleID)
		return s.send(ctx, inv, tenant, role, actor, reopen)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Cancel terminates an invitation. Cancelling an accepted or already cancelled
// invitation returns it unchanged.
func (s *Service) Cancel(ctx context.Context, sess session.Session, actorID, invitationID int64) (inv *models.Invitation, err error) {
	ctx, span := s.start(ctx, "invitations.Cancel", attribute.Int64("actor.id", actorID), attribute.Int64("invitation.id", invitationID))
	defer func() { s.finish(span, "cancel", err) }()

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := s.clock.Now().UTC()

		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		inv, err = s.lockInvitation(ctx, tx, invitationID)
		if err != nil {
			return err
		}
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionDelete,
			policy.InvitationTarget(inv.ID, inv.TenantID, inv.RoleID)); err != nil {
			return err
		}

		switch inv.Status {
		case models.InvitationStatusAccepted, models.InvitationStatusCancelled:
			return nil
		}

		prevStatus := inv.Status
		prevExpires := formatTime(inv.ExpiresAt)
		inv.Status = models.InvitationStatusCancelled
		inv.ExpiresAt = models.TimePtr(now)
		inv.UpdatedAt = now
		if err := tx.UpdateInvitation(ctx, inv, prevStatus); err != nil {
			return fmt.Errorf("failed to cancel invitation: %w", err)
		}

		_, err = s.audit.Record(ctx, tx, sess, audit.NewEntry(audit.ActionInvitationCancelled).
			Actor(actor).
			Subject(audit.SubjectInvitation, inv.ID).
			Tenant(inv.TenantID).
			Change("status", string(prevStatus), string(inv.Status)).
			Change("expires_at", prevExpires, formatTime(inv.ExpiresAt)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Accept redeems a token and creates the invited user.
//
// If the email already belongs to a user the invitation is consumed anyway and
// EmailAlreadyInUse is returned. If the tenant has no free seat the invitation
// stays pending.
func (s *Service) Accept(ctx context.Context, sess session.Session, token string, payload AcceptPayload) (user *models.User, err error) {
	ctx, span := s.start(ctx, "invitations.Accept")
	defer func() { s.finish(span, "accept", err) }()

	if token == "" {
		return nil, domainerr.New(domainerr.CodeInvalidOrExpired, "invitation is invalid or has expired")
	}
	passwordHash, err := s.hasher.Hash(payload.Password)
	if err != nil {
		return nil, err
	}

	// consumed without creating a user; the transaction still commits
	var outcome error

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		outcome = nil
		now := s.clock.Now().UTC()

		inv, err := tx.GetPendingInvitationByTokenForUpdate(ctx, token, now)
		if errors.Is(err, store.ErrNotFound) {
			return domainerr.New(domainerr.CodeInvalidOrExpired, "invitation is invalid or has expired")
		}
		if err != nil {
			return fmt.Errorf("failed to get invitation: %w", err)
		}
		span.SetAttributes(attribute.Int64("invitation.id", inv.ID))

		role, ok := roles.ByID(inv.RoleID)
		if !ok {
			return fmt.Errorf("invitation %d references unknown role %d", inv.ID, inv.RoleID)
		}

		existing, err := tx.GetUserByEmail(ctx, inv.Email)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to look up email: %w", err)
		}
		if existing != nil {
			if err := s.markAccepted(ctx, tx, inv, now); err != nil {
				return err
			}
			if _, err := s.audit.Record(ctx, tx, sess, audit.NewEntry(audit.ActionInvitationAccepted).
				Subject(audit.SubjectInvitation, inv.ID).
				Tenant(inv.TenantID).
				Change("status", string(models.InvitationStatusPending), string(inv.Status)).
				With("outcome", string(domainerr.CodeEmailAlreadyInUse))); err != nil {
				return err
			}
			outcome = domainerr.New(domainerr.CodeEmailAlreadyInUse, "this email address is already registered")
			return nil
		}

		if inv.TenantID != nil {
			if _, err := s.accountant.ClaimSeat(ctx, tx, *inv.TenantID, "invitation.accept"); err != nil {
				return err
			}
		}

		name := payload.Name
		if name == "" {
			name = inv.Email
		}
		user = &models.User{
			TenantID:      inv.TenantID,
			RoleID:        role.ID,
			Email:         inv.Email,
			Name:          name,
			PasswordHash:  passwordHash,
			Status:        models.UserStatusActive,
			EmailVerified: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domainerr.New(domainerr.CodeEmailAlreadyInUse, "this email address is already registered")
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		if err := s.markAccepted(ctx, tx, inv, now); err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, tx, sess, audit.NewEntry(audit.ActionInvitationAccepted).
			Actor(user).
			Subject(audit.SubjectInvitation, inv.ID).
			Tenant(inv.TenantID).
			Change("status", string(models.InvitationStatusPending), string(inv.Status)).
			Change("role", nil, string(role.Slug)).
			With("user_id", user.ID))
		return err
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}
	return user, nil
}

// Get returns one invitation without its token
func (s *Service) Get(ctx context.Context, actorID, invitationID int64) (*models.Invitation, error) {
	var inv *models.Invitation
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		inv, err = tx.GetInvitation(ctx, invitationID)
		if errors.Is(err, store.ErrNotFound) {
			return domainerr.New(domainerr.CodeNotFound, "invitation not found")
		}
		if err != nil {
			return fmt.Errorf("failed to get invitation: %w", err)
		}
		return s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionView,
			policy.InvitationTarget(inv.ID, inv.TenantID, inv.RoleID))
	})
	if err != nil {
		return nil, err
	}
	inv.Token = ""
	return inv, nil
}

// List returns the invitations of a tenant, or platform staff invitations when
// tenantID is nil, without tokens
func (s *Service) List(ctx context.Context, actorID int64, tenantID *int64) ([]*models.Invitation, error) {
	var out []*models.Invitation
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, err := store.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := s.enforcer.Authorize(ctx, policy.ActorFromUser(actor), policy.ActionView,
			policy.Target{Kind: policy.KindInvitation, TenantID: tenantID}); err != nil {
			return err
		}
		out, err = tx.ListInvitations(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("failed to list invitations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, inv := range out {
		inv.Token = ""
	}
	return out, nil
}

// ExpireStale stores the expired status of up to limit pending invitations past
// their expiry. Each one gets a system audit entry.
func (s *Service) ExpireStale(ctx context.Context, sess session.Session, limit int) (n int, err error) {
	ctx, span := s.start(ctx, "invitations.ExpireStale")
	defer func() { s.finish(span, "expire", err) }()

	if limit <= 0 {
		limit = DefaultSweepBatch
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n = 0
		now := s.clock.Now().UTC()
		stale, err := tx.ListExpiredPending(ctx, now, limit)
		if err != nil {
			return fmt.Errorf("failed to list expired invitations: %w", err)
		}
		for _, inv := range stale {
			inv.Status = models.InvitationStatusExpired
			inv.UpdatedAt = now
			if err := tx.UpdateInvitation(ctx, inv, models.InvitationStatusPending); err != nil {
				return fmt.Errorf("failed to expire invitation %d: %w", inv.ID, err)
			}
			if _, err := s.audit.Record(ctx, tx, sess, audit.NewEntry(audit.ActionInvitationExpired).
				Subject(audit.SubjectInvitation, inv.ID).
				Tenant(inv.TenantID).
				Change("status", string(models.InvitationStatusPending), string(inv.Status))); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.metrics.RecordInvitationsExpired(n)
	if n > 0 {
		s.logger.WithContext(ctx).WithField("count", n).Info("expired stale invitations")
	}
	return n, nil
}

func (s *Service) lockInvitation(ctx context.Context, tx store.Tx, id int64) (*models.Invitation, error) {
	inv, err := tx.GetInvitationForUpdate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainerr.New(domainerr.CodeNotFound, "invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

func (s *Service) markAccepted(ctx context.Context, tx store.Tx, inv *models.Invitation, now time.Time) error {
	inv.Status = models.InvitationStatusAccepted
	inv.AcceptedAt = models.TimePtr(now)
	inv.UpdatedAt = now
	err := tx.UpdateInvitation(ctx, inv, models.InvitationStatusPending)
	if errors.Is(err, store.ErrConflict) {
		return domainerr.New(domainerr.CodeInvalidOrExpired, "invitation is invalid or has expired")
	}
	if err != nil {
		return fmt.Errorf("failed to accept invitation: %w", err)
	}
	return nil
}

func (s *Service) ensureEmailFree(ctx context.Context, tx store.Tx, email string) error {
	_, err := tx.GetUserByEmail(ctx, email)
	if err == nil {
		return domainerr.New(domainerr.CodeEmailAlreadyInUse, "this email address is already registered")
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to look up email: %w", err)
	}
	return nil
}

// ensureNoLivePending rejects a second live invitation for the same tenant and
// email. A stored pending invitation that has passed its expiry is marked
// expired so the new one can take its place.
func (s *Service) ensureNoLivePending(ctx context.Context, tx store.Tx, tenantID *int64, email string, selfID int64, now time.Time) error {
	other, err := tx.FindPendingInvitation(ctx, tenantID, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up pending invitations: %w", err)
	}
	if other.ID == selfID {
		return nil
	}
	if !other.IsExpiredAt(now) {
		return domainerr.New(domainerr.CodeDuplicatePending, "a pending invitation already exists for this email")
	}
	other.Status = models.InvitationStatusExpired
	other.UpdatedAt = now
	if err := tx.UpdateInvitation(ctx, other, models.InvitationStatusPending); err != nil {
		return fmt.Errorf("failed to expire invitation %d: %w", other.ID, err)
	}
	return nil
}

// send dispatches the invitation email. A failure rolls the transaction back.
func (s *Service) send(ctx context.Context, inv *models.Invitation, tenant *models.Tenant, role roles.Role, inviter *models.User, reopened bool) error {
	msg := mailer.InvitationEmail{
		To:        inv.Email,
		RoleName:  role.Name,
		Token:     inv.Token,
		ExpiresAt: *inv.ExpiresAt,
		Reopened:  reopened,
	}
	if tenant != nil {
		msg.TenantName = tenant.Name
	}
	if inviter != nil {
		msg.InviterName = inviter.Name
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to dispatch invitation email: %w", err)
	}
	return nil
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *Service) finish(span trace.Span, operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(domainerr.CodeOf(err))
		span.RecordError(err)
		if outcome == string(domainerr.CodeInternal) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	s.metrics.RecordInvitation(operation, outcome)
	span.End()
}

func validateCreate(req CreateRequest) (string, roles.Role, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil || addr.Name != "" {
		return "", roles.Role{}, domainerr.New(domainerr.CodeInvalidInput, "a valid email address is required")
	}
	email := models.NormalizeEmail(addr.Address)

	role, ok := roles.ByID(req.RoleID)
	if !ok {
		return "", roles.Role{}, domainerr.New(domainerr.CodeInvalidInput, "unknown role")
	}
	if (req.TenantID == nil) != (role.Scope == roles.ScopePlatform) {
		return "", roles.Role{}, domainerr.New(domainerr.CodeScopeMismatch,
			"platform roles can only be granted without a tenant, tenant roles only with one")
	}
	return email, role, nil
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
