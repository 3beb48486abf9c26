// Package memory is an in-process implementation of store.Store.
//
// Transactions are serialized by a single mutex and run against a private copy
// of the data, which replaces the committed copy only when the transaction
// function returns nil. It is intended for tests, demos and single-process
// deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/store"
)

const defaultTxTimeout = 5 * time.Second

// Store holds all data in memory
type Store struct {
	mu      sync.Mutex
	data    *dataset
	timeout time.Duration
	metrics *observability.Metrics
}

// Option configures a Store
type Option func(*Store)

// WithTxTimeout bounds each transaction when ctx has no deadline
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithMetrics records transaction durations
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{data: newDataset(), timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn against an isolated copy of the data and commits it if fn
// returns nil. Calls must not be nested.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	start := time.Now()
	work := s.data.clone()
	err := fn(ctx, &tx{d: work})
	if err == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("transaction aborted: %w", ctxErr)
		}
	}
	if err == nil {
		s.data = work
	}
	s.metrics.RecordTx("memory", err, time.Since(start))
	return err
}

// AuditEntries returns a copy of every committed audit entry in append order
func (s *Store) AuditEntries() []*audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*audit.Entry, len(s.data.audit))
	for i, e := range s.data.audit {
		c := *e
		out[i] = &c
	}
	return out
}

// Search implements audit.Source over the committed entries
func (s *Store) Search(_ context.Context, filter audit.SearchFilter) ([]*audit.Entry, error) {
	return audit.Query(s.AuditEntries(), filter), nil
}

// GetStats implements audit.Source over the committed entries
func (s *Store) GetStats(_ context.Context, filter audit.SearchFilter) (*audit.Stats, error) {
	return audit.Summarize(s.AuditEntries(), filter), nil
}

var _ audit.Source = (*Store)(nil)

type sequences struct {
	tenant, user, invitation, audit int64
}

type dataset struct {
	tenants     map[int64]*models.Tenant
	users       map[int64]*models.User
	invitations map[int64]*models.Invitation
	audit       []*audit.Entry
	seq         sequences
}

func newDataset() *dataset {
	return &dataset{
		tenants:     make(map[int64]*models.Tenant),
		users:       make(map[int64]*models.User),
		invitations: make(map[int64]*models.Invitation),
	}
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		tenants:     make(map[int64]*models.Tenant, len(d.tenants)),
		users:       make(map[int64]*models.User, len(d.users)),
		invitations: make(map[int64]*models.Invitation, len(d.invitations)),
		audit:       make([]*audit.Entry, len(d.audit), len(d.audit)+1),
		seq:         d.seq,
	}
	for id, t := range d.tenants {
		c.tenants[id] = copyTenant(t)
	}
	for id, u := range d.users {
		c.users[id] = copyUser(u)
	}
	for id, inv := range d.invitations {
		c.invitations[id] = copyInvitation(inv)
	}
	// entries are never mutated after append
	copy(c.audit, d.audit)
	return c
}

type tx struct {
	d *dataset
}

var _ store.Tx = (*tx)(nil)

// Tenants

func (t *tx) GetTenant(_ context.Context, id int64) (*models.Tenant, error) {
	tenant, ok := t.d.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTenant(tenant), nil
}

// GetTenantForUpdate is GetTenant: transactions are already exclusive.
func (t *tx) GetTenantForUpdate(ctx context.Context, id int64) (*models.Tenant, error) {
	return t.GetTenant(ctx, id)
}

func (t *tx) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	for _, existing := range t.d.tenants {
		if existing.Slug == tenant.Slug {
			return fmt.Errorf("tenant slug %q: %w", tenant.Slug, store.ErrConflict)
		}
	}
	t.d.seq.tenant++
	tenant.ID = t.d.seq.tenant
	t.d.tenants[tenant.ID] = copyTenant(tenant)
	return nil
}

func (t *tx) UpdateTenant(_ context.Context, tenant *models.Tenant) error {
	existing, ok := t.d.tenants[tenant.ID]
	if !ok {
		return store.ErrNotFound
	}
	updated := copyTenant(tenant)
	updated.Slug = existing.Slug
	updated.CreatedAt = existing.CreatedAt
	t.d.tenants[tenant.ID] = updated
	return nil
}

func (t *tx) ListTenants(_ context.Context, includeDeleted bool) ([]*models.Tenant, error) {
	var out []*models.Tenant
	for _, tenant := range t.d.tenants {
		if tenant.DeletedAt != nil && !includeDeleted {
			continue
		}
		out = append(out, copyTenant(tenant))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Users

func (t *tx) GetUser(_ context.Context, id int64) (*models.User, error) {
	u, ok := t.d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyUser(u), nil
}

func (t *tx) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	for _, u := range t.d.users {
		if models.NormalizeEmail(u.Email) == email {
			return copyUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) CreateUser(ctx context.Context, u *models.User) error {
	if _, err := t.GetUserByEmail(ctx, u.Email); err == nil {
		return fmt.Errorf("user email %q: %w", u.Email, store.ErrConflict)
	}
	t.d.seq.user++
	u.ID = t.d.seq.user
	t.d.users[u.ID] = copyUser(u)
	return nil
}

func (t *tx) UpdateUserRole(_ context.Context, userID, roleID int64, updatedAt time.Time) error {
	u, ok := t.d.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.RoleID = roleID
	u.UpdatedAt = updatedAt
	return nil
}

func (t *tx) UpdateUserStatus(_ context.Context, userID int64, status models.UserStatus, updatedAt time.Time) error {
	u, ok := t.d.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = updatedAt
	return nil
}

func (t *tx) CountActiveUsers(_ context.Context, tenantID int64) (int, error) {
	n := 0
	for _, u := range t.d.users {
		if u.TenantID != nil && *u.TenantID == tenantID && u.Status == models.UserStatusActive {
			n++
		}
	}
	return n, nil
}

func (t *tx) CountUsersWithRole(_ context.Context, tenantID, roleID, excludeUserID int64, activeOnly bool) (int, error) {
	n := 0
	for _, u := range t.d.users {
		if u.TenantID == nil || *u.TenantID != tenantID || u.RoleID != roleID || u.ID == excludeUserID {
			continue
		}
		if activeOnly && u.Status != models.UserStatusActive {
			continue
		}
		n++
	}
	return n, nil
}

func (t *tx) ListUsers(_ context.Context, tenantID int64) ([]*models.User, error) {
	var out []*models.User
	for _, u := range t.d.users {
		if u.TenantID != nil && *u.TenantID == tenantID {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Invitations

func (t *tx) CreateInvitation(_ context.Context, inv *models.Invitation) error {
	if err := t.checkInvitationUnique(inv); err != nil {
		return err
	}
	t.d.seq.invitation++
	inv.ID = t.d.seq.invitation
	t.d.invitations[inv.ID] = copyInvitation(inv)
	return nil
}

func (t *tx) GetInvitation(_ context.Context, id int64) (*models.Invitation, error) {
	inv, ok := t.d.invitations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyInvitation(inv), nil
}

func (t *tx) GetInvitationForUpdate(ctx context.Context, id int64) (*models.Invitation, error) {
	return t.GetInvitation(ctx, id)
}

func (t *tx) GetPendingInvitationByTokenForUpdate(_ context.Context, token string, now time.Time) (*models.Invitation, error) {
	for _, inv := range t.d.invitations {
		if inv.Token != token || inv.Status != models.InvitationStatusPending {
			continue
		}
		if inv.ExpiresAt != nil && !inv.ExpiresAt.After(now) {
			continue
		}
		return copyInvitation(inv), nil
	}
	return nil, store.ErrNotFound
}

func (t *tx) UpdateInvitation(_ context.Context, inv *models.Invitation, expectedStatus models.InvitationStatus) error {
	existing, ok := t.d.invitations[inv.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Status != expectedStatus {
		return fmt.Errorf("invitation %d is %s: %w", inv.ID, existing.Status, store.ErrConflict)
	}
	if err := t.checkInvitationUnique(inv); err != nil {
		return err
	}
	t.d.invitations[inv.ID] = copyInvitation(inv)
	return nil
}

func (t *tx) FindPendingInvitation(_ context.Context, tenantID *int64, email string) (*models.Invitation, error) {
	email = models.NormalizeEmail(email)
	for _, id := range t.invitationIDs() {
		inv := t.d.invitations[id]
		if inv.Status == models.InvitationStatusPending && models.SameTenant(inv.TenantID, tenantID) &&
			models.NormalizeEmail(inv.Email) == email {
			return copyInvitation(inv), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) ListInvitations(_ context.Context, tenantID *int64) ([]*models.Invitation, error) {
	var out []*models.Invitation
	for _, id := range t.invitationIDs() {
		inv := t.d.invitations[id]
		if models.SameTenant(inv.TenantID, tenantID) {
			out = append(out, copyInvitation(inv))
		}
	}
	return out, nil
}

func (t *tx) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]*models.Invitation, error) {
	var out []*models.Invitation
	for _, id := range t.invitationIDs() {
		inv := t.d.invitations[id]
		if inv.Status == models.InvitationStatusPending && inv.IsExpiredAt(now) {
			out = append(out, copyInvitation(inv))
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// checkInvitationUnique enforces token uniqueness and one pending invitation
// per tenant and email
func (t *tx) checkInvitationUnique(inv *models.Invitation) error {
	email := models.NormalizeEmail(inv.Email)
	for _, other := range t.d.invitations {
		if other.ID == inv.ID {
			continue
		}
		if other.Token == inv.Token {
			return fmt.Errorf("invitation token: %w", store.ErrConflict)
		}
		if inv.Status == models.InvitationStatusPending && other.Status == models.InvitationStatusPending &&
			models.SameTenant(other.TenantID, inv.TenantID) && models.NormalizeEmail(other.Email) == email {
			return fmt.Errorf("pending invitation for %q: %w", inv.Email, store.ErrConflict)
		}
	}
	return nil
}

func (t *tx) invitationIDs() []int64 {
	ids := make([]int64, 0, len(t.d.invitations))
	for id := range t.d.invitations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Audit

func (t *tx) AppendAudit(_ context.Context, e *audit.Entry) error {
	t.d.seq.audit++
	e.ID = t.d.seq.audit
	c := *e
	t.d.audit = append(t.d.audit, &c)
	return nil
}

func copyTenant(t *models.Tenant) *models.Tenant {
	c := *t
	if t.DeletedAt != nil {
		d := *t.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.TenantID != nil {
		id := *u.TenantID
		c.TenantID = &id
	}
	return &c
}

func copyInvitation(inv *models.Invitation) *models.Invitation {
	c := *inv
	c.TenantID = copyPtr(inv.TenantID)
	c.InvitedBy = copyPtr(inv.InvitedBy)
	c.ExpiresAt = copyTime(inv.ExpiresAt)
	c.LastSentAt = copyTime(inv.LastSentAt)
	c.AcceptedAt = copyTime(inv.AcceptedAt)
	return &c
}

func copyPtr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
