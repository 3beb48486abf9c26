package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/domainerr"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/reauth"
	"github.com/platinummonkey/backoffice/pkg/roles"
	"github.com/platinummonkey/backoffice/pkg/secrets"
	"github.com/platinummonkey/backoffice/pkg/session"
	"github.com/platinummonkey/backoffice/pkg/store"
	"github.com/platinummonkey/backoffice/pkg/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	clock  *clockwork.FakeClock
	reauth *reauth.LRUTracker
	svc    *Service
	sess   session.Session

	tenant *models.Tenant
	other  *models.Tenant
	staff  *models.User
	owner  *models.User
	admin  *models.User
	editor *models.User
	viewer *models.User
	rival  *models.User
}

func newFixture(t *testing.T, seatLimit int) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		clock: clockwork.NewFakeClockAt(t0),
		sess:  session.Session{ID: "sess-1", RequestID: "req-1", UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"},
	}
	f.reauth = reauth.NewLRUTracker(10*time.Minute, 64, f.clock)

	ctx := context.Background()
	require.NoError(t, f.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		f.tenant = &models.Tenant{Name: "Acme", Slug: "acme", Status: models.TenantStatusActive, SeatLimit: seatLimit}
		f.other = &models.Tenant{Name: "Globex", Slug: "globex", Status: models.TenantStatusActive, SeatLimit: 10}
		for _, tn := range []*models.Tenant{f.tenant, f.other} {
			if err := tx.CreateTenant(ctx, tn); err != nil {
				return err
			}
		}
		tid := models.Int64Ptr(f.tenant.ID)
		f.staff = &models.User{RoleID: roles.IDPlatformSuperAdmin, Email: "staff@platform.test", Status: models.UserStatusActive}
		f.owner = &models.User{TenantID: tid, RoleID: roles.IDTenantOwner, Email: "owner@acme.test", Status: models.UserStatusActive}
		f.admin = &models.User{TenantID: tid, RoleID: roles.IDTenantAdmin, Email: "admin@acme.test", Status: models.UserStatusActive}
		f.editor = &models.User{TenantID: tid, RoleID: roles.IDTenantEditor, Email: "editor@acme.test", Status: models.UserStatusActive}
		f.viewer = &models.User{TenantID: tid, RoleID: roles.IDTenantViewer, Email: "viewer@acme.test", Status: models.UserStatusSuspended}
		f.rival = &models.User{TenantID: models.Int64Ptr(f.other.ID), RoleID: roles.IDTenantOwner, Email: "owner@globex.test", Status: models.UserStatusActive}
		for _, u := range []*models.User{f.staff, f.owner, f.admin, f.editor, f.viewer, f.rival} {
			if err := tx.CreateUser(ctx, u); err != nil {
				return err
			}
		}
		return nil
	}))

	writer := audit.NewWriter(audit.WithClock(f.clock), audit.WithReauthChecker(f.reauth))
	f.svc = NewService(f.store, writer,
		WithClock(f.clock),
		WithReauthTracker(f.reauth),
		WithHasher(secrets.NewHasher(bcrypt.MinCost)),
	)
	return f
}

func (f *fixture) user(t *testing.T, id int64) *models.User {
	t.Helper()
	var u *models.User
	require.NoError(t, f.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		u, err = tx.GetUser(ctx, id)
		return err
	}))
	return u
}

func (f *fixture) lastAudit(t *testing.T) *audit.Entry {
	t.Helper()
	entries := f.store.AuditEntries()
	require.NotEmpty(t, entries)
	return entries[len(entries)-1]
}

// Sole owner U1 cannot be demoted until a second owner exists.
func TestLastOwnerDemotionNeedsSecondOwner(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.svc.ChangeUserRole(ctx, f.sess, f.staff.ID, f.owner.ID, roles.IDTenantAdmin)
	require.Error(t, err)
	assert.Equal(t, domainerr.CodeLastOwnerViolation, domainerr.CodeOf(err))
	assert.Equal(t, roles.IDTenantOwner, f.user(t, f.owner.ID).RoleID)

	second, err := f.svc.CreateUser(ctx, f.sess, f.staff.ID, CreateRequest{
		TenantID: models.Int64Ptr(f.tenant.ID), Email: "owner2@acme.test", RoleID: roles.IDTenantOwner, Password: "s3cret-pass",
	})
	require.NoError(t, err)

	updated, err := f.svc.ChangeUserRole(ctx, f.sess, f.staff.ID, f.owner.ID, roles.IDTenantAdmin)
	require.NoError(t, err)
	assert.Equal(t, roles.IDTenantAdmin, updated.RoleID)

	entry := f.lastAudit(t)
	assert.Equal(t, audit.ActionUserRoleChanged, entry.Action)
	assert.Equal(t, audit.Change{Old: "tenant_owner", New: "tenant_admin"}, entry.Meta.Changes["role"])
	assert.Equal(t, f.staff.ID, *entry.ActorID)
	assert.Equal(t, f.tenant.ID, *entry.Meta.TenantID)
	assert.Nil(t, entry.Meta.ActorTenantID, "platform actor acting cross-tenant")

	// the new owner is now the last one
	_, err = f.svc.ChangeUserRole(ctx, f.sess, f.staff.ID, second.ID, roles.IDTenantViewer)
	assert.Equal(t, domainerr.CodeLastOwnerViolation, domainerr.CodeOf(err))
}

func TestLastOwnerHoldsForEveryNonOwnerRole(t *testing.T) {
	for _, r := range []int64{roles.IDTenantAdmin, roles.IDTenantEditor, roles.IDTenantViewer} {
		f := newFixture(t, 10)
		_, err := f.svc.ChangeUserRole(context.Background(), f.sess, f.staff.ID, f.owner.ID, r)
		assert.Equal(t, domainerr.CodeLastOwnerViolation, domainerr.CodeOf(err), "role %d", r)
	}
}

func TestOwnerCanHandOverOwnership(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.svc.ChangeUserRole(ctx, f.sess, f.owner.ID, f.admin.ID, roles.IDTenantOwner)
	require.NoError(t, err)

	// the former admin now demotes the original owner
	_, err = f.svc.ChangeUserRole(ctx, f.sess, f.admin.ID, f.owner.ID, roles.IDTenantAdmin)
	require.NoError(t, err)
	assert.Equal(t, roles.IDTenantAdmin, f.user(t, f.owner.ID).RoleID)
}

func TestChangeUserRoleRejections(t *testing.T) {
	f := newFixture(t, 10)

	tests := []struct {
		name     string
		actorID  int64
		targetID int64
		roleID   int64
		code     domainerr.Code
	}{
		{"self", f.owner.ID, f.owner.ID, roles.IDTenantViewer, domainerr.CodeSelfChangeForbidden},
		{"unknown target", f.admin.ID, f.admin.ID + 100, roles.IDTenantViewer, domainerr.CodeNotFound},
		{"admin on owner", f.admin.ID, f.owner.ID, roles.IDTenantViewer, domainerr.CodeForbidden},
		{"admin grants admin", f.admin.ID, f.editor.ID, roles.IDTenantAdmin, domainerr.CodeForbidden},
		{"editor manages viewer", f.editor.ID, f.viewer.ID, roles.IDTenantEditor, domainerr.CodeForbidden},
		{"cross tenant", f.rival.ID, f.editor.ID, roles.IDTenantViewer, domainerr.CodeCrossTenantForbidden},
		{"owner touches platform admin", f.owner.ID, f.staff.ID, roles.IDTenantViewer, domainerr.CodePlatformAdminShielded},
		{"owner grants platform role", f.owner.ID, f.editor.ID, roles.IDPlatformSuperAdmin, domainerr.CodePlatformAdminShielded},
		{"platform role to tenant user", f.staff.ID, f.editor.ID, roles.IDPlatformSuperAdmin, domainerr.CodeScopeMismatch},
		{"tenant role to platform user", f.staff.ID, f.staff.ID, roles.IDTenantOwner, domainerr.CodeScopeMismatch},
		{"same role", f.owner.ID, f.editor.ID, roles.IDTenantEditor, domainerr.CodeNoOp},
		{"unknown role", f.owner.ID, f.editor.ID, 99, domainerr.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ChangeUserRole(context.Background(), f.sess, tt.actorID, tt.targetID, tt.roleID)
			require.Error(t, err)
			assert.Equal(t, tt.code, domainerr.CodeOf(err))
		})
	}
	assert.Empty(t, f.store.AuditEntries(), "rejections are not audited")
}

func TestAdminManagesLowerRanks(t *testing.T) {
	f := newFixture(t, 10)

	updated, err := f.svc.ChangeUserRole(context.Background(), f.sess, f.admin.ID, f.editor.ID, roles.IDTenantViewer)
	require.NoError(t, err)
	assert.Equal(t, roles.IDTenantViewer, updated.RoleID)
}

func TestChangeUserStatus(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	updated, err := f.svc.ChangeUserStatus(ctx, f.sess, f.owner.ID, f.editor.ID, models.UserStatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusSuspended, updated.Status)

	entry := f.lastAudit(t)
	assert.Equal(t, audit.ActionUserStatusChanged, entry.Action)
	assert.Equal(t, audit.Change{Old: "active", New: "suspended"}, entry.Meta.Changes["status"])
	assert.Contains(t, entry.Meta.Device, "Chrome")

	_, err = f.svc.ChangeUserStatus(ctx, f.sess, f.owner.ID, f.editor.ID, models.UserStatusSuspended)
	assert.Equal(t, domainerr.CodeNoOp, domainerr.CodeOf(err))

	_, err = f.svc.ChangeUserStatus(ctx, f.sess, f.owner.ID, f.owner.ID, models.UserStatusSuspended)
	assert.Equal(t, domainerr.CodeSelfChangeForbidden, domainerr.CodeOf(err))

	_, err = f.svc.ChangeUserStatus(ctx, f.sess, f.admin.ID, f.owner.ID, models.UserStatusSuspended)
	assert.Equal(t, domainerr.CodeForbidden, domainerr.CodeOf(err))

	_, err = f.svc.ChangeUserStatus(ctx, f.sess, f.owner.ID, f.editor.ID, models.UserStatus("gone"))
	assert.Equal(t, domainerr.CodeInvalidInput, domainerr.CodeOf(err))
}

func TestChangeUserStatusProtectsLastActiveOwner(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.svc.ChangeUserStatus(context.Background(), f.sess, f.staff.ID, f.owner.ID, models.UserStatusLocked)
	assert.Equal(t, domainerr.CodeLastOwnerViolation, domainerr.CodeOf(err))
	assert.Equal(t, models.UserStatusActive, f.user(t, f.owner.ID).Status)
}

func TestActivationTakesASeat(t *testing.T) {
	// owner, admin and editor are active
	f := newFixture(t, 3)

	_, err := f.svc.ChangeUserStatus(context.Background(), f.sess, f.owner.ID, f.viewer.ID, models.UserStatusActive)
	require.Error(t, err)
	assert.Equal(t, domainerr.CodeSeatLimitReached, domainerr.CodeOf(err))

	_, err = f.svc.ChangeUserStatus(context.Background(), f.sess, f.owner.ID, f.editor.ID, models.UserStatusSuspended)
	require.NoError(t, err)
	_, err = f.svc.ChangeUserStatus(context.Background(), f.sess, f.owner.ID, f.viewer.ID, models.UserStatusActive)
	assert.NoError(t, err)
}

func TestInactiveActorIsDenied(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateUserStatus(ctx, f.admin.ID, models.UserStatusLocked, t0)
	}))

	_, err := f.svc.ChangeUserRole(context.Background(), f.sess, f.admin.ID, f.editor.ID, roles.IDTenantViewer)
	assert.Equal(t, domainerr.CodeForbidden, domainerr.CodeOf(err))
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	user, err := f.svc.CreateUser(ctx, f.sess, f.admin.ID, CreateRequest{
		TenantID: models.Int64Ptr(f.tenant.ID), Email: " New@Acme.test ", Name: "Nia", RoleID: roles.IDTenantEditor, Password: "s3cret-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, "new@acme.test", user.Email)
	assert.Equal(t, models.UserStatusActive, user.Status)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)

	entry := f.lastAudit(t)
	assert.Equal(t, audit.ActionUserCreated, entry.Action)
	assert.Equal(t, audit.Mask, entry.Meta.Changes["password"].New)

	t.Run("seat limit", func(t *testing.T) {
		_, err := f.svc.CreateUser(ctx, f.sess, f.owner.ID, CreateRequest{
			TenantID: models.Int64Ptr(f.tenant.ID), Email: "full@acme.test", RoleID: roles.IDTenantViewer, Password: "s3cret-pass",
		})
		require.Error(t, err)
		assert.Equal(t, domainerr.CodeSeatLimitReached, domainerr.CodeOf(err))
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := f.svc.CreateUser(ctx, f.sess, f.staff.ID, CreateRequest{
			Email: "NEW@acme.test", RoleID: roles.IDPlatformSuperAdmin, Password: "s3cret-pass",
		})
		assert.Equal(t, domainerr.CodeEmailAlreadyInUse, domainerr.CodeOf(err))
	})

	t.Run("admin cannot create owner", func(t *testing.T) {
		_, err := f.svc.CreateUser(ctx, f.sess, f.admin.ID, CreateRequest{
			TenantID: models.Int64Ptr(f.tenant.ID), Email: "boss@acme.test", RoleID: roles.IDTenantOwner, Password: "s3cret-pass",
		})
		assert.Equal(t, domainerr.CodeForbidden, domainerr.CodeOf(err))
	})

	t.Run("scope", func(t *testing.T) {
		_, err := f.svc.CreateUser(ctx, f.sess, f.staff.ID, CreateRequest{
			Email: "loose@acme.test", RoleID: roles.IDTenantViewer, Password: "s3cret-pass",
		})
		assert.Equal(t, domainerr.CodeScopeMismatch, domainerr.CodeOf(err))
	})
}

func TestImpersonate(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.svc.Impersonate(ctx, f.sess, f.owner.ID, f.editor.ID)
	assert.Equal(t, domainerr.CodeReauthRequired, domainerr.CodeOf(err))

	require.NoError(t, f.reauth.Mark(ctx, f.owner.ID, f.sess.ID))
	imp, err := f.svc.Impersonate(ctx, f.sess, f.owner.ID, f.editor.ID)
	require.NoError(t, err)
	assert.Equal(t, f.editor.ID, imp.User.ID)
	assert.True(t, imp.Session.IsImpersonation())
	assert.Equal(t, f.owner.ID, *imp.Session.ImpersonatorID)
	assert.NotEqual(t, f.sess.ID, imp.Session.ID)

	entry := f.lastAudit(t)
	assert.Equal(t, audit.ActionUserImpersonated, entry.Action)
	assert.True(t, entry.Meta.RecentReauth)

	_, err = f.svc.Impersonate(ctx, imp.Session, f.owner.ID, f.admin.ID)
	assert.Equal(t, domainerr.CodeForbidden, domainerr.CodeOf(err), "no nested impersonation")

	_, err = f.svc.Impersonate(ctx, f.sess, f.owner.ID, f.staff.ID)
	assert.Equal(t, domainerr.CodePlatformAdminShielded, domainerr.CodeOf(err))

	_, err = f.svc.Impersonate(ctx, f.sess, f.owner.ID, f.viewer.ID)
	assert.Equal(t, domainerr.CodeInvalidInput, domainerr.CodeOf(err), "suspended target")

	f.clock.Advance(11 * time.Minute)
	_, err = f.svc.Impersonate(ctx, f.sess, f.owner.ID, f.editor.ID)
	assert.Equal(t, domainerr.CodeReauthRequired, domainerr.CodeOf(err), "step-up expired")
}

func TestImpersonationIsRecordedOnLaterEntries(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	require.NoError(t, f.reauth.Mark(ctx, f.owner.ID, f.sess.ID))
	imp, err := f.svc.Impersonate(ctx, f.sess, f.owner.ID, f.admin.ID)
	require.NoError(t, err)

	_, err = f.svc.ChangeUserRole(ctx, imp.Session, f.admin.ID, f.editor.ID, roles.IDTenantViewer)
	require.NoError(t, err)

	entry := f.lastAudit(t)
	assert.Equal(t, f.admin.ID, *entry.ActorID)
	assert.True(t, entry.Meta.Impersonated)
	assert.Equal(t, f.owner.ID, *entry.Meta.ImpersonatorID)
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	u, err := f.svc.Get(ctx, f.editor.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, f.admin.Email, u.Email)

	list, err := f.svc.List(ctx, f.editor.ID, f.tenant.ID)
	require.NoError(t, err)
	assert.Len(t, list, 4)

	_, err = f.svc.List(ctx, f.rival.ID, f.tenant.ID)
	assert.Equal(t, domainerr.CodeCrossTenantForbidden, domainerr.CodeOf(err))

	_, err = f.svc.Get(ctx, 999, f.admin.ID)
	assert.True(t, errors.Is(err, domainerr.Sentinel(domainerr.CodeForbidden)))
}

func TestReauthenticate(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	hash, err := secrets.NewHasher(bcrypt.MinCost).Hash("correct horse battery")
	require.NoError(t, err)
	auditor := &models.User{RoleID: roles.IDPlatformSuperAdmin, Email: "auditor@platform.test", Status: models.UserStatusActive, PasswordHash: hash}
	require.NoError(t, f.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateUser(ctx, auditor)
	}))

	err = f.svc.Reauthenticate(ctx, f.sess, auditor.ID, "wrong password")
	assert.Equal(t, domainerr.CodeForbidden, domainerr.CodeOf(err))
	recent, _ := f.reauth.Recent(ctx, auditor.ID, f.sess.ID)
	assert.False(t, recent)

	require.NoError(t, f.svc.Reauthenticate(ctx, f.sess, auditor.ID, "correct horse battery"))
	recent, _ = f.reauth.Recent(ctx, auditor.ID, f.sess.ID)
	assert.True(t, recent)

	_, err = f.svc.Impersonate(ctx, f.sess, auditor.ID, f.owner.ID)
	assert.NoError(t, err, "step-up enables impersonation")

	t.Run("no session id", func(t *testing.T) {
		err := f.svc.Reauthenticate(ctx, session.Session{}, auditor.ID, "correct horse battery")
		assert.Equal(t, domainerr.CodeInvalidInput, domainerr.CodeOf(err))
	})

	t.Run("user without password", func(t *testing.T) {
		err := f.svc.Reauthenticate(ctx, f.sess, f.staff.ID, "anything at all")
		assert.Equal(t, domainerr.CodeForbidden, domainerr.CodeOf(err))
	})

	t.Run("unknown actor", func(t *testing.T) {
		err := f.svc.Reauthenticate(ctx, f.sess, 999, "correct horse battery")
		assert.Equal(t, domainerr.CodeForbidden, domainerr.CodeOf(err))
	})

	t.Run("impersonated session", func(t *testing.T) {
		sess := f.sess
		sess.ImpersonatorID = models.Int64Ptr(auditor.ID)
		err := f.svc.Reauthenticate(ctx, sess, auditor.ID, "correct horse battery")
		assert.Equal(t, domainerr.CodeForbidden, domainerr.CodeOf(err))
	})
}
