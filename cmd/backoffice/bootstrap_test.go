package main

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/roles"
	"github.com/platinummonkey/backoffice/pkg/secrets"
	"github.com/platinummonkey/backoffice/pkg/store"
	"github.com/platinummonkey/backoffice/pkg/store/memory"
)

type bootstrapFixture struct {
	store  *memory.Store
	writer *audit.Writer
	hasher *secrets.Hasher
}

func newBootstrapFixture() *bootstrapFixture {
	return &bootstrapFixture{
		store:  memory.New(),
		writer: audit.NewWriter(),
		hasher: secrets.NewHasher(bcrypt.MinCost),
	}
}

func (f *bootstrapFixture) run(email, password string) error {
	return bootstrapAdmin(context.Background(), f.store, f.writer, f.hasher, email, password, observability.NopLogger())
}

func (f *bootstrapFixture) userByEmail(t *testing.T, email string) *models.User {
	t.Helper()
	var u *models.User
	require.NoError(t, f.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		u, err = tx.GetUserByEmail(ctx, email)
		return err
	}))
	return u
}

func TestBootstrapAdmin(t *testing.T) {
	f := newBootstrapFixture()

	require.NoError(t, f.run(" Root@Platform.test ", "correct-horse"))

	admin := f.userByEmail(t, "root@platform.test")
	assert.Equal(t, roles.IDPlatformSuperAdmin, admin.RoleID)
	assert.Nil(t, admin.TenantID)
	assert.Equal(t, models.UserStatusActive, admin.Status)
	assert.True(t, admin.EmailVerified)
	assert.NoError(t, f.hasher.Verify("correct-horse", admin.PasswordHash))

	entries := f.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionUserCreated, entries[0].Action)
	assert.Equal(t, strconv.FormatInt(admin.ID, 10), entries[0].SubjectID)
	assert.Nil(t, entries[0].ActorID)
	assert.Equal(t, "bootstrap", entries[0].Meta.Extra["source"])

	t.Run("existing admin is left alone", func(t *testing.T) {
		require.NoError(t, f.run("root@platform.test", "another-password"))

		again := f.userByEmail(t, "root@platform.test")
		assert.Equal(t, admin.ID, again.ID)
		assert.NoError(t, f.hasher.Verify("correct-horse", again.PasswordHash), "password is not reset")
		assert.Len(t, f.store.AuditEntries(), 1)
	})
}

func TestBootstrapAdminRejections(t *testing.T) {
	t.Run("missing password", func(t *testing.T) {
		f := newBootstrapFixture()
		assert.Error(t, f.run("root@platform.test", ""))
		assert.Empty(t, f.store.AuditEntries())
	})

	t.Run("email held by a tenant user", func(t *testing.T) {
		f := newBootstrapFixture()
		require.NoError(t, f.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			tenant := &models.Tenant{Name: "Acme", Slug: "acme", Status: models.TenantStatusActive, SeatLimit: 3}
			if err := tx.CreateTenant(ctx, tenant); err != nil {
				return err
			}
			return tx.CreateUser(ctx, &models.User{
				TenantID: models.Int64Ptr(tenant.ID), RoleID: roles.IDTenantOwner,
				Email: "owner@acme.test", Status: models.UserStatusActive,
			})
		}))

		err := f.run("owner@acme.test", "correct-horse")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-platform user")
		assert.Equal(t, roles.IDTenantOwner, f.userByEmail(t, "owner@acme.test").RoleID)
		assert.Empty(t, f.store.AuditEntries())
	})
}
