package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/roles"
	"github.com/platinummonkey/backoffice/pkg/secrets"
	"github.com/platinummonkey/backoffice/pkg/session"
	"github.com/platinummonkey/backoffice/pkg/store"
)

// bootstrapAdmin creates the first platform super admin. Nothing in the API can
// create a platform account without an existing one.
func bootstrapAdmin(ctx context.Context, st store.Store, writer *audit.Writer, hasher *secrets.Hasher, email, password string, logger *observability.Logger) error {
	email = models.NormalizeEmail(email)
	if password == "" {
		return fmt.Errorf("BACKOFFICE_BOOTSTRAP_ADMIN_PASSWORD is required with -bootstrap-admin")
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}

	created := false
	err = st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.GetUserByEmail(ctx, email)
		if err == nil {
			if existing.RoleID != roles.IDPlatformSuperAdmin {
				return fmt.Errorf("bootstrap email %s belongs to a non-platform user", email)
			}
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to look up bootstrap admin: %w", err)
		}

		now := time.Now().UTC()
		admin := &models.User{
			RoleID:        roles.IDPlatformSuperAdmin,
			Email:         email,
			Name:          email,
			PasswordHash:  hash,
			Status:        models.UserStatusActive,
			EmailVerified: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateUser(ctx, admin); err != nil {
			return fmt.Errorf("failed to create bootstrap admin: %w", err)
		}
		created = true

		_, err = writer.Record(ctx, tx, session.System("bootstrap"), audit.NewEntry(audit.ActionUserCreated).
			Subject(audit.SubjectUser, admin.ID).
			Change("role", nil, string(roles.PlatformSuperAdmin)).
			With("source", "bootstrap"))
		return err
	})
	if err != nil {
		return err
	}
	if created {
		logger.WithField("email", email).Info("Created bootstrap platform admin")
	}
	return nil
}
