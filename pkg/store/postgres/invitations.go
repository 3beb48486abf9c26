package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/store"
)

const invitationColumns = `id, tenant_id, email, role_id, token, status, expires_at, last_sent_at,
	send_count, invited_by, accepted_at, created_at, updated_at`

func scanInvitation(row rowScanner) (*models.Invitation, error) {
	inv := &models.Invitation{}
	var tenantID, invitedBy sql.NullInt64
	var expiresAt, lastSentAt, acceptedAt sql.NullTime
	if err := row.Scan(&inv.ID, &tenantID, &inv.Email, &inv.RoleID, &inv.Token, &inv.Status,
		&expiresAt, &lastSentAt, &inv.SendCount, &invitedBy, &acceptedAt,
		&inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	inv.TenantID = int64Ptr(tenantID)
	inv.InvitedBy = int64Ptr(invitedBy)
	inv.ExpiresAt = timePtr(expiresAt)
	inv.LastSentAt = timePtr(lastSentAt)
	inv.AcceptedAt = timePtr(acceptedAt)
	return inv, nil
}

func (t *tx) queryInvitations(ctx context.Context, query string, args ...interface{}) ([]*models.Invitation, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invitations: %w", err)
	}
	defer rows.Close()

	var out []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}
	return out, nil
}

func (t *tx) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	inv.CreatedAt = orNow(inv.CreatedAt)
	inv.UpdatedAt = orNow(inv.UpdatedAt)

	query := `
		INSERT INTO invitations (tenant_id, email, role_id, token, status, expires_at, last_sent_at,
			send_count, invited_by, accepted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	err := t.tx.QueryRowContext(ctx, query, nullInt64(inv.TenantID), inv.Email, inv.RoleID, inv.Token,
		inv.Status, nullTime(inv.ExpiresAt), nullTime(inv.LastSentAt), inv.SendCount,
		nullInt64(inv.InvitedBy), nullTime(inv.AcceptedAt), inv.CreatedAt, inv.UpdatedAt).Scan(&inv.ID)
	return mapError(err, "create invitation")
}

func (t *tx) GetInvitation(ctx context.Context, id int64) (*models.Invitation, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id)
	inv, err := scanInvitation(row)
	if err != nil {
		return nil, mapError(err, "get invitation")
	}
	return inv, nil
}

func (t *tx) GetInvitationForUpdate(ctx context.Context, id int64) (*models.Invitation, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1 FOR UPDATE`, id)
	inv, err := scanInvitation(row)
	if err != nil {
		return nil, mapError(err, "lock invitation")
	}
	return inv, nil
}

func (t *tx) GetPendingInvitationByTokenForUpdate(ctx context.Context, token string, now time.Time) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations
		WHERE token = $1 AND status = 'pending' AND (expires_at IS NULL OR expires_at > $2)
		FOR UPDATE`
	inv, err := scanInvitation(t.tx.QueryRowContext(ctx, query, token, now))
	if err != nil {
		return nil, mapError(err, "get invitation by token")
	}
	return inv, nil
}

// UpdateInvitation is a compare-and-set on the stored status. A concurrent
// writer that already moved the row makes this one fail with ErrConflict.
func (t *tx) UpdateInvitation(ctx context.Context, inv *models.Invitation, expectedStatus models.InvitationStatus) error {
	query := `
		UPDATE invitations
		SET email = $3, role_id = $4, token = $5, status = $6, expires_at = $7, last_sent_at = $8,
			send_count = $9, accepted_at = $10, updated_at = $11
		WHERE id = $1 AND status = $2
	`
	res, err := t.tx.ExecContext(ctx, query, inv.ID, expectedStatus, inv.Email, inv.RoleID, inv.Token,
		inv.Status, nullTime(inv.ExpiresAt), nullTime(inv.LastSentAt), inv.SendCount,
		nullTime(inv.AcceptedAt), orNow(inv.UpdatedAt))
	if err != nil {
		return mapError(err, "update invitation")
	}
	if err := expectRows(res, store.ErrConflict); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("invitation %d is no longer %s: %w", inv.ID, expectedStatus, err)
		}
		return err
	}
	return nil
}

func (t *tx) FindPendingInvitation(ctx context.Context, tenantID *int64, email string) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations
		WHERE tenant_id IS NOT DISTINCT FROM $1 AND lower(email) = $2 AND status = 'pending'
		ORDER BY id
		LIMIT 1
		FOR UPDATE`
	inv, err := scanInvitation(t.tx.QueryRowContext(ctx, query, nullInt64(tenantID), models.NormalizeEmail(email)))
	if err != nil {
		return nil, mapError(err, "find pending invitation")
	}
	return inv, nil
}

func (t *tx) ListInvitations(ctx context.Context, tenantID *int64) ([]*models.Invitation, error) {
	return t.queryInvitations(ctx, `SELECT `+invitationColumns+` FROM invitations
		WHERE tenant_id IS NOT DISTINCT FROM $1
		ORDER BY id`, nullInt64(tenantID))
}

// ListExpiredPending skips rows locked by other transactions so concurrent
// sweepers split the work.
func (t *tx) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY id`
	args := []interface{}{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	query += ` FOR UPDATE SKIP LOCKED`
	return t.queryInvitations(ctx, query, args...)
}
