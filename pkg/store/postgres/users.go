package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/store"
)

const userColumns = `id, tenant_id, role_id, email, name, password_hash, status, email_verified, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var tenantID sql.NullInt64
	if err := row.Scan(&u.ID, &tenantID, &u.RoleID, &u.Email, &u.Name, &u.PasswordHash,
		&u.Status, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.TenantID = int64Ptr(tenantID)
	return u, nil
}

func (t *tx) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, "get user")
	}
	return u, nil
}

func (t *tx) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = $1`,
		models.NormalizeEmail(email))
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, "get user by email")
	}
	return u, nil
}

func (t *tx) CreateUser(ctx context.Context, u *models.User) error {
	u.CreatedAt = orNow(u.CreatedAt)
	u.UpdatedAt = orNow(u.UpdatedAt)

	query := `
		INSERT INTO users (tenant_id, role_id, email, name, password_hash, status, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := t.tx.QueryRowContext(ctx, query, nullInt64(u.TenantID), u.RoleID, u.Email, u.Name,
		u.PasswordHash, u.Status, u.EmailVerified, u.CreatedAt, u.UpdatedAt).Scan(&u.ID)
	return mapError(err, "create user")
}

func (t *tx) UpdateUserRole(ctx context.Context, userID, roleID int64, updatedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users SET role_id = $2, updated_at = $3 WHERE id = $1`, userID, roleID, updatedAt)
	if err != nil {
		return mapError(err, "update user role")
	}
	return expectRows(res, store.ErrNotFound)
}

func (t *tx) UpdateUserStatus(ctx context.Context, userID int64, status models.UserStatus, updatedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`, userID, status, updatedAt)
	if err != nil {
		return mapError(err, "update user status")
	}
	return expectRows(res, store.ErrNotFound)
}

func (t *tx) CountActiveUsers(ctx context.Context, tenantID int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND status = 'active'`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active users: %w", err)
	}
	return n, nil
}

func (t *tx) CountUsersWithRole(ctx context.Context, tenantID, roleID, excludeUserID int64, activeOnly bool) (int, error) {
	query := `
		SELECT COUNT(*) FROM users
		WHERE tenant_id = $1 AND role_id = $2 AND id <> $3
		  AND (NOT $4::boolean OR status = 'active')
	`
	var n int
	if err := t.tx.QueryRowContext(ctx, query, tenantID, roleID, excludeUserID, activeOnly).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users with role: %w", err)
	}
	return n, nil
}

func (t *tx) ListUsers(ctx context.Context, tenantID int64) ([]*models.User, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return out, nil
}
