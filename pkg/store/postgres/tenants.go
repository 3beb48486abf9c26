package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/backoffice/pkg/models"
	"github.com/platinummonkey/backoffice/pkg/store"
)

const tenantColumns = `id, name, slug, status, seat_limit, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	t := &models.Tenant{}
	var deletedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.SeatLimit,
		&t.CreatedAt, &t.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	t.DeletedAt = timePtr(deletedAt)
	return t, nil
}

func (t *tx) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	tenant, err := scanTenant(row)
	if err != nil {
		return nil, mapError(err, "get tenant")
	}
	return tenant, nil
}

func (t *tx) GetTenantForUpdate(ctx context.Context, id int64) (*models.Tenant, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1 FOR UPDATE`, id)
	tenant, err := scanTenant(row)
	if err != nil {
		return nil, mapError(err, "lock tenant")
	}
	return tenant, nil
}

func (t *tx) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	tenant.CreatedAt = orNow(tenant.CreatedAt)
	tenant.UpdatedAt = orNow(tenant.UpdatedAt)

	query := `
		INSERT INTO tenants (name, slug, status, seat_limit, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := t.tx.QueryRowContext(ctx, query, tenant.Name, tenant.Slug, tenant.Status, tenant.SeatLimit,
		tenant.CreatedAt, tenant.UpdatedAt, nullTime(tenant.DeletedAt)).Scan(&tenant.ID)
	return mapError(err, "create tenant")
}

// UpdateTenant writes the mutable columns. The slug is never updated.
func (t *tx) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	query := `
		UPDATE tenants
		SET name = $2, status = $3, seat_limit = $4, updated_at = $5, deleted_at = $6
		WHERE id = $1
	`
	res, err := t.tx.ExecContext(ctx, query, tenant.ID, tenant.Name, tenant.Status, tenant.SeatLimit,
		orNow(tenant.UpdatedAt), nullTime(tenant.DeletedAt))
	if err != nil {
		return mapError(err, "update tenant")
	}
	return expectRows(res, store.ErrNotFound)
}

func (t *tx) ListTenants(ctx context.Context, includeDeleted bool) ([]*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY id`

	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []*models.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return out, nil
}
