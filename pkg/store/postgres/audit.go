package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/backoffice/pkg/audit"
)

// AppendAudit inserts e into audit_logs. The tenant is copied out of the
// metadata into its own column for filtering.
func (t *tx) AppendAudit(ctx context.Context, e *audit.Entry) error {
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal audit meta: %w", err)
	}

	query := `
		INSERT INTO audit_logs (actor_id, tenant_id, action, subject_type, subject_id, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = t.tx.QueryRowContext(ctx, query, nullInt64(e.ActorID), nullInt64(e.Meta.TenantID),
		string(e.Action), string(e.SubjectType), e.SubjectID, meta, orNow(e.CreatedAt)).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}
