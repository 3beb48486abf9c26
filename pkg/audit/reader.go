package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// Reader queries the audit_logs table. There is no update or delete path.
type Reader struct {
	db *sql.DB
}

// NewReader creates a reader over db
func NewReader(db *sql.DB) (*Reader, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &Reader{db: db}, nil
}

// Search searches audit logs based on filters
func (r *Reader) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	query := `
		SELECT id, actor_id, action, subject_type, subject_id, meta, created_at
		FROM audit_logs
		WHERE 1=1
	`
	where, args := filterClause(filter)
	query += where
	argCount := len(args) + 1

	order := "DESC"
	if filter.SortOrder == "asc" {
		order = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY created_at %s, id %s", order, order)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{}
		var actorID sql.NullInt64
		var metaJSON []byte

		if err := rows.Scan(&entry.ID, &actorID, &entry.Action, &entry.SubjectType,
			&entry.SubjectID, &metaJSON, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if actorID.Valid {
			id := actorID.Int64
			entry.ActorID = &id
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &entry.Meta); err != nil {
				return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return entries, nil
}

// Export searches and renders the matching entries in format
func (r *Reader) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	entries, err := r.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Export(entries, format)
}

// GetStats summarizes entries matching filter. Pagination fields are ignored.
func (r *Reader) GetStats(ctx context.Context, filter SearchFilter) (*Stats, error) {
	stats := &Stats{EntriesByAction: make(map[Action]int64)}
	where, args := filterClause(filter)

	query := fmt.Sprintf(`
		SELECT COUNT(*),
		       COUNT(DISTINCT actor_id),
		       COUNT(*) FILTER (WHERE actor_id IS NULL),
		       COUNT(*) FILTER (WHERE (meta->>'impersonated')::boolean)
		FROM audit_logs WHERE 1=1%s`, where)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalEntries, &stats.UniqueActors, &stats.SystemEntries, &stats.Impersonated)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit totals: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT action, COUNT(*) FROM audit_logs WHERE 1=1%s GROUP BY action", where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries by action: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action Action
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		stats.EntriesByAction[action] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action counts: %w", err)
	}

	return stats, nil
}

// filterClause renders the WHERE conditions of filter, starting at $1
func filterClause(filter SearchFilter) (string, []interface{}) {
	clause := ""
	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		clause += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		clause += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.ActorID != nil {
		clause += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, *filter.ActorID)
		argCount++
	}

	if filter.TenantID != nil {
		clause += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, *filter.TenantID)
		argCount++
	}

	if len(filter.Actions) > 0 {
		clause += fmt.Sprintf(" AND action = ANY($%d)", argCount)
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		args = append(args, pq.Array(actions))
		argCount++
	}

	if filter.SubjectType != "" {
		clause += fmt.Sprintf(" AND subject_type = $%d", argCount)
		args = append(args, string(filter.SubjectType))
		argCount++
	}

	if filter.SubjectID != "" {
		clause += fmt.Sprintf(" AND subject_id = $%d", argCount)
		args = append(args, filter.SubjectID)
		argCount++
	}

	if filter.RequestID != "" {
		clause += fmt.Sprintf(" AND meta->>'request_id' = $%d", argCount)
		args = append(args, filter.RequestID)
	}

	return clause, args
}
