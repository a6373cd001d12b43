package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/store"
)

var _ store.AuditStore = (*AuditStore)(nil)

// AuditStore reads the append-only organization audit log. Rows are written
// by the transactional operations on the other stores, never here.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new PostgreSQL-backed audit store.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{
		pool: pool,
	}
}

// ListAuditEntries returns the newest entries for an organization, newest
// first, up to limit.
func (s *AuditStore) ListAuditEntries(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, actor_user_id, actor_type, action,
			before, after, metadata, created_at
		FROM organization_audit_log
		WHERE organization_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	var result []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		err := rows.Scan(
			&e.ID,
			&e.OrganizationID,
			&e.ActorUserID,
			&e.ActorType,
			&e.Action,
			&e.Before,
			&e.After,
			&e.Metadata,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, mapPostgresError(err)
		}
		result = append(result, &e)
	}
	return result, mapPostgresError(rows.Err())
}
