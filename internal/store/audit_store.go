package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/models"
)

// AuditStore reads the append-only organization audit log. Entries are
// written by the transactional operations on the other stores, never
// directly.
type AuditStore interface {
	// ListAuditEntries returns the newest entries for an organization,
	// newest first, up to limit.
	ListAuditEntries(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.AuditEntry, error)
}
