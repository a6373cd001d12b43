package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/store"
)

var _ store.AuditStore = (*Store)(nil)

// ListAuditEntries returns the newest entries for an organization, newest
// first.
func (s *Store) ListAuditEntries(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		entry := s.audit[i]
		if entry.OrganizationID != orgID {
			continue
		}
		clone := *entry
		result = append(result, &clone)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
