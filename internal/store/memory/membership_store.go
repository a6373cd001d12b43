package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/store"
)

var _ store.MembershipStore = (*Store)(nil)

// ApplySync applies one provider membership event atomically: upsert by
// external membership ID, unconditional audit row, seat-cap enforcement and
// owner uniqueness. Mirrors the serializable transaction body of the
// postgres implementation; the single mutex stands in for isolation.
func (s *Store) ApplySync(ctx context.Context, params store.SyncApplyParams) (*store.SyncApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[params.Organization.ID]
	if !ok {
		return nil, store.ErrOrganizationNotFound
	}

	now := time.Now().UTC()

	var before *models.OrganizationMembership
	if existing := s.findMembershipLocked(org.ID, params.UserID, params.MembershipExternalID); existing != nil {
		before = cloneMembership(existing)
	}

	m := s.upsertMembershipLocked(org.ID, params.UserID, params.MembershipExternalID, params.Role, params.Status)

	s.appendAudit(org.ID, nil, models.AuditActorWebhook,
		models.AuditActionMembershipSynced, before, m,
		map[string]string{"external_membership_id": params.MembershipExternalID})

	result := &store.SyncApplyResult{}

	if m.Status == models.MembershipStatusActive {
		active := int64(0)
		for _, other := range s.memberships {
			if other.OrganizationID == org.ID && other.Status == models.MembershipStatusActive {
				active++
			}
		}
		if active > params.SeatLimit {
			// Undo this event's own effect inside the same transaction.
			m.Status = models.MembershipStatusBlocked
			m.LeftAt = &now
			m.UpdatedAt = now
			s.appendAudit(org.ID, nil, models.AuditActorWebhook,
				models.AuditActionMembershipSeatBlocked, nil, m,
				map[string]any{"seat_limit": params.SeatLimit, "active_count": active})
			result.SeatBlocked = true
		}
	}

	if !result.SeatBlocked && params.Role == models.MembershipRoleOwner && m.Status == models.MembershipStatusActive {
		previousOwnerID := org.OwnerUserID

		for _, other := range s.memberships {
			if other.OrganizationID == org.ID &&
				other.ID != m.ID &&
				other.Status == models.MembershipStatusActive &&
				other.Role == models.MembershipRoleOwner {
				other.Role = models.MembershipRoleMember
				other.UpdatedAt = now
			}
		}

		m.Role = models.MembershipRoleOwner
		org.OwnerUserID = &params.UserID
		org.PendingOwnerEmail = nil
		org.UpdatedAt = now

		if previousOwnerID != nil && *previousOwnerID != params.UserID {
			result.OwnerTransferred = true
			result.PreviousOwnerUserID = previousOwnerID
			s.appendAudit(org.ID, nil, models.AuditActorWebhook,
				models.AuditActionOwnerTransferred, nil, m,
				map[string]string{"previous_owner_user_id": previousOwnerID.String()})
		} else {
			result.OwnerAssigned = true
			s.appendAudit(org.ID, nil, models.AuditActorWebhook,
				models.AuditActionOwnerAssigned, nil, m, nil)
		}
	}

	result.Membership = cloneMembership(m)
	return result, nil
}

// GetMembershipByExternalID retrieves a membership by provider ID.
func (s *Store) GetMembershipByExternalID(ctx context.Context, externalMembershipID string) (*models.OrganizationMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.membersByExt[externalMembershipID]
	if !ok {
		return nil, store.ErrMembershipNotFound
	}
	return cloneMembership(s.memberships[id]), nil
}

// ListActiveMemberships returns all ACTIVE memberships for an organization.
func (s *Store) ListActiveMemberships(ctx context.Context, orgID uuid.UUID) ([]*models.OrganizationMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.OrganizationMembership
	for _, m := range s.memberships {
		if m.OrganizationID == orgID && m.Status == models.MembershipStatusActive {
			result = append(result, cloneMembership(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

// ListEntitlementRows returns the user's ACTIVE memberships in ACTIVE
// organizations joined to contracts.
func (s *Store) ListEntitlementRows(ctx context.Context, userID uuid.UUID) ([]store.EntitlementRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []store.EntitlementRow
	for _, m := range s.memberships {
		if m.UserID != userID || m.Status != models.MembershipStatusActive {
			continue
		}
		org, ok := s.orgs[m.OrganizationID]
		if !ok || org.Status != models.OrganizationStatusActive {
			continue
		}
		row := store.EntitlementRow{
			OrganizationID:   org.ID,
			OrganizationName: org.Name,
		}
		if contract, ok := s.contracts[org.ID]; ok {
			row.Contract = cloneContract(contract)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].OrganizationID.String() < rows[j].OrganizationID.String()
	})
	return rows, nil
}

// findMembershipLocked locates an existing row first by external membership
// ID, then by the (organization, user) pair so the one-row-per-pair
// invariant holds even if the provider reissues membership IDs.
func (s *Store) findMembershipLocked(orgID, userID uuid.UUID, externalMembershipID string) *models.OrganizationMembership {
	if id, ok := s.membersByExt[externalMembershipID]; ok {
		return s.memberships[id]
	}
	for _, m := range s.memberships {
		if m.OrganizationID == orgID && m.UserID == userID {
			return m
		}
	}
	return nil
}

// upsertMembershipLocked creates or updates the membership row, applying
// the joinedAt/leftAt rules for activation and deactivation.
func (s *Store) upsertMembershipLocked(orgID, userID uuid.UUID, externalMembershipID string, role models.MembershipRole, status models.MembershipStatus) *models.OrganizationMembership {
	now := time.Now().UTC()

	m := s.findMembershipLocked(orgID, userID, externalMembershipID)
	if m == nil {
		m = &models.OrganizationMembership{
			ID:             uuid.Must(uuid.NewV7()),
			OrganizationID: orgID,
			UserID:         userID,
			CreatedAt:      now,
		}
		s.memberships[m.ID] = m
	}

	if m.ExternalMembershipID != externalMembershipID {
		delete(s.membersByExt, m.ExternalMembershipID)
		m.ExternalMembershipID = externalMembershipID
	}
	s.membersByExt[externalMembershipID] = m.ID

	m.Role = role
	m.Status = status
	m.UpdatedAt = now

	if status == models.MembershipStatusActive {
		m.JoinedAt = &now
		m.LeftAt = nil
	} else {
		m.LeftAt = &now
	}

	return m
}
