// Package memory implements the store interfaces with in-memory maps.
// Used by unit tests and local development; data is lost on restart.
package memory

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/models"
)

// Store holds all entities behind one mutex so the coarse transactional
// operations are atomic, mirroring the single-transaction semantics of the
// postgres implementation.
type Store struct {
	mu sync.Mutex

	orgs         map[uuid.UUID]*models.Organization
	orgsByExtID  map[string]uuid.UUID
	orgsBySlug   map[string]uuid.UUID
	contracts    map[uuid.UUID]*models.OrganizationContract
	memberships  map[uuid.UUID]*models.OrganizationMembership
	membersByExt map[string]uuid.UUID
	users        map[uuid.UUID]*models.User
	usersByExtID map[string]uuid.UUID
	usersByEmail map[string]uuid.UUID
	audit        []*models.AuditEntry
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		orgs:         make(map[uuid.UUID]*models.Organization),
		orgsByExtID:  make(map[string]uuid.UUID),
		orgsBySlug:   make(map[string]uuid.UUID),
		contracts:    make(map[uuid.UUID]*models.OrganizationContract),
		memberships:  make(map[uuid.UUID]*models.OrganizationMembership),
		membersByExt: make(map[string]uuid.UUID),
		users:        make(map[uuid.UUID]*models.User),
		usersByExtID: make(map[string]uuid.UUID),
		usersByEmail: make(map[string]uuid.UUID),
	}
}

func (s *Store) appendAudit(orgID uuid.UUID, actor *uuid.UUID, actorType models.AuditActorType, action models.AuditAction, before, after, metadata any) {
	entry := &models.AuditEntry{
		ID:             uuid.Must(uuid.NewV7()),
		OrganizationID: orgID,
		ActorUserID:    actor,
		ActorType:      actorType,
		Action:         action,
		Before:         marshalJSON(before),
		After:          marshalJSON(after),
		Metadata:       marshalJSON(metadata),
		CreatedAt:      time.Now().UTC(),
	}
	s.audit = append(s.audit, entry)
}

func marshalJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

func cloneOrg(org *models.Organization) *models.Organization {
	clone := *org
	if org.OwnerUserID != nil {
		v := *org.OwnerUserID
		clone.OwnerUserID = &v
	}
	if org.PendingOwnerEmail != nil {
		v := *org.PendingOwnerEmail
		clone.PendingOwnerEmail = &v
	}
	return &clone
}

func cloneMembership(m *models.OrganizationMembership) *models.OrganizationMembership {
	clone := *m
	if m.JoinedAt != nil {
		v := *m.JoinedAt
		clone.JoinedAt = &v
	}
	if m.LeftAt != nil {
		v := *m.LeftAt
		clone.LeftAt = &v
	}
	return &clone
}

func cloneContract(c *models.OrganizationContract) *models.OrganizationContract {
	clone := *c
	clone.PlanLabel = cloneStr(c.PlanLabel)
	clone.ModelTier = cloneStr(c.ModelTier)
	clone.SeatLimit = cloneInt(c.SeatLimit)
	clone.MaxRequestsPerDay = cloneInt(c.MaxRequestsPerDay)
	clone.MaxInputTokensPerDay = cloneInt(c.MaxInputTokensPerDay)
	clone.MaxOutputTokensPerDay = cloneInt(c.MaxOutputTokensPerDay)
	clone.MaxContextMessages = cloneInt(c.MaxContextMessages)
	if c.MaxCostPerDay != nil {
		v := *c.MaxCostPerDay
		clone.MaxCostPerDay = &v
	}
	return &clone
}

func cloneUser(u *models.User) *models.User {
	clone := *u
	clone.ExternalUserID = cloneStr(u.ExternalUserID)
	return &clone
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
