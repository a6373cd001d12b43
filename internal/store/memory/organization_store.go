package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/store"
)

var _ store.OrganizationStore = (*Store)(nil)

// CreateOrganization creates the organization, contract, optional owner
// membership and audit entries atomically.
func (s *Store) CreateOrganization(ctx context.Context, params store.CreateOrganizationParams) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org := params.Organization
	if _, exists := s.orgsByExtID[org.ExternalOrgID]; exists {
		return nil, store.ErrOrganizationAlreadyExists
	}
	if _, exists := s.orgsBySlug[org.Slug]; exists {
		return nil, store.ErrOrganizationAlreadyExists
	}

	now := time.Now().UTC()
	if org.ID == uuid.Nil {
		org.ID = uuid.Must(uuid.NewV7())
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	contract := newContractFromPatch(org.ID, params.Contract, now)

	s.orgs[org.ID] = cloneOrg(&org)
	s.orgsByExtID[org.ExternalOrgID] = org.ID
	s.orgsBySlug[org.Slug] = org.ID
	s.contracts[org.ID] = contract

	s.appendAudit(org.ID, params.ActorUserID, models.AuditActorAdmin,
		models.AuditActionOrganizationCreated, nil, org, nil)

	if params.OwnerMembership != nil {
		m := s.upsertMembershipLocked(org.ID, params.OwnerMembership.UserID,
			params.OwnerMembership.ExternalMembershipID,
			models.MembershipRoleOwner, models.MembershipStatusActive)
		s.appendAudit(org.ID, params.ActorUserID, models.AuditActorAdmin,
			models.AuditActionOwnerAssigned, nil, m,
			map[string]string{"external_membership_id": m.ExternalMembershipID})
	}

	return cloneOrg(&org), nil
}

// GetOrganization retrieves an organization by local ID.
func (s *Store) GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return nil, store.ErrOrganizationNotFound
	}
	return cloneOrg(org), nil
}

// GetOrganizationByExternalID retrieves an organization by provider ID.
func (s *Store) GetOrganizationByExternalID(ctx context.Context, externalOrgID string) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.orgsByExtID[externalOrgID]
	if !ok {
		return nil, store.ErrOrganizationNotFound
	}
	return cloneOrg(s.orgs[id]), nil
}

// GetContract retrieves the contract for an organization.
func (s *Store) GetContract(ctx context.Context, orgID uuid.UUID) (*models.OrganizationContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, ok := s.contracts[orgID]
	if !ok {
		return nil, store.ErrContractNotFound
	}
	return cloneContract(contract), nil
}

// SlugExists reports whether any organization uses the slug.
func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.orgsBySlug[slug]
	return ok, nil
}

// UpdateOrganizationFields patches only the provided profile fields.
func (s *Store) UpdateOrganizationFields(ctx context.Context, orgID uuid.UUID, patch store.OrganizationPatch) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return nil, store.ErrOrganizationNotFound
	}

	before := cloneOrg(org)
	s.applyOrgPatchLocked(org, patch)
	org.UpdatedAt = time.Now().UTC()

	s.appendAudit(orgID, nil, models.AuditActorWebhook,
		models.AuditActionOrganizationUpdated, before, org, nil)

	return cloneOrg(org), nil
}

// ApplyOrganizationUpdate applies the full admin update transaction.
func (s *Store) ApplyOrganizationUpdate(ctx context.Context, params store.UpdateOrganizationParams) (*store.UpdateOrganizationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[params.OrganizationID]
	if !ok {
		return nil, store.ErrOrganizationNotFound
	}

	now := time.Now().UTC()
	before := cloneOrg(org)
	result := &store.UpdateOrganizationResult{}

	if params.Contract != nil {
		if existing, ok := s.contracts[org.ID]; ok {
			contractBefore := cloneContract(existing)
			applyContractPatch(existing, *params.Contract)
			existing.Version++
			existing.UpdatedAt = now
			s.appendAudit(org.ID, params.ActorUserID, models.AuditActorAdmin,
				models.AuditActionContractUpdated, contractBefore, existing, nil)
		} else {
			contract := newContractFromPatch(org.ID, *params.Contract, now)
			s.contracts[org.ID] = contract
			s.appendAudit(org.ID, params.ActorUserID, models.AuditActorAdmin,
				models.AuditActionContractUpdated, nil, contract, nil)
		}
	}

	s.applyOrgPatchLocked(org, params.Fields)

	if params.PendingOwnerEmail != nil {
		org.OwnerUserID = nil
		org.PendingOwnerEmail = cloneStr(params.PendingOwnerEmail)
	}

	if params.OwnerTransfer != nil {
		previousOwnerID := org.OwnerUserID

		for _, m := range s.memberships {
			if m.OrganizationID == org.ID &&
				m.Status == models.MembershipStatusActive &&
				m.Role == models.MembershipRoleOwner &&
				m.UserID != params.OwnerTransfer.NewOwnerUserID {
				m.Role = models.MembershipRoleMember
				m.UpdatedAt = now
				result.PreviousOwner = cloneMembership(m)
			}
		}

		m := s.upsertMembershipLocked(org.ID, params.OwnerTransfer.NewOwnerUserID,
			params.OwnerTransfer.ExternalMembershipID,
			models.MembershipRoleOwner, models.MembershipStatusActive)

		org.OwnerUserID = &params.OwnerTransfer.NewOwnerUserID
		org.PendingOwnerEmail = nil

		action := models.AuditActionOwnerAssigned
		if previousOwnerID != nil && *previousOwnerID != params.OwnerTransfer.NewOwnerUserID {
			action = models.AuditActionOwnerTransferred
			result.OwnerTransferred = true
		}
		s.appendAudit(org.ID, params.ActorUserID, models.AuditActorAdmin, action, nil, m,
			map[string]string{"external_membership_id": m.ExternalMembershipID})
	}

	org.UpdatedAt = now
	s.appendAudit(org.ID, params.ActorUserID, models.AuditActorAdmin,
		models.AuditActionOrganizationUpdated, before, org, nil)

	result.Organization = cloneOrg(org)
	return result, nil
}

// DeleteOrganization removes the organization and its dependent rows. The
// audit log keeps its entries, including the final ORGANIZATION_DELETED.
func (s *Store) DeleteOrganization(ctx context.Context, orgID uuid.UUID, actorUserID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return store.ErrOrganizationNotFound
	}

	s.appendAudit(orgID, actorUserID, models.AuditActorAdmin,
		models.AuditActionOrganizationDeleted, org, nil, nil)

	delete(s.orgsByExtID, org.ExternalOrgID)
	delete(s.orgsBySlug, org.Slug)
	delete(s.orgs, orgID)
	delete(s.contracts, orgID)
	for id, m := range s.memberships {
		if m.OrganizationID == orgID {
			delete(s.membersByExt, m.ExternalMembershipID)
			delete(s.memberships, id)
		}
	}

	return nil
}

func (s *Store) applyOrgPatchLocked(org *models.Organization, patch store.OrganizationPatch) {
	if patch.Name != nil {
		org.Name = *patch.Name
	}
	if patch.Slug != nil && *patch.Slug != org.Slug {
		delete(s.orgsBySlug, org.Slug)
		org.Slug = *patch.Slug
		s.orgsBySlug[org.Slug] = org.ID
	}
	if patch.Status != nil {
		org.Status = *patch.Status
	}
}

func newContractFromPatch(orgID uuid.UUID, patch store.ContractPatch, now time.Time) *models.OrganizationContract {
	contract := &models.OrganizationContract{
		OrganizationID: orgID,
		BasePlan:       string(models.BasePlanBasic),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyContractPatch(contract, patch)
	return contract
}

func applyContractPatch(contract *models.OrganizationContract, patch store.ContractPatch) {
	if patch.BasePlan != nil {
		contract.BasePlan = *patch.BasePlan
	}
	if patch.PlanLabel != nil {
		contract.PlanLabel = cloneStr(patch.PlanLabel)
	}
	if patch.ModelTier != nil {
		contract.ModelTier = cloneStr(patch.ModelTier)
	}
	if patch.SeatLimit != nil {
		contract.SeatLimit = cloneInt(patch.SeatLimit)
	}
	if patch.MaxRequestsPerDay != nil {
		contract.MaxRequestsPerDay = cloneInt(patch.MaxRequestsPerDay)
	}
	if patch.MaxInputTokensPerDay != nil {
		contract.MaxInputTokensPerDay = cloneInt(patch.MaxInputTokensPerDay)
	}
	if patch.MaxOutputTokensPerDay != nil {
		contract.MaxOutputTokensPerDay = cloneInt(patch.MaxOutputTokensPerDay)
	}
	if patch.MaxCostPerDay != nil {
		v := *patch.MaxCostPerDay
		contract.MaxCostPerDay = &v
	}
	if patch.MaxContextMessages != nil {
		contract.MaxContextMessages = cloneInt(patch.MaxContextMessages)
	}
}
