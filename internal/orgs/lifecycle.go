// Package orgs implements the organization lifecycle sagas and the
// membership synchronization service. Both coordinate the local store with
// the external identity/billing provider, which cannot participate in local
// transactions; each operation orders its calls so the side that is hardest
// to undo happens last and compensates on partial failure.
package orgs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/provider"
	"github.com/wolfeidau/tenantd/internal/store"
	"github.com/wolfeidau/tenantd/internal/telemetry"
)

// LifecycleService creates, updates and deletes organizations, keeping the
// local store and the external provider consistent through compensation.
type LifecycleService struct {
	orgs     store.OrganizationStore
	users    store.UserStore
	provider provider.Provider
}

// NewLifecycleService creates a lifecycle service.
func NewLifecycleService(orgs store.OrganizationStore, users store.UserStore, p provider.Provider) *LifecycleService {
	return &LifecycleService{
		orgs:     orgs,
		users:    users,
		provider: p,
	}
}

// CreateOrganizationRequest is the admin payload for organization creation.
type CreateOrganizationRequest struct {
	Name            string
	Slug            string // optional, derived from Name when empty
	OwnerEmail      string
	Contract        store.ContractPatch
	CreatedByUserID uuid.UUID
}

// Create provisions the organization at the provider, then records it
// locally in one transaction. Failure after the provider organization (and
// possibly the owner membership) exists triggers compensation; the result of
// compensation is reported as a distinct named failure.
func (s *LifecycleService) Create(ctx context.Context, req CreateOrganizationRequest) (*models.Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	ownerEmail := strings.TrimSpace(req.OwnerEmail)
	if ownerEmail == "" {
		return nil, &ValidationError{Field: "owner_email", Reason: "must not be empty"}
	}

	slugSource := req.Slug
	if slugSource == "" {
		slugSource = name
	}
	slug := normalizeSlug(slugSource)
	if slug == "" {
		return nil, &ValidationError{Field: "slug", Reason: "must contain letters or digits"}
	}
	slug, err := dedupeSlug(ctx, s.orgs, slug)
	if err != nil {
		return nil, err
	}

	extOrg, err := s.provider.CreateOrganization(ctx, name, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider organization: %w", err)
	}

	ownerUser, err := s.resolveUserByEmail(ctx, ownerEmail)
	if err != nil {
		return nil, s.compensateCreate(ctx, extOrg.ID, "", "", err)
	}

	org := models.Organization{
		ID:            uuid.Must(uuid.NewV7()),
		ExternalOrgID: extOrg.ID,
		Name:          name,
		Slug:          slug,
		Status:        models.OrganizationStatusActive,
	}

	var ownerMembership *store.OwnerMembershipParams
	var extMembershipID, extOwnerUserID string

	if ownerUser != nil && ownerUser.ExternalUserID != nil {
		extOwnerUserID = *ownerUser.ExternalUserID
		extMembershipID, err = s.provider.AddMembership(ctx, extOrg.ID, extOwnerUserID, provider.RoleOwner)
		if err != nil {
			return nil, s.compensateCreate(ctx, extOrg.ID, "", "", fmt.Errorf("failed to add owner membership: %w", err))
		}
		org.OwnerUserID = &ownerUser.ID
		ownerMembership = &store.OwnerMembershipParams{
			UserID:               ownerUser.ID,
			ExternalMembershipID: extMembershipID,
		}
	} else {
		if err := s.provider.InviteOwner(ctx, extOrg.ID, ownerEmail); err != nil {
			return nil, s.compensateCreate(ctx, extOrg.ID, "", "", fmt.Errorf("failed to invite owner: %w", err))
		}
		org.PendingOwnerEmail = &ownerEmail
	}

	actor := req.CreatedByUserID
	created, err := s.orgs.CreateOrganization(ctx, store.CreateOrganizationParams{
		Organization:    org,
		Contract:        req.Contract,
		OwnerMembership: ownerMembership,
		ActorUserID:     &actor,
	})
	if err != nil {
		return nil, s.compensateCreate(ctx, extOrg.ID, extOwnerUserID, extMembershipID, err)
	}

	telemetry.GetMetrics().LifecycleOpsTotal.Add(ctx, 1, telemetry.WithOp("create"))

	log.Info().
		Str("org_id", created.ID.String()).
		Str("external_org_id", created.ExternalOrgID).
		Str("slug", created.Slug).
		Msg("Created organization")

	return created, nil
}

// compensateCreate unwinds the provider-side records created so far. Both
// the fully-compensated and the cleanup-incomplete outcomes are named so
// the caller can tell retry-safe failures from ones needing reconciliation.
func (s *LifecycleService) compensateCreate(ctx context.Context, extOrgID, extUserID, extMembershipID string, cause error) error {
	cleanupFailed := false

	if extMembershipID != "" {
		if err := s.provider.RemoveMembership(ctx, extOrgID, extUserID, extMembershipID); err != nil {
			cleanupFailed = true
			log.Error().Err(err).
				Str("external_org_id", extOrgID).
				Str("external_membership_id", extMembershipID).
				Msg("Compensation failed: could not remove provider membership")
		}
	}

	if err := s.provider.DeleteOrganization(ctx, extOrgID); err != nil {
		cleanupFailed = true
		log.Error().Err(err).
			Str("external_org_id", extOrgID).
			Msg("Compensation failed: could not delete provider organization")
	}

	code := ErrCodeDBCreateFailed
	if cleanupFailed {
		code = ErrCodeCreateCleanupIncomplete
	}

	telemetry.GetMetrics().CompensationsTotal.Add(ctx, 1, telemetry.WithOutcome(code))

	return &LifecycleError{Code: code, ExternalOrgID: extOrgID, Err: cause}
}

// UpdateOrganizationRequest is the admin payload for an organization update.
// Nil fields are left untouched.
type UpdateOrganizationRequest struct {
	Name        *string
	Slug        *string
	Status      *models.OrganizationStatus
	OwnerEmail  *string
	Contract    *store.ContractPatch
	ActorUserID *uuid.UUID
}

// Update applies an admin patch to an organization.
//
// Ordering invariant for owner changes: the provider-side OWNER membership is
// created and confirmed before any local mutation, so the local store never
// declares an owner the provider does not know about. After the local
// transaction commits, local state is authoritative; remaining provider
// drift (the previous owner's role) is corrected best-effort and otherwise
// self-heals on the next membership sync.
func (s *LifecycleService) Update(ctx context.Context, orgID uuid.UUID, req UpdateOrganizationRequest) (*models.Organization, error) {
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	fields := store.OrganizationPatch{
		Name:   req.Name,
		Status: req.Status,
	}
	if req.Slug != nil {
		slug := normalizeSlug(*req.Slug)
		if slug == "" {
			return nil, &ValidationError{Field: "slug", Reason: "must contain letters or digits"}
		}
		fields.Slug = &slug
	}

	providerPatch, revertPatch := buildProviderPatches(org, fields)

	var transfer *store.OwnerTransferParams
	var pendingOwnerEmail *string
	var newExtMembershipID, newOwnerExtUserID string

	if req.OwnerEmail != nil {
		email := strings.TrimSpace(*req.OwnerEmail)
		if email == "" {
			return nil, &ValidationError{Field: "owner_email", Reason: "must not be empty"}
		}

		user, err := s.resolveUserByEmail(ctx, email)
		if err != nil {
			return nil, err
		}

		switch {
		case user != nil && user.ExternalUserID != nil:
			if org.OwnerUserID == nil || *org.OwnerUserID != user.ID {
				id, err := s.provider.AddMembership(ctx, org.ExternalOrgID, *user.ExternalUserID, provider.RoleOwner)
				if err != nil {
					return nil, fmt.Errorf("failed to create provider owner membership: %w", err)
				}
				if id == "" {
					// No identifier means nothing to sync against later; abort
					// before any local mutation.
					return nil, fmt.Errorf("provider returned no membership identifier for new owner of %s", org.ExternalOrgID)
				}
				newExtMembershipID = id
				newOwnerExtUserID = *user.ExternalUserID
				transfer = &store.OwnerTransferParams{
					NewOwnerUserID:       user.ID,
					ExternalMembershipID: id,
				}
			}
		default:
			if err := s.provider.InviteOwner(ctx, org.ExternalOrgID, email); err != nil {
				return nil, fmt.Errorf("failed to invite owner: %w", err)
			}
			pendingOwnerEmail = &email
		}
	}

	if providerPatch != nil {
		if err := s.provider.UpdateOrganization(ctx, org.ExternalOrgID, *providerPatch); err != nil {
			// Remove the owner membership staged above, if any, then fail.
			s.removeStagedOwner(ctx, org.ExternalOrgID, newOwnerExtUserID, newExtMembershipID)
			return nil, fmt.Errorf("failed to update provider organization: %w", err)
		}
	}

	result, err := s.orgs.ApplyOrganizationUpdate(ctx, store.UpdateOrganizationParams{
		OrganizationID:    orgID,
		Fields:            fields,
		PendingOwnerEmail: pendingOwnerEmail,
		Contract:          req.Contract,
		OwnerTransfer:     transfer,
		ActorUserID:       req.ActorUserID,
	})
	if err != nil {
		// The DB error is the actionable root cause; compensation failures
		// are logged but never replace it.
		if providerPatch != nil {
			if revertErr := s.provider.UpdateOrganization(ctx, org.ExternalOrgID, *revertPatch); revertErr != nil {
				log.Error().Err(revertErr).
					Str("external_org_id", org.ExternalOrgID).
					Msg("Failed to revert provider profile patch after local update failure")
			}
		}
		s.removeStagedOwner(ctx, org.ExternalOrgID, newOwnerExtUserID, newExtMembershipID)
		return nil, fmt.Errorf("failed to apply organization update: %w", err)
	}

	if result.PreviousOwner != nil {
		s.demotePreviousOwner(ctx, org.ExternalOrgID, result.PreviousOwner)
	}

	telemetry.GetMetrics().LifecycleOpsTotal.Add(ctx, 1, telemetry.WithOp("update"))

	log.Info().
		Str("org_id", orgID.String()).
		Bool("owner_transferred", result.OwnerTransferred).
		Msg("Updated organization")

	return result.Organization, nil
}

// removeStagedOwner best-effort removes a provider owner membership created
// during an update that did not commit locally.
func (s *LifecycleService) removeStagedOwner(ctx context.Context, extOrgID, extUserID, extMembershipID string) {
	if extMembershipID == "" {
		return
	}
	if err := s.provider.RemoveMembership(ctx, extOrgID, extUserID, extMembershipID); err != nil {
		log.Error().Err(err).
			Str("external_org_id", extOrgID).
			Str("external_membership_id", extMembershipID).
			Msg("Failed to remove staged provider owner membership")
	}
}

// demotePreviousOwner best-effort downgrades the demoted owner's provider
// role. Local state is authoritative at this point; a stale provider role
// self-heals on the next membership sync event.
func (s *LifecycleService) demotePreviousOwner(ctx context.Context, extOrgID string, previous *models.OrganizationMembership) {
	user, err := s.users.GetUser(ctx, previous.UserID)
	if err != nil || user.ExternalUserID == nil {
		log.Warn().
			Str("user_id", previous.UserID.String()).
			Msg("Cannot demote previous owner at provider: no provider identity")
		return
	}
	err = s.provider.UpdateMembershipRole(ctx, extOrgID, *user.ExternalUserID, previous.ExternalMembershipID, provider.RoleMember)
	if err != nil {
		log.Warn().Err(err).
			Str("external_org_id", extOrgID).
			Str("external_membership_id", previous.ExternalMembershipID).
			Msg("Failed to demote previous owner at provider, will self-heal on next sync")
	}
}

// Delete removes the organization from the provider first, then locally.
// A local failure after the provider delete succeeded is reported as
// ORGANIZATION_DB_DELETE_FAILED_AFTER_PROVIDER and left to operator
// reconciliation.
func (s *LifecycleService) Delete(ctx context.Context, orgID uuid.UUID, actorUserID *uuid.UUID) error {
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}

	if err := s.provider.DeleteOrganization(ctx, org.ExternalOrgID); err != nil && !errors.Is(err, provider.ErrNotFound) {
		return fmt.Errorf("failed to delete provider organization: %w", err)
	}

	if err := s.orgs.DeleteOrganization(ctx, orgID, actorUserID); err != nil {
		telemetry.GetMetrics().CompensationsTotal.Add(ctx, 1, telemetry.WithOutcome(ErrCodeDBDeleteFailedAfterProvider))
		return &LifecycleError{
			Code:           ErrCodeDBDeleteFailedAfterProvider,
			OrganizationID: orgID,
			ExternalOrgID:  org.ExternalOrgID,
			Err:            err,
		}
	}

	telemetry.GetMetrics().LifecycleOpsTotal.Add(ctx, 1, telemetry.WithOp("delete"))

	log.Info().
		Str("org_id", orgID.String()).
		Str("external_org_id", org.ExternalOrgID).
		Msg("Deleted organization")

	return nil
}

// resolveUserByEmail returns nil without error when no local account exists.
func (s *LifecycleService) resolveUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user by email: %w", err)
	}
	return user, nil
}

// buildProviderPatches stages the provider-side profile patch and its
// best-effort revert, built from the organization's current values.
func buildProviderPatches(org *models.Organization, fields store.OrganizationPatch) (patch, revert *provider.OrganizationPatch) {
	if fields.Name == nil && fields.Slug == nil && fields.Status == nil {
		return nil, nil
	}

	patch = &provider.OrganizationPatch{}
	revert = &provider.OrganizationPatch{}

	if fields.Name != nil {
		patch.Name = fields.Name
		name := org.Name
		revert.Name = &name
	}
	if fields.Slug != nil {
		patch.Slug = fields.Slug
		slug := org.Slug
		revert.Slug = &slug
	}
	if fields.Status != nil {
		status := string(*fields.Status)
		patch.Status = &status
		prev := string(org.Status)
		revert.Status = &prev
	}

	return patch, revert
}
