package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/models"
)

// ContractPatch carries contract fields for creation or partial update.
// Nil fields are left untouched (update) or unset (create).
type ContractPatch struct {
	BasePlan              *string
	PlanLabel             *string
	ModelTier             *string
	SeatLimit             *int64
	MaxRequestsPerDay     *int64
	MaxInputTokensPerDay  *int64
	MaxOutputTokensPerDay *int64
	MaxCostPerDay         *float64
	MaxContextMessages    *int64
}

// OrganizationPatch carries the mutable organization profile fields.
// Nil fields are left untouched.
type OrganizationPatch struct {
	Name   *string
	Slug   *string
	Status *models.OrganizationStatus
}

// OwnerMembershipParams describes the OWNER membership created together with
// a new organization when the owner already has a provider identity.
type OwnerMembershipParams struct {
	UserID               uuid.UUID
	ExternalMembershipID string
}

// CreateOrganizationParams is the single-transaction payload for organization
// creation: the organization row, its contract, the optional owner membership
// and the audit entries describing them.
type CreateOrganizationParams struct {
	Organization    models.Organization
	Contract        ContractPatch
	OwnerMembership *OwnerMembershipParams
	ActorUserID     *uuid.UUID
}

// OwnerTransferParams describes a pending owner change applied inside the
// organization update transaction. The provider-side OWNER membership must
// already exist before this runs.
type OwnerTransferParams struct {
	NewOwnerUserID       uuid.UUID
	ExternalMembershipID string
}

// UpdateOrganizationParams is the single-transaction payload for an
// organization update: profile field changes, a contract upsert and an
// optional owner transfer, plus the audit entries for each.
type UpdateOrganizationParams struct {
	OrganizationID uuid.UUID
	Fields         OrganizationPatch
	// PendingOwnerEmail, when set, clears the owner and records the email of
	// an intended owner without a provider identity yet.
	PendingOwnerEmail *string
	Contract          *ContractPatch
	OwnerTransfer     *OwnerTransferParams
	ActorUserID       *uuid.UUID
}

// UpdateOrganizationResult reports what the update transaction changed.
type UpdateOrganizationResult struct {
	Organization *models.Organization
	// PreviousOwner is the membership demoted by an owner transfer, nil when
	// there was no previous active owner.
	PreviousOwner *models.OrganizationMembership
	// OwnerTransferred is true when a previous owner was replaced, false when
	// the owner slot was empty and simply assigned.
	OwnerTransferred bool
}

// OrganizationStore defines organization and contract storage. The coarse
// Create/ApplyUpdate/Delete operations each run as one local transaction so
// organization, contract, membership and audit rows commit atomically.
type OrganizationStore interface {
	// CreateOrganization creates the organization, its contract, the optional
	// owner membership and the ORGANIZATION_CREATED / OWNER_ASSIGNED audit
	// rows in one transaction.
	// Returns ErrOrganizationAlreadyExists on external ID or slug collision.
	CreateOrganization(ctx context.Context, params CreateOrganizationParams) (*models.Organization, error)

	// GetOrganization retrieves an organization by local ID.
	GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)

	// GetOrganizationByExternalID retrieves an organization by its identity in
	// the external provider.
	GetOrganizationByExternalID(ctx context.Context, externalOrgID string) (*models.Organization, error)

	// GetContract retrieves the contract for an organization.
	// Returns ErrContractNotFound if none exists.
	GetContract(ctx context.Context, orgID uuid.UUID) (*models.OrganizationContract, error)

	// SlugExists reports whether any organization already uses the slug.
	SlugExists(ctx context.Context, slug string) (bool, error)

	// UpdateOrganizationFields patches only the provided profile fields.
	// Used by provider-originated organization sync; writes no audit rows of
	// its own beyond ORGANIZATION_UPDATED.
	UpdateOrganizationFields(ctx context.Context, orgID uuid.UUID, patch OrganizationPatch) (*models.Organization, error)

	// ApplyOrganizationUpdate applies the full admin update transaction:
	// contract upsert (version incremented on update), profile changes and an
	// optional owner transfer that demotes all other active owners.
	ApplyOrganizationUpdate(ctx context.Context, params UpdateOrganizationParams) (*UpdateOrganizationResult, error)

	// DeleteOrganization removes the organization and its dependent rows,
	// appending an ORGANIZATION_DELETED audit entry that survives the delete.
	DeleteOrganization(ctx context.Context, orgID uuid.UUID, actorUserID *uuid.UUID) error
}
