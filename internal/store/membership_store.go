package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/models"
)

// SyncApplyParams is one attempt at applying a provider membership event.
// SeatLimit is the contract's effective seat limit, resolved by the caller.
type SyncApplyParams struct {
	Organization         *models.Organization
	SeatLimit            int64
	MembershipExternalID string
	UserID               uuid.UUID
	Role                 models.MembershipRole
	Status               models.MembershipStatus
}

// SyncApplyResult reports what one sync transaction did.
type SyncApplyResult struct {
	Membership *models.OrganizationMembership
	// SeatBlocked is true when activating this membership exceeded the seat
	// limit and it was reverted to BLOCKED inside the same transaction.
	SeatBlocked bool
	// OwnerAssigned / OwnerTransferred report the ownership outcome when the
	// event carried the OWNER role.
	OwnerAssigned    bool
	OwnerTransferred bool
	// PreviousOwnerUserID is set when OwnerTransferred is true.
	PreviousOwnerUserID *uuid.UUID
}

// EntitlementRow is one ACTIVE membership of a user in an ACTIVE
// organization, joined to that organization's contract (nil when the
// organization has none). Input to the entitlement resolver.
type EntitlementRow struct {
	OrganizationID   uuid.UUID
	OrganizationName string
	Contract         *models.OrganizationContract
}

// MembershipStore defines membership storage operations.
//
// ApplySync is the invariant-enforcing core: it runs exactly one serializable
// transaction implementing the membership sync body (upsert by external
// membership ID, unconditional audit row, seat-cap check with in-transaction
// revert, owner uniqueness). It returns an error wrapping ErrTxConflict when
// the store detects a serialization conflict; the caller owns the retry loop.
type MembershipStore interface {
	ApplySync(ctx context.Context, params SyncApplyParams) (*SyncApplyResult, error)

	// GetMembershipByExternalID retrieves a membership by the provider's
	// membership identifier.
	GetMembershipByExternalID(ctx context.Context, externalMembershipID string) (*models.OrganizationMembership, error)

	// ListActiveMemberships returns all ACTIVE memberships for an organization.
	ListActiveMemberships(ctx context.Context, orgID uuid.UUID) ([]*models.OrganizationMembership, error)

	// ListEntitlementRows returns the user's ACTIVE memberships in ACTIVE
	// organizations, each joined to the organization's contract.
	ListEntitlementRows(ctx context.Context, userID uuid.UUID) ([]EntitlementRow, error)
}
