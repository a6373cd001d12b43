package orgs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantd/internal/entitlements"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/provider"
	"github.com/wolfeidau/tenantd/internal/store"
	"github.com/wolfeidau/tenantd/internal/telemetry"
)

// syncMaxAttempts bounds the immediate retries of the serializable
// membership transaction on serialization conflicts.
const syncMaxAttempts = 3

// SyncOutcome names the terminal state of a membership sync.
type SyncOutcome string

const (
	SyncOutcomeSynced              SyncOutcome = "synced"
	SyncOutcomeOrganizationUnknown SyncOutcome = "organization_not_found"
	SyncOutcomeSeatLimitBlocked    SyncOutcome = "seat_limit_blocked"
	SyncOutcomeRetriesExhausted    SyncOutcome = "serialization_retries_exhausted"
)

// SyncResult reports what a membership sync did.
type SyncResult struct {
	Synced     bool
	Outcome    SyncOutcome
	Membership *models.OrganizationMembership
}

// MembershipEvent is a provider webhook event about a single membership.
// Events can arrive out of order and be redelivered; sync is idempotent on
// the external membership ID.
type MembershipEvent struct {
	ExternalOrgID        string
	ExternalMembershipID string
	ExternalUserID       string
	Role                 string
	Status               string
}

// OrganizationEvent is a provider webhook event about an organization
// profile. Events for organizations this system never created are ignored.
type OrganizationEvent struct {
	ExternalOrgID string
	Name          string
	Slug          string
}

// MembershipSyncService applies provider webhook events to the local store.
type MembershipSyncService struct {
	orgs        store.OrganizationStore
	memberships store.MembershipStore
	users       store.UserStore
	provider    provider.Provider
	catalog     *entitlements.Catalog
}

// NewMembershipSyncService creates a membership sync service.
func NewMembershipSyncService(orgs store.OrganizationStore, memberships store.MembershipStore, users store.UserStore, p provider.Provider, catalog *entitlements.Catalog) *MembershipSyncService {
	if catalog == nil {
		catalog = entitlements.DefaultCatalog
	}
	return &MembershipSyncService{
		orgs:        orgs,
		memberships: memberships,
		users:       users,
		provider:    p,
		catalog:     catalog,
	}
}

// SyncMembership reconciles one membership event against the local store.
//
// The seat limit comes from the organization's effective contract at the
// time of the event. The membership upsert, the seat count check and the
// owner bookkeeping run in one serializable transaction; on a serialization
// conflict the whole transaction is retried immediately, at most
// syncMaxAttempts times in total.
func (s *MembershipSyncService) SyncMembership(ctx context.Context, event MembershipEvent) (*SyncResult, error) {
	if event.ExternalMembershipID == "" {
		return nil, &ValidationError{Field: "external_membership_id", Reason: "must not be empty"}
	}
	if event.ExternalUserID == "" {
		return nil, &ValidationError{Field: "external_user_id", Reason: "must not be empty"}
	}

	org, err := s.orgs.GetOrganizationByExternalID(ctx, event.ExternalOrgID)
	if errors.Is(err, store.ErrOrganizationNotFound) {
		return s.recordOutcome(ctx, &SyncResult{Outcome: SyncOutcomeOrganizationUnknown}), nil
	}
	if err != nil {
		return nil, err
	}

	contract, err := s.orgs.GetContract(ctx, org.ID)
	if errors.Is(err, store.ErrContractNotFound) {
		// An organization without a contract is not entitled to members;
		// treat it the same as an unknown organization.
		return s.recordOutcome(ctx, &SyncResult{Outcome: SyncOutcomeOrganizationUnknown}), nil
	}
	if err != nil {
		return nil, err
	}

	user, err := s.resolveEventUser(ctx, event.ExternalUserID)
	if err != nil {
		return nil, err
	}

	seatLimit := s.catalog.ResolveContract(contract).Effective.SeatLimit

	params := store.SyncApplyParams{
		Organization:         org,
		SeatLimit:            seatLimit,
		MembershipExternalID: event.ExternalMembershipID,
		UserID:               user.ID,
		Role:                 normalizeRole(event.Role),
		Status:               normalizeStatus(event.Status),
	}

	var result *store.SyncApplyResult
	for attempt := 1; ; attempt++ {
		result, err = s.memberships.ApplySync(ctx, params)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrTxConflict) {
			return nil, err
		}
		if attempt >= syncMaxAttempts {
			telemetry.GetMetrics().SyncTotal.Add(ctx, 1, telemetry.WithOutcome(string(SyncOutcomeRetriesExhausted)))
			return &SyncResult{Outcome: SyncOutcomeRetriesExhausted},
				fmt.Errorf("membership sync for %s gave up after %d serialization conflicts: %w", event.ExternalMembershipID, attempt, err)
		}
		telemetry.GetMetrics().SyncConflictRetries.Add(ctx, 1)
		log.Debug().
			Str("external_membership_id", event.ExternalMembershipID).
			Int("attempt", attempt).
			Msg("Retrying membership sync after serialization conflict")
	}

	if result.SeatBlocked {
		// The member must not remain active at the provider while blocked
		// locally, otherwise the two sides disagree about who has a seat.
		if err := s.provider.RemoveMembership(ctx, org.ExternalOrgID, event.ExternalUserID, event.ExternalMembershipID); err != nil {
			return nil, fmt.Errorf("membership %s blocked over seat limit but provider removal failed: %w", event.ExternalMembershipID, err)
		}
		telemetry.GetMetrics().SeatBlockedTotal.Add(ctx, 1)
		log.Warn().
			Str("org_id", org.ID.String()).
			Str("external_membership_id", event.ExternalMembershipID).
			Int64("seat_limit", seatLimit).
			Msg("Blocked membership over seat limit")
		return s.recordOutcome(ctx, &SyncResult{
			Outcome:    SyncOutcomeSeatLimitBlocked,
			Membership: result.Membership,
		}), nil
	}

	if result.OwnerAssigned || result.OwnerTransferred {
		log.Info().
			Str("org_id", org.ID.String()).
			Str("user_id", user.ID.String()).
			Bool("transferred", result.OwnerTransferred).
			Msg("Owner recorded from membership sync")
	}

	return s.recordOutcome(ctx, &SyncResult{
		Synced:     true,
		Outcome:    SyncOutcomeSynced,
		Membership: result.Membership,
	}), nil
}

// SyncOrganization applies an organization profile event. Events for
// organizations that do not exist locally are ignored rather than creating
// shadow records.
func (s *MembershipSyncService) SyncOrganization(ctx context.Context, event OrganizationEvent) (*models.Organization, error) {
	org, err := s.orgs.GetOrganizationByExternalID(ctx, event.ExternalOrgID)
	if errors.Is(err, store.ErrOrganizationNotFound) {
		log.Debug().Str("external_org_id", event.ExternalOrgID).Msg("Ignoring event for unknown organization")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	patch := store.OrganizationPatch{}
	if name := strings.TrimSpace(event.Name); name != "" && name != org.Name {
		patch.Name = &name
	}
	if slug := strings.TrimSpace(event.Slug); slug != "" && slug != org.Slug {
		patch.Slug = &slug
	}
	if patch.Name == nil && patch.Slug == nil {
		return org, nil
	}

	return s.orgs.UpdateOrganizationFields(ctx, org.ID, patch)
}

// resolveEventUser maps a provider user ID to a local account, creating or
// linking one from the provider's record when the identity has never been
// seen before.
func (s *MembershipSyncService) resolveEventUser(ctx context.Context, extUserID string) (*models.User, error) {
	user, err := s.users.GetUserByExternalID(ctx, extUserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	var email string
	remote, err := s.provider.GetUser(ctx, extUserID)
	if err != nil && !errors.Is(err, provider.ErrNotFound) {
		return nil, fmt.Errorf("failed to fetch provider user %s: %w", extUserID, err)
	}
	if remote != nil {
		email = remote.Email
	}

	return s.users.UpsertUserByExternalID(ctx, extUserID, email)
}

func (s *MembershipSyncService) recordOutcome(ctx context.Context, result *SyncResult) *SyncResult {
	telemetry.GetMetrics().SyncTotal.Add(ctx, 1, telemetry.WithOutcome(string(result.Outcome)))
	return result
}

func normalizeRole(role string) models.MembershipRole {
	switch strings.ToUpper(strings.TrimSpace(role)) {
	case "OWNER", "ADMIN":
		return models.MembershipRoleOwner
	default:
		return models.MembershipRoleMember
	}
}

func normalizeStatus(status string) models.MembershipStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "REMOVED", "DELETED", "LEFT":
		return models.MembershipStatusRemoved
	case "BLOCKED":
		return models.MembershipStatusBlocked
	default:
		return models.MembershipStatusActive
	}
}
