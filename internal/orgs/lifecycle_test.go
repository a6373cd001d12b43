package orgs

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/provider"
	"github.com/wolfeidau/tenantd/internal/provider/providertest"
	"github.com/wolfeidau/tenantd/internal/store"
	"github.com/wolfeidau/tenantd/internal/store/memory"
)

// failingOrgStore wraps the memory store and fails selected operations so
// the compensation paths can be exercised.
type failingOrgStore struct {
	store.OrganizationStore
	createErr error
	updateErr error
	deleteErr error
}

func (f *failingOrgStore) CreateOrganization(ctx context.Context, params store.CreateOrganizationParams) (*models.Organization, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.OrganizationStore.CreateOrganization(ctx, params)
}

func (f *failingOrgStore) ApplyOrganizationUpdate(ctx context.Context, params store.UpdateOrganizationParams) (*store.UpdateOrganizationResult, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.OrganizationStore.ApplyOrganizationUpdate(ctx, params)
}

func (f *failingOrgStore) DeleteOrganization(ctx context.Context, orgID uuid.UUID, actorUserID *uuid.UUID) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.OrganizationStore.DeleteOrganization(ctx, orgID, actorUserID)
}

func seedLinkedUser(t *testing.T, st *memory.Store, fake *providertest.Fake, email, extID string) *models.User {
	t.Helper()
	user := &models.User{
		ExternalUserID: &extID,
		Email:          email,
		Name:           email,
	}
	require.NoError(t, st.CreateUser(context.Background(), user))
	fake.SeedUser(extID, email)
	return user
}

func TestCreateOrganizationWithExistingOwner(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	owner := seedLinkedUser(t, st, fake, "owner@example.com", "ext-user-1")

	org, err := svc.Create(ctx, CreateOrganizationRequest{
		Name:            "Acme Corp",
		OwnerEmail:      "owner@example.com",
		CreatedByUserID: uuid.Must(uuid.NewV7()),
	})
	require.NoError(t, err)
	require.Equal(t, "Acme Corp", org.Name)
	require.Equal(t, "acme-corp", org.Slug)
	require.Equal(t, models.OrganizationStatusActive, org.Status)
	require.NotNil(t, org.OwnerUserID)
	require.Equal(t, owner.ID, *org.OwnerUserID)
	require.Nil(t, org.PendingOwnerEmail)

	// The provider-side membership exists and the local row mirrors it.
	require.Equal(t, 1, fake.CallCount("AddMembership"))
	m, err := st.GetMembershipByExternalID(ctx, "ext-mem-1")
	require.NoError(t, err)
	require.Equal(t, models.MembershipRoleOwner, m.Role)
	require.Equal(t, models.MembershipStatusActive, m.Status)

	entries, err := st.ListAuditEntries(ctx, org.ID, 10)
	require.NoError(t, err)
	actions := auditActions(entries)
	require.Contains(t, actions, models.AuditActionOrganizationCreated)
	require.Contains(t, actions, models.AuditActionOwnerAssigned)
}

func TestCreateOrganizationInvitesUnknownOwner(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	org, err := svc.Create(ctx, CreateOrganizationRequest{
		Name:            "Acme Corp",
		OwnerEmail:      "future@example.com",
		CreatedByUserID: uuid.Must(uuid.NewV7()),
	})
	require.NoError(t, err)
	require.Nil(t, org.OwnerUserID)
	require.NotNil(t, org.PendingOwnerEmail)
	require.Equal(t, "future@example.com", *org.PendingOwnerEmail)

	require.Equal(t, 0, fake.CallCount("AddMembership"))
	require.Equal(t, []string{"future@example.com"}, fake.Invitations(org.ExternalOrgID))
}

func TestCreateOrganizationValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   CreateOrganizationRequest
		field string
	}{
		{
			name:  "empty name",
			req:   CreateOrganizationRequest{Name: "   ", OwnerEmail: "a@b.com"},
			field: "name",
		},
		{
			name:  "empty owner email",
			req:   CreateOrganizationRequest{Name: "Acme", OwnerEmail: ""},
			field: "owner_email",
		},
		{
			name:  "slug with no letters or digits",
			req:   CreateOrganizationRequest{Name: "Acme", Slug: "!!!", OwnerEmail: "a@b.com"},
			field: "slug",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.NewStore()
			fake := providertest.NewFake()
			svc := NewLifecycleService(st, st, fake)

			_, err := svc.Create(context.Background(), tt.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tt.field, verr.Field)

			// Validation failures never reach the provider.
			require.Empty(t, fake.Calls())
		})
	}
}

func TestCreateOrganizationDedupesSlug(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	first, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "a@example.com"})
	require.NoError(t, err)
	require.Equal(t, "acme", first.Slug)

	second, err := svc.Create(ctx, CreateOrganizationRequest{Name: "ACME!", OwnerEmail: "b@example.com"})
	require.NoError(t, err)
	require.Equal(t, "acme-2", second.Slug)
}

func TestCreateOrganizationCompensatesOnLocalFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	failing := &failingOrgStore{OrganizationStore: st, createErr: errors.New("insert failed")}
	svc := NewLifecycleService(failing, st, fake)

	seedLinkedUser(t, st, fake, "owner@example.com", "ext-user-1")

	_, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "owner@example.com"})

	var lerr *LifecycleError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ErrCodeDBCreateFailed, lerr.Code)
	require.Equal(t, "ext-org-1", lerr.ExternalOrgID)

	// Full compensation: the staged membership and the provider organization
	// are both gone.
	require.Equal(t, 1, fake.CallCount("RemoveMembership"))
	require.Equal(t, 1, fake.CallCount("DeleteOrganization"))
	require.False(t, fake.HasMembership("ext-mem-1"))
	require.False(t, fake.HasOrganization("ext-org-1"))
}

func TestCreateOrganizationCleanupIncomplete(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	fake.Errors["DeleteOrganization"] = errors.New("provider unavailable")
	failing := &failingOrgStore{OrganizationStore: st, createErr: errors.New("insert failed")}
	svc := NewLifecycleService(failing, st, fake)

	_, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "nobody@example.com"})

	var lerr *LifecycleError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ErrCodeCreateCleanupIncomplete, lerr.Code)
	require.True(t, fake.HasOrganization("ext-org-1"), "orphaned provider organization is the whole point of this code")
}

func TestCreateOrganizationProviderFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	fake.Errors["CreateOrganization"] = errors.New("provider unavailable")
	svc := NewLifecycleService(st, st, fake)

	_, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "a@example.com"})
	require.Error(t, err)

	// Nothing was created on either side; a plain retry is safe.
	taken, err := st.SlugExists(ctx, "acme")
	require.NoError(t, err)
	require.False(t, taken)
}

func TestUpdateOrganizationProfile(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	org, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "a@example.com"})
	require.NoError(t, err)

	name := "Acme Industries"
	status := models.OrganizationStatusSuspended
	updated, err := svc.Update(ctx, org.ID, UpdateOrganizationRequest{Name: &name, Status: &status})
	require.NoError(t, err)
	require.Equal(t, "Acme Industries", updated.Name)
	require.Equal(t, models.OrganizationStatusSuspended, updated.Status)
	require.Equal(t, 1, fake.CallCount("UpdateOrganization"))
}

func TestUpdateOrganizationContract(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	org, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "a@example.com"})
	require.NoError(t, err)

	basePlan := "PRO"
	seats := int64(50)
	_, err = svc.Update(ctx, org.ID, UpdateOrganizationRequest{
		Contract: &store.ContractPatch{BasePlan: &basePlan, SeatLimit: &seats},
	})
	require.NoError(t, err)

	contract, err := st.GetContract(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, "PRO", contract.BasePlan)
	require.Equal(t, int64(50), *contract.SeatLimit)
	require.Equal(t, int64(2), contract.Version)

	// A contract-only update has nothing to say to the provider.
	require.Equal(t, 0, fake.CallCount("UpdateOrganization"))
}

func TestUpdateTransfersOwner(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	seedLinkedUser(t, st, fake, "alice@example.com", "ext-alice")
	bob := seedLinkedUser(t, st, fake, "bob@example.com", "ext-bob")

	org, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "alice@example.com"})
	require.NoError(t, err)

	bobEmail := "bob@example.com"
	updated, err := svc.Update(ctx, org.ID, UpdateOrganizationRequest{OwnerEmail: &bobEmail})
	require.NoError(t, err)
	require.NotNil(t, updated.OwnerUserID)
	require.Equal(t, bob.ID, *updated.OwnerUserID)

	// Bob got a provider membership before any local write; Alice's provider
	// role was downgraded afterwards.
	require.Equal(t, 2, fake.CallCount("AddMembership"))
	require.Equal(t, 1, fake.CallCount("UpdateMembershipRole"))

	// Locally Alice is now a plain member.
	aliceMembership, err := st.GetMembershipByExternalID(ctx, "ext-mem-1")
	require.NoError(t, err)
	require.Equal(t, models.MembershipRoleMember, aliceMembership.Role)
}

func TestUpdateSameOwnerIsNoMembershipChange(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	owner := seedLinkedUser(t, st, fake, "alice@example.com", "ext-alice")

	org, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "alice@example.com"})
	require.NoError(t, err)

	email := "alice@example.com"
	updated, err := svc.Update(ctx, org.ID, UpdateOrganizationRequest{OwnerEmail: &email})
	require.NoError(t, err)
	require.Equal(t, owner.ID, *updated.OwnerUserID)

	// Only the create staged a membership.
	require.Equal(t, 1, fake.CallCount("AddMembership"))
}

func TestUpdateAbortsOnEmptyMembershipID(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	org, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "nobody@example.com"})
	require.NoError(t, err)

	seedLinkedUser(t, st, fake, "bob@example.com", "ext-bob")
	fake.EmptyMembershipID = true

	bobEmail := "bob@example.com"
	_, err = svc.Update(ctx, org.ID, UpdateOrganizationRequest{OwnerEmail: &bobEmail})
	require.ErrorContains(t, err, "no membership identifier")

	// No local mutation happened.
	current, err := st.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	require.Nil(t, current.OwnerUserID)
	require.NotNil(t, current.PendingOwnerEmail)
}

func TestUpdateRevertsProviderPatchOnLocalFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	org, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "a@example.com"})
	require.NoError(t, err)

	failing := &failingOrgStore{OrganizationStore: st, updateErr: errors.New("update failed")}
	failingSvc := NewLifecycleService(failing, st, fake)

	name := "Renamed"
	_, err = failingSvc.Update(ctx, org.ID, UpdateOrganizationRequest{Name: &name})
	require.ErrorContains(t, err, "update failed")

	// Patch then revert: the second provider call restores the old name.
	var updates []providertest.Call
	for _, c := range fake.Calls() {
		if c.Method == "UpdateOrganization" {
			updates = append(updates, c)
		}
	}
	require.Len(t, updates, 2)
	require.Equal(t, "Renamed", updates[0].Args["name"])
	require.Equal(t, "Acme", updates[1].Args["name"])
}

func TestDeleteOrganization(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	org, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "a@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, org.ID, nil))

	_, err = st.GetOrganization(ctx, org.ID)
	require.ErrorIs(t, err, store.ErrOrganizationNotFound)
	require.False(t, fake.HasOrganization(org.ExternalOrgID))

	// The audit trail outlives the organization.
	entries, err := st.ListAuditEntries(ctx, org.ID, 10)
	require.NoError(t, err)
	require.Contains(t, auditActions(entries), models.AuditActionOrganizationDeleted)
}

func TestDeleteToleratesMissingProviderOrganization(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	org, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "a@example.com"})
	require.NoError(t, err)

	// The provider already dropped its record; delete still succeeds.
	require.NoError(t, fake.DeleteOrganization(ctx, org.ExternalOrgID))
	require.NoError(t, svc.Delete(ctx, org.ID, nil))

	_, err = st.GetOrganization(ctx, org.ID)
	require.ErrorIs(t, err, store.ErrOrganizationNotFound)
}

func TestDeleteLocalFailureAfterProvider(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	org, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "a@example.com"})
	require.NoError(t, err)

	failing := &failingOrgStore{OrganizationStore: st, deleteErr: errors.New("delete failed")}
	failingSvc := NewLifecycleService(failing, st, fake)

	err = failingSvc.Delete(ctx, org.ID, nil)

	var lerr *LifecycleError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ErrCodeDBDeleteFailedAfterProvider, lerr.Code)
	require.Equal(t, org.ID, lerr.OrganizationID)
	require.Equal(t, org.ExternalOrgID, lerr.ExternalOrgID)

	// The provider side is gone but the local record survives for
	// reconciliation.
	require.False(t, fake.HasOrganization(org.ExternalOrgID))
	_, err = st.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
}

func TestDeleteProviderFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	fake := providertest.NewFake()
	svc := NewLifecycleService(st, st, fake)

	org, err := svc.Create(ctx, CreateOrganizationRequest{Name: "Acme", OwnerEmail: "a@example.com"})
	require.NoError(t, err)

	fake.Errors["DeleteOrganization"] = errors.New("provider unavailable")
	err = svc.Delete(ctx, org.ID, nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, provider.ErrNotFound)

	// Local record untouched, the whole delete can be retried.
	_, err = st.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
}

func auditActions(entries []*models.AuditEntry) []models.AuditAction {
	actions := make([]models.AuditAction, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}
