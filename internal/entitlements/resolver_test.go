package entitlements

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/store"
)

// stubMemberships feeds the resolver fixed entitlement rows.
type stubMemberships struct {
	rows []store.EntitlementRow
	err  error
}

func (s *stubMemberships) ApplySync(ctx context.Context, params store.SyncApplyParams) (*store.SyncApplyResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubMemberships) GetMembershipByExternalID(ctx context.Context, externalMembershipID string) (*models.OrganizationMembership, error) {
	return nil, store.ErrMembershipNotFound
}

func (s *stubMemberships) ListActiveMemberships(ctx context.Context, orgID uuid.UUID) ([]*models.OrganizationMembership, error) {
	return nil, nil
}

func (s *stubMemberships) ListEntitlementRows(ctx context.Context, userID uuid.UUID) ([]store.EntitlementRow, error) {
	return s.rows, s.err
}

func proContract(orgID uuid.UUID) *models.OrganizationContract {
	return &models.OrganizationContract{OrganizationID: orgID, BasePlan: "PRO"}
}

func TestResolveAdminShortCircuit(t *testing.T) {
	// The store must never be consulted for administrative roles.
	r := NewResolver(&stubMemberships{err: errors.New("store touched")}, nil)

	for _, role := range []string{models.UserRoleAdmin, models.UserRoleStaff} {
		result, err := r.Resolve(context.Background(), ResolveRequest{
			UserID: uuid.Must(uuid.NewV7()),
			Role:   role,
		})
		require.NoError(t, err)
		require.Len(t, result.Sources, 1)
		require.Equal(t, SourcePersonal, result.Sources[0].Type)
		require.Equal(t, "personal-admin", result.Sources[0].SourceID)
		require.Equal(t, TierAdmin, result.Vector.ModelTier)
	}
}

func TestResolveGuestShortCircuit(t *testing.T) {
	r := NewResolver(&stubMemberships{err: errors.New("store touched")}, nil)

	result, err := r.Resolve(context.Background(), ResolveRequest{IsGuest: true})
	require.NoError(t, err)
	require.Len(t, result.Sources, 1)
	require.Equal(t, "personal-subscription", result.Sources[0].SourceID)
	require.Equal(t, TierTrial, result.Vector.ModelTier)
	require.Equal(t, DefaultCatalog.Guest().Vector, result.Vector)
}

func TestResolvePersonalOnly(t *testing.T) {
	tests := []struct {
		name   string
		status string
		planID string
		want   Vector
	}{
		{
			name:   "no subscription gets inactive fallback",
			status: "",
			want:   DefaultCatalog.InactiveFallback().Vector,
		},
		{
			name:   "canceled subscription gets inactive fallback",
			status: "CANCELED",
			planID: "pro",
			want:   DefaultCatalog.InactiveFallback().Vector,
		},
		{
			name:   "active known plan",
			status: "ACTIVE",
			planID: "pro",
			want:   mustPersonal(t, "pro").Vector,
		},
		{
			name:   "active unknown plan gets active fallback",
			status: "ACTIVE",
			planID: "legacy-gold",
			want:   DefaultCatalog.ActiveFallback().Vector,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(&stubMemberships{}, nil)
			result, err := r.Resolve(context.Background(), ResolveRequest{
				UserID:             uuid.Must(uuid.NewV7()),
				SubscriptionStatus: tt.status,
				PlanID:             tt.planID,
			})
			require.NoError(t, err)
			require.Equal(t, tt.want, result.Vector)
			require.Equal(t, "personal-subscription", result.Sources[0].SourceID)
		})
	}
}

func TestResolveOrganizationBeatsPersonal(t *testing.T) {
	orgID := uuid.Must(uuid.NewV7())
	r := NewResolver(&stubMemberships{rows: []store.EntitlementRow{
		{OrganizationID: orgID, OrganizationName: "acme", Contract: proContract(orgID)},
	}}, nil)

	result, err := r.Resolve(context.Background(), ResolveRequest{
		UserID:             uuid.Must(uuid.NewV7()),
		SubscriptionStatus: "ACTIVE",
		PlanID:             "basic",
	})
	require.NoError(t, err)
	require.Len(t, result.Sources, 1)
	require.Equal(t, SourceOrganization, result.Sources[0].Type)
	require.Equal(t, orgID.String(), result.Sources[0].SourceID)
	require.Equal(t, "organization:acme:PRO", result.Sources[0].SourceLabel)
	require.Equal(t, TierPro, result.Vector.ModelTier)
}

func TestResolvePersonalBeatsWeakOrganization(t *testing.T) {
	orgID := uuid.Must(uuid.NewV7())
	r := NewResolver(&stubMemberships{rows: []store.EntitlementRow{
		{OrganizationID: orgID, OrganizationName: "acme", Contract: &models.OrganizationContract{OrganizationID: orgID, BasePlan: "BASIC"}},
	}}, nil)

	result, err := r.Resolve(context.Background(), ResolveRequest{
		UserID:             uuid.Must(uuid.NewV7()),
		SubscriptionStatus: "ACTIVE",
		PlanID:             "pro",
	})
	require.NoError(t, err)
	require.Equal(t, SourcePersonal, result.Sources[0].Type)
	require.Equal(t, TierPro, result.Vector.ModelTier)
}

func TestResolveTieBreaksOnAscendingSourceID(t *testing.T) {
	// Two organizations with identical effective vectors; the one whose ID
	// sorts first must win every time.
	orgA := uuid.Must(uuid.NewV7())
	orgB := uuid.Must(uuid.NewV7())
	first := orgA
	if orgB.String() < orgA.String() {
		first = orgB
	}

	rows := []store.EntitlementRow{
		{OrganizationID: orgA, OrganizationName: "alpha", Contract: proContract(orgA)},
		{OrganizationID: orgB, OrganizationName: "beta", Contract: proContract(orgB)},
	}
	r := NewResolver(&stubMemberships{rows: rows}, nil)

	for range 5 {
		result, err := r.Resolve(context.Background(), ResolveRequest{UserID: uuid.Must(uuid.NewV7())})
		require.NoError(t, err)
		require.Equal(t, first.String(), result.Sources[0].SourceID)
	}
}

func TestResolveMembershipsWithoutContracts(t *testing.T) {
	orgID := uuid.Must(uuid.NewV7())
	r := NewResolver(&stubMemberships{rows: []store.EntitlementRow{
		{OrganizationID: orgID, OrganizationName: "acme"},
	}}, nil)

	result, err := r.Resolve(context.Background(), ResolveRequest{
		UserID:             uuid.Must(uuid.NewV7()),
		SubscriptionStatus: "ACTIVE",
		PlanID:             "basic",
	})
	require.NoError(t, err)
	require.Equal(t, SourcePersonal, result.Sources[0].Type)
	require.Equal(t, "personal-fallback", result.Sources[0].SourceID)
	require.Contains(t, result.Sources[0].SourceLabel, "(no organization contract)")
	require.Equal(t, mustPersonal(t, "basic").Vector, result.Vector)
}

func TestResolveStoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	r := NewResolver(&stubMemberships{err: storeErr}, nil)

	_, err := r.Resolve(context.Background(), ResolveRequest{UserID: uuid.Must(uuid.NewV7())})
	require.ErrorIs(t, err, storeErr)
}

func mustPersonal(t *testing.T, planID string) PlanDefaults {
	t.Helper()
	plan, ok := DefaultCatalog.PersonalPlan(planID)
	require.True(t, ok)
	return plan
}
