package entitlements

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tenantd/internal/models"
)

func TestResolveContractNilContract(t *testing.T) {
	res := DefaultCatalog.ResolveContract(nil)

	require.Equal(t, models.BasePlanBasic, res.BasePlan)
	require.Equal(t, res.Defaults, res.Effective)
	require.Equal(t, TierBasic, res.Effective.Vector.ModelTier)
}

func TestResolveContractOverrides(t *testing.T) {
	label := "Acme Enterprise"
	tier := "ENTERPRISE"
	seats := int64(250)
	requests := int64(50_000)
	cost := 500.0

	res := DefaultCatalog.ResolveContract(&models.OrganizationContract{
		BasePlan:          "PRO",
		PlanLabel:         &label,
		ModelTier:         &tier,
		SeatLimit:         &seats,
		MaxRequestsPerDay: &requests,
		MaxCostPerDay:     &cost,
	})

	require.Equal(t, models.BasePlanPro, res.BasePlan)
	require.Equal(t, "Acme Enterprise", res.Effective.Label)
	require.Equal(t, TierEnterprise, res.Effective.Vector.ModelTier)
	require.Equal(t, int64(250), res.Effective.SeatLimit)
	require.Equal(t, int64(50_000), res.Effective.Vector.MaxRequestsPerDay)
	require.Equal(t, 500.0, res.Effective.Vector.MaxCostPerDay)

	// Fields without overrides keep the PRO defaults.
	require.Equal(t, res.Defaults.Vector.MaxInputTokensPerDay, res.Effective.Vector.MaxInputTokensPerDay)
	require.Equal(t, res.Defaults.Vector.MaxContextMessages, res.Effective.Vector.MaxContextMessages)
}

func TestResolveContractRejectsInvalidOverrides(t *testing.T) {
	strPtr := func(s string) *string { return &s }
	intPtr := func(i int64) *int64 { return &i }
	floatPtr := func(f float64) *float64 { return &f }

	tests := []struct {
		name     string
		contract *models.OrganizationContract
		check    func(t *testing.T, res ContractResolution)
	}{
		{
			name:     "zero seat limit falls back per field",
			contract: &models.OrganizationContract{BasePlan: "BASIC", SeatLimit: intPtr(0)},
			check: func(t *testing.T, res ContractResolution) {
				require.Equal(t, res.Defaults.SeatLimit, res.Effective.SeatLimit)
			},
		},
		{
			name:     "negative requests fall back",
			contract: &models.OrganizationContract{BasePlan: "BASIC", MaxRequestsPerDay: intPtr(-10)},
			check: func(t *testing.T, res ContractResolution) {
				require.Equal(t, res.Defaults.Vector.MaxRequestsPerDay, res.Effective.Vector.MaxRequestsPerDay)
			},
		},
		{
			name:     "infinite cost falls back",
			contract: &models.OrganizationContract{BasePlan: "BASIC", MaxCostPerDay: floatPtr(math.Inf(1))},
			check: func(t *testing.T, res ContractResolution) {
				require.Equal(t, res.Defaults.Vector.MaxCostPerDay, res.Effective.Vector.MaxCostPerDay)
			},
		},
		{
			name:     "NaN cost falls back",
			contract: &models.OrganizationContract{BasePlan: "BASIC", MaxCostPerDay: floatPtr(math.NaN())},
			check: func(t *testing.T, res ContractResolution) {
				require.Equal(t, res.Defaults.Vector.MaxCostPerDay, res.Effective.Vector.MaxCostPerDay)
			},
		},
		{
			name:     "unknown tier override falls back",
			contract: &models.OrganizationContract{BasePlan: "BASIC", ModelTier: strPtr("GOLD")},
			check: func(t *testing.T, res ContractResolution) {
				require.Equal(t, TierBasic, res.Effective.Vector.ModelTier)
			},
		},
		{
			name:     "whitespace label falls back",
			contract: &models.OrganizationContract{BasePlan: "BASIC", PlanLabel: strPtr("   ")},
			check: func(t *testing.T, res ContractResolution) {
				require.Equal(t, res.Defaults.Label, res.Effective.Label)
			},
		},
		{
			name: "one bad field does not poison a good one",
			contract: &models.OrganizationContract{
				BasePlan:          "BASIC",
				SeatLimit:         intPtr(-1),
				MaxRequestsPerDay: intPtr(750),
			},
			check: func(t *testing.T, res ContractResolution) {
				require.Equal(t, res.Defaults.SeatLimit, res.Effective.SeatLimit)
				require.Equal(t, int64(750), res.Effective.Vector.MaxRequestsPerDay)
			},
		},
		{
			name:     "unknown base plan reads as BASIC",
			contract: &models.OrganizationContract{BasePlan: "PLATINUM"},
			check: func(t *testing.T, res ContractResolution) {
				require.Equal(t, models.BasePlanBasic, res.BasePlan)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, DefaultCatalog.ResolveContract(tt.contract))
		})
	}
}
