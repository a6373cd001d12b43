package entitlements

import (
	"math"
	"strings"

	"github.com/wolfeidau/tenantd/internal/models"
)

// ContractResolution is the result of layering a stored contract's overrides
// onto its base plan defaults.
type ContractResolution struct {
	BasePlan  models.BasePlan
	Defaults  PlanDefaults
	Effective PlanDefaults
}

// ResolveContract merges a contract's explicit overrides onto the catalog
// defaults for its base plan. Each override applies independently: a numeric
// field is taken only when present, finite and positive, the plan label only
// when non-empty after trimming, the model tier only when recognized. Any
// field failing validation falls back to the plan default for that field
// alone. A nil contract resolves to plain BASIC defaults.
func (c *Catalog) ResolveContract(contract *models.OrganizationContract) ContractResolution {
	stored := ""
	if contract != nil {
		stored = contract.BasePlan
	}

	plan, defaults := c.BasePlanDefaults(stored)
	effective := defaults

	if contract != nil {
		if label := overrideLabel(contract.PlanLabel); label != "" {
			effective.Label = label
		}
		if contract.ModelTier != nil && KnownTier(*contract.ModelTier) {
			effective.Vector.ModelTier = ModelTier(*contract.ModelTier)
		}
		if v, ok := overrideInt(contract.SeatLimit); ok {
			effective.SeatLimit = v
		}
		if v, ok := overrideInt(contract.MaxRequestsPerDay); ok {
			effective.Vector.MaxRequestsPerDay = v
		}
		if v, ok := overrideInt(contract.MaxInputTokensPerDay); ok {
			effective.Vector.MaxInputTokensPerDay = v
		}
		if v, ok := overrideInt(contract.MaxOutputTokensPerDay); ok {
			effective.Vector.MaxOutputTokensPerDay = v
		}
		if v, ok := overrideFloat(contract.MaxCostPerDay); ok {
			effective.Vector.MaxCostPerDay = v
		}
		if v, ok := overrideInt(contract.MaxContextMessages); ok {
			effective.Vector.MaxContextMessages = v
		}
	}

	return ContractResolution{
		BasePlan:  plan,
		Defaults:  defaults,
		Effective: effective,
	}
}

func overrideLabel(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func overrideInt(v *int64) (int64, bool) {
	if v == nil || *v <= 0 {
		return 0, false
	}
	return *v, true
}

func overrideFloat(v *float64) (float64, bool) {
	if v == nil || *v <= 0 || math.IsInf(*v, 0) || math.IsNaN(*v) {
		return 0, false
	}
	return *v, true
}
