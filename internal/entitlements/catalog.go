package entitlements

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/tenantd/internal/models"
)

//go:embed catalog.yaml
var catalogYAML []byte

// PlanDefaults is a plan's full entitlement surface: the label and seat
// limit alongside the vector used for ranking.
type PlanDefaults struct {
	Label     string
	SeatLimit int64
	Vector    Vector
}

type catalogPlan struct {
	Label                 string  `yaml:"label"`
	SeatLimit             int64   `yaml:"seat_limit"`
	ModelTier             string  `yaml:"model_tier"`
	MaxRequestsPerDay     int64   `yaml:"max_requests_per_day"`
	MaxInputTokensPerDay  int64   `yaml:"max_input_tokens_per_day"`
	MaxOutputTokensPerDay int64   `yaml:"max_output_tokens_per_day"`
	MaxCostPerDay         float64 `yaml:"max_cost_per_day"`
	MaxContextMessages    int64   `yaml:"max_context_messages"`
}

func (p catalogPlan) defaults() PlanDefaults {
	return PlanDefaults{
		Label:     p.Label,
		SeatLimit: p.SeatLimit,
		Vector: Vector{
			ModelTier:             ModelTier(p.ModelTier),
			MaxRequestsPerDay:     p.MaxRequestsPerDay,
			MaxInputTokensPerDay:  p.MaxInputTokensPerDay,
			MaxOutputTokensPerDay: p.MaxOutputTokensPerDay,
			MaxCostPerDay:         p.MaxCostPerDay,
			MaxContextMessages:    p.MaxContextMessages,
		},
	}
}

type catalogFile struct {
	BasePlans     map[string]catalogPlan `yaml:"base_plans"`
	PersonalPlans map[string]catalogPlan `yaml:"personal_plans"`
	Fixed         struct {
		Admin            catalogPlan `yaml:"admin"`
		Guest            catalogPlan `yaml:"guest"`
		ActiveFallback   catalogPlan `yaml:"active_fallback"`
		InactiveFallback catalogPlan `yaml:"inactive_fallback"`
	} `yaml:"fixed"`
}

// Catalog is the static table of plans and fixed vectors.
type Catalog struct {
	basePlans     map[models.BasePlan]PlanDefaults
	personalPlans map[string]PlanDefaults
	admin         PlanDefaults
	guest         PlanDefaults
	active        PlanDefaults
	inactive      PlanDefaults
}

// DefaultCatalog is loaded from the embedded catalog document at init.
var DefaultCatalog = mustLoadCatalog(catalogYAML)

func mustLoadCatalog(data []byte) *Catalog {
	c, err := loadCatalog(data)
	if err != nil {
		panic(err)
	}
	return c
}

func loadCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse entitlement catalog: %w", err)
	}

	c := &Catalog{
		basePlans:     make(map[models.BasePlan]PlanDefaults, len(f.BasePlans)),
		personalPlans: make(map[string]PlanDefaults, len(f.PersonalPlans)),
		admin:         f.Fixed.Admin.defaults(),
		guest:         f.Fixed.Guest.defaults(),
		active:        f.Fixed.ActiveFallback.defaults(),
		inactive:      f.Fixed.InactiveFallback.defaults(),
	}

	for name, plan := range f.BasePlans {
		if !KnownTier(plan.ModelTier) {
			return nil, fmt.Errorf("base plan %s has unknown model tier %q", name, plan.ModelTier)
		}
		c.basePlans[models.BasePlan(name)] = plan.defaults()
	}
	for name, plan := range f.PersonalPlans {
		if !KnownTier(plan.ModelTier) {
			return nil, fmt.Errorf("personal plan %s has unknown model tier %q", name, plan.ModelTier)
		}
		c.personalPlans[name] = plan.defaults()
	}

	if _, ok := c.basePlans[models.BasePlanBasic]; !ok {
		return nil, fmt.Errorf("entitlement catalog is missing the BASIC base plan")
	}

	return c, nil
}

// NormalizeBasePlan maps a stored base plan string to a catalog plan.
// Unknown or empty values fall back to BASIC rather than failing.
func (c *Catalog) NormalizeBasePlan(s string) models.BasePlan {
	plan := models.BasePlan(s)
	if _, ok := c.basePlans[plan]; ok {
		return plan
	}
	return models.BasePlanBasic
}

// BasePlanDefaults returns the defaults for a base plan, normalizing first.
func (c *Catalog) BasePlanDefaults(s string) (models.BasePlan, PlanDefaults) {
	plan := c.NormalizeBasePlan(s)
	return plan, c.basePlans[plan]
}

// PersonalPlan looks up a personal subscription plan by its plan ID.
func (c *Catalog) PersonalPlan(planID string) (PlanDefaults, bool) {
	d, ok := c.personalPlans[planID]
	return d, ok
}

// Admin returns the fixed administrator entitlement.
func (c *Catalog) Admin() PlanDefaults { return c.admin }

// Guest returns the fixed guest entitlement.
func (c *Catalog) Guest() PlanDefaults { return c.guest }

// ActiveFallback returns the vector for an active subscription with an
// unrecognized plan ID.
func (c *Catalog) ActiveFallback() PlanDefaults { return c.active }

// InactiveFallback returns the vector for users without an active
// subscription.
func (c *Catalog) InactiveFallback() PlanDefaults { return c.inactive }
