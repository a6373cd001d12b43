package entitlements

// ModelTier identifies the class of models a vector grants access to.
type ModelTier string

const (
	TierTrial      ModelTier = "TRIAL"
	TierBasic      ModelTier = "BASIC"
	TierBasicPlus  ModelTier = "BASIC_PLUS"
	TierPro        ModelTier = "PRO"
	TierEnterprise ModelTier = "ENTERPRISE"
	TierAdmin      ModelTier = "ADMIN"
)

var tierRank = map[ModelTier]int{
	TierTrial:      0,
	TierBasic:      1,
	TierBasicPlus:  2,
	TierPro:        3,
	TierEnterprise: 4,
	TierAdmin:      5,
}

// Rank returns the fixed ordinal of the tier. Unknown tiers rank below TRIAL
// so a malformed tier can never win a comparison.
func (t ModelTier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// KnownTier reports whether s is a recognized model tier value.
func KnownTier(s string) bool {
	_, ok := tierRank[ModelTier(s)]
	return ok
}

// Vector is the entitlement vector used to rank competing sources of access
// rights: a model tier plus the daily quota limits.
type Vector struct {
	ModelTier             ModelTier `json:"model_tier"`
	MaxRequestsPerDay     int64     `json:"max_requests_per_day"`
	MaxInputTokensPerDay  int64     `json:"max_input_tokens_per_day"`
	MaxOutputTokensPerDay int64     `json:"max_output_tokens_per_day"`
	MaxCostPerDay         float64   `json:"max_cost_per_day"`
	MaxContextMessages    int64     `json:"max_context_messages"`
}

// Compare totally orders two vectors. The model tier rank decides first;
// ties fall through the numeric fields in fixed order. Returns -1, 0 or 1.
func Compare(a, b Vector) int {
	if c := cmpInt(a.ModelTier.Rank(), b.ModelTier.Rank()); c != 0 {
		return c
	}
	if c := cmpInt64(a.MaxRequestsPerDay, b.MaxRequestsPerDay); c != 0 {
		return c
	}
	if c := cmpInt64(a.MaxInputTokensPerDay, b.MaxInputTokensPerDay); c != 0 {
		return c
	}
	if c := cmpInt64(a.MaxOutputTokensPerDay, b.MaxOutputTokensPerDay); c != 0 {
		return c
	}
	if c := cmpFloat64(a.MaxCostPerDay, b.MaxCostPerDay); c != 0 {
		return c
	}
	return cmpInt64(a.MaxContextMessages, b.MaxContextMessages)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
