package billing

// Dimension names a metered usage counter
type Dimension string

const (
	DimensionAPICalls     Dimension = "api_calls"
	DimensionItemsCreated Dimension = "items_created"
	DimensionStorageMB    Dimension = "storage_mb"
)

// ValidDimension reports whether d names a known usage counter
func ValidDimension(d Dimension) bool {
	switch d {
	case DimensionAPICalls, DimensionItemsCreated, DimensionStorageMB:
		return true
	}
	return false
}

// PlanLimits holds per-dimension caps for a plan. A nil cap means unlimited.
type PlanLimits struct {
	MaxAPICalls     *int64 `json:"max_api_calls,omitempty"`
	MaxItemsCreated *int64 `json:"max_items_created,omitempty"`
	MaxStorageMB    *int64 `json:"max_storage_mb,omitempty"`
}

// Limit returns the cap for the named dimension, nil for unlimited
func (p PlanLimits) Limit(d Dimension) *int64 {
	switch d {
	case DimensionAPICalls:
		return p.MaxAPICalls
	case DimensionItemsCreated:
		return p.MaxItemsCreated
	case DimensionStorageMB:
		return p.MaxStorageMB
	}
	return nil
}

// Plan names
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// DefaultPlanLimits returns the static limit table. Users without a plan
// (or with an unrecognized plan) are metered under the free tier.
func DefaultPlanLimits() map[string]PlanLimits {
	return map[string]PlanLimits{
		PlanFree: {
			MaxAPICalls:     limit(1000),
			MaxItemsCreated: limit(100),
			MaxStorageMB:    limit(512),
		},
		PlanPro: {
			MaxAPICalls:     limit(100000),
			MaxItemsCreated: limit(10000),
			MaxStorageMB:    limit(10 * 1024),
		},
		PlanEnterprise: {
			// All dimensions unlimited
		},
	}
}

// LimitsFor resolves the limit table entry for a plan name, falling back to
// the free tier for unknown plans.
func LimitsFor(table map[string]PlanLimits, plan string) PlanLimits {
	if limits, ok := table[plan]; ok {
		return limits
	}
	return table[PlanFree]
}

func limit(n int64) *int64 {
	return &n
}
