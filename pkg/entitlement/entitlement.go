// Package entitlement decides whether a metered action is allowed under
// the user's plan limits.
//
// The check is advisory-then-increment: callers check before performing
// the action and increment the ledger only after it succeeds. Two
// concurrent requests can both pass against the same pre-increment count,
// overrunning the cap by at most one unit per concurrent pair. That is
// the accepted soft-limit semantic; hard caps would need an atomic
// check-and-increment in the store.
package entitlement

import (
	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/usage"
)

// Decision is the outcome of an entitlement check. Limit and Remaining
// are nil for unlimited dimensions.
type Decision struct {
	OK        bool   `json:"ok"`
	Limit     *int64 `json:"limit"`
	Remaining *int64 `json:"remaining"`
}

// Enforcer checks usage against plan limits
type Enforcer struct {
	limits map[string]billing.PlanLimits
}

// NewEnforcer creates an enforcer over the given plan limit table
func NewEnforcer(limits map[string]billing.PlanLimits) *Enforcer {
	return &Enforcer{limits: limits}
}

// Check returns whether the user may consume one more unit of the given
// dimension, based on the current usage record. An unset plan cap means
// unlimited.
func (e *Enforcer) Check(user *billing.User, record *usage.Record, dimension billing.Dimension) Decision {
	planLimits := billing.LimitsFor(e.limits, user.Subscription.Plan)
	limit := planLimits.Limit(dimension)
	if limit == nil {
		return Decision{OK: true}
	}

	used := record.Counter(dimension)
	remaining := *limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		OK:        used < *limit,
		Limit:     limit,
		Remaining: &remaining,
	}
}

// Require is Check returning a LimitExceededError on denial, for callers
// that propagate errors rather than decisions.
func (e *Enforcer) Require(user *billing.User, record *usage.Record, dimension billing.Dimension) (Decision, error) {
	decision := e.Check(user, record, dimension)
	if !decision.OK {
		return decision, &LimitExceededError{
			Dimension: dimension,
			Limit:     *decision.Limit,
			Used:      record.Counter(dimension),
		}
	}
	return decision, nil
}
