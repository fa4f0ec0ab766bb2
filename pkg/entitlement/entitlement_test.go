package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/usage"
)

func userOnPlan(plan string) *billing.User {
	return &billing.User{
		ID:           42,
		Email:        "user@example.com",
		Subscription: billing.Subscription{Plan: plan, Status: billing.StatusActive},
	}
}

func recordWith(apiCalls int64) *usage.Record {
	return &usage.Record{UserID: 42, APICalls: apiCalls}
}

func TestCheckAtBoundary(t *testing.T) {
	limits := map[string]billing.PlanLimits{
		billing.PlanFree: {MaxAPICalls: int64Ptr(100)},
	}
	enforcer := NewEnforcer(limits)
	user := userOnPlan(billing.PlanFree)

	tests := []struct {
		name          string
		used          int64
		wantOK        bool
		wantRemaining int64
	}{
		{"one below limit", 99, true, 1},
		{"at limit", 100, false, 0},
		{"over limit", 150, false, 0},
		{"fresh period", 0, true, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := enforcer.Check(user, recordWith(tt.used), billing.DimensionAPICalls)
			assert.Equal(t, tt.wantOK, decision.OK)
			require.NotNil(t, decision.Limit)
			assert.Equal(t, int64(100), *decision.Limit)
			require.NotNil(t, decision.Remaining)
			assert.Equal(t, tt.wantRemaining, *decision.Remaining)
		})
	}
}

func TestCheckUnlimitedDimension(t *testing.T) {
	enforcer := NewEnforcer(billing.DefaultPlanLimits())
	user := userOnPlan(billing.PlanEnterprise)

	decision := enforcer.Check(user, recordWith(10_000_000), billing.DimensionAPICalls)
	assert.True(t, decision.OK)
	assert.Nil(t, decision.Limit)
	assert.Nil(t, decision.Remaining)
}

func TestCheckUnknownPlanFallsBackToFree(t *testing.T) {
	enforcer := NewEnforcer(billing.DefaultPlanLimits())
	user := userOnPlan("legacy-gold")

	decision := enforcer.Check(user, recordWith(1000), billing.DimensionAPICalls)
	assert.False(t, decision.OK)
	require.NotNil(t, decision.Limit)
	assert.Equal(t, int64(1000), *decision.Limit)
}

func TestRequireReturnsLimitExceeded(t *testing.T) {
	enforcer := NewEnforcer(billing.DefaultPlanLimits())
	user := userOnPlan(billing.PlanFree)

	_, err := enforcer.Require(user, recordWith(1000), billing.DimensionAPICalls)
	require.Error(t, err)
	assert.True(t, IsLimitExceeded(err))
	assert.Contains(t, err.Error(), "1000")
	assert.Contains(t, err.Error(), "upgrade")

	_, err = enforcer.Require(user, recordWith(999), billing.DimensionAPICalls)
	assert.NoError(t, err)
}

func int64Ptr(n int64) *int64 {
	return &n
}
