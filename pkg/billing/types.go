package billing

import (
	"time"
)

// Status represents the canonical subscription status, mirroring the
// payment provider's closed status set plus "none" for users that have
// never subscribed.
type Status string

const (
	StatusNone              Status = "none"
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPaused            Status = "paused"
)

// ValidStatus reports whether s is a member of the closed status set
func ValidStatus(s Status) bool {
	switch s {
	case StatusNone, StatusTrialing, StatusActive, StatusPastDue, StatusCanceled,
		StatusUnpaid, StatusIncomplete, StatusIncompleteExpired, StatusPaused:
		return true
	}
	return false
}

// Subscription holds the billing fields embedded in the user record.
// It is owned exclusively by the Reconciler; nothing else writes it.
type Subscription struct {
	Status               Status     `json:"status"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAt             *time.Time `json:"cancel_at,omitempty"`
	PriceID              string     `json:"price_id,omitempty"`
	Plan                 string     `json:"plan,omitempty"`
	HasUsedTrial         bool       `json:"has_used_trial"`
	TrialStart           *time.Time `json:"trial_start,omitempty"`
	TrialEnd             *time.Time `json:"trial_end,omitempty"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
}

// User is the slice of the user entity the billing engine operates on.
// The surrounding application owns everything else about the user.
type User struct {
	ID           int64        `json:"id"`
	Email        string       `json:"email,omitempty"`
	Subscription Subscription `json:"subscription"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// HasActiveSubscription is the derived access predicate. It is never stored:
// true while the status is active or trialing, and during the grace period
// between a cancellation and the paid period's actual expiry.
func (u *User) HasActiveSubscription(now time.Time) bool {
	s := u.Subscription
	switch s.Status {
	case StatusActive, StatusTrialing:
		return true
	case StatusCanceled:
		return s.CurrentPeriodEnd != nil && now.Before(*s.CurrentPeriodEnd)
	}
	return false
}

// Equal reports whether two subscription states are identical. The Reconciler
// uses this for its write-if-changed idempotency check.
func (s Subscription) Equal(o Subscription) bool {
	return s.Status == o.Status &&
		timePtrEqual(s.CurrentPeriodEnd, o.CurrentPeriodEnd) &&
		timePtrEqual(s.CancelAt, o.CancelAt) &&
		s.PriceID == o.PriceID &&
		s.Plan == o.Plan &&
		s.HasUsedTrial == o.HasUsedTrial &&
		timePtrEqual(s.TrialStart, o.TrialStart) &&
		timePtrEqual(s.TrialEnd, o.TrialEnd) &&
		s.StripeCustomerID == o.StripeCustomerID &&
		s.StripeSubscriptionID == o.StripeSubscriptionID
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
