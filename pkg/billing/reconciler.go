package billing

import (
	"context"
	"strconv"
	"time"

	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/store"
)

// UserStore is the persistence surface the Reconciler needs. Implementations
// must return store.NotFoundError / store.TransientError so callers can tell
// permanent failures from retryable ones.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*User, error)
	GetUserByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*User, error)
	UpdateSubscription(ctx context.Context, userID int64, sub Subscription) (*User, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// ConflictRecorder flags cross-account events for manual review
type ConflictRecorder interface {
	RecordConflict(ctx context.Context, eventID string, conflict *ConflictError) error
}

// Reconciler applies normalized provider events to subscription records.
// It owns the subscription state machine; all writes to Subscription fields
// go through Apply.
type Reconciler struct {
	users  UserStore
	audit  ConflictRecorder // optional
	logger *observability.Logger
	now    func() time.Time
}

// NewReconciler creates a Reconciler. audit may be nil.
func NewReconciler(users UserStore, audit ConflictRecorder, logger *observability.Logger) *Reconciler {
	return &Reconciler{
		users:  users,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// Apply reconciles one event against the stored subscription state and
// returns the user record after the event. Applying the same event twice is
// a no-op the second time: the derived state is compared against the stored
// state and the write is skipped when nothing changed.
//
// Unknown events return (nil, nil). Validation never reaches here; the
// webhook validator rejects malformed payloads before Apply is called.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (*User, error) {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return r.applyCheckout(ctx, e)
	case SubscriptionUpdated:
		return r.applySubscriptionUpdated(ctx, e)
	case SubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, e)
	case InvoicePaymentFailed:
		return r.applyPaymentFailed(ctx, e)
	case InvoicePaymentSucceeded:
		return r.applyPaymentSucceeded(ctx, e)
	case UnknownEvent:
		r.logger.WithField("event_type", e.Type).WithField("event_id", e.ID).
			Debug("ignoring unhandled provider event type")
		return nil, nil
	default:
		r.logger.WithField("event_type", ev.EventType()).
			Warn("event type missing from reconciler dispatch")
		return nil, nil
	}
}

func (r *Reconciler) applyCheckout(ctx context.Context, ev CheckoutCompleted) (*User, error) {
	user, err := r.resolveCheckoutUser(ctx, ev)
	if err != nil {
		return nil, err
	}

	if err := r.checkIdentityBindings(ctx, ev.EventID(), user, ev.CustomerID, ev.SubscriptionID); err != nil {
		return nil, err
	}

	next := user.Subscription
	if ev.CustomerID != "" {
		next.StripeCustomerID = ev.CustomerID
	}
	if ev.SubscriptionID != "" {
		next.StripeSubscriptionID = ev.SubscriptionID
	}
	if ev.PriceID != "" {
		next.PriceID = ev.PriceID
	}
	if ev.Plan != "" {
		next.Plan = ev.Plan
	}

	now := r.now()
	if ev.TrialEnd != nil && now.Before(*ev.TrialEnd) {
		next.Status = StatusTrialing
		next.HasUsedTrial = true
		if next.TrialStart == nil {
			start := now
			next.TrialStart = &start
		}
		next.TrialEnd = ev.TrialEnd
	} else {
		next.Status = StatusActive
	}

	return r.write(ctx, user, next, ev.EventID())
}

func (r *Reconciler) applySubscriptionUpdated(ctx context.Context, ev SubscriptionUpdated) (*User, error) {
	user, err := r.resolveSubscriptionUser(ctx, ev.SubscriptionID, ev.CustomerID)
	if err != nil {
		return nil, err
	}

	if err := r.checkIdentityBindings(ctx, ev.EventID(), user, ev.CustomerID, ev.SubscriptionID); err != nil {
		return nil, err
	}

	cur := user.Subscription
	next := cur

	// The provider is the source of truth for status
	next.Status = ev.Status
	if ev.PriceID != "" {
		next.PriceID = ev.PriceID
	}
	if ev.Plan != "" {
		next.Plan = ev.Plan
	}
	if next.StripeCustomerID == "" {
		next.StripeCustomerID = ev.CustomerID
	}
	if next.StripeSubscriptionID == "" {
		next.StripeSubscriptionID = ev.SubscriptionID
	}

	// A reversal of a scheduled cancellation is the one event allowed to
	// replace the period end with an older value.
	reversal := !ev.CancelAtPeriodEnd && cur.CancelAt != nil
	switch {
	case reversal:
		next.CancelAt = nil
		end := ev.CurrentPeriodEnd
		next.CurrentPeriodEnd = &end
	case cur.CurrentPeriodEnd == nil || ev.CurrentPeriodEnd.After(*cur.CurrentPeriodEnd):
		end := ev.CurrentPeriodEnd
		next.CurrentPeriodEnd = &end
	default:
		// Out-of-order delivery: the event reports a period end older
		// than the stored one. Keep the stored value.
		r.logger.WithFields(map[string]interface{}{
			"event_id":   ev.ID,
			"user_id":    user.ID,
			"stored_end": cur.CurrentPeriodEnd.UTC().Format(time.RFC3339),
			"event_end":  ev.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		}).Warn("ignoring stale current_period_end from out-of-order event")
	}

	if ev.CancelAtPeriodEnd && !reversal {
		if ev.CancelAt != nil {
			next.CancelAt = ev.CancelAt
		} else {
			next.CancelAt = next.CurrentPeriodEnd
		}
	}

	if ev.Status == StatusTrialing {
		next.HasUsedTrial = true
	}
	if ev.TrialStart != nil {
		next.TrialStart = ev.TrialStart
	}
	if ev.TrialEnd != nil {
		next.TrialEnd = ev.TrialEnd
	}

	return r.write(ctx, user, next, ev.EventID())
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, ev SubscriptionDeleted) (*User, error) {
	user, err := r.resolveSubscriptionUser(ctx, ev.SubscriptionID, ev.CustomerID)
	if err != nil {
		return nil, err
	}

	next := user.Subscription
	// CurrentPeriodEnd is deliberately left untouched: access continues
	// through the grace period per the derived HasActiveSubscription rule.
	next.Status = StatusCanceled

	return r.write(ctx, user, next, ev.EventID())
}

func (r *Reconciler) applyPaymentFailed(ctx context.Context, ev InvoicePaymentFailed) (*User, error) {
	if ev.SubscriptionID == "" && ev.CustomerID == "" {
		// One-off invoice with no subscription context; nothing to reconcile
		return nil, nil
	}
	user, err := r.resolveSubscriptionUser(ctx, ev.SubscriptionID, ev.CustomerID)
	if err != nil {
		return nil, err
	}

	next := user.Subscription
	switch next.Status {
	case StatusCanceled, StatusIncompleteExpired:
		// A stale failure event must not resurrect a terminal state
		r.logger.WithFields(map[string]interface{}{
			"event_id": ev.ID,
			"user_id":  user.ID,
			"status":   string(next.Status),
		}).Debug("payment failure ignored for terminal subscription state")
	default:
		next.Status = StatusPastDue
	}

	return r.write(ctx, user, next, ev.EventID())
}

func (r *Reconciler) applyPaymentSucceeded(ctx context.Context, ev InvoicePaymentSucceeded) (*User, error) {
	if ev.SubscriptionID == "" && ev.CustomerID == "" {
		return nil, nil
	}
	user, err := r.resolveSubscriptionUser(ctx, ev.SubscriptionID, ev.CustomerID)
	if err != nil {
		return nil, err
	}

	next := user.Subscription
	if next.Status == StatusPastDue {
		next.Status = StatusActive
	}

	return r.write(ctx, user, next, ev.EventID())
}

// resolveCheckoutUser correlates a checkout session to a user: by the
// client reference id the session carried, then by customer email.
func (r *Reconciler) resolveCheckoutUser(ctx context.Context, ev CheckoutCompleted) (*User, error) {
	if ev.ClientReferenceID != "" {
		if id, err := strconv.ParseInt(ev.ClientReferenceID, 10, 64); err == nil {
			return r.users.GetUser(ctx, id)
		}
	}
	if ev.CustomerEmail != "" {
		return r.users.GetUserByEmail(ctx, ev.CustomerEmail)
	}
	return nil, store.NotFound("user", "checkout session "+ev.ID+" carried no user reference")
}

// resolveSubscriptionUser correlates an event to a user by subscription id
// first, falling back to customer id.
func (r *Reconciler) resolveSubscriptionUser(ctx context.Context, subscriptionID, customerID string) (*User, error) {
	if subscriptionID != "" {
		user, err := r.users.GetUserByStripeSubscriptionID(ctx, subscriptionID)
		if err == nil {
			return user, nil
		}
		if !store.IsNotFound(err) {
			return nil, err
		}
	}
	if customerID != "" {
		return r.users.GetUserByStripeCustomerID(ctx, customerID)
	}
	return nil, store.NotFound("user", "subscription "+subscriptionID)
}

// checkIdentityBindings rejects events whose provider identities are already
// bound to a different user. Bindings are immutable once set.
func (r *Reconciler) checkIdentityBindings(ctx context.Context, eventID string, user *User, customerID, subscriptionID string) error {
	if customerID != "" {
		if bound := user.Subscription.StripeCustomerID; bound != "" && bound != customerID {
			return r.conflict(ctx, eventID, &ConflictError{
				Resource: "stripe_customer_id",
				Value:    customerID,
				BoundTo:  user.ID,
				UserID:   user.ID,
			})
		}
		other, err := r.users.GetUserByStripeCustomerID(ctx, customerID)
		if err == nil && other.ID != user.ID {
			return r.conflict(ctx, eventID, &ConflictError{
				Resource: "stripe_customer_id",
				Value:    customerID,
				BoundTo:  other.ID,
				UserID:   user.ID,
			})
		}
		if err != nil && !store.IsNotFound(err) {
			return err
		}
	}
	if subscriptionID != "" {
		other, err := r.users.GetUserByStripeSubscriptionID(ctx, subscriptionID)
		if err == nil && other.ID != user.ID {
			return r.conflict(ctx, eventID, &ConflictError{
				Resource: "stripe_subscription_id",
				Value:    subscriptionID,
				BoundTo:  other.ID,
				UserID:   user.ID,
			})
		}
		if err != nil && !store.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (r *Reconciler) conflict(ctx context.Context, eventID string, ce *ConflictError) error {
	r.logger.WithFields(map[string]interface{}{
		"event_id": eventID,
		"resource": ce.Resource,
		"bound_to": ce.BoundTo,
		"user_id":  ce.UserID,
	}).Error("cross-account event rejected")
	if r.audit != nil {
		if err := r.audit.RecordConflict(ctx, eventID, ce); err != nil {
			r.logger.WithError(err).Warn("failed to record conflict for review")
		}
	}
	return ce
}

// write persists the derived state unless it equals the stored state.
// HasUsedTrial is monotonic and never reset here regardless of event content.
func (r *Reconciler) write(ctx context.Context, user *User, next Subscription, eventID string) (*User, error) {
	if user.Subscription.HasUsedTrial {
		next.HasUsedTrial = true
	}

	if next.Equal(user.Subscription) {
		r.logger.WithFields(map[string]interface{}{
			"event_id": eventID,
			"user_id":  user.ID,
		}).Debug("reconcile is a no-op, skipping write")
		return user, nil
	}

	return r.users.UpdateSubscription(ctx, user.ID, next)
}
