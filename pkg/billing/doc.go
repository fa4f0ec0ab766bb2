// Package billing owns the subscription domain: the canonical subscription
// record embedded in the user entity, the plan limit table, the billing
// window calculator, and the reconciler that applies normalized payment
// provider events to subscription state.
//
// # State Machine
//
// The reconciler drives subscriptionStatus through the provider's closed
// status set. Highlights:
//
//   - checkout.session.completed links provider identities and activates
//     the subscription (trialing when the session encodes a trial)
//   - customer.subscription.updated takes the provider's status verbatim,
//     but only moves current_period_end forward; stale events are logged
//     and ignored
//   - customer.subscription.deleted cancels without touching the period
//     end, so the paid grace period keeps access alive
//   - invoice.payment_failed parks the record in past_due unless the state
//     is already terminal; invoice.payment_succeeded promotes it back
//
// # Idempotency
//
// Reconciling the same event twice is a no-op the second time: the derived
// state is compared to the stored state (write-if-changed) and correlation
// runs on the provider identity bindings rather than event ordering. Events
// whose identities are bound to a different user fail with ConflictError and
// are flagged for manual review.
//
// # Billing Windows
//
// ComputeWindow is a pure function of the user snapshot, the most recent
// usage window, and now. Usage counters accumulate against the half-open
// [start, end) interval it returns; see pkg/usage.
//
// # Related Packages
//
//   - pkg/webhook: produces the normalized events consumed here
//   - pkg/usage: per-window usage counters
//   - pkg/entitlement: plan-limit decisions built on the limit table
package billing
