package billing

import (
	"errors"
	"fmt"
)

// ConflictError indicates an incoming event references a provider identity
// (customer or subscription id) already bound to a different user. The event
// is not applied; these are flagged for manual review.
type ConflictError struct {
	Resource string // "stripe_customer_id" or "stripe_subscription_id"
	Value    string
	BoundTo  int64 // user id the identity is already bound to
	UserID   int64 // user id the event tried to bind
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already bound to user %d, refusing to apply to user %d",
		e.Resource, e.Value, e.BoundTo, e.UserID)
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
