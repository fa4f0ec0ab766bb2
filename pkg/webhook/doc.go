// Package webhook validates raw payment-provider event envelopes and
// normalizes them into the typed event set in pkg/billing.
//
// # Overview
//
// The provider delivers loosely-typed JSON envelopes of the form
// {id, type, data.object}. Validator checks the minimum shape each event
// type needs for reconciliation and produces a strongly-typed event:
//
//	validator := webhook.NewValidator(priceToPlan)
//	event, err := validator.Validate(body)
//	if err != nil {
//		// ValidationError: permanent, ack and drop
//	}
//
// Validation is pure: no store access, no side effects. Unknown event
// types are not errors; they come back as billing.UnknownEvent and are
// routed to a no-op downstream, keeping the endpoint forward-compatible
// with event types the engine does not handle.
//
// Signature verification happens before this package: callers hand in an
// already-authenticated body.
//
// # Related Packages
//
//   - pkg/billing: the normalized event types and the reconciler that consumes them
package webhook
