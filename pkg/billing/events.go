package billing

import "time"

// Event is the closed set of normalized provider events the Reconciler
// understands. The webhook validator produces these; downstream components
// never see raw provider payloads.
type Event interface {
	// EventID returns the provider-assigned event id, used for idempotency
	EventID() string
	// EventType returns the provider event type string
	EventType() string
}

// CheckoutCompleted signals a finished checkout session linking a user to a
// provider customer and subscription.
type CheckoutCompleted struct {
	ID                string
	Mode              string // "subscription" or "payment"
	ClientReferenceID string // our user id, when the session carried one
	CustomerEmail     string
	CustomerID        string
	SubscriptionID    string
	PriceID           string
	Plan              string
	TrialEnd          *time.Time // set when the session encodes a trial
}

func (e CheckoutCompleted) EventID() string   { return e.ID }
func (e CheckoutCompleted) EventType() string { return "checkout.session.completed" }

// SubscriptionUpdated carries the provider's current view of a subscription.
// The provider is the source of truth for Status.
type SubscriptionUpdated struct {
	ID                string // event id
	SubscriptionID    string
	CustomerID        string
	Status            Status
	CurrentPeriodEnd  time.Time
	PriceID           string
	Plan              string
	CancelAtPeriodEnd bool
	CancelAt          *time.Time
	TrialStart        *time.Time
	TrialEnd          *time.Time
}

func (e SubscriptionUpdated) EventID() string   { return e.ID }
func (e SubscriptionUpdated) EventType() string { return "customer.subscription.updated" }

// SubscriptionDeleted signals the provider has terminated a subscription.
type SubscriptionDeleted struct {
	ID             string
	SubscriptionID string
	CustomerID     string
}

func (e SubscriptionDeleted) EventID() string   { return e.ID }
func (e SubscriptionDeleted) EventType() string { return "customer.subscription.deleted" }

// InvoicePaymentSucceeded signals a successful payment against a subscription.
type InvoicePaymentSucceeded struct {
	ID             string
	InvoiceID      string
	CustomerID     string
	SubscriptionID string // empty for one-off invoices
	AmountPaid     int64
	AmountDue      int64
}

func (e InvoicePaymentSucceeded) EventID() string   { return e.ID }
func (e InvoicePaymentSucceeded) EventType() string { return "invoice.payment_succeeded" }

// InvoicePaymentFailed signals a failed payment against a subscription.
type InvoicePaymentFailed struct {
	ID             string
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	AmountPaid     int64
	AmountDue      int64
}

func (e InvoicePaymentFailed) EventID() string   { return e.ID }
func (e InvoicePaymentFailed) EventType() string { return "invoice.payment_failed" }

// UnknownEvent is produced for provider event types the engine does not
// handle. It is accepted and routed to a no-op so the webhook endpoint stays
// forward-compatible with new provider event types.
type UnknownEvent struct {
	ID   string
	Type string
}

func (e UnknownEvent) EventID() string   { return e.ID }
func (e UnknownEvent) EventType() string { return e.Type }
