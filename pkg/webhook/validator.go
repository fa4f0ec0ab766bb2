package webhook

import (
	"encoding/json"
	"net/mail"
	"time"

	"github.com/metergate/metergate/pkg/billing"
)

// envelope is the untyped provider event wrapper: {id, type, data.object}.
type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	TrialEnd          *int64            `json:"trial_end"`
	Metadata          map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CancelAt          *int64 `json:"cancel_at"`
	TrialStart        *int64 `json:"trial_start"`
	TrialEnd          *int64 `json:"trial_end"`
	Items             struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type invoiceObject struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"` // empty for one-off invoices
	AmountPaid   *int64 `json:"amount_paid"`
	AmountDue    *int64 `json:"amount_due"`
}

// Validator normalizes raw provider event envelopes into the closed set of
// typed billing events. It is a pure function of its input: no store access,
// no side effects.
type Validator struct {
	// priceToPlan maps provider price ids to plan names. Unmapped prices
	// produce events with an empty Plan; the reconciler preserves the
	// user's existing plan in that case.
	priceToPlan map[string]string
}

// NewValidator creates a validator with the given price-to-plan mapping
func NewValidator(priceToPlan map[string]string) *Validator {
	return &Validator{priceToPlan: priceToPlan}
}

// Validate parses and validates a raw event envelope. It returns a normalized
// event, or a ValidationError naming the offending field. Unknown event types
// are accepted and returned as UnknownEvent so the endpoint stays
// forward-compatible with new provider event types.
func (v *Validator) Validate(payload []byte) (billing.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, invalid("body", "is not valid JSON")
	}
	if env.ID == "" {
		return nil, invalid("id", "is required")
	}
	if env.Type == "" {
		return nil, invalid("type", "is required")
	}

	switch env.Type {
	case "checkout.session.completed":
		return v.validateCheckout(env)
	case "customer.subscription.created", "customer.subscription.updated":
		return v.validateSubscription(env)
	case "customer.subscription.deleted":
		return v.validateSubscriptionDeleted(env)
	case "invoice.payment_succeeded", "invoice.payment_failed":
		return v.validateInvoice(env)
	default:
		return billing.UnknownEvent{ID: env.ID, Type: env.Type}, nil
	}
}

func (v *Validator) validateCheckout(env envelope) (billing.Event, error) {
	var obj checkoutObject
	if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
		return nil, invalid("data.object", "is not a valid checkout session")
	}
	if obj.ID == "" {
		return nil, invalid("data.object.id", "is required")
	}
	if obj.Mode == "" {
		return nil, invalid("data.object.mode", "is required")
	}
	if obj.CustomerEmail != "" {
		if _, err := mail.ParseAddress(obj.CustomerEmail); err != nil {
			return nil, invalid("data.object.customer_email", "is not a valid email address")
		}
	}

	priceID := obj.Metadata["price_id"]
	return billing.CheckoutCompleted{
		ID:                env.ID,
		Mode:              obj.Mode,
		ClientReferenceID: obj.ClientReferenceID,
		CustomerEmail:     obj.CustomerEmail,
		CustomerID:        obj.Customer,
		SubscriptionID:    obj.Subscription,
		PriceID:           priceID,
		Plan:              v.planFor(priceID, obj.Metadata["plan"]),
		TrialEnd:          epochPtr(obj.TrialEnd),
	}, nil
}

func (v *Validator) validateSubscription(env envelope) (billing.Event, error) {
	var obj subscriptionObject
	if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
		return nil, invalid("data.object", "is not a valid subscription")
	}
	if obj.ID == "" {
		return nil, invalid("data.object.id", "is required")
	}
	if obj.Customer == "" {
		return nil, invalid("data.object.customer", "is required")
	}
	status := billing.Status(obj.Status)
	if !billing.ValidStatus(status) {
		return nil, invalid("data.object.status", "is not a recognized subscription status")
	}
	if obj.CurrentPeriodEnd <= 0 {
		return nil, invalid("data.object.current_period_end", "must be a positive epoch timestamp")
	}
	if len(obj.Items.Data) == 0 {
		return nil, invalid("data.object.items", "must contain at least one line item")
	}
	priceID := obj.Items.Data[0].Price.ID
	if priceID == "" {
		return nil, invalid("data.object.items[0].price.id", "is required")
	}

	return billing.SubscriptionUpdated{
		ID:                env.ID,
		SubscriptionID:    obj.ID,
		CustomerID:        obj.Customer,
		Status:            status,
		CurrentPeriodEnd:  epoch(obj.CurrentPeriodEnd),
		PriceID:           priceID,
		Plan:              v.planFor(priceID, ""),
		CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
		CancelAt:          epochPtr(obj.CancelAt),
		TrialStart:        epochPtr(obj.TrialStart),
		TrialEnd:          epochPtr(obj.TrialEnd),
	}, nil
}

func (v *Validator) validateSubscriptionDeleted(env envelope) (billing.Event, error) {
	var obj subscriptionObject
	if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
		return nil, invalid("data.object", "is not a valid subscription")
	}
	if obj.ID == "" {
		return nil, invalid("data.object.id", "is required")
	}
	if obj.Customer == "" {
		return nil, invalid("data.object.customer", "is required")
	}

	return billing.SubscriptionDeleted{
		ID:             env.ID,
		SubscriptionID: obj.ID,
		CustomerID:     obj.Customer,
	}, nil
}

func (v *Validator) validateInvoice(env envelope) (billing.Event, error) {
	var obj invoiceObject
	if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
		return nil, invalid("data.object", "is not a valid invoice")
	}
	if obj.ID == "" {
		return nil, invalid("data.object.id", "is required")
	}
	if obj.Status == "" {
		return nil, invalid("data.object.status", "is required")
	}
	if obj.AmountPaid == nil {
		return nil, invalid("data.object.amount_paid", "is required")
	}
	if *obj.AmountPaid < 0 {
		return nil, invalid("data.object.amount_paid", "must be non-negative")
	}
	if obj.AmountDue == nil {
		return nil, invalid("data.object.amount_due", "is required")
	}
	if *obj.AmountDue < 0 {
		return nil, invalid("data.object.amount_due", "must be non-negative")
	}

	if env.Type == "invoice.payment_failed" {
		return billing.InvoicePaymentFailed{
			ID:             env.ID,
			InvoiceID:      obj.ID,
			CustomerID:     obj.Customer,
			SubscriptionID: obj.Subscription,
			AmountPaid:     *obj.AmountPaid,
			AmountDue:      *obj.AmountDue,
		}, nil
	}
	return billing.InvoicePaymentSucceeded{
		ID:             env.ID,
		InvoiceID:      obj.ID,
		CustomerID:     obj.Customer,
		SubscriptionID: obj.Subscription,
		AmountPaid:     *obj.AmountPaid,
		AmountDue:      *obj.AmountDue,
	}, nil
}

func (v *Validator) planFor(priceID, metadataPlan string) string {
	if metadataPlan != "" {
		return metadataPlan
	}
	if plan, ok := v.priceToPlan[priceID]; ok {
		return plan
	}
	return ""
}

func epoch(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func epochPtr(sec *int64) *time.Time {
	if sec == nil || *sec <= 0 {
		return nil
	}
	t := epoch(*sec)
	return &t
}
