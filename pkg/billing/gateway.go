package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway defines the minimal interface to the remote payment processor.
// This abstraction keeps the rest of the package provider-agnostic and makes
// the gateway boundary mockable; the concrete adapter (Stripe in this module)
// handles provider quirks internally.
//
// Every call is a synchronous remote request. Implementations must surface
// transport or protocol problems as errors wrapping ErrGatewayRequestFailed,
// never as panics.
type Gateway interface {
	// CreateSubscription starts billing against a payment instrument and
	// returns the gateway's initial snapshot of the new subscription.
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Snapshot, error)

	// CancelSubscription stops billing immediately.
	CancelSubscription(ctx context.Context, externalID string) error

	// UpdatePaymentMethod repoints the subscription to another instrument
	// token belonging to the same customer.
	UpdatePaymentMethod(ctx context.Context, externalID, token string) error

	// RetryCharge re-attempts collection of an outstanding balance.
	RetryCharge(ctx context.Context, externalID string, amount decimal.Decimal) error

	// ParseWebhook verifies the payload signature and decodes the
	// notification. An invalid signature is reported as
	// ErrInvalidWebhookSignature, distinguished from every other failure.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

// CreateSubscriptionRequest carries the inputs for a gateway subscription
// create call.
type CreateSubscriptionRequest struct {
	PlanID string

	// InstrumentToken identifies a stored payment instrument. PaymentNonce,
	// when present, is a one-time client-side token and takes precedence.
	InstrumentToken string
	PaymentNonce    string

	// FirstBillingDate defers the first charge, used to carry an unexpired
	// prepaid period across a cancel/resubscribe cycle.
	FirstBillingDate *time.Time
}

// WebhookKind is the normalized class of a gateway notification.
type WebhookKind string

const (
	WebhookSubscriptionCanceled              WebhookKind = "subscription_canceled"
	WebhookSubscriptionChargedSuccessfully   WebhookKind = "subscription_charged_successfully"
	WebhookSubscriptionChargedUnsuccessfully WebhookKind = "subscription_charged_unsuccessfully"
	WebhookSubscriptionExpired               WebhookKind = "subscription_expired"
	WebhookSubscriptionWentActive            WebhookKind = "subscription_went_active"
	WebhookSubscriptionWentPastDue           WebhookKind = "subscription_went_past_due"
	WebhookPaymentMethodRevoked              WebhookKind = "payment_method_revoked_by_customer"
)

// SubscriptionEvent reports whether the kind carries a subscription snapshot
// that should be reconciled onto local state.
func (k WebhookKind) SubscriptionEvent() bool {
	switch k {
	case WebhookSubscriptionCanceled,
		WebhookSubscriptionChargedSuccessfully,
		WebhookSubscriptionChargedUnsuccessfully,
		WebhookSubscriptionExpired,
		WebhookSubscriptionWentActive,
		WebhookSubscriptionWentPastDue:
		return true
	}
	return false
}

// ChargeEvent reports whether the kind represents a charge attempt that an
// invoice-recording collaborator should observe.
func (k WebhookKind) ChargeEvent() bool {
	return k == WebhookSubscriptionChargedSuccessfully || k == WebhookSubscriptionChargedUnsuccessfully
}

// WebhookEvent is a verified, decoded gateway notification.
type WebhookEvent struct {
	// ID is the gateway's event identifier, usable for delivery
	// deduplication. May be empty for gateways that do not assign one.
	ID string

	Kind      WebhookKind
	Timestamp time.Time

	// Subscription is the reported snapshot for subscription events. Also
	// set for instrument-revocation events when the gateway includes the
	// affected subscription.
	Subscription *Snapshot

	// InstrumentToken identifies the revoked instrument for
	// payment_method_revoked_by_customer events that do not reference a
	// subscription.
	InstrumentToken string
}
