package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/invoice"
	"github.com/stripe/stripe-go/v76/paymentmethod"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig holds configuration for the Stripe gateway adapter.
type StripeConfig struct {
	APIKey        string `env:"STRIPE_API_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeGateway implements Gateway on top of the official Stripe SDK.
//
// Payment instrument tokens are Stripe payment method IDs that were attached
// to a customer during instrument registration (out of scope here). The
// adapter resolves the owning customer from the payment method, so callers
// never deal with Stripe customer IDs directly.
type StripeGateway struct {
	config StripeConfig
}

// NewStripeGateway creates a Stripe-backed Gateway. The constructor sets the
// SDK's global API key, matching how the SDK's static clients are used.
func NewStripeGateway(config StripeConfig) (*StripeGateway, error) {
	if config.APIKey == "" {
		return nil, errors.New("stripe API key is required")
	}
	if config.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	stripe.Key = config.APIKey

	return &StripeGateway{config: config}, nil
}

// CreateSubscription starts billing the given instrument for a plan price.
// A deferred first billing date is expressed as a trial ending on that date,
// which is how Stripe models "do not charge before D".
func (g *StripeGateway) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Snapshot, error) {
	token := req.InstrumentToken
	if req.PaymentNonce != "" {
		token = req.PaymentNonce
	}
	if token == "" {
		return nil, fmt.Errorf("%w: payment instrument token is required", ErrGatewayRequestFailed)
	}
	if req.PlanID == "" {
		return nil, fmt.Errorf("%w: plan is required", ErrGatewayRequestFailed)
	}

	pm, err := paymentmethod.Get(token, nil)
	if err != nil {
		return nil, errors.Join(ErrGatewayRequestFailed, err)
	}
	if pm.Customer == nil {
		return nil, fmt.Errorf("%w: payment method %s is not attached to a customer", ErrGatewayRequestFailed, token)
	}

	params := &stripe.SubscriptionParams{
		Customer:             stripe.String(pm.Customer.ID),
		DefaultPaymentMethod: stripe.String(token),
		ProrationBehavior:    stripe.String("none"),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PlanID)},
		},
	}
	params.Context = ctx
	if req.FirstBillingDate != nil && req.FirstBillingDate.After(time.Now()) {
		params.TrialEnd = stripe.Int64(req.FirstBillingDate.Unix())
	}

	sub, err := subscription.New(params)
	if err != nil {
		return nil, errors.Join(ErrGatewayRequestFailed, err)
	}

	return snapshotFromStripe(sub), nil
}

// CancelSubscription stops billing immediately.
func (g *StripeGateway) CancelSubscription(ctx context.Context, externalID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(externalID, params); err != nil {
		return errors.Join(ErrGatewayRequestFailed, err)
	}
	return nil
}

// UpdatePaymentMethod repoints the subscription's default payment method.
func (g *StripeGateway) UpdatePaymentMethod(ctx context.Context, externalID, token string) error {
	params := &stripe.SubscriptionParams{
		DefaultPaymentMethod: stripe.String(token),
	}
	params.Context = ctx
	if _, err := subscription.Update(externalID, params); err != nil {
		return errors.Join(ErrGatewayRequestFailed, err)
	}
	return nil
}

// RetryCharge re-attempts collection by paying the subscription's open
// invoice. The amount is validated against what the gateway reports as
// outstanding so a stale local balance does not trigger a surprise charge.
func (g *StripeGateway) RetryCharge(ctx context.Context, externalID string, amount decimal.Decimal) error {
	listParams := &stripe.InvoiceListParams{
		Subscription: stripe.String(externalID),
		Status:       stripe.String(string(stripe.InvoiceStatusOpen)),
	}
	listParams.Context = ctx

	iter := invoice.List(listParams)
	for iter.Next() {
		inv := iter.Invoice()
		remaining := decimal.New(inv.AmountRemaining, -2)
		if !remaining.Equal(amount) {
			return fmt.Errorf("%w: outstanding amount %s does not match requested %s",
				ErrGatewayRequestFailed, remaining, amount)
		}

		payParams := &stripe.InvoicePayParams{}
		payParams.Context = ctx
		if _, err := invoice.Pay(inv.ID, payParams); err != nil {
			return errors.Join(ErrGatewayRequestFailed, err)
		}
		return nil
	}
	if err := iter.Err(); err != nil {
		return errors.Join(ErrGatewayRequestFailed, err)
	}

	return fmt.Errorf("%w: no open invoice for subscription %s", ErrGatewayRequestFailed, externalID)
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event
// into the normalized WebhookEvent form.
func (g *StripeGateway) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) {
			return nil, errors.Join(ErrInvalidWebhookSignature, err)
		}
		return nil, errors.Join(ErrMalformedWebhookPayload, err)
	}

	out := &WebhookEvent{
		ID:        event.ID,
		Timestamp: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedWebhookPayload, err)
		}
		out.Subscription = snapshotFromStripe(&sub)
		out.Kind = subscriptionEventKind(event.Type == "customer.subscription.deleted", sub.Status)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrMalformedWebhookPayload, err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return nil, fmt.Errorf("%w: invoice %s has no subscription reference", ErrMalformedWebhookPayload, inv.ID)
		}
		snap, err := g.fetchSnapshot(ctx, inv.Subscription.ID, &inv)
		if err != nil {
			return nil, err
		}
		out.Subscription = snap
		out.Kind = WebhookSubscriptionChargedSuccessfully
		if event.Type == "invoice.payment_failed" {
			out.Kind = WebhookSubscriptionChargedUnsuccessfully
		}

	case "payment_method.detached":
		var pm stripe.PaymentMethod
		if err := json.Unmarshal(event.Data.Raw, &pm); err != nil {
			return nil, errors.Join(ErrMalformedWebhookPayload, err)
		}
		out.Kind = WebhookPaymentMethodRevoked
		out.InstrumentToken = pm.ID

	default:
		// Unhandled kinds are passed through as-is; the processor ignores
		// anything outside the normalized vocabulary.
		out.Kind = WebhookKind(event.Type)
	}

	return out, nil
}

// fetchSnapshot loads a fresh subscription snapshot from the gateway,
// enriched with invoice-derived balance figures. Stripe invoice events carry
// the invoice, not the subscription, so charge notifications need one extra
// read to produce the uniform snapshot shape.
func (g *StripeGateway) fetchSnapshot(ctx context.Context, externalID string, inv *stripe.Invoice) (*Snapshot, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(externalID, params)
	if err != nil {
		return nil, errors.Join(ErrGatewayRequestFailed, err)
	}

	snap := snapshotFromStripe(sub)
	if inv != nil {
		snap.Balance = decimal.New(inv.AmountRemaining, -2)
		if snap.Status == string(StatusPastDue) && inv.Created > 0 {
			snap.DaysPastDue = int(time.Since(time.Unix(inv.Created, 0)).Hours() / 24)
		}
	}
	return snap, nil
}

// snapshotFromStripe translates a Stripe subscription object into the
// gateway-neutral snapshot shape.
func snapshotFromStripe(sub *stripe.Subscription) *Snapshot {
	snap := &Snapshot{
		ExternalID: sub.ID,
		Status:     mapStripeStatus(sub.Status),
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price
		snap.PlanID = price.ID
		snap.Price = decimal.New(price.UnitAmount, -2)
		snap.NextBillingPeriodAmount = snap.Price
	}

	if sub.CurrentPeriodStart > 0 {
		start := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		snap.BillingPeriodStart = &start
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		snap.BillingPeriodEnd = &end
		snap.PaidThroughDate = cloneDate(&end)
		snap.NextBillingDate = cloneDate(&end)
	}
	if sub.BillingCycleAnchor > 0 {
		anchor := time.Unix(sub.BillingCycleAnchor, 0).UTC()
		snap.FirstBillingDate = &anchor
		snap.BillingDayOfMonth = anchor.Day()
	}

	// Stripe does not report a cycle counter; derive it from elapsed whole
	// periods. Subscriptions that have not been charged yet stay at zero.
	if snap.Status != string(StatusPending) &&
		sub.StartDate > 0 && sub.CurrentPeriodEnd > sub.CurrentPeriodStart {
		periodLen := sub.CurrentPeriodEnd - sub.CurrentPeriodStart
		snap.CurrentBillingCycle = int((sub.CurrentPeriodStart-sub.StartDate)/periodLen) + 1
	}

	if sub.LatestInvoice != nil {
		snap.Balance = decimal.New(sub.LatestInvoice.AmountRemaining, -2)
	}

	return snap
}

func subscriptionEventKind(deleted bool, status stripe.SubscriptionStatus) WebhookKind {
	if deleted {
		return WebhookSubscriptionCanceled
	}
	switch status {
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return WebhookSubscriptionWentPastDue
	case stripe.SubscriptionStatusCanceled:
		return WebhookSubscriptionCanceled
	case stripe.SubscriptionStatusIncompleteExpired:
		return WebhookSubscriptionExpired
	default:
		return WebhookSubscriptionWentActive
	}
}

// mapStripeStatus folds Stripe's status vocabulary into the closed set used
// by the local state machine.
func mapStripeStatus(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive:
		return string(StatusActive)
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return string(StatusPastDue)
	case stripe.SubscriptionStatusCanceled:
		return string(StatusCanceled)
	case stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusTrialing:
		return string(StatusPending)
	case stripe.SubscriptionStatusIncompleteExpired:
		return string(StatusExpired)
	default:
		return string(status)
	}
}
