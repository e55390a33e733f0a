// Package billing manages recurring billing subscriptions against an
// external payment gateway: creating subscriptions, switching payment
// instruments, cancelling with a deferred-effective-date policy, and
// reconciling local state from asynchronous webhook notifications.
//
// The package is built around a small set of collaborating pieces:
//
//   - Service: the subscription lifecycle manager (create, cancel, deferred
//     cancel, payment method switch, charge retry)
//   - Processor: webhook reconciliation that converges local state with
//     gateway-reported truth under at-least-once delivery
//   - Gateway: the payment processor boundary, implemented for Stripe and
//     mockable via interface substitution
//   - Snapshot: the gateway-reported field set, applied identically on the
//     create path and the webhook path
//   - SubscriptionStore / InstrumentStore: persistence boundaries with
//     transactional composite writes
//
// # State machine
//
// A subscription moves through a closed status set:
//
//	pending → active → past_due → active (recovered)
//	pending|active|past_due → canceled | expired
//
// canceled and expired are terminal; every other status counts as
// "available". Terminal transitions are only ever driven by the gateway,
// through a direct cancel call or a webhook. Raw gateway statuses are
// normalized (lowercased, spaces to underscores) at the mapping boundary and
// rejected when unrecognized.
//
// # Year commitment
//
// Cancellation before the user's minimum-duration obligation is deferred
// rather than immediate: MarkCanceled records a future cancel date computed
// from the first ever paid subscription's first billing date plus one year,
// and a scheduled sweep executes the real cancel once the date arrives. A
// second deferral request is an idempotent no-op.
//
// # Quick start
//
//	gw, err := billing.NewStripeGateway(billing.StripeConfig{
//		APIKey:        os.Getenv("STRIPE_API_KEY"),
//		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	store := billing.NewMemoryStore()
//	svc := billing.NewService(gw, store, store.Instruments(), enqueuer,
//		billing.WithNotifier(notifier),
//	)
//
//	sub, err := svc.Create(ctx, instrument, "price_pro_monthly", "")
//
// Webhook deliveries are verified and decoded by the gateway adapter, then
// handed to the processor:
//
//	event, err := gw.ParseWebhook(ctx, payload, signature)
//	if err != nil {
//		// billing.ErrInvalidWebhookSignature is the one rejectable case
//	}
//	if err := processor.Process(ctx, event); err != nil {
//		// log and acknowledge; delivery is at-least-once
//	}
//
// # Error handling
//
// Domain precondition violations (ErrSubscriptionExists,
// ErrSubscriptionUnavailable, ErrInstrumentNotFound, ...) are returned as
// typed sentinels matchable with errors.Is. Gateway and persistence failures
// are logged at the operation boundary with full context and converted into
// stable operation sentinels (ErrCreateFailed, ErrCancelFailed, ...); no
// operation lets a low-level fault escape uncaught.
package billing
