package billing

import "errors"

var (
	// Domain precondition errors. Returned directly to the caller without
	// wrapping so they can be matched with errors.Is.
	ErrSubscriptionExists           = errors.New("an available subscription already exists for this payment instrument")
	ErrSubscriptionNotFound         = errors.New("subscription not found")
	ErrSubscriptionUnavailable      = errors.New("subscription is expired or canceled")
	ErrInstrumentNotFound           = errors.New("payment instrument not found")
	ErrCancellationAlreadyScheduled = errors.New("cancellation is already scheduled")
	ErrMissingFirstBillingDate      = errors.New("subscription has no first billing date")

	// ErrUnknownSubscription is a fatal integration error: the gateway
	// referenced a subscription this system never created.
	ErrUnknownSubscription = errors.New("gateway referenced an unknown subscription")

	// ErrUnknownStatus is returned when the gateway reports a status outside
	// the closed status set. Unrecognized values are rejected, never stored.
	ErrUnknownStatus = errors.New("unknown subscription status")

	// Operation failure sentinels. Gateway and persistence errors are logged
	// at the operation boundary and joined with one of these so callers get a
	// stable, human-readable failure instead of a low-level fault.
	ErrCreateFailed      = errors.New("could not create subscription")
	ErrCancelFailed      = errors.New("could not cancel subscription")
	ErrUpdateFailed      = errors.New("could not update subscription payment method")
	ErrRetryChargeFailed = errors.New("could not retry subscription charge")

	// Gateway adapter errors.
	ErrGatewayRequestFailed    = errors.New("gateway request failed")
	ErrInvalidWebhookSignature = errors.New("webhook signature verification failed")
	ErrMalformedWebhookPayload = errors.New("malformed webhook payload")
)
