package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// InvoiceRecorder observes charge events so an invoice ledger can be kept.
// It is an external collaborator; recording failures are logged but never
// block reconciliation.
type InvoiceRecorder interface {
	RecordChargeEvent(ctx context.Context, event *WebhookEvent) error
}

// Processor reconciles local subscription state from asynchronous gateway
// notifications. It assumes at-least-once delivery: events may arrive out of
// order, duplicated, or stale, and re-applying an identical snapshot beyond a
// redundant write and a redundant (idempotent) job enqueue is a no-op.
type Processor struct {
	subs         SubscriptionStore
	instruments  InstrumentStore
	entitlements EntitlementEnqueuer
	invoices     InvoiceRecorder
	log          *slog.Logger
	now          func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithInvoiceRecorder attaches the invoice-recording collaborator invoked on
// charge events.
func WithInvoiceRecorder(r InvoiceRecorder) ProcessorOption {
	return func(p *Processor) { p.invoices = r }
}

// WithProcessorLogger sets the structured logger.
func WithProcessorLogger(log *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

// WithProcessorClock overrides the time source used for past-due stamping.
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor creates a webhook reconciliation processor. Panics if a
// required dependency is nil to fail fast during initialization.
func NewProcessor(subs SubscriptionStore, instruments InstrumentStore, entitlements EntitlementEnqueuer, opts ...ProcessorOption) *Processor {
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	if instruments == nil {
		panic("billing: InstrumentStore is required")
	}
	if entitlements == nil {
		panic("billing: EntitlementEnqueuer is required")
	}

	p := &Processor{
		subs:         subs,
		instruments:  instruments,
		entitlements: entitlements,
		log:          slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies a verified gateway notification to local state. Kinds
// outside the normalized vocabulary are ignored.
func (p *Processor) Process(ctx context.Context, event *WebhookEvent) error {
	if event == nil {
		return ErrMalformedWebhookPayload
	}

	switch {
	case event.Kind == WebhookPaymentMethodRevoked:
		return p.revokeInstrument(ctx, event)

	case event.Kind.SubscriptionEvent():
		if event.Kind.ChargeEvent() && p.invoices != nil {
			if err := p.invoices.RecordChargeEvent(ctx, event); err != nil {
				p.log.ErrorContext(ctx, "failed to record charge event",
					slog.String("kind", string(event.Kind)),
					slog.Any("error", err))
			}
		}
		return p.reconcile(ctx, event.Subscription)
	}

	p.log.DebugContext(ctx, "ignoring unhandled webhook kind", slog.String("kind", string(event.Kind)))
	return nil
}

// reconcile maps the gateway snapshot onto the local record and recomputes
// derived state.
func (p *Processor) reconcile(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: subscription event without snapshot", ErrMalformedWebhookPayload)
	}

	sub, err := p.subs.GetByExternalID(ctx, snap.ExternalID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			// The gateway referenced a subscription this system never
			// created. Reported as a fatal integration error, never
			// silently swallowed and never turned into a new record.
			return fmt.Errorf("%w: external id %q", ErrUnknownSubscription, snap.ExternalID)
		}
		return err
	}

	prev := sub.Status
	if err := snap.Apply(sub); err != nil {
		return err
	}

	// PastDueSince moves only on an actual status change so a balance
	// correction arriving while already past due keeps the original date.
	if sub.Status != prev {
		sub.PastDueSince = nil
		if sub.Status == StatusPastDue {
			since := dateOnly(p.now())
			sub.PastDueSince = &since
		}
	}

	// Entering active cancels any pending past-due reminder schedule. For
	// every other status the blob is left untouched so an already-sent
	// reminder is not re-sent after an unrelated refresh.
	if sub.Status == StatusActive {
		sub.ReminderStatus = map[string]time.Time{}
	}

	sub.UpdatedAt = p.now()
	if err := p.subs.Save(ctx, sub); err != nil {
		return err
	}

	// Same idempotent job as the create path. A failed enqueue surfaces as
	// a processing error; the next event for this subscription repeats the
	// (idempotent) reconciliation and enqueue.
	if err := p.entitlements.EnqueueEntitlementUpdate(ctx, sub.UserID, sub.ID); err != nil {
		return fmt.Errorf("enqueue entitlement update for subscription %s: %w", sub.ID, err)
	}
	return nil
}

// revokeInstrument soft-deletes the payment instrument the customer revoked
// at the gateway. Subscription status is left untouched; the gateway follows
// up with its own status notifications.
func (p *Processor) revokeInstrument(ctx context.Context, event *WebhookEvent) error {
	if event.Subscription != nil && event.Subscription.ExternalID != "" {
		sub, err := p.subs.GetByExternalID(ctx, event.Subscription.ExternalID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				return fmt.Errorf("%w: external id %q", ErrUnknownSubscription, event.Subscription.ExternalID)
			}
			return err
		}
		return p.softDeleteInstrument(ctx, sub.InstrumentID)
	}

	if event.InstrumentToken != "" {
		inst, err := p.instruments.FindByToken(ctx, event.InstrumentToken)
		if err != nil {
			return err
		}
		return p.softDeleteInstrument(ctx, inst.ID)
	}

	return fmt.Errorf("%w: revocation event without subscription or token", ErrMalformedWebhookPayload)
}

func (p *Processor) softDeleteInstrument(ctx context.Context, id uuid.UUID) error {
	if err := p.instruments.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("soft-delete instrument %s: %w", id, err)
	}
	return nil
}

// dateOnly truncates a timestamp to its UTC calendar date.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
