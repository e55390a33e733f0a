package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/async"
)

// Service owns the subscription lifecycle: creation, cancellation (immediate
// and deferred), payment method switching and charge retries. Each operation
// is an independent unit of work; the gateway call and the local write are
// deliberately not atomic together. Divergence after a crash is repaired by
// the next webhook delivery.
type Service interface {
	// Create subscribes an instrument to a plan. Fails fast with
	// ErrSubscriptionExists when the instrument already carries an
	// available subscription.
	Create(ctx context.Context, instrument *PaymentInstrument, planID, nonce string) (*Subscription, error)

	// Cancel stops billing immediately through the gateway and marks the
	// local record canceled.
	Cancel(ctx context.Context, sub *Subscription) error

	// MarkCanceled applies the deferred-cancellation policy: while a year
	// commitment is active the cancellation is scheduled for the commitment
	// date instead of executed; otherwise it delegates to Cancel.
	MarkCanceled(ctx context.Context, sub *Subscription) error

	// UpdatePaymentMethod repoints the subscription to another instrument
	// of the same owner, identified by gateway token.
	UpdatePaymentMethod(ctx context.Context, sub *Subscription, token string) error

	// RetryCharge re-attempts collection of the outstanding balance and, on
	// success, recovers the subscription to active.
	RetryCharge(ctx context.Context, sub *Subscription) error
}

// EntitlementEnqueuer dispatches the downstream entitlement-update job. The
// job must be idempotent: both the create path and webhook reconciliation
// enqueue it, possibly several times for the same state.
type EntitlementEnqueuer interface {
	EnqueueEntitlementUpdate(ctx context.Context, userID, subscriptionID uuid.UUID) error
}

// Notifier dispatches membership notification emails. Calls are best-effort
// and never affect the outcome of the operation that triggered them.
type Notifier interface {
	JoinConfirmation(ctx context.Context, userID uuid.UUID) error
	PriorActivityNotice(ctx context.Context, userID uuid.UUID) error
}

// ActivitySource answers whether a user had qualifying activity before a
// given time. Backs the conditional second join notification.
type ActivitySource interface {
	HasActivityBefore(ctx context.Context, userID uuid.UUID, before time.Time) (bool, error)
}

type service struct {
	gateway      Gateway
	subs         SubscriptionStore
	instruments  InstrumentStore
	entitlements EntitlementEnqueuer
	notifier     Notifier
	activity     ActivitySource
	log          *slog.Logger
	now          func() time.Time
}

// NewService creates the lifecycle service. Panics if a required dependency
// is nil to fail fast during initialization.
func NewService(gateway Gateway, subs SubscriptionStore, instruments InstrumentStore, entitlements EntitlementEnqueuer, opts ...ServiceOption) Service {
	if gateway == nil {
		panic("billing: Gateway is required")
	}
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	if instruments == nil {
		panic("billing: InstrumentStore is required")
	}
	if entitlements == nil {
		panic("billing: EntitlementEnqueuer is required")
	}

	s := &service{
		gateway:      gateway,
		subs:         subs,
		instruments:  instruments,
		entitlements: entitlements,
		log:          slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Create(ctx context.Context, instrument *PaymentInstrument, planID, nonce string) (*Subscription, error) {
	if instrument == nil {
		return nil, ErrInstrumentNotFound
	}

	// Uniqueness pre-check before any gateway traffic. The persistence
	// layer additionally enforces this with a partial unique index, closing
	// the window between check and write.
	if _, err := s.subs.FindAvailableByInstrument(ctx, instrument.ID); err == nil {
		return nil, ErrSubscriptionExists
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, s.fail(ctx, ErrCreateFailed, "create", instrument.UserID, "", err)
	}

	req := CreateSubscriptionRequest{
		PlanID:          planID,
		InstrumentToken: instrument.Token,
		PaymentNonce:    nonce,
	}

	// Carry an unexpired prepaid period across a cancel/resubscribe cycle:
	// the new subscription starts billing where the canceled one would have.
	if prev, err := s.subs.CanceledBeforeExpired(ctx, instrument.UserID, s.now()); err == nil {
		req.FirstBillingDate = cloneDate(prev.NextBillingDate)
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, s.fail(ctx, ErrCreateFailed, "create", instrument.UserID, "", err)
	}

	snap, err := s.gateway.CreateSubscription(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, ErrCreateFailed, "create", instrument.UserID, "", err)
	}

	now := s.now()
	sub := &Subscription{
		ID:               uuid.New(),
		ExternalID:       snap.ExternalID,
		UserID:           instrument.UserID,
		InstrumentID:     instrument.ID,
		FirstBillingDate: cloneDate(snap.FirstBillingDate),
		ReminderStatus:   map[string]time.Time{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := snap.Apply(sub); err != nil {
		return nil, s.fail(ctx, ErrCreateFailed, "create", instrument.UserID, snap.ExternalID, err)
	}

	if err := s.subs.CreateWithInstrumentCleanup(ctx, sub, instrument.Token); err != nil {
		return nil, s.fail(ctx, ErrCreateFailed, "create", instrument.UserID, snap.ExternalID, err)
	}

	// Post-commit enqueue: the queue does not tie enqueue visibility to the
	// store transaction, so enqueuing inside it could emit jobs for a write
	// that rolls back. A lost enqueue here is recovered by the next webhook
	// reconciliation, which dispatches the same idempotent job.
	if err := s.entitlements.EnqueueEntitlementUpdate(ctx, sub.UserID, sub.ID); err != nil {
		s.log.ErrorContext(ctx, "failed to enqueue entitlement update",
			slog.String("operation", "create"),
			slog.String("subscription_id", sub.ID.String()),
			slog.Any("error", err))
	}

	s.dispatchJoinNotifications(ctx, sub)

	return sub, nil
}

func (s *service) Cancel(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	if !sub.Available() {
		return ErrSubscriptionUnavailable
	}

	if err := s.gateway.CancelSubscription(ctx, sub.ExternalID); err != nil {
		return s.fail(ctx, ErrCancelFailed, "cancel", sub.UserID, sub.ExternalID, err)
	}

	prevStatus, prevUpdated := sub.Status, sub.UpdatedAt
	sub.Status = StatusCanceled
	sub.UpdatedAt = s.now()
	if err := s.subs.Save(ctx, sub); err != nil {
		sub.Status, sub.UpdatedAt = prevStatus, prevUpdated
		return s.fail(ctx, ErrCancelFailed, "cancel", sub.UserID, sub.ExternalID, err)
	}
	return nil
}

func (s *service) MarkCanceled(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	if !sub.Available() {
		return ErrSubscriptionUnavailable
	}

	commitment, err := s.commitmentDate(ctx, sub)
	if err != nil {
		return s.fail(ctx, ErrCancelFailed, "mark_canceled", sub.UserID, sub.ExternalID, err)
	}

	if !s.now().Before(commitment) {
		return s.Cancel(ctx, sub)
	}

	// Idempotent guard: a second deferral must not move an already
	// scheduled cancel date.
	if sub.CancelDate != nil {
		return ErrCancellationAlreadyScheduled
	}

	prevUpdated := sub.UpdatedAt
	sub.CancelDate = &commitment
	sub.UpdatedAt = s.now()
	if err := s.subs.Save(ctx, sub); err != nil {
		sub.CancelDate, sub.UpdatedAt = nil, prevUpdated
		return s.fail(ctx, ErrCancelFailed, "mark_canceled", sub.UserID, sub.ExternalID, err)
	}
	return nil
}

func (s *service) UpdatePaymentMethod(ctx context.Context, sub *Subscription, token string) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	if !sub.Available() {
		return ErrSubscriptionUnavailable
	}

	inst, err := s.instruments.GetByToken(ctx, sub.UserID, token)
	if err != nil {
		if errors.Is(err, ErrInstrumentNotFound) {
			return err
		}
		return s.fail(ctx, ErrUpdateFailed, "update_payment_method", sub.UserID, sub.ExternalID, err)
	}

	if err := s.gateway.UpdatePaymentMethod(ctx, sub.ExternalID, token); err != nil {
		return s.fail(ctx, ErrUpdateFailed, "update_payment_method", sub.UserID, sub.ExternalID, err)
	}

	if err := s.subs.RepointInstrument(ctx, sub, inst); err != nil {
		return s.fail(ctx, ErrUpdateFailed, "update_payment_method", sub.UserID, sub.ExternalID, err)
	}
	return nil
}

func (s *service) RetryCharge(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}

	if err := s.gateway.RetryCharge(ctx, sub.ExternalID, sub.Balance); err != nil {
		return s.fail(ctx, ErrRetryChargeFailed, "retry_charge", sub.UserID, sub.ExternalID, err)
	}

	prevStatus, prevSince, prevUpdated := sub.Status, sub.PastDueSince, sub.UpdatedAt
	sub.Status = StatusActive
	sub.PastDueSince = nil
	sub.UpdatedAt = s.now()
	if err := s.subs.Save(ctx, sub); err != nil {
		sub.Status, sub.PastDueSince, sub.UpdatedAt = prevStatus, prevSince, prevUpdated
		return s.fail(ctx, ErrRetryChargeFailed, "retry_charge", sub.UserID, sub.ExternalID, err)
	}
	return nil
}

// commitmentDate returns the earliest date a cancellation may take effect. A
// previously scheduled cancel date wins; otherwise the date is one year after
// the user's first ever paid subscription started billing, falling back to
// this subscription's own first billing date. A missing first billing date is
// a hard error rather than a silently invalid date.
func (s *service) commitmentDate(ctx context.Context, sub *Subscription) (time.Time, error) {
	if sub.CancelDate != nil {
		return *sub.CancelDate, nil
	}

	first, err := s.subs.FirstPaidByUser(ctx, sub.UserID)
	if err != nil {
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return time.Time{}, err
		}
		first = sub
	}
	if first.FirstBillingDate == nil {
		return time.Time{}, ErrMissingFirstBillingDate
	}
	return first.FirstBillingDate.AddDate(1, 0, 0), nil
}

// dispatchJoinNotifications fires the join confirmation and, when the user
// has qualifying activity predating the subscription, a second notice. Both
// are fire-and-forget: failures are logged and never surface to the caller.
func (s *service) dispatchJoinNotifications(ctx context.Context, sub *Subscription) {
	if s.notifier == nil {
		return
	}

	userID, createdAt := sub.UserID, sub.CreatedAt
	async.Async(context.WithoutCancel(ctx), userID, func(ctx context.Context, id uuid.UUID) (struct{}, error) {
		if err := s.notifier.JoinConfirmation(ctx, id); err != nil {
			s.log.ErrorContext(ctx, "failed to send join confirmation",
				slog.String("user_id", id.String()), slog.Any("error", err))
		}
		if s.activity == nil {
			return struct{}{}, nil
		}
		ok, err := s.activity.HasActivityBefore(ctx, id, createdAt)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to check prior activity",
				slog.String("user_id", id.String()), slog.Any("error", err))
			return struct{}{}, nil
		}
		if ok {
			if err := s.notifier.PriorActivityNotice(ctx, id); err != nil {
				s.log.ErrorContext(ctx, "failed to send prior activity notice",
					slog.String("user_id", id.String()), slog.Any("error", err))
			}
		}
		return struct{}{}, nil
	})
}

// fail logs a non-domain failure with full operation context and converts it
// into the stable operation sentinel. No operation lets a low-level fault
// escape to the caller unwrapped.
func (s *service) fail(ctx context.Context, sentinel error, op string, userID uuid.UUID, externalID string, err error) error {
	s.log.ErrorContext(ctx, "subscription operation failed",
		slog.String("operation", op),
		slog.String("user_id", userID.String()),
		slog.String("subscription_id", externalID),
		slog.Any("error", err))
	return errors.Join(sentinel, err)
}
