package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatewayStub struct {
	createFn func(ctx context.Context, req CreateSubscriptionRequest) (*Snapshot, error)
	cancelFn func(ctx context.Context, externalID string) error
	updateFn func(ctx context.Context, externalID, token string) error
	retryFn  func(ctx context.Context, externalID string, amount decimal.Decimal) error
}

func (g *gatewayStub) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Snapshot, error) {
	if g.createFn == nil {
		return nil, errors.New("unexpected CreateSubscription call")
	}
	return g.createFn(ctx, req)
}

func (g *gatewayStub) CancelSubscription(ctx context.Context, externalID string) error {
	if g.cancelFn == nil {
		return errors.New("unexpected CancelSubscription call")
	}
	return g.cancelFn(ctx, externalID)
}

func (g *gatewayStub) UpdatePaymentMethod(ctx context.Context, externalID, token string) error {
	if g.updateFn == nil {
		return errors.New("unexpected UpdatePaymentMethod call")
	}
	return g.updateFn(ctx, externalID, token)
}

func (g *gatewayStub) RetryCharge(ctx context.Context, externalID string, amount decimal.Decimal) error {
	if g.retryFn == nil {
		return errors.New("unexpected RetryCharge call")
	}
	return g.retryFn(ctx, externalID, amount)
}

func (g *gatewayStub) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	return nil, errors.New("unexpected ParseWebhook call")
}

type enqueueRecorder struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (e *enqueueRecorder) EnqueueEntitlementUpdate(ctx context.Context, userID, subscriptionID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.calls = append(e.calls, subscriptionID)
	return nil
}

func (e *enqueueRecorder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type notifierRecorder struct {
	mu       sync.Mutex
	joins    []uuid.UUID
	prior    []uuid.UUID
	joinErr  error
	priorErr error
}

func (n *notifierRecorder) JoinConfirmation(ctx context.Context, userID uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.joinErr != nil {
		return n.joinErr
	}
	n.joins = append(n.joins, userID)
	return nil
}

func (n *notifierRecorder) PriorActivityNotice(ctx context.Context, userID uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.priorErr != nil {
		return n.priorErr
	}
	n.prior = append(n.prior, userID)
	return nil
}

func (n *notifierRecorder) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.joins), len(n.prior)
}

type activityStub struct {
	active bool
	err    error
}

func (a *activityStub) HasActivityBefore(ctx context.Context, userID uuid.UUID, before time.Time) (bool, error) {
	return a.active, a.err
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func testInstrument(userID uuid.UUID, token string) *PaymentInstrument {
	return &PaymentInstrument{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      InstrumentTypeCard,
		Token:     token,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}

func activeSnapshot(externalID string) *Snapshot {
	end := testNow.AddDate(0, 1, 0)
	return &Snapshot{
		ExternalID:              externalID,
		PlanID:                  "plan_pro",
		Status:                  "active",
		Price:                   decimal.New(1999, -2),
		NextBillingPeriodAmount: decimal.New(1999, -2),
		BillingPeriodStart:      &testNow,
		BillingPeriodEnd:        &end,
		NextBillingDate:         &end,
		FirstBillingDate:        &testNow,
		BillingDayOfMonth:       1,
	}
}

func TestService_Create(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("creates and persists a subscription", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		enq := &enqueueRecorder{}
		userID := uuid.New()
		inst := testInstrument(userID, "tok_new")
		require.NoError(t, store.SaveInstrument(ctx, inst))

		var gotReq CreateSubscriptionRequest
		gw := &gatewayStub{createFn: func(_ context.Context, req CreateSubscriptionRequest) (*Snapshot, error) {
			gotReq = req
			return activeSnapshot("sub_new"), nil
		}}

		svc := NewService(gw, store, store.Instruments(), enq, WithClock(testClock))
		sub, err := svc.Create(ctx, inst, "plan_pro", "nonce_1")
		require.NoError(t, err)

		assert.Equal(t, "plan_pro", gotReq.PlanID)
		assert.Equal(t, "tok_new", gotReq.InstrumentToken)
		assert.Equal(t, "nonce_1", gotReq.PaymentNonce)
		assert.Nil(t, gotReq.FirstBillingDate)

		assert.Equal(t, "sub_new", sub.ExternalID)
		assert.Equal(t, userID, sub.UserID)
		assert.Equal(t, inst.ID, sub.InstrumentID)
		assert.Equal(t, StatusActive, sub.Status)
		require.NotNil(t, sub.FirstBillingDate)
		assert.True(t, sub.FirstBillingDate.Equal(testNow))

		stored, err := store.GetByExternalID(ctx, "sub_new")
		require.NoError(t, err)
		assert.Equal(t, sub.ID, stored.ID)
		assert.Equal(t, []uuid.UUID{sub.ID}, enq.calls)
	})

	t.Run("rejects a second subscription on the same instrument", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		userID := uuid.New()
		inst := testInstrument(userID, "tok_1")
		require.NoError(t, store.Save(ctx, &Subscription{
			ID:           uuid.New(),
			ExternalID:   "sub_existing",
			UserID:       userID,
			InstrumentID: inst.ID,
			Status:       StatusActive,
		}))

		svc := NewService(&gatewayStub{}, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		_, err := svc.Create(ctx, inst, "plan_pro", "")
		assert.ErrorIs(t, err, ErrSubscriptionExists)
	})

	t.Run("carries an unexpired prepaid period forward", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		userID := uuid.New()
		paidThrough := testNow.AddDate(0, 0, 20)
		require.NoError(t, store.Save(ctx, &Subscription{
			ID:              uuid.New(),
			ExternalID:      "sub_old",
			UserID:          userID,
			InstrumentID:    uuid.New(),
			Status:          StatusCanceled,
			NextBillingDate: &paidThrough,
			CreatedAt:       testNow.AddDate(0, -3, 0),
		}))

		inst := testInstrument(userID, "tok_2")
		var gotReq CreateSubscriptionRequest
		gw := &gatewayStub{createFn: func(_ context.Context, req CreateSubscriptionRequest) (*Snapshot, error) {
			gotReq = req
			return activeSnapshot("sub_new"), nil
		}}

		svc := NewService(gw, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		_, err := svc.Create(ctx, inst, "plan_pro", "")
		require.NoError(t, err)

		require.NotNil(t, gotReq.FirstBillingDate)
		assert.True(t, gotReq.FirstBillingDate.Equal(paidThrough))
	})

	t.Run("supersedes the user's other instruments", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		userID := uuid.New()
		oldInst := testInstrument(userID, "tok_old")
		newInst := testInstrument(userID, "tok_new")
		require.NoError(t, store.SaveInstrument(ctx, oldInst))
		require.NoError(t, store.SaveInstrument(ctx, newInst))

		gw := &gatewayStub{createFn: func(_ context.Context, req CreateSubscriptionRequest) (*Snapshot, error) {
			return activeSnapshot("sub_new"), nil
		}}

		svc := NewService(gw, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		_, err := svc.Create(ctx, newInst, "plan_pro", "")
		require.NoError(t, err)

		_, err = store.GetByToken(ctx, userID, "tok_old")
		assert.ErrorIs(t, err, ErrInstrumentNotFound)

		kept, err := store.GetByToken(ctx, userID, "tok_new")
		require.NoError(t, err)
		assert.True(t, kept.Live())
	})

	t.Run("gateway failure surfaces as create error", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		gw := &gatewayStub{createFn: func(_ context.Context, req CreateSubscriptionRequest) (*Snapshot, error) {
			return nil, errors.New("card declined")
		}}

		svc := NewService(gw, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		_, err := svc.Create(ctx, testInstrument(uuid.New(), "tok_1"), "plan_pro", "")
		assert.ErrorIs(t, err, ErrCreateFailed)
	})

	t.Run("failed entitlement enqueue does not fail the create", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		enq := &enqueueRecorder{err: errors.New("queue down")}
		gw := &gatewayStub{createFn: func(_ context.Context, req CreateSubscriptionRequest) (*Snapshot, error) {
			return activeSnapshot("sub_new"), nil
		}}

		svc := NewService(gw, store, store.Instruments(), enq, WithClock(testClock))
		sub, err := svc.Create(ctx, testInstrument(uuid.New(), "tok_1"), "plan_pro", "")
		require.NoError(t, err)
		assert.NotNil(t, sub)
	})

	t.Run("dispatches join notifications", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		notifier := &notifierRecorder{}
		gw := &gatewayStub{createFn: func(_ context.Context, req CreateSubscriptionRequest) (*Snapshot, error) {
			return activeSnapshot("sub_new"), nil
		}}

		svc := NewService(gw, store, store.Instruments(), &enqueueRecorder{},
			WithClock(testClock),
			WithNotifier(notifier),
			WithActivitySource(&activityStub{active: true}))

		_, err := svc.Create(ctx, testInstrument(uuid.New(), "tok_1"), "plan_pro", "")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			joins, prior := notifier.counts()
			return joins == 1 && prior == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("no prior activity sends only the confirmation", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		notifier := &notifierRecorder{}
		gw := &gatewayStub{createFn: func(_ context.Context, req CreateSubscriptionRequest) (*Snapshot, error) {
			return activeSnapshot("sub_new"), nil
		}}

		svc := NewService(gw, store, store.Instruments(), &enqueueRecorder{},
			WithClock(testClock),
			WithNotifier(notifier),
			WithActivitySource(&activityStub{active: false}))

		_, err := svc.Create(ctx, testInstrument(uuid.New(), "tok_1"), "plan_pro", "")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			joins, _ := notifier.counts()
			return joins == 1
		}, time.Second, 10*time.Millisecond)

		_, prior := notifier.counts()
		assert.Zero(t, prior)
	})

	t.Run("nil instrument", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		svc := NewService(&gatewayStub{}, store, store.Instruments(), &enqueueRecorder{})
		_, err := svc.Create(ctx, nil, "plan_pro", "")
		assert.ErrorIs(t, err, ErrInstrumentNotFound)
	})
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("cancels at the gateway and locally", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		sub := &Subscription{ID: uuid.New(), ExternalID: "sub_1", UserID: uuid.New(), Status: StatusActive}
		require.NoError(t, store.Save(ctx, sub))

		var canceledID string
		gw := &gatewayStub{cancelFn: func(_ context.Context, externalID string) error {
			canceledID = externalID
			return nil
		}}

		svc := NewService(gw, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		require.NoError(t, svc.Cancel(ctx, sub))

		assert.Equal(t, "sub_1", canceledID)
		assert.Equal(t, StatusCanceled, sub.Status)

		stored, err := store.GetByExternalID(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, StatusCanceled, stored.Status)
	})

	t.Run("terminal subscription is unavailable", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		svc := NewService(&gatewayStub{}, store, store.Instruments(), &enqueueRecorder{})

		sub := &Subscription{ID: uuid.New(), Status: StatusCanceled}
		assert.ErrorIs(t, svc.Cancel(ctx, sub), ErrSubscriptionUnavailable)
	})

	t.Run("gateway failure keeps local state", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		sub := &Subscription{ID: uuid.New(), ExternalID: "sub_1", Status: StatusActive}
		require.NoError(t, store.Save(ctx, sub))

		gw := &gatewayStub{cancelFn: func(_ context.Context, externalID string) error {
			return errors.New("gateway timeout")
		}}

		svc := NewService(gw, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		err := svc.Cancel(ctx, sub)
		assert.ErrorIs(t, err, ErrCancelFailed)
		assert.Equal(t, StatusActive, sub.Status)
	})
}

func TestService_MarkCanceled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("defers to the commitment date", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		first := testNow.AddDate(0, -6, 0)
		sub := &Subscription{
			ID:                  uuid.New(),
			ExternalID:          "sub_1",
			UserID:              uuid.New(),
			Status:              StatusActive,
			CurrentBillingCycle: 6,
			FirstBillingDate:    &first,
			CreatedAt:           first,
		}
		require.NoError(t, store.Save(ctx, sub))

		svc := NewService(&gatewayStub{}, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		require.NoError(t, svc.MarkCanceled(ctx, sub))

		require.NotNil(t, sub.CancelDate)
		assert.True(t, sub.CancelDate.Equal(first.AddDate(1, 0, 0)))

		stored, err := store.GetByExternalID(ctx, "sub_1")
		require.NoError(t, err)
		require.NotNil(t, stored.CancelDate)
	})

	t.Run("second deferral does not move the date", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		first := testNow.AddDate(0, -6, 0)
		scheduled := first.AddDate(1, 0, 0)
		sub := &Subscription{
			ID:                  uuid.New(),
			ExternalID:          "sub_1",
			UserID:              uuid.New(),
			Status:              StatusActive,
			CurrentBillingCycle: 6,
			FirstBillingDate:    &first,
			CancelDate:          &scheduled,
		}
		require.NoError(t, store.Save(ctx, sub))

		svc := NewService(&gatewayStub{}, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		err := svc.MarkCanceled(ctx, sub)
		assert.ErrorIs(t, err, ErrCancellationAlreadyScheduled)
		assert.True(t, sub.CancelDate.Equal(scheduled))
	})

	t.Run("commitment comes from the first ever paid subscription", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		userID := uuid.New()
		earliest := testNow.AddDate(0, -8, 0)
		require.NoError(t, store.Save(ctx, &Subscription{
			ID:                  uuid.New(),
			ExternalID:          "sub_first",
			UserID:              userID,
			Status:              StatusCanceled,
			CurrentBillingCycle: 3,
			FirstBillingDate:    &earliest,
			CreatedAt:           earliest,
		}))

		own := testNow.AddDate(0, -2, 0)
		sub := &Subscription{
			ID:                  uuid.New(),
			ExternalID:          "sub_current",
			UserID:              userID,
			Status:              StatusActive,
			CurrentBillingCycle: 2,
			FirstBillingDate:    &own,
			CreatedAt:           own,
		}
		require.NoError(t, store.Save(ctx, sub))

		svc := NewService(&gatewayStub{}, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		require.NoError(t, svc.MarkCanceled(ctx, sub))

		require.NotNil(t, sub.CancelDate)
		assert.True(t, sub.CancelDate.Equal(earliest.AddDate(1, 0, 0)))
	})

	t.Run("cancels immediately once the commitment has passed", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		first := testNow.AddDate(-2, 0, 0)
		sub := &Subscription{
			ID:                  uuid.New(),
			ExternalID:          "sub_1",
			UserID:              uuid.New(),
			Status:              StatusActive,
			CurrentBillingCycle: 24,
			FirstBillingDate:    &first,
		}
		require.NoError(t, store.Save(ctx, sub))

		var canceled bool
		gw := &gatewayStub{cancelFn: func(_ context.Context, externalID string) error {
			canceled = true
			return nil
		}}

		svc := NewService(gw, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		require.NoError(t, svc.MarkCanceled(ctx, sub))

		assert.True(t, canceled)
		assert.Equal(t, StatusCanceled, sub.Status)
		assert.Nil(t, sub.CancelDate)
	})

	t.Run("missing first billing date is a hard error", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		sub := &Subscription{ID: uuid.New(), ExternalID: "sub_1", UserID: uuid.New(), Status: StatusActive}
		require.NoError(t, store.Save(ctx, sub))

		svc := NewService(&gatewayStub{}, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		err := svc.MarkCanceled(ctx, sub)
		assert.ErrorIs(t, err, ErrMissingFirstBillingDate)
	})
}

func TestService_UpdatePaymentMethod(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("repoints to the new instrument", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		userID := uuid.New()
		oldInst := testInstrument(userID, "tok_old")
		newInst := testInstrument(userID, "tok_new")
		require.NoError(t, store.SaveInstrument(ctx, oldInst))
		require.NoError(t, store.SaveInstrument(ctx, newInst))

		sub := &Subscription{
			ID:           uuid.New(),
			ExternalID:   "sub_1",
			UserID:       userID,
			InstrumentID: oldInst.ID,
			Status:       StatusActive,
		}
		require.NoError(t, store.Save(ctx, sub))

		var gotExternalID, gotToken string
		gw := &gatewayStub{updateFn: func(_ context.Context, externalID, token string) error {
			gotExternalID, gotToken = externalID, token
			return nil
		}}

		svc := NewService(gw, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		require.NoError(t, svc.UpdatePaymentMethod(ctx, sub, "tok_new"))

		assert.Equal(t, "sub_1", gotExternalID)
		assert.Equal(t, "tok_new", gotToken)
		assert.Equal(t, newInst.ID, sub.InstrumentID)

		stored, err := store.GetByExternalID(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, newInst.ID, stored.InstrumentID)

		// The replaced instrument is superseded.
		_, err = store.GetByToken(ctx, userID, "tok_old")
		assert.ErrorIs(t, err, ErrInstrumentNotFound)
	})

	t.Run("unknown token", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		sub := &Subscription{ID: uuid.New(), ExternalID: "sub_1", UserID: uuid.New(), Status: StatusActive}
		require.NoError(t, store.Save(ctx, sub))

		svc := NewService(&gatewayStub{}, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		err := svc.UpdatePaymentMethod(ctx, sub, "tok_missing")
		assert.ErrorIs(t, err, ErrInstrumentNotFound)
	})

	t.Run("another user's token is not visible", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		other := testInstrument(uuid.New(), "tok_other")
		require.NoError(t, store.SaveInstrument(ctx, other))

		sub := &Subscription{ID: uuid.New(), ExternalID: "sub_1", UserID: uuid.New(), Status: StatusActive}
		require.NoError(t, store.Save(ctx, sub))

		svc := NewService(&gatewayStub{}, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		err := svc.UpdatePaymentMethod(ctx, sub, "tok_other")
		assert.ErrorIs(t, err, ErrInstrumentNotFound)
	})

	t.Run("terminal subscription is unavailable", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		svc := NewService(&gatewayStub{}, store, store.Instruments(), &enqueueRecorder{})

		sub := &Subscription{ID: uuid.New(), Status: StatusExpired}
		assert.ErrorIs(t, svc.UpdatePaymentMethod(ctx, sub, "tok_1"), ErrSubscriptionUnavailable)
	})
}

func TestService_RetryCharge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("recovers to active on success", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		since := testNow.AddDate(0, 0, -5)
		sub := &Subscription{
			ID:           uuid.New(),
			ExternalID:   "sub_1",
			UserID:       uuid.New(),
			Status:       StatusPastDue,
			Balance:      decimal.New(1999, -2),
			PastDueSince: &since,
		}
		require.NoError(t, store.Save(ctx, sub))

		var gotAmount decimal.Decimal
		gw := &gatewayStub{retryFn: func(_ context.Context, externalID string, amount decimal.Decimal) error {
			gotAmount = amount
			return nil
		}}

		svc := NewService(gw, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		require.NoError(t, svc.RetryCharge(ctx, sub))

		assert.True(t, gotAmount.Equal(decimal.New(1999, -2)))
		assert.Equal(t, StatusActive, sub.Status)
		assert.Nil(t, sub.PastDueSince)
	})

	t.Run("charge failure keeps past due state", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		since := testNow.AddDate(0, 0, -5)
		sub := &Subscription{
			ID:           uuid.New(),
			ExternalID:   "sub_1",
			Status:       StatusPastDue,
			PastDueSince: &since,
		}
		require.NoError(t, store.Save(ctx, sub))

		gw := &gatewayStub{retryFn: func(_ context.Context, externalID string, amount decimal.Decimal) error {
			return errors.New("card declined")
		}}

		svc := NewService(gw, store, store.Instruments(), &enqueueRecorder{}, WithClock(testClock))
		err := svc.RetryCharge(ctx, sub)
		assert.ErrorIs(t, err, ErrRetryChargeFailed)
		assert.Equal(t, StatusPastDue, sub.Status)
		assert.NotNil(t, sub.PastDueSince)
	})
}

func TestNewService_PanicsOnNilDeps(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	enq := &enqueueRecorder{}

	assert.Panics(t, func() { NewService(nil, store, store.Instruments(), enq) })
	assert.Panics(t, func() { NewService(&gatewayStub{}, nil, store.Instruments(), enq) })
	assert.Panics(t, func() { NewService(&gatewayStub{}, store, nil, enq) })
	assert.Panics(t, func() { NewService(&gatewayStub{}, store, store.Instruments(), nil) })
}
