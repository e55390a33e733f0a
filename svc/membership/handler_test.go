package membership_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/svc/membership"
)

type stubGateway struct {
	event        *billing.WebhookEvent
	err          error
	gotPayload   []byte
	gotSignature string
}

func (g *stubGateway) CreateSubscription(ctx context.Context, req billing.CreateSubscriptionRequest) (*billing.Snapshot, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) CancelSubscription(ctx context.Context, externalID string) error {
	return errors.New("not implemented")
}

func (g *stubGateway) UpdatePaymentMethod(ctx context.Context, externalID, token string) error {
	return errors.New("not implemented")
}

func (g *stubGateway) RetryCharge(ctx context.Context, externalID string, amount decimal.Decimal) error {
	return errors.New("not implemented")
}

func (g *stubGateway) ParseWebhook(ctx context.Context, payload []byte, signature string) (*billing.WebhookEvent, error) {
	g.gotPayload = payload
	g.gotSignature = signature
	return g.event, g.err
}

type stubDeduper struct {
	seen  bool
	err   error
	calls []string
}

func (d *stubDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	d.calls = append(d.calls, eventID)
	return d.seen, d.err
}

type recordingEnqueuer struct {
	calls int
}

func (e *recordingEnqueuer) EnqueueEntitlementUpdate(ctx context.Context, userID, subscriptionID uuid.UUID) error {
	e.calls++
	return nil
}

func seedSubscription(t *testing.T, store *billing.MemoryStore, externalID string) *billing.Subscription {
	t.Helper()

	sub := &billing.Subscription{
		ID:         uuid.New(),
		ExternalID: externalID,
		UserID:     uuid.New(),
		Status:     billing.StatusActive,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.Save(context.Background(), sub))
	return sub
}

func pastDueEvent(externalID string) *billing.WebhookEvent {
	return &billing.WebhookEvent{
		ID:        "evt_1",
		Kind:      billing.WebhookSubscriptionWentPastDue,
		Timestamp: time.Now().UTC(),
		Subscription: &billing.Snapshot{
			ExternalID:  externalID,
			Status:      "Past Due",
			DaysPastDue: 3,
		},
	}
}

func postWebhook(t *testing.T, h *membership.WebhookHandler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_ServeHTTP(t *testing.T) {
	t.Parallel()

	t.Run("invalid signature returns 400", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		gw := &stubGateway{err: billing.ErrInvalidWebhookSignature}
		proc := billing.NewProcessor(store, store.Instruments(), &recordingEnqueuer{})

		rec := postWebhook(t, membership.NewWebhookHandler(gw, proc), `{"type":"x"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "t=1,v1=sig", gw.gotSignature)
	})

	t.Run("malformed payload is acknowledged", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		gw := &stubGateway{err: billing.ErrMalformedWebhookPayload}
		proc := billing.NewProcessor(store, store.Instruments(), &recordingEnqueuer{})

		rec := postWebhook(t, membership.NewWebhookHandler(gw, proc), "not json")

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("valid event is reconciled", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		sub := seedSubscription(t, store, "sub_100")
		enq := &recordingEnqueuer{}
		gw := &stubGateway{event: pastDueEvent("sub_100")}
		proc := billing.NewProcessor(store, store.Instruments(), enq)

		rec := postWebhook(t, membership.NewWebhookHandler(gw, proc), `{"type":"x"}`)

		assert.Equal(t, http.StatusOK, rec.Code)

		got, err := store.GetByExternalID(context.Background(), sub.ExternalID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, got.Status)
		assert.Equal(t, 1, enq.calls)
	})

	t.Run("unknown subscription is acknowledged", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		enq := &recordingEnqueuer{}
		gw := &stubGateway{event: pastDueEvent("sub_never_created")}
		proc := billing.NewProcessor(store, store.Instruments(), enq)

		rec := postWebhook(t, membership.NewWebhookHandler(gw, proc), `{"type":"x"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, enq.calls)
	})

	t.Run("replayed delivery is dropped", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		sub := seedSubscription(t, store, "sub_100")
		enq := &recordingEnqueuer{}
		gw := &stubGateway{event: pastDueEvent("sub_100")}
		proc := billing.NewProcessor(store, store.Instruments(), enq)
		dedup := &stubDeduper{seen: true}

		h := membership.NewWebhookHandler(gw, proc, membership.WithDeduper(dedup))
		rec := postWebhook(t, h, `{"type":"x"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"evt_1"}, dedup.calls)
		assert.Zero(t, enq.calls)

		got, err := store.GetByExternalID(context.Background(), sub.ExternalID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)
	})

	t.Run("dedup failure falls through to processing", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		sub := seedSubscription(t, store, "sub_100")
		enq := &recordingEnqueuer{}
		gw := &stubGateway{event: pastDueEvent("sub_100")}
		proc := billing.NewProcessor(store, store.Instruments(), enq)
		dedup := &stubDeduper{err: errors.New("redis down")}

		h := membership.NewWebhookHandler(gw, proc, membership.WithDeduper(dedup))
		rec := postWebhook(t, h, `{"type":"x"}`)

		assert.Equal(t, http.StatusOK, rec.Code)

		got, err := store.GetByExternalID(context.Background(), sub.ExternalID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, got.Status)
		assert.Equal(t, 1, enq.calls)
	})
}

func TestNewWebhookHandler_PanicsOnNilDeps(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	proc := billing.NewProcessor(store, store.Instruments(), &recordingEnqueuer{})

	assert.Panics(t, func() { membership.NewWebhookHandler(nil, proc) })
	assert.Panics(t, func() { membership.NewWebhookHandler(&stubGateway{}, nil) })
}
