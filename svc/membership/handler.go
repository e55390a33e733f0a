package membership

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// maxWebhookBody bounds webhook request bodies. Gateway events are small;
// anything larger is hostile.
const maxWebhookBody = 1 << 20

// Deduper drops replayed webhook deliveries. Seen reports whether the event
// id was already marked within the retention window, marking it as a side
// effect.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// RedisDeduper implements Deduper with a SET NX key per event id.
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper retaining event ids for ttl. Panics on a
// nil client.
func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("membership: redis client is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, "billing:webhook:"+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// WebhookHandler is the HTTP ingestion boundary for gateway notifications.
// The response contract follows the gateway's retry semantics: 400 only for
// an invalid signature, 200 for everything else. Processing failures are
// logged and acknowledged; reconciliation is idempotent, so state repairs
// itself on the next event for the same subscription.
type WebhookHandler struct {
	gateway   billing.Gateway
	processor *billing.Processor
	deduper   Deduper
	log       *slog.Logger
}

// WebhookOption configures a WebhookHandler.
type WebhookOption func(*WebhookHandler)

// WithDeduper attaches delivery deduplication. Without one every delivery is
// processed; reconciliation stays correct, just more expensive.
func WithDeduper(d Deduper) WebhookOption {
	return func(h *WebhookHandler) { h.deduper = d }
}

// WithWebhookLogger sets the structured logger.
func WithWebhookLogger(log *slog.Logger) WebhookOption {
	return func(h *WebhookHandler) {
		if log != nil {
			h.log = log
		}
	}
}

// NewWebhookHandler creates the webhook handler. Panics if gateway or
// processor is nil.
func NewWebhookHandler(gateway billing.Gateway, processor *billing.Processor, opts ...WebhookOption) *WebhookHandler {
	if gateway == nil {
		panic("membership: billing gateway is required")
	}
	if processor == nil {
		panic("membership: webhook processor is required")
	}

	h := &WebhookHandler{
		gateway:   gateway,
		processor: processor,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the webhook endpoint on a chi router.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhooks/billing", h.ServeHTTP)
	return r
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.log.ErrorContext(ctx, "failed to read webhook body", slog.Any("error", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	event, err := h.gateway.ParseWebhook(ctx, payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidWebhookSignature) {
			h.log.WarnContext(ctx, "webhook signature verification failed", slog.Any("error", err))
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
		h.log.ErrorContext(ctx, "failed to parse webhook", slog.Any("error", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.deduper != nil && event.ID != "" {
		seen, err := h.deduper.Seen(ctx, event.ID)
		if err != nil {
			// Dedup is an optimization; on cache trouble fall through and
			// rely on idempotent reconciliation.
			h.log.WarnContext(ctx, "webhook dedup check failed", slog.Any("error", err))
		} else if seen {
			h.log.DebugContext(ctx, "dropping replayed webhook delivery",
				slog.String("event_id", event.ID),
				slog.String("kind", string(event.Kind)))
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if err := h.processor.Process(ctx, event); err != nil {
		h.log.ErrorContext(ctx, "webhook processing failed",
			slog.String("event_id", event.ID),
			slog.String("kind", string(event.Kind)),
			slog.Any("error", err))
	}

	w.WriteHeader(http.StatusOK)
}
