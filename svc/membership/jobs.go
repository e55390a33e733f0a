package membership

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/queue"
)

// EntitlementUpdate is the queue payload for recomputing a user's access
// after a subscription change. The downstream updater must be idempotent:
// both the create path and webhook reconciliation enqueue it, possibly more
// than once for the same state.
type EntitlementUpdate struct {
	UserID         uuid.UUID `json:"user_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
}

// EmailNotification is the queue payload for a single outbound email.
type EmailNotification struct {
	SendTo   string `json:"send_to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	Tag      string `json:"tag,omitempty"`
}

// EntitlementUpdater applies a user's current subscription state to whatever
// grants their access (roles, feature flags, external membership systems).
type EntitlementUpdater interface {
	Sync(ctx context.Context, userID, subscriptionID uuid.UUID) error
}

// QueueEnqueuer adapts the task queue to the billing package's
// EntitlementEnqueuer collaborator.
type QueueEnqueuer struct {
	enq *queue.Enqueuer
}

// NewQueueEnqueuer wraps the queue enqueuer. Panics on nil.
func NewQueueEnqueuer(enq *queue.Enqueuer) *QueueEnqueuer {
	if enq == nil {
		panic("membership: queue enqueuer is required")
	}
	return &QueueEnqueuer{enq: enq}
}

func (q *QueueEnqueuer) EnqueueEntitlementUpdate(ctx context.Context, userID, subscriptionID uuid.UUID) error {
	return q.enq.Enqueue(ctx, EntitlementUpdate{
		UserID:         userID,
		SubscriptionID: subscriptionID,
	}, queue.WithPriority(queue.PriorityHigh))
}

// NewEntitlementUpdateHandler builds the worker handler that routes
// EntitlementUpdate tasks to the injected updater.
func NewEntitlementUpdateHandler(updater EntitlementUpdater) queue.Handler {
	return queue.NewTaskHandler(func(ctx context.Context, p EntitlementUpdate) error {
		return updater.Sync(ctx, p.UserID, p.SubscriptionID)
	})
}

// NewEmailNotificationHandler builds the worker handler that delivers
// EmailNotification tasks through the configured sender.
func NewEmailNotificationHandler(sender email.EmailSender) queue.Handler {
	return queue.NewTaskHandler(func(ctx context.Context, p EmailNotification) error {
		return sender.SendEmail(ctx, email.SendEmailParams{
			SendTo:   p.SendTo,
			Subject:  p.Subject,
			BodyHTML: p.BodyHTML,
			Tag:      p.Tag,
		})
	})
}
