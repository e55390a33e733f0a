package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a subscription. The set is closed:
// gateway-reported statuses are normalized at the mapping boundary and
// rejected if they fall outside it.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusExpired  Status = "expired"
	StatusCanceled Status = "canceled"
)

// Subscription is the local record of a gateway-managed recurring
// subscription. It is created on successful gateway creation, mutated by
// lifecycle operations and webhook reconciliation, and never deleted:
// terminal records are retained for billing history and first-paid lookups.
type Subscription struct {
	ID           uuid.UUID
	ExternalID   string // gateway-assigned subscription identifier, unique
	UserID       uuid.UUID
	InstrumentID uuid.UUID // current payment instrument, may be repointed
	PlanID       string
	Status       Status

	Balance                 decimal.Decimal
	Price                   decimal.Decimal
	NextBillingPeriodAmount decimal.Decimal

	BillingDayOfMonth   int
	CurrentBillingCycle int
	DaysPastDue         int

	BillingPeriodStart *time.Time
	BillingPeriodEnd   *time.Time
	FirstBillingDate   *time.Time
	PaidThroughDate    *time.Time
	NextBillingDate    *time.Time

	// CancelDate is the deferred cancellation date. Once set it is never
	// overwritten by a second deferral request.
	CancelDate *time.Time

	// PastDueSince records when the subscription first entered past_due.
	// Recomputed only on an actual status change so unrelated snapshot
	// refreshes do not move it.
	PastDueSince *time.Time

	// ReminderStatus maps a reminder kind to the time it was sent. Cleared
	// whenever the subscription transitions back to active.
	ReminderStatus map[string]time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available reports whether the subscription is still live from a billing
// point of view. Expired and canceled are terminal.
func (s *Subscription) Available() bool {
	return s.Status != StatusExpired && s.Status != StatusCanceled
}

// PastDue reports whether the last charge attempt failed.
func (s *Subscription) PastDue() bool {
	return s.Status == StatusPastDue
}

// Paid reports whether the subscription has completed at least one billing
// cycle. Used for first-paid-subscription lookups backing the year
// commitment rule.
func (s *Subscription) Paid() bool {
	return s.CurrentBillingCycle >= 1 && s.FirstBillingDate != nil
}
