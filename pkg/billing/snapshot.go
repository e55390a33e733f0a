package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the full set of billing fields the gateway reports for a
// subscription at a point in time. Both the create path and the webhook
// reconciliation path go through Snapshot.Apply so field derivation never
// diverges between them.
type Snapshot struct {
	ExternalID string
	PlanID     string

	// Status is the raw gateway-reported status. It is normalized when the
	// snapshot is applied and rejected if it falls outside the closed set.
	Status string

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
}

// NormalizeStatus maps a raw gateway status onto the closed Status set.
// Gateways report statuses in mixed case with spaces ("Past Due"); local
// state only ever stores the normalized form. Values outside the set are
// rejected with ErrUnknownStatus rather than stored silently, since the
// lifecycle state machine assumes a closed set.
func NormalizeStatus(raw string) (Status, error) {
	s := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_"))
	switch s {
	case StatusPending, StatusActive, StatusPastDue, StatusExpired, StatusCanceled:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// Apply copies the gateway-reported billing fields onto the local record.
// It is a pure field mapping: no side effects, no derived-state recomputation.
// FirstBillingDate is deliberately not part of the mapping; it is fixed at
// creation time and webhook refreshes must not move it.
func (snap *Snapshot) Apply(sub *Subscription) error {
	status, err := NormalizeStatus(snap.Status)
	if err != nil {
		return err
	}

	sub.PlanID = snap.PlanID
	sub.Status = status
	sub.Balance = snap.Balance
	sub.Price = snap.Price
	sub.NextBillingPeriodAmount = snap.NextBillingPeriodAmount
	sub.BillingDayOfMonth = snap.BillingDayOfMonth
	sub.CurrentBillingCycle = snap.CurrentBillingCycle
	sub.DaysPastDue = snap.DaysPastDue
	sub.BillingPeriodStart = cloneDate(snap.BillingPeriodStart)
	sub.BillingPeriodEnd = cloneDate(snap.BillingPeriodEnd)
	sub.PaidThroughDate = cloneDate(snap.PaidThroughDate)
	sub.NextBillingDate = cloneDate(snap.NextBillingDate)

	return nil
}

func cloneDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
