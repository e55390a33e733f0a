package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want Status
	}{
		{"active", StatusActive},
		{"Active", StatusActive},
		{"Past Due", StatusPastDue},
		{"past_due", StatusPastDue},
		{" Canceled ", StatusCanceled},
		{"EXPIRED", StatusExpired},
		{"pending", StatusPending},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			t.Parallel()

			got, err := NormalizeStatus(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("unknown status is rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NormalizeStatus("paused")
		assert.ErrorIs(t, err, ErrUnknownStatus)
	})
}

func TestSnapshot_Apply(t *testing.T) {
	t.Parallel()

	periodStart := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	original := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)

	t.Run("maps all billing fields", func(t *testing.T) {
		t.Parallel()

		snap := &Snapshot{
			ExternalID:              "sub_1",
			PlanID:                  "plan_pro",
			Status:                  "Past Due",
			Balance:                 decimal.New(999, -2),
			Price:                   decimal.New(999, -2),
			NextBillingPeriodAmount: decimal.New(999, -2),
			BillingDayOfMonth:       1,
			CurrentBillingCycle:     7,
			DaysPastDue:             4,
			BillingPeriodStart:      &periodStart,
			BillingPeriodEnd:        &periodEnd,
			PaidThroughDate:         &periodEnd,
			NextBillingDate:         &periodEnd,
		}

		sub := &Subscription{Status: StatusActive}
		require.NoError(t, snap.Apply(sub))

		assert.Equal(t, "plan_pro", sub.PlanID)
		assert.Equal(t, StatusPastDue, sub.Status)
		assert.True(t, sub.Balance.Equal(decimal.New(999, -2)))
		assert.Equal(t, 7, sub.CurrentBillingCycle)
		assert.Equal(t, 4, sub.DaysPastDue)
		require.NotNil(t, sub.BillingPeriodStart)
		assert.True(t, sub.BillingPeriodStart.Equal(periodStart))
		require.NotNil(t, sub.NextBillingDate)
		assert.True(t, sub.NextBillingDate.Equal(periodEnd))
	})

	t.Run("first billing date is never moved", func(t *testing.T) {
		t.Parallel()

		later := original.AddDate(1, 0, 0)
		snap := &Snapshot{Status: "active", FirstBillingDate: &later}

		sub := &Subscription{FirstBillingDate: &original}
		require.NoError(t, snap.Apply(sub))

		require.NotNil(t, sub.FirstBillingDate)
		assert.True(t, sub.FirstBillingDate.Equal(original))
	})

	t.Run("date pointers are copied, not shared", func(t *testing.T) {
		t.Parallel()

		end := periodEnd
		snap := &Snapshot{Status: "active", BillingPeriodEnd: &end}

		sub := &Subscription{}
		require.NoError(t, snap.Apply(sub))

		end = end.AddDate(0, 1, 0)
		assert.True(t, sub.BillingPeriodEnd.Equal(periodEnd))
	})

	t.Run("unknown status rejects the whole snapshot", func(t *testing.T) {
		t.Parallel()

		snap := &Snapshot{PlanID: "plan_pro", Status: "paused"}

		sub := &Subscription{Status: StatusActive, PlanID: "plan_old"}
		assert.ErrorIs(t, snap.Apply(sub), ErrUnknownStatus)
		assert.Equal(t, "plan_old", sub.PlanID)
		assert.Equal(t, StatusActive, sub.Status)
	})
}
