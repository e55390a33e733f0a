package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscription_Available(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status Status
		want   bool
	}{
		{StatusPending, true},
		{StatusActive, true},
		{StatusPastDue, true},
		{StatusExpired, false},
		{StatusCanceled, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			t.Parallel()

			sub := &Subscription{Status: tc.status}
			assert.Equal(t, tc.want, sub.Available())
		})
	}
}

func TestSubscription_PastDue(t *testing.T) {
	t.Parallel()

	assert.True(t, (&Subscription{Status: StatusPastDue}).PastDue())
	assert.False(t, (&Subscription{Status: StatusActive}).PastDue())
}

func TestSubscription_Paid(t *testing.T) {
	t.Parallel()

	first := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	t.Run("charged at least once", func(t *testing.T) {
		t.Parallel()

		sub := &Subscription{CurrentBillingCycle: 1, FirstBillingDate: &first}
		assert.True(t, sub.Paid())
	})

	t.Run("never charged", func(t *testing.T) {
		t.Parallel()

		sub := &Subscription{CurrentBillingCycle: 0, FirstBillingDate: &first}
		assert.False(t, sub.Paid())
	})

	t.Run("no first billing date", func(t *testing.T) {
		t.Parallel()

		sub := &Subscription{CurrentBillingCycle: 2}
		assert.False(t, sub.Paid())
	})
}
