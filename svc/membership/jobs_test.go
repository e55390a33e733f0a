package membership_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/queue"
	"github.com/dmitrymomot/billingkit/svc/membership"
)

type captureTaskRepo struct {
	tasks []*queue.Task
	err   error
}

func (r *captureTaskRepo) CreateTask(ctx context.Context, task *queue.Task) error {
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, task)
	return nil
}

type captureUpdater struct {
	userIDs []uuid.UUID
	subIDs  []uuid.UUID
	err     error
}

func (u *captureUpdater) Sync(ctx context.Context, userID, subscriptionID uuid.UUID) error {
	u.userIDs = append(u.userIDs, userID)
	u.subIDs = append(u.subIDs, subscriptionID)
	return u.err
}

type captureSender struct {
	sent []email.SendEmailParams
	err  error
}

func (s *captureSender) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, params)
	return nil
}

func TestQueueEnqueuer_EnqueueEntitlementUpdate(t *testing.T) {
	t.Parallel()

	repo := &captureTaskRepo{}
	enq, err := queue.NewEnqueuer(repo)
	require.NoError(t, err)

	userID := uuid.New()
	subID := uuid.New()

	adapter := membership.NewQueueEnqueuer(enq)
	require.NoError(t, adapter.EnqueueEntitlementUpdate(context.Background(), userID, subID))

	require.Len(t, repo.tasks, 1)
	task := repo.tasks[0]
	assert.Equal(t, "membership.EntitlementUpdate", task.TaskName)
	assert.Equal(t, queue.PriorityHigh, task.Priority)

	var payload membership.EntitlementUpdate
	require.NoError(t, json.Unmarshal(task.Payload, &payload))
	assert.Equal(t, userID, payload.UserID)
	assert.Equal(t, subID, payload.SubscriptionID)
}

func TestEntitlementUpdateHandler(t *testing.T) {
	t.Parallel()

	t.Run("routes by payload type name", func(t *testing.T) {
		t.Parallel()

		handler := membership.NewEntitlementUpdateHandler(&captureUpdater{})
		assert.Equal(t, "membership.EntitlementUpdate", handler.Name())
	})

	t.Run("decodes payload and syncs", func(t *testing.T) {
		t.Parallel()

		updater := &captureUpdater{}
		handler := membership.NewEntitlementUpdateHandler(updater)

		userID := uuid.New()
		subID := uuid.New()
		raw, err := json.Marshal(membership.EntitlementUpdate{UserID: userID, SubscriptionID: subID})
		require.NoError(t, err)

		require.NoError(t, handler.Handle(context.Background(), raw))
		assert.Equal(t, []uuid.UUID{userID}, updater.userIDs)
		assert.Equal(t, []uuid.UUID{subID}, updater.subIDs)
	})

	t.Run("propagates sync failure for retry", func(t *testing.T) {
		t.Parallel()

		syncErr := errors.New("entitlement backend down")
		handler := membership.NewEntitlementUpdateHandler(&captureUpdater{err: syncErr})

		raw, err := json.Marshal(membership.EntitlementUpdate{UserID: uuid.New(), SubscriptionID: uuid.New()})
		require.NoError(t, err)

		assert.ErrorIs(t, handler.Handle(context.Background(), raw), syncErr)
	})
}

func TestEmailNotificationHandler(t *testing.T) {
	t.Parallel()

	sender := &captureSender{}
	handler := membership.NewEmailNotificationHandler(sender)
	assert.Equal(t, "membership.EmailNotification", handler.Name())

	raw, err := json.Marshal(membership.EmailNotification{
		SendTo:   "member@example.com",
		Subject:  "Your membership is confirmed",
		BodyHTML: "<p>Welcome!</p>",
		Tag:      "join-confirmation",
	})
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), raw))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "member@example.com", sender.sent[0].SendTo)
	assert.Equal(t, "Your membership is confirmed", sender.sent[0].Subject)
	assert.Equal(t, "<p>Welcome!</p>", sender.sent[0].BodyHTML)
	assert.Equal(t, "join-confirmation", sender.sent[0].Tag)
}

func TestNewQueueEnqueuer_PanicsOnNil(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { membership.NewQueueEnqueuer(nil) })
}
