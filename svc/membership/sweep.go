package membership

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// CancellationSweeper executes deferred cancellations: subscriptions whose
// scheduled cancel date has arrived are canceled through the lifecycle
// service. One failing subscription never blocks the rest of the batch.
type CancellationSweeper struct {
	subs     billing.SubscriptionStore
	service  billing.Service
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// SweeperOption configures a CancellationSweeper.
type SweeperOption func(*CancellationSweeper)

// WithSweepInterval sets how often the sweep runs. Defaults to one hour.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *CancellationSweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweeperLogger sets the structured logger.
func WithSweeperLogger(log *slog.Logger) SweeperOption {
	return func(s *CancellationSweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// WithSweeperClock overrides the time source, for tests.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *CancellationSweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCancellationSweeper creates the sweeper. Panics on nil deps.
func NewCancellationSweeper(subs billing.SubscriptionStore, service billing.Service, opts ...SweeperOption) *CancellationSweeper {
	if subs == nil {
		panic("membership: subscription store is required")
	}
	if service == nil {
		panic("membership: billing service is required")
	}

	s := &CancellationSweeper{
		subs:     subs,
		service:  service,
		interval: time.Hour,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOnce cancels every subscription due as of now. Returns the number of
// successful cancellations and the first error encountered, after attempting
// the whole batch.
func (s *CancellationSweeper) SweepOnce(ctx context.Context) (int, error) {
	due, err := s.subs.ListDueForCancellation(ctx, s.now())
	if err != nil {
		return 0, err
	}

	var firstErr error
	canceled := 0
	for _, sub := range due {
		if err := s.service.Cancel(ctx, sub); err != nil {
			// Unavailable means something else already terminated it
			// between listing and canceling; nothing to do.
			if errors.Is(err, billing.ErrSubscriptionUnavailable) {
				continue
			}
			s.log.ErrorContext(ctx, "deferred cancellation failed",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("user_id", sub.UserID.String()),
				slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		canceled++
	}

	if canceled > 0 {
		s.log.InfoContext(ctx, "cancellation sweep finished",
			slog.Int("due", len(due)),
			slog.Int("canceled", canceled))
	}
	return canceled, firstErr
}

// Run sweeps on the configured interval until the context is canceled.
// Shaped for errgroup.
func (s *CancellationSweeper) Run(ctx context.Context) func() error {
	return func() error {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					s.log.ErrorContext(ctx, "cancellation sweep errored", slog.Any("error", err))
				}
			}
		}
	}
}
