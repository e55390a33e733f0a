package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore persists subscription records. Implementations must back
// the composite operations with a single atomic transaction: a crash mid-way
// must never leave a subscription saved without its instrument fan-out, or
// the reverse.
type SubscriptionStore interface {
	// GetByExternalID resolves a subscription by the gateway-assigned
	// identifier. Returns ErrSubscriptionNotFound if no record exists.
	GetByExternalID(ctx context.Context, externalID string) (*Subscription, error)

	// FindAvailableByInstrument returns the one available (not expired or
	// canceled) subscription bound to an instrument, or
	// ErrSubscriptionNotFound.
	FindAvailableByInstrument(ctx context.Context, instrumentID uuid.UUID) (*Subscription, error)

	// FirstPaidByUser returns the earliest subscription of the user that
	// completed at least one billing cycle, or ErrSubscriptionNotFound.
	// Backs the year-commitment computation.
	FirstPaidByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// CanceledBeforeExpired returns the most recent canceled subscription of
	// the user whose next billing date is still after asOf, or
	// ErrSubscriptionNotFound. Backs the prepaid-period carry-forward on
	// resubscribe.
	CanceledBeforeExpired(ctx context.Context, userID uuid.UUID, asOf time.Time) (*Subscription, error)

	// ListDueForCancellation returns available subscriptions whose deferred
	// cancel date has arrived.
	ListDueForCancellation(ctx context.Context, asOf time.Time) ([]*Subscription, error)

	// Save upserts a single subscription record.
	Save(ctx context.Context, sub *Subscription) error

	// CreateWithInstrumentCleanup atomically inserts the subscription and
	// soft-deletes every other live instrument of the owner (all tokens
	// except keepToken).
	CreateWithInstrumentCleanup(ctx context.Context, sub *Subscription, keepToken string) error

	// RepointInstrument atomically moves the subscription onto inst and
	// soft-deletes the owner's other live instruments. On success the
	// passed record reflects the new instrument.
	RepointInstrument(ctx context.Context, sub *Subscription, inst *PaymentInstrument) error
}

// InstrumentStore persists payment instruments. Deletion is always a
// soft-delete: rows are tombstoned, never removed.
type InstrumentStore interface {
	// GetByToken returns the user's live instrument with the given gateway
	// token, or ErrInstrumentNotFound.
	GetByToken(ctx context.Context, userID uuid.UUID, token string) (*PaymentInstrument, error)

	// FindByToken returns the live instrument with the given token across
	// all owners, or ErrInstrumentNotFound. Used when the gateway reports a
	// revoked token without naming the owner.
	FindByToken(ctx context.Context, token string) (*PaymentInstrument, error)

	// Save upserts an instrument record.
	Save(ctx context.Context, inst *PaymentInstrument) error

	// SoftDelete tombstones an instrument. Deleting an already-deleted
	// instrument is a no-op.
	SoftDelete(ctx context.Context, id uuid.UUID) error
}
