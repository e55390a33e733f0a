package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

const subscriptionColumns = `id, external_id, user_id, instrument_id, plan_id, status,
	balance, price, next_billing_period_amount,
	billing_day_of_month, current_billing_cycle, days_past_due,
	billing_period_start, billing_period_end, first_billing_date,
	paid_through_date, next_billing_date, cancel_date, past_due_since,
	reminder_status, created_at, updated_at`

const instrumentColumns = `id, user_id, instrument_type, token,
	card_brand, card_last4, card_exp_month, card_exp_year,
	billing_name, billing_email, deleted_at, created_at, updated_at`

// PgSubscriptionStore is the PostgreSQL implementation of
// billing.SubscriptionStore. Composite operations run inside a single
// transaction; the schema's partial unique index on live instrument bindings
// closes the create race the service-level pre-check leaves open.
type PgSubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewPgSubscriptionStore creates a subscription store backed by the pool.
// Panics on a nil pool.
func NewPgSubscriptionStore(pool *pgxpool.Pool) *PgSubscriptionStore {
	if pool == nil {
		panic("membership: pgxpool is required")
	}
	return &PgSubscriptionStore{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*billing.Subscription, error) {
	var (
		sub      billing.Subscription
		reminder []byte
	)
	err := row.Scan(
		&sub.ID, &sub.ExternalID, &sub.UserID, &sub.InstrumentID, &sub.PlanID, &sub.Status,
		&sub.Balance, &sub.Price, &sub.NextBillingPeriodAmount,
		&sub.BillingDayOfMonth, &sub.CurrentBillingCycle, &sub.DaysPastDue,
		&sub.BillingPeriodStart, &sub.BillingPeriodEnd, &sub.FirstBillingDate,
		&sub.PaidThroughDate, &sub.NextBillingDate, &sub.CancelDate, &sub.PastDueSince,
		&reminder, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.ReminderStatus = map[string]time.Time{}
	if len(reminder) > 0 {
		if err := json.Unmarshal(reminder, &sub.ReminderStatus); err != nil {
			return nil, fmt.Errorf("decode reminder_status for subscription %s: %w", sub.ID, err)
		}
	}
	return &sub, nil
}

func (s *PgSubscriptionStore) getBy(ctx context.Context, where string, args ...any) (*billing.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + where
	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (s *PgSubscriptionStore) GetByExternalID(ctx context.Context, externalID string) (*billing.Subscription, error) {
	return s.getBy(ctx, `external_id = $1`, externalID)
}

func (s *PgSubscriptionStore) FindAvailableByInstrument(ctx context.Context, instrumentID uuid.UUID) (*billing.Subscription, error) {
	return s.getBy(ctx, `instrument_id = $1 AND status NOT IN ('expired', 'canceled') LIMIT 1`, instrumentID)
}

func (s *PgSubscriptionStore) FirstPaidByUser(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	return s.getBy(ctx, `user_id = $1
		AND current_billing_cycle >= 1
		AND first_billing_date IS NOT NULL
		ORDER BY created_at ASC
		LIMIT 1`, userID)
}

func (s *PgSubscriptionStore) CanceledBeforeExpired(ctx context.Context, userID uuid.UUID, asOf time.Time) (*billing.Subscription, error) {
	return s.getBy(ctx, `user_id = $1
		AND status = 'canceled'
		AND next_billing_date > $2
		ORDER BY created_at DESC
		LIMIT 1`, userID, asOf)
}

func (s *PgSubscriptionStore) ListDueForCancellation(ctx context.Context, asOf time.Time) ([]*billing.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE status NOT IN ('expired', 'canceled')
		AND cancel_date IS NOT NULL
		AND cancel_date <= $1
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*billing.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, sub)
	}
	return due, rows.Err()
}

const upsertSubscription = `INSERT INTO subscriptions (` + subscriptionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	ON CONFLICT (id) DO UPDATE SET
		external_id = EXCLUDED.external_id,
		instrument_id = EXCLUDED.instrument_id,
		plan_id = EXCLUDED.plan_id,
		status = EXCLUDED.status,
		balance = EXCLUDED.balance,
		price = EXCLUDED.price,
		next_billing_period_amount = EXCLUDED.next_billing_period_amount,
		billing_day_of_month = EXCLUDED.billing_day_of_month,
		current_billing_cycle = EXCLUDED.current_billing_cycle,
		days_past_due = EXCLUDED.days_past_due,
		billing_period_start = EXCLUDED.billing_period_start,
		billing_period_end = EXCLUDED.billing_period_end,
		first_billing_date = EXCLUDED.first_billing_date,
		paid_through_date = EXCLUDED.paid_through_date,
		next_billing_date = EXCLUDED.next_billing_date,
		cancel_date = EXCLUDED.cancel_date,
		past_due_since = EXCLUDED.past_due_since,
		reminder_status = EXCLUDED.reminder_status,
		updated_at = EXCLUDED.updated_at`

func subscriptionArgs(sub *billing.Subscription) ([]any, error) {
	reminder, err := json.Marshal(sub.ReminderStatus)
	if err != nil {
		return nil, fmt.Errorf("encode reminder_status for subscription %s: %w", sub.ID, err)
	}
	if sub.ReminderStatus == nil {
		reminder = []byte(`{}`)
	}
	return []any{
		sub.ID, sub.ExternalID, sub.UserID, sub.InstrumentID, sub.PlanID, sub.Status,
		sub.Balance, sub.Price, sub.NextBillingPeriodAmount,
		sub.BillingDayOfMonth, sub.CurrentBillingCycle, sub.DaysPastDue,
		sub.BillingPeriodStart, sub.BillingPeriodEnd, sub.FirstBillingDate,
		sub.PaidThroughDate, sub.NextBillingDate, sub.CancelDate, sub.PastDueSince,
		reminder, sub.CreatedAt, sub.UpdatedAt,
	}, nil
}

func (s *PgSubscriptionStore) Save(ctx context.Context, sub *billing.Subscription) error {
	args, err := subscriptionArgs(sub)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, upsertSubscription, args...)
	return err
}

func (s *PgSubscriptionStore) CreateWithInstrumentCleanup(ctx context.Context, sub *billing.Subscription, keepToken string) error {
	args, err := subscriptionArgs(sub)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertSubscription, args...); err != nil {
			return err
		}
		return supersedeInstruments(ctx, tx, sub.UserID, keepToken)
	})
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return billing.ErrSubscriptionExists
		}
		return err
	}
	return nil
}

func (s *PgSubscriptionStore) RepointInstrument(ctx context.Context, sub *billing.Subscription, inst *billing.PaymentInstrument) error {
	now := time.Now().UTC()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE subscriptions SET instrument_id = $1, updated_at = $2 WHERE id = $3`,
			inst.ID, now, sub.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return billing.ErrSubscriptionNotFound
		}
		return supersedeInstruments(ctx, tx, sub.UserID, inst.Token)
	})
	if err != nil {
		return err
	}

	sub.InstrumentID = inst.ID
	sub.UpdatedAt = now
	return nil
}

// supersedeInstruments soft-deletes every live instrument of the user except
// the one carrying keepToken.
func supersedeInstruments(ctx context.Context, tx pgx.Tx, userID uuid.UUID, keepToken string) error {
	_, err := tx.Exec(ctx,
		`UPDATE payment_instruments SET deleted_at = now(), updated_at = now()
		 WHERE user_id = $1 AND token <> $2 AND deleted_at IS NULL`,
		userID, keepToken)
	return err
}

// PgInstrumentStore is the PostgreSQL implementation of
// billing.InstrumentStore.
type PgInstrumentStore struct {
	pool *pgxpool.Pool
}

// NewPgInstrumentStore creates an instrument store backed by the pool.
// Panics on a nil pool.
func NewPgInstrumentStore(pool *pgxpool.Pool) *PgInstrumentStore {
	if pool == nil {
		panic("membership: pgxpool is required")
	}
	return &PgInstrumentStore{pool: pool}
}

func scanInstrument(row rowScanner) (*billing.PaymentInstrument, error) {
	var inst billing.PaymentInstrument
	err := row.Scan(
		&inst.ID, &inst.UserID, &inst.Type, &inst.Token,
		&inst.CardBrand, &inst.CardLast4, &inst.CardExpMonth, &inst.CardExpYear,
		&inst.BillingName, &inst.BillingEmail, &inst.DeletedAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *PgInstrumentStore) getBy(ctx context.Context, where string, args ...any) (*billing.PaymentInstrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM payment_instruments WHERE ` + where
	inst, err := scanInstrument(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrInstrumentNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *PgInstrumentStore) GetByToken(ctx context.Context, userID uuid.UUID, token string) (*billing.PaymentInstrument, error) {
	return s.getBy(ctx, `user_id = $1 AND token = $2 AND deleted_at IS NULL`, userID, token)
}

func (s *PgInstrumentStore) FindByToken(ctx context.Context, token string) (*billing.PaymentInstrument, error) {
	return s.getBy(ctx, `token = $1 AND deleted_at IS NULL LIMIT 1`, token)
}

func (s *PgInstrumentStore) Save(ctx context.Context, inst *billing.PaymentInstrument) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO payment_instruments (`+instrumentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			instrument_type = EXCLUDED.instrument_type,
			token = EXCLUDED.token,
			card_brand = EXCLUDED.card_brand,
			card_last4 = EXCLUDED.card_last4,
			card_exp_month = EXCLUDED.card_exp_month,
			card_exp_year = EXCLUDED.card_exp_year,
			billing_name = EXCLUDED.billing_name,
			billing_email = EXCLUDED.billing_email,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = EXCLUDED.updated_at`,
		inst.ID, inst.UserID, inst.Type, inst.Token,
		inst.CardBrand, inst.CardLast4, inst.CardExpMonth, inst.CardExpYear,
		inst.BillingName, inst.BillingEmail, inst.DeletedAt, inst.CreatedAt, inst.UpdatedAt,
	)
	return err
}

func (s *PgInstrumentStore) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payment_instruments SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either already tombstoned (a no-op by contract) or unknown.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM payment_instruments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return billing.ErrInstrumentNotFound
		}
	}
	return nil
}

var (
	_ billing.SubscriptionStore = (*PgSubscriptionStore)(nil)
	_ billing.InstrumentStore   = (*PgInstrumentStore)(nil)
)
