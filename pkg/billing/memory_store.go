package billing

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of SubscriptionStore and
// InstrumentStore for tests and local development. Records are deep-copied
// on the way in and out so callers cannot mutate stored state, mirroring the
// value semantics of a real database.
type MemoryStore struct {
	mu            sync.RWMutex
	subscriptions map[uuid.UUID]*Subscription
	instruments   map[uuid.UUID]*PaymentInstrument
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[uuid.UUID]*Subscription),
		instruments:   make(map[uuid.UUID]*PaymentInstrument),
	}
}

// Instruments returns the InstrumentStore view over the same underlying
// state. A separate view is needed because both store interfaces declare a
// Save method.
func (m *MemoryStore) Instruments() InstrumentStore {
	return memoryInstruments{m}
}

type memoryInstruments struct{ *MemoryStore }

func (v memoryInstruments) Save(ctx context.Context, inst *PaymentInstrument) error {
	return v.SaveInstrument(ctx, inst)
}

func (m *MemoryStore) GetByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscriptions {
		if sub.ExternalID == externalID {
			return cloneSubscription(sub), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) FindAvailableByInstrument(ctx context.Context, instrumentID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscriptions {
		if sub.InstrumentID == instrumentID && sub.Available() {
			return cloneSubscription(sub), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) FirstPaidByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var first *Subscription
	for _, sub := range m.subscriptions {
		if sub.UserID != userID || !sub.Paid() {
			continue
		}
		if first == nil || sub.CreatedAt.Before(first.CreatedAt) {
			first = sub
		}
	}
	if first == nil {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(first), nil
}

func (m *MemoryStore) CanceledBeforeExpired(ctx context.Context, userID uuid.UUID, asOf time.Time) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Subscription
	for _, sub := range m.subscriptions {
		if sub.UserID != userID || sub.Status != StatusCanceled {
			continue
		}
		if sub.NextBillingDate == nil || !sub.NextBillingDate.After(asOf) {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(latest), nil
}

func (m *MemoryStore) ListDueForCancellation(ctx context.Context, asOf time.Time) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*Subscription
	for _, sub := range m.subscriptions {
		if sub.Available() && sub.CancelDate != nil && !sub.CancelDate.After(asOf) {
			due = append(due, cloneSubscription(sub))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	return due, nil
}

func (m *MemoryStore) Save(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscriptions[sub.ID] = cloneSubscription(sub)
	return nil
}

func (m *MemoryStore) CreateWithInstrumentCleanup(ctx context.Context, sub *Subscription, keepToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscriptions[sub.ID] = cloneSubscription(sub)
	m.supersedeInstrumentsLocked(sub.UserID, keepToken, time.Now().UTC())
	return nil
}

func (m *MemoryStore) RepointInstrument(ctx context.Context, sub *Subscription, inst *PaymentInstrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.subscriptions[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	stored.InstrumentID = inst.ID
	stored.UpdatedAt = time.Now().UTC()
	m.supersedeInstrumentsLocked(sub.UserID, inst.Token, time.Now().UTC())

	sub.InstrumentID = inst.ID
	sub.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m *MemoryStore) GetByToken(ctx context.Context, userID uuid.UUID, token string) (*PaymentInstrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, inst := range m.instruments {
		if inst.UserID == userID && inst.Token == token && inst.Live() {
			return cloneInstrument(inst), nil
		}
	}
	return nil, ErrInstrumentNotFound
}

func (m *MemoryStore) FindByToken(ctx context.Context, token string) (*PaymentInstrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, inst := range m.instruments {
		if inst.Token == token && inst.Live() {
			return cloneInstrument(inst), nil
		}
	}
	return nil, ErrInstrumentNotFound
}

func (m *MemoryStore) SaveInstrument(ctx context.Context, inst *PaymentInstrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.instruments[inst.ID] = cloneInstrument(inst)
	return nil
}

func (m *MemoryStore) SoftDelete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instruments[id]
	if !ok {
		return ErrInstrumentNotFound
	}
	if inst.DeletedAt == nil {
		now := time.Now().UTC()
		inst.DeletedAt = &now
	}
	return nil
}

// supersedeInstrumentsLocked soft-deletes every live instrument of the user
// except the one carrying keepToken. Callers hold the write lock.
func (m *MemoryStore) supersedeInstrumentsLocked(userID uuid.UUID, keepToken string, now time.Time) {
	for _, inst := range m.instruments {
		if inst.UserID == userID && inst.Token != keepToken && inst.Live() {
			at := now
			inst.DeletedAt = &at
		}
	}
}

func cloneSubscription(sub *Subscription) *Subscription {
	c := *sub
	c.BillingPeriodStart = cloneDate(sub.BillingPeriodStart)
	c.BillingPeriodEnd = cloneDate(sub.BillingPeriodEnd)
	c.FirstBillingDate = cloneDate(sub.FirstBillingDate)
	c.PaidThroughDate = cloneDate(sub.PaidThroughDate)
	c.NextBillingDate = cloneDate(sub.NextBillingDate)
	c.CancelDate = cloneDate(sub.CancelDate)
	c.PastDueSince = cloneDate(sub.PastDueSince)
	if sub.ReminderStatus != nil {
		c.ReminderStatus = maps.Clone(sub.ReminderStatus)
	}
	return &c
}

func cloneInstrument(inst *PaymentInstrument) *PaymentInstrument {
	c := *inst
	c.DeletedAt = cloneDate(inst.DeletedAt)
	return &c
}
