package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type SubscriptionRepository struct {
	mu            sync.Mutex
	Subscriptions map[uuid.UUID]model.Subscription // keyed by subaccount id
	CreateErr     error
}

func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{Subscriptions: make(map[uuid.UUID]model.Subscription)}
}

func (m *SubscriptionRepository) Create(ctx context.Context, tx *sqlx.Tx, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.Subscriptions[sub.SubaccountID]; ok {
		return repository.ErrConflict
	}
	sub.Touch(time.Now().UTC())
	m.Subscriptions[sub.SubaccountID] = *sub
	return nil
}

func (m *SubscriptionRepository) GetBySubaccount(ctx context.Context, subaccountID uuid.UUID) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subscriptions[subaccountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (m *SubscriptionRepository) Update(ctx context.Context, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Subscriptions[sub.SubaccountID]; !ok {
		return repository.ErrNotFound
	}
	sub.UpdatedAt = time.Now().UTC()
	m.Subscriptions[sub.SubaccountID] = *sub
	return nil
}

func (m *SubscriptionRepository) ExpireTrials(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.Subscriptions {
		if s.Status == model.SubscriptionStatusTrialing && s.TrialEndsAt != nil && !s.TrialEndsAt.After(now) {
			s.Status = model.SubscriptionStatusExpired
			s.UpdatedAt = now
			m.Subscriptions[k] = s
			n++
		}
	}
	return n, nil
}

type InvoiceRepository struct {
	mu       sync.Mutex
	Invoices map[uuid.UUID]model.Invoice
	order    []uuid.UUID
}

func NewInvoiceRepository() *InvoiceRepository {
	return &InvoiceRepository{Invoices: make(map[uuid.UUID]model.Invoice)}
}

func (m *InvoiceRepository) Create(ctx context.Context, inv *model.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	m.Invoices[inv.ID] = *inv
	m.order = append(m.order, inv.ID)
	return nil
}

func (m *InvoiceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.Invoices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &inv, nil
}

func (m *InvoiceRepository) ListBySubaccount(ctx context.Context, subaccountID uuid.UUID) ([]*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Invoice
	for _, id := range m.order {
		if inv := m.Invoices[id]; inv.SubaccountID == subaccountID {
			out = append(out, &inv)
		}
	}
	return out, nil
}

func (m *InvoiceRepository) List(ctx context.Context, limit, offset int) ([]*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Invoice
	for i, id := range m.order {
		if i < offset {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		inv := m.Invoices[id]
		out = append(out, &inv)
	}
	return out, nil
}

func (m *InvoiceRepository) SettleStatus(ctx context.Context, id uuid.UUID, status model.InvoiceStatus, externalID *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.Invoices[id]
	if !ok {
		return repository.ErrNotFound
	}
	if inv.Status != model.InvoiceStatusPending {
		return repository.ErrStale
	}
	inv.Status = status
	if externalID != nil {
		inv.ExternalID = externalID
	}
	if status == model.InvoiceStatusPaid {
		inv.PaidAt = &at
	}
	m.Invoices[id] = inv
	return nil
}
