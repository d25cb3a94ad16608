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

type SubaccountRepository struct {
	mu          sync.Mutex
	Subaccounts map[uuid.UUID]model.Subaccount
	CreateErr   error
	GetErr      error
}

func NewSubaccountRepository() *SubaccountRepository {
	return &SubaccountRepository{Subaccounts: make(map[uuid.UUID]model.Subaccount)}
}

func (m *SubaccountRepository) Create(ctx context.Context, tx *sqlx.Tx, sub *model.Subaccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if loc := sub.Location(); loc != "" {
		for _, s := range m.Subaccounts {
			if s.Location() == loc {
				return repository.ErrConflict
			}
		}
	}
	sub.Touch(time.Now().UTC())
	m.Subaccounts[sub.ID] = *sub
	return nil
}

func (m *SubaccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Subaccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	s, ok := m.Subaccounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (m *SubaccountRepository) GetByLocationID(ctx context.Context, locationID string) (*model.Subaccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, s := range m.Subaccounts {
		if s.Location() == locationID {
			s := s
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *SubaccountRepository) List(ctx context.Context, filter model.SubaccountFilter) ([]*model.Subaccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subaccount
	for _, s := range m.Subaccounts {
		if !filter.IncludeInactive && !s.IsActive() {
			continue
		}
		if filter.CompanyID != nil && (s.CompanyID == nil || *s.CompanyID != *filter.CompanyID) {
			continue
		}
		s := s
		out = append(out, &s)
	}
	return out, nil
}

func (m *SubaccountRepository) Update(ctx context.Context, tx *sqlx.Tx, sub *model.Subaccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Subaccounts[sub.ID]; !ok {
		return repository.ErrNotFound
	}
	sub.UpdatedAt = time.Now().UTC()
	m.Subaccounts[sub.ID] = *sub
	return nil
}

func (m *SubaccountRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subaccounts[id]
	if !ok || s.Status == model.SubaccountStatusUninstalled {
		return repository.ErrNotFound
	}
	s.Status = model.SubaccountStatusUninstalled
	s.UninstalledAt = &at
	s.UpdatedAt = at
	m.Subaccounts[id] = s
	return nil
}

func (m *SubaccountRepository) BindLocation(ctx context.Context, tx *sqlx.Tx, sub *model.Subaccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subaccounts[sub.ID]
	if !ok || s.Status != model.SubaccountStatusPendingClaim {
		return repository.ErrStale
	}
	for id, other := range m.Subaccounts {
		if id != sub.ID && other.Location() != "" && other.Location() == sub.Location() {
			return repository.ErrConflict
		}
	}
	s.LocationID = sub.LocationID
	s.CRMUserID = sub.CRMUserID
	s.CRMCompanyID = sub.CRMCompanyID
	s.Status = model.SubaccountStatusActive
	s.UpdatedAt = time.Now().UTC()
	m.Subaccounts[sub.ID] = s
	*sub = s
	return nil
}

func (m *SubaccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Subaccounts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.Subaccounts, id)
	return nil
}
