package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type CompanyRepository struct {
	mu        sync.Mutex
	Companies map[uuid.UUID]model.Company
	CreateErr error
}

func NewCompanyRepository() *CompanyRepository {
	return &CompanyRepository{Companies: make(map[uuid.UUID]model.Company)}
}

func (m *CompanyRepository) Create(ctx context.Context, company *model.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	company.Touch(time.Now().UTC())
	m.Companies[company.ID] = *company
	return nil
}

func (m *CompanyRepository) Get(ctx context.Context, id uuid.UUID) (*model.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Companies[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (m *CompanyRepository) List(ctx context.Context) ([]*model.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Company, 0, len(m.Companies))
	for _, c := range m.Companies {
		c := c
		out = append(out, &c)
	}
	return out, nil
}

func (m *CompanyRepository) Update(ctx context.Context, company *model.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Companies[company.ID]; !ok {
		return repository.ErrNotFound
	}
	company.UpdatedAt = time.Now().UTC()
	m.Companies[company.ID] = *company
	return nil
}
