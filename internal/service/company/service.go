package company

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

var ErrCompanyNotFound = errors.New("company not found")

type CompanyServicer interface {
	Create(ctx context.Context, req *model.CreateCompanyRequest) (*model.Company, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Company, error)
	List(ctx context.Context) ([]*model.Company, error)
	Update(ctx context.Context, id uuid.UUID, req *model.UpdateCompanyRequest) (*model.Company, error)
}

type Service struct {
	repo repository.CompanyRepository
}

func NewService(repo repository.CompanyRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, req *model.CreateCompanyRequest) (*model.Company, error) {
	mode := model.BillingMode(req.BillingMode)
	if mode == "" {
		mode = model.BillingModeManual
	}
	company := &model.Company{
		Name:        req.Name,
		BillingMode: mode,
		IsActive:    true,
	}
	if err := s.repo.Create(ctx, company); err != nil {
		return nil, fmt.Errorf("failed to create company: %w", err)
	}
	return company, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Company, error) {
	company, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return company, nil
}

func (s *Service) List(ctx context.Context) ([]*model.Company, error) {
	companies, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	return companies, nil
}

// Update renames or soft-disables a company. Companies are never hard-deleted.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *model.UpdateCompanyRequest) (*model.Company, error) {
	company, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		company.Name = *req.Name
	}
	if req.IsActive != nil {
		company.IsActive = *req.IsActive
	}
	if err := s.repo.Update(ctx, company); err != nil {
		return nil, fmt.Errorf("failed to update company: %w", err)
	}
	return company, nil
}
