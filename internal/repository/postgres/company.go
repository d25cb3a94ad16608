package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type companyRepository struct {
	BaseRepository
}

func NewCompanyRepository(base BaseRepository) repository.CompanyRepository {
	return &companyRepository{base}
}

const companyColumns = `id, name, billing_mode, is_active, created_at, updated_at`

func (r *companyRepository) Create(ctx context.Context, company *model.Company) error {
	company.Touch(time.Now().UTC())
	query := `
		INSERT INTO companies (` + companyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		company.ID,
		company.Name,
		company.BillingMode,
		company.IsActive,
		company.CreatedAt,
		company.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create company: %w", mapError(err))
	}
	return nil
}

func (r *companyRepository) Get(ctx context.Context, id uuid.UUID) (*model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`
	var company model.Company
	if err := r.db.GetContext(ctx, &company, query, id); err != nil {
		return nil, fmt.Errorf("failed to get company: %w", mapError(err))
	}
	return &company, nil
}

func (r *companyRepository) List(ctx context.Context) ([]*model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies ORDER BY created_at DESC`
	var companies []*model.Company
	if err := r.db.SelectContext(ctx, &companies, query); err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	return companies, nil
}

func (r *companyRepository) Update(ctx context.Context, company *model.Company) error {
	company.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE companies
		SET name = $1, billing_mode = $2, is_active = $3, updated_at = $4
		WHERE id = $5
	`
	res, err := r.db.ExecContext(ctx, query,
		company.Name,
		company.BillingMode,
		company.IsActive,
		company.UpdatedAt,
		company.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update company: %w", err)
	}
	if err := expectRows(res, repository.ErrNotFound); err != nil {
		return fmt.Errorf("failed to update company: %w", err)
	}
	return nil
}
