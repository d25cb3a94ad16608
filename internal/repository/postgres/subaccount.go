package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type subaccountRepository struct {
	BaseRepository
}

func NewSubaccountRepository(base BaseRepository) repository.SubaccountRepository {
	return &subaccountRepository{base}
}

const subaccountColumns = `id, company_id, location_id, name, email, phone, role, billing_enabled,
	manual_activation, sold, referring_agency_id, crm_user_id, crm_company_id, status,
	uninstalled_at, created_at, updated_at`

func (r *subaccountRepository) Create(ctx context.Context, tx *sqlx.Tx, sub *model.Subaccount) error {
	sub.Touch(time.Now().UTC())
	if sub.Status == "" {
		sub.Status = model.SubaccountStatusActive
	}
	if sub.Role == "" {
		sub.Role = model.RoleUser
	}

	query := `
		INSERT INTO subaccounts (` + subaccountColumns + `)
		VALUES (:id, :company_id, :location_id, :name, :email, :phone, :role, :billing_enabled,
			:manual_activation, :sold, :referring_agency_id, :crm_user_id, :crm_company_id, :status,
			:uninstalled_at, :created_at, :updated_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(tx), query, sub); err != nil {
		return fmt.Errorf("failed to create subaccount: %w", mapError(err))
	}
	return nil
}

func (r *subaccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Subaccount, error) {
	query := `SELECT ` + subaccountColumns + ` FROM subaccounts WHERE id = $1`
	var sub model.Subaccount
	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		return nil, fmt.Errorf("failed to get subaccount: %w", mapError(err))
	}
	return &sub, nil
}

func (r *subaccountRepository) GetByLocationID(ctx context.Context, locationID string) (*model.Subaccount, error) {
	query := `SELECT ` + subaccountColumns + ` FROM subaccounts WHERE location_id = $1`
	var sub model.Subaccount
	if err := r.db.GetContext(ctx, &sub, query, locationID); err != nil {
		return nil, fmt.Errorf("failed to get subaccount by location: %w", mapError(err))
	}
	return &sub, nil
}

// List returns active subaccounts unless the filter asks for every status.
func (r *subaccountRepository) List(ctx context.Context, filter model.SubaccountFilter) ([]*model.Subaccount, error) {
	var (
		where []string
		args  []interface{}
	)
	if !filter.IncludeInactive {
		args = append(args, model.SubaccountStatusActive)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CompanyID != nil {
		args = append(args, *filter.CompanyID)
		where = append(where, fmt.Sprintf("company_id = $%d", len(args)))
	}

	query := `SELECT ` + subaccountColumns + ` FROM subaccounts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	var subs []*model.Subaccount
	if err := r.db.SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list subaccounts: %w", err)
	}
	return subs, nil
}

func (r *subaccountRepository) Update(ctx context.Context, tx *sqlx.Tx, sub *model.Subaccount) error {
	sub.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE subaccounts
		SET company_id = :company_id, location_id = :location_id, name = :name, email = :email,
			phone = :phone, role = :role, billing_enabled = :billing_enabled,
			manual_activation = :manual_activation, sold = :sold,
			referring_agency_id = :referring_agency_id, crm_user_id = :crm_user_id,
			crm_company_id = :crm_company_id, status = :status, uninstalled_at = :uninstalled_at,
			updated_at = :updated_at
		WHERE id = :id
	`
	res, err := sqlx.NamedExecContext(ctx, r.ext(tx), query, sub)
	if err != nil {
		return fmt.Errorf("failed to update subaccount: %w", mapError(err))
	}
	if err := expectRows(res, repository.ErrNotFound); err != nil {
		return fmt.Errorf("failed to update subaccount: %w", err)
	}
	return nil
}

// SoftDelete flips the status so the row stays joinable from instances and invoices.
func (r *subaccountRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE subaccounts
		SET status = $1, uninstalled_at = $2, updated_at = $2
		WHERE id = $3 AND status <> $1
	`
	res, err := r.db.ExecContext(ctx, query, model.SubaccountStatusUninstalled, at, id)
	if err != nil {
		return fmt.Errorf("failed to uninstall subaccount: %w", err)
	}
	if err := expectRows(res, repository.ErrNotFound); err != nil {
		return fmt.Errorf("failed to uninstall subaccount: %w", err)
	}
	return nil
}

func (r *subaccountRepository) BindLocation(ctx context.Context, tx *sqlx.Tx, sub *model.Subaccount) error {
	sub.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE subaccounts
		SET location_id = $1, crm_user_id = $2, crm_company_id = $3, status = $4, updated_at = $5
		WHERE id = $6 AND status = $7
	`
	res, err := r.ext(tx).ExecContext(ctx, query,
		sub.LocationID,
		sub.CRMUserID,
		sub.CRMCompanyID,
		model.SubaccountStatusActive,
		sub.UpdatedAt,
		sub.ID,
		model.SubaccountStatusPendingClaim,
	)
	if err != nil {
		return fmt.Errorf("failed to bind location: %w", mapError(err))
	}
	if err := expectRows(res, repository.ErrStale); err != nil {
		return fmt.Errorf("failed to bind location: %w", err)
	}
	sub.Status = model.SubaccountStatusActive
	return nil
}

// Delete physically removes a row. Only the demo cleanup uses it.
func (r *subaccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subaccounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subaccount: %w", err)
	}
	if err := expectRows(res, repository.ErrNotFound); err != nil {
		return fmt.Errorf("failed to delete subaccount: %w", err)
	}
	return nil
}
