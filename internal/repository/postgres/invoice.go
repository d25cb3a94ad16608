package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type invoiceRepository struct {
	BaseRepository
}

func NewInvoiceRepository(base BaseRepository) repository.InvoiceRepository {
	return &invoiceRepository{base}
}

const invoiceColumns = `id, subaccount_id, plan, amount_cents, currency, status, external_id, created_at, paid_at`

func (r *invoiceRepository) Create(ctx context.Context, inv *model.Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.CreatedAt = time.Now().UTC()
	if inv.Status == "" {
		inv.Status = model.InvoiceStatusPending
	}

	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (:id, :subaccount_id, :plan, :amount_cents, :currency, :status, :external_id, :created_at, :paid_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, inv); err != nil {
		return fmt.Errorf("failed to create invoice: %w", mapError(err))
	}
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var inv model.Invoice
	if err := r.db.GetContext(ctx, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", mapError(err))
	}
	return &inv, nil
}

// ListBySubaccount joins on id only, so uninstalled subaccounts keep their history.
func (r *invoiceRepository) ListBySubaccount(ctx context.Context, subaccountID uuid.UUID) ([]*model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE subaccount_id = $1 ORDER BY created_at DESC`
	var invs []*model.Invoice
	if err := r.db.SelectContext(ctx, &invs, query, subaccountID); err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invs, nil
}

func (r *invoiceRepository) List(ctx context.Context, limit, offset int) ([]*model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	var invs []*model.Invoice
	if err := r.db.SelectContext(ctx, &invs, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invs, nil
}

func (r *invoiceRepository) SettleStatus(ctx context.Context, id uuid.UUID, status model.InvoiceStatus, externalID *string, at time.Time) error {
	query := `
		UPDATE invoices
		SET status = $1,
			external_id = COALESCE($2, external_id),
			paid_at = CASE WHEN $1 = 'paid' THEN $3 ELSE paid_at END
		WHERE id = $4 AND status = $5
	`
	res, err := r.db.ExecContext(ctx, query, status, externalID, at, id, model.InvoiceStatusPending)
	if err != nil {
		return fmt.Errorf("failed to settle invoice: %w", err)
	}
	if err := expectRows(res, repository.ErrStale); err != nil {
		return fmt.Errorf("failed to settle invoice: %w", err)
	}
	return nil
}
