package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type instanceRepository struct {
	BaseRepository
}

func NewInstanceRepository(base BaseRepository) repository.InstanceRepository {
	return &instanceRepository{base}
}

const instanceColumns = `id, subaccount_id, evolution_instance_name, status, phone_number, qr_code,
	connected_at, disconnected_at, last_error, created_at, updated_at`

func statusStrings(statuses []model.InstanceStatus) pq.StringArray {
	out := make(pq.StringArray, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *instanceRepository) Create(ctx context.Context, inst *model.WhatsappInstance) error {
	inst.Touch(time.Now().UTC())
	if inst.Status == "" {
		inst.Status = model.InstanceStatusCreated
	}

	query := `
		INSERT INTO whatsapp_instances (` + instanceColumns + `)
		VALUES (:id, :subaccount_id, :evolution_instance_name, :status, :phone_number, :qr_code,
			:connected_at, :disconnected_at, :last_error, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, inst); err != nil {
		return fmt.Errorf("failed to create instance: %w", mapError(err))
	}
	return nil
}

func (r *instanceRepository) Get(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM whatsapp_instances WHERE id = $1`
	var inst model.WhatsappInstance
	if err := r.db.GetContext(ctx, &inst, query, id); err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", mapError(err))
	}
	return &inst, nil
}

func (r *instanceRepository) GetByName(ctx context.Context, name string) (*model.WhatsappInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM whatsapp_instances WHERE evolution_instance_name = $1`
	var inst model.WhatsappInstance
	if err := r.db.GetContext(ctx, &inst, query, name); err != nil {
		return nil, fmt.Errorf("failed to get instance by name: %w", mapError(err))
	}
	return &inst, nil
}

func (r *instanceRepository) ListBySubaccount(ctx context.Context, subaccountID uuid.UUID) ([]*model.WhatsappInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM whatsapp_instances WHERE subaccount_id = $1 ORDER BY created_at`
	var insts []*model.WhatsappInstance
	if err := r.db.SelectContext(ctx, &insts, query, subaccountID); err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return insts, nil
}

// ListByStatus with no statuses lists every instance.
func (r *instanceRepository) ListByStatus(ctx context.Context, statuses ...model.InstanceStatus) ([]*model.WhatsappInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM whatsapp_instances`
	var args []interface{}
	if len(statuses) > 0 {
		query += ` WHERE status = ANY($1)`
		args = append(args, statusStrings(statuses))
	}
	query += ` ORDER BY created_at`

	var insts []*model.WhatsappInstance
	if err := r.db.SelectContext(ctx, &insts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list instances by status: %w", err)
	}
	return insts, nil
}

func (r *instanceRepository) CountBySubaccount(ctx context.Context, subaccountID uuid.UUID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM whatsapp_instances WHERE subaccount_id = $1`, subaccountID)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return n, nil
}

// UpdateStatus is a compare-and-set on the status column. Concurrent callers
// racing for the same transition see exactly one true.
func (r *instanceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []model.InstanceStatus, to model.InstanceStatus, upd model.StatusUpdate) (bool, error) {
	query := `
		UPDATE whatsapp_instances
		SET status = $1,
			phone_number = COALESCE($2, phone_number),
			qr_code = CASE WHEN $3 THEN NULL ELSE COALESCE($4, qr_code) END,
			connected_at = COALESCE($5, connected_at),
			disconnected_at = COALESCE($6, disconnected_at),
			last_error = $7,
			updated_at = $8
		WHERE id = $9 AND status = ANY($10)
	`
	res, err := r.db.ExecContext(ctx, query,
		to,
		upd.PhoneNumber,
		upd.ClearQRCode,
		upd.QRCode,
		upd.ConnectedAt,
		upd.DisconnectedAt,
		upd.LastError,
		time.Now().UTC(),
		id,
		statusStrings(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update instance status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *instanceRepository) SetQRCode(ctx context.Context, id uuid.UUID, qr string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE whatsapp_instances SET qr_code = $1, updated_at = $2 WHERE id = $3`,
		qr, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to store qr code: %w", err)
	}
	return expectRows(res, repository.ErrNotFound)
}

func (r *instanceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM whatsapp_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	if err := expectRows(res, repository.ErrNotFound); err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}
