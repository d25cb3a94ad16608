package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type subscriptionRepository struct {
	BaseRepository
}

func NewSubscriptionRepository(base BaseRepository) repository.SubscriptionRepository {
	return &subscriptionRepository{base}
}

const subscriptionColumns = `id, subaccount_id, plan, status, trial_ends_at, current_period_end,
	included_instances, extra_slots, created_at, updated_at`

func (r *subscriptionRepository) Create(ctx context.Context, tx *sqlx.Tx, sub *model.Subscription) error {
	sub.Touch(time.Now().UTC())
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES (:id, :subaccount_id, :plan, :status, :trial_ends_at, :current_period_end,
			:included_instances, :extra_slots, :created_at, :updated_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(tx), query, sub); err != nil {
		return fmt.Errorf("failed to create subscription: %w", mapError(err))
	}
	return nil
}

func (r *subscriptionRepository) GetBySubaccount(ctx context.Context, subaccountID uuid.UUID) (*model.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE subaccount_id = $1`
	var sub model.Subscription
	if err := r.db.GetContext(ctx, &sub, query, subaccountID); err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", mapError(err))
	}
	return &sub, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *model.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE subscriptions
		SET plan = :plan, status = :status, trial_ends_at = :trial_ends_at,
			current_period_end = :current_period_end, included_instances = :included_instances,
			extra_slots = :extra_slots, updated_at = :updated_at
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if err := expectRows(res, repository.ErrNotFound); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) ExpireTrials(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE subscriptions
		SET status = $1, updated_at = $2
		WHERE status = $3 AND trial_ends_at IS NOT NULL AND trial_ends_at <= $2
	`
	res, err := r.db.ExecContext(ctx, query, model.SubscriptionStatusExpired, now, model.SubscriptionStatusTrialing)
	if err != nil {
		return 0, fmt.Errorf("failed to expire trials: %w", err)
	}
	return res.RowsAffected()
}
