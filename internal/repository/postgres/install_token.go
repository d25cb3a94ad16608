package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type installTokenRepository struct {
	BaseRepository
}

func NewInstallTokenRepository(base BaseRepository) repository.InstallTokenRepository {
	return &installTokenRepository{base}
}

const installTokenColumns = `token, subaccount_id, created_by, expires_at, consumed_at, consumed_location_id, created_at`

func (r *installTokenRepository) Create(ctx context.Context, tx *sqlx.Tx, token *model.InstallToken) error {
	token.CreatedAt = time.Now().UTC()
	query := `
		INSERT INTO install_tokens (` + installTokenColumns + `)
		VALUES (:token, :subaccount_id, :created_by, :expires_at, :consumed_at, :consumed_location_id, :created_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(tx), query, token); err != nil {
		return fmt.Errorf("failed to create install token: %w", mapError(err))
	}
	return nil
}

func (r *installTokenRepository) Get(ctx context.Context, token string) (*model.InstallToken, error) {
	var t model.InstallToken
	err := r.db.GetContext(ctx, &t, `SELECT `+installTokenColumns+` FROM install_tokens WHERE token = $1`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get install token: %w", mapError(err))
	}
	return &t, nil
}

func (r *installTokenRepository) Consume(ctx context.Context, tx *sqlx.Tx, token, locationID string, at time.Time) error {
	query := `
		UPDATE install_tokens
		SET consumed_at = $1, consumed_location_id = $2
		WHERE token = $3 AND consumed_at IS NULL AND expires_at > $1
	`
	res, err := r.ext(tx).ExecContext(ctx, query, at, locationID, token)
	if err != nil {
		return fmt.Errorf("failed to consume install token: %w", err)
	}
	if err := expectRows(res, repository.ErrStale); err != nil {
		return fmt.Errorf("failed to consume install token: %w", err)
	}
	return nil
}
