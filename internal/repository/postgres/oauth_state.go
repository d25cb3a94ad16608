package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type oauthStateRepository struct {
	BaseRepository
}

func NewOAuthStateRepository(base BaseRepository) repository.OAuthStateRepository {
	return &oauthStateRepository{base}
}

func (r *oauthStateRepository) Create(ctx context.Context, state *model.OAuthState) error {
	query := `
		INSERT INTO oauth_states (state, redirect_uri, install_token, created_at, expires_at)
		VALUES (:state, :redirect_uri, :install_token, :created_at, :expires_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, state); err != nil {
		return fmt.Errorf("failed to create oauth state: %w", mapError(err))
	}
	return nil
}

// Consume deletes the row in the same statement that reads it, so a state
// can only ever be returned once.
func (r *oauthStateRepository) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	query := `
		DELETE FROM oauth_states
		WHERE state = $1 AND expires_at > $2
		RETURNING state, redirect_uri, install_token, created_at, expires_at
	`
	var st model.OAuthState
	if err := r.db.GetContext(ctx, &st, query, state, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", mapError(err))
	}
	return &st, nil
}

func (r *oauthStateRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear oauth states: %w", err)
	}
	return res.RowsAffected()
}

func (r *oauthStateRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired oauth states: %w", err)
	}
	return res.RowsAffected()
}
