package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type apiTokenRepository struct {
	BaseRepository
}

func NewApiTokenRepository(base BaseRepository) repository.ApiTokenRepository {
	return &apiTokenRepository{base}
}

const apiTokenColumns = `id, subaccount_id, name, prefix, token_hash, last_used_at, created_at`

func (r *apiTokenRepository) Create(ctx context.Context, token *model.ApiToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO api_tokens (` + apiTokenColumns + `)
		VALUES (:id, :subaccount_id, :name, :prefix, :token_hash, :last_used_at, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to create api token: %w", mapError(err))
	}
	return nil
}

func (r *apiTokenRepository) GetByPrefix(ctx context.Context, prefix string) (*model.ApiToken, error) {
	var token model.ApiToken
	err := r.db.GetContext(ctx, &token, `SELECT `+apiTokenColumns+` FROM api_tokens WHERE prefix = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get api token: %w", mapError(err))
	}
	return &token, nil
}

func (r *apiTokenRepository) ListBySubaccount(ctx context.Context, subaccountID uuid.UUID) ([]*model.ApiToken, error) {
	query := `SELECT ` + apiTokenColumns + ` FROM api_tokens WHERE subaccount_id = $1 ORDER BY created_at DESC`
	var tokens []*model.ApiToken
	if err := r.db.SelectContext(ctx, &tokens, query, subaccountID); err != nil {
		return nil, fmt.Errorf("failed to list api tokens: %w", err)
	}
	return tokens, nil
}

// Delete is scoped to the owner so one subaccount cannot revoke another's token.
func (r *apiTokenRepository) Delete(ctx context.Context, id, subaccountID uuid.UUID) (*model.ApiToken, error) {
	query := `DELETE FROM api_tokens WHERE id = $1 AND subaccount_id = $2 RETURNING ` + apiTokenColumns
	var token model.ApiToken
	if err := r.db.GetContext(ctx, &token, query, id, subaccountID); err != nil {
		return nil, fmt.Errorf("failed to delete api token: %w", mapError(err))
	}
	return &token, nil
}

func (r *apiTokenRepository) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch api token: %w", err)
	}
	return nil
}
