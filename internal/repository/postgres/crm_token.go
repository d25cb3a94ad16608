package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type crmTokenRepository struct {
	BaseRepository
}

func NewCRMTokenRepository(base BaseRepository) repository.CRMTokenRepository {
	return &crmTokenRepository{base}
}

func (r *crmTokenRepository) Upsert(ctx context.Context, token *model.CRMToken) error {
	token.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO crm_tokens (location_id, access_token, refresh_token, expires_at, scope, user_type, company_id, updated_at)
		VALUES (:location_id, :access_token, :refresh_token, :expires_at, :scope, :user_type, :company_id, :updated_at)
		ON CONFLICT (location_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scope = EXCLUDED.scope,
			user_type = EXCLUDED.user_type,
			company_id = EXCLUDED.company_id,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to store crm token: %w", err)
	}
	return nil
}

func (r *crmTokenRepository) Get(ctx context.Context, locationID string) (*model.CRMToken, error) {
	query := `
		SELECT location_id, access_token, refresh_token, expires_at, scope, user_type, company_id, updated_at
		FROM crm_tokens
		WHERE location_id = $1
	`
	var token model.CRMToken
	if err := r.db.GetContext(ctx, &token, query, locationID); err != nil {
		return nil, fmt.Errorf("failed to get crm token: %w", mapError(err))
	}
	return &token, nil
}
