package model

import (
	"time"

	"github.com/google/uuid"
)

// ApiToken is a bearer credential for the /api/v1 surface. Only the
// bcrypt hash of the secret part is stored.
type ApiToken struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	SubaccountID uuid.UUID  `json:"subaccount_id" db:"subaccount_id"`
	Name         string     `json:"name" db:"name"`
	Prefix       string     `json:"prefix" db:"prefix"`
	TokenHash    string     `json:"-" db:"token_hash"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

type CreateApiTokenRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

// CreatedApiToken is the only response that carries the plaintext token.
type CreatedApiToken struct {
	*ApiToken
	Token string `json:"token"`
}

// OAuthState correlates an outbound authorize redirect with its callback.
type OAuthState struct {
	State        string    `db:"state"`
	RedirectURI  string    `db:"redirect_uri"`
	InstallToken *string   `db:"install_token"`
	CreatedAt    time.Time `db:"created_at"`
	ExpiresAt    time.Time `db:"expires_at"`
}

// InstallToken lets a pre-provisioned placeholder subaccount be claimed once.
type InstallToken struct {
	Token              string     `json:"-" db:"token"`
	SubaccountID       uuid.UUID  `json:"subaccount_id" db:"subaccount_id"`
	CreatedBy          *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	ExpiresAt          time.Time  `json:"expires_at" db:"expires_at"`
	ConsumedAt         *time.Time `json:"consumed_at,omitempty" db:"consumed_at"`
	ConsumedLocationID *string    `json:"consumed_location_id,omitempty" db:"consumed_location_id"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

func (t *InstallToken) Usable(now time.Time) bool {
	return t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}

// CRMToken is the OAuth credential pair for one location.
type CRMToken struct {
	LocationID   string    `db:"location_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	Scope        string    `db:"scope"`
	UserType     string    `db:"user_type"`
	CompanyID    string    `db:"company_id"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (t *CRMToken) Expired(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(t.ExpiresAt)
}
