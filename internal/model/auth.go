package model

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthRequest types
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type SSORequest struct {
	SSOKey string `json:"ssoKey" binding:"required"`
}

type OAuthCallbackRequest struct {
	Code  string `form:"code" json:"code" binding:"required"`
	State string `form:"state" json:"state" binding:"required"`
}

// AuthResponse types
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type SSOSessionResponse struct {
	TokenResponse
	Subaccount *Subaccount `json:"subaccount"`
}

// SessionClaims are carried by dashboard session JWTs.
type SessionClaims struct {
	jwt.RegisteredClaims
	Role         Role       `json:"role"`
	SubaccountID *uuid.UUID `json:"subaccount_id,omitempty"`
	LocationID   string     `json:"location_id,omitempty"`
}

// CanAccess reports whether the session may act on the given subaccount.
func (c *SessionClaims) CanAccess(subaccountID uuid.UUID) bool {
	if c.Role.IsAdmin() {
		return true
	}
	return c.SubaccountID != nil && *c.SubaccountID == subaccountID
}

// InstallResult is returned once an OAuth install completes.
type InstallResult struct {
	Subaccount *Subaccount `json:"subaccount"`
	Claimed    bool        `json:"claimed"`
	Warnings   []string    `json:"warnings,omitempty"`
}
