package model

import (
	"time"

	"github.com/google/uuid"
)

type SubaccountStatus string

const (
	SubaccountStatusActive       SubaccountStatus = "active"
	SubaccountStatusUninstalled  SubaccountStatus = "uninstalled"
	SubaccountStatusPendingClaim SubaccountStatus = "pending_claim"
)

type Role string

const (
	RoleUser        Role = "user"
	RoleAdmin       Role = "admin"
	RoleSystemAdmin Role = "system_admin"
)

func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSystemAdmin
}

// Subaccount is a CRM location connected to the app.
type Subaccount struct {
	Base
	CompanyID         *uuid.UUID       `json:"company_id,omitempty" db:"company_id"`
	LocationID        *string          `json:"location_id,omitempty" db:"location_id"`
	Name              string           `json:"name" db:"name"`
	Email             string           `json:"email" db:"email"`
	Phone             string           `json:"phone" db:"phone"`
	Role              Role             `json:"role" db:"role"`
	BillingEnabled    bool             `json:"billing_enabled" db:"billing_enabled"`
	ManualActivation  bool             `json:"manual_activation" db:"manual_activation"`
	Sold              bool             `json:"sold" db:"sold"`
	ReferringAgencyID *string          `json:"referring_agency_id,omitempty" db:"referring_agency_id"`
	CRMUserID         string           `json:"crm_user_id" db:"crm_user_id"`
	CRMCompanyID      string           `json:"crm_company_id" db:"crm_company_id"`
	Status            SubaccountStatus `json:"status" db:"status"`
	UninstalledAt     *time.Time       `json:"uninstalled_at,omitempty" db:"uninstalled_at"`
}

func (s *Subaccount) IsActive() bool {
	return s.Status == SubaccountStatusActive
}

// Location returns the bound CRM location id or "".
func (s *Subaccount) Location() string {
	if s.LocationID == nil {
		return ""
	}
	return *s.LocationID
}

type SubaccountFilter struct {
	CompanyID       *uuid.UUID
	IncludeInactive bool
}

type CreatePlaceholderRequest struct {
	Name              string     `json:"name" binding:"required,max=200"`
	Email             string     `json:"email" binding:"omitempty,email"`
	CompanyID         *uuid.UUID `json:"company_id"`
	ReferringAgencyID string     `json:"referring_agency_id" binding:"omitempty,max=100"`
}

type PlaceholderResponse struct {
	Subaccount *Subaccount `json:"subaccount"`
	Token      string      `json:"token"`
	InstallURL string      `json:"install_url"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

type UpdateSubaccountRequest struct {
	BillingEnabled   *bool   `json:"billing_enabled"`
	ManualActivation *bool   `json:"manual_activation"`
	Role             *string `json:"role" binding:"omitempty,oneof=user admin system_admin"`
	Name             *string `json:"name" binding:"omitempty,max=200"`
}

// VerifyTokenResponse is returned by the public install-token check.
type VerifyTokenResponse struct {
	Valid      bool        `json:"valid"`
	Subaccount *Subaccount `json:"subaccount,omitempty"`
	Error      string      `json:"error,omitempty"`
}
