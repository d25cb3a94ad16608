package model

type BillingMode string

const (
	BillingModeManual  BillingMode = "manual"
	BillingModeMetered BillingMode = "metered"
)

// Company is the tenant boundary that owns subaccounts.
type Company struct {
	Base
	Name        string      `json:"name" db:"name"`
	BillingMode BillingMode `json:"billing_mode" db:"billing_mode"`
	IsActive    bool        `json:"is_active" db:"is_active"`
}

type CreateCompanyRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	BillingMode string `json:"billing_mode" binding:"omitempty,oneof=manual metered"`
}

type UpdateCompanyRequest struct {
	Name     *string `json:"name" binding:"omitempty,max=200"`
	IsActive *bool   `json:"is_active"`
}
