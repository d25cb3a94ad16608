package model

import (
	"github.com/google/uuid"
)

// User is a dashboard operator account.
type User struct {
	Base
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Name         string     `json:"name" db:"name"`
	Role         Role       `json:"role" db:"role"`
	SubaccountID *uuid.UUID `json:"subaccount_id,omitempty" db:"subaccount_id"`
}
