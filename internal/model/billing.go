package model

import (
	"time"

	"github.com/google/uuid"
)

type Plan string

const (
	PlanTrial    Plan = "trial"
	PlanStarter  Plan = "starter"
	PlanBasic    Plan = "basic"
	PlanPro      Plan = "pro"
	PlanBusiness Plan = "business"
)

type PlanInfo struct {
	Plan              Plan  `json:"plan"`
	PriceCents        int64 `json:"price_cents"`
	IncludedInstances int   `json:"included_instances"`
}

var Plans = map[Plan]PlanInfo{
	PlanTrial:    {Plan: PlanTrial, PriceCents: 0, IncludedInstances: 1},
	PlanStarter:  {Plan: PlanStarter, PriceCents: 2900, IncludedInstances: 1},
	PlanBasic:    {Plan: PlanBasic, PriceCents: 4900, IncludedInstances: 2},
	PlanPro:      {Plan: PlanPro, PriceCents: 9900, IncludedInstances: 5},
	PlanBusiness: {Plan: PlanBusiness, PriceCents: 19900, IncludedInstances: 10},
}

// Purchasable reports whether the plan can be bought; trial is only ever granted.
func (p Plan) Purchasable() bool {
	_, ok := Plans[p]
	return ok && p != PlanTrial
}

const (
	ExtraSlotPriceCents int64 = 1500
	TrialPeriod               = 7 * 24 * time.Hour
	BillingPeriod             = 30 * 24 * time.Hour
	DefaultCurrency           = "usd"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
)

type Subscription struct {
	Base
	SubaccountID      uuid.UUID          `json:"subaccount_id" db:"subaccount_id"`
	Plan              Plan               `json:"plan" db:"plan"`
	Status            SubscriptionStatus `json:"status" db:"status"`
	TrialEndsAt       *time.Time         `json:"trial_ends_at,omitempty" db:"trial_ends_at"`
	CurrentPeriodEnd  *time.Time         `json:"current_period_end,omitempty" db:"current_period_end"`
	IncludedInstances int                `json:"included_instances" db:"included_instances"`
	ExtraSlots        int                `json:"extra_slots" db:"extra_slots"`
}

// InstanceLimit is how many instances the subscription allows right now.
func (s *Subscription) InstanceLimit() int {
	if s.Status == SubscriptionStatusExpired || s.Status == SubscriptionStatusCanceled {
		return 0
	}
	return s.IncludedInstances + s.ExtraSlots
}

type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusFailed  InvoiceStatus = "failed"
)

// Invoice is append-only; only its status moves, and only out of pending.
type Invoice struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	SubaccountID uuid.UUID     `json:"subaccount_id" db:"subaccount_id"`
	Plan         Plan          `json:"plan" db:"plan"`
	AmountCents  int64         `json:"amount_cents" db:"amount_cents"`
	Currency     string        `json:"currency" db:"currency"`
	Status       InvoiceStatus `json:"status" db:"status"`
	ExternalID   *string       `json:"external_id,omitempty" db:"external_id"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	PaidAt       *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
}

type ChangePlanRequest struct {
	Plan       string `json:"plan" binding:"required,plan"`
	ExtraSlots int    `json:"extra_slots" binding:"min=0,max=50"`
}

type InvoiceStatusRequest struct {
	Status     string `json:"status" binding:"required,oneof=paid failed"`
	ExternalID string `json:"external_id" binding:"omitempty,max=200"`
}

// BillingWebhook is posted by the payment processor relay. It either settles
// an invoice or changes a subaccount's plan.
type BillingWebhook struct {
	InvoiceID    *uuid.UUID `json:"invoiceId"`
	Status       string     `json:"status" binding:"omitempty,oneof=paid failed"`
	ExternalID   string     `json:"externalId"`
	SubaccountID *uuid.UUID `json:"subaccountId"`
	Plan         string     `json:"plan" binding:"omitempty,oneof=starter basic pro business"`
	ExtraSlots   int        `json:"extraSlots" binding:"min=0,max=50"`
}

// SubscriptionUpdatedEvent is pushed to the subaccount room.
type SubscriptionUpdatedEvent struct {
	SubaccountID uuid.UUID          `json:"subaccountId"`
	Plan         Plan               `json:"plan"`
	Status       SubscriptionStatus `json:"status"`
}

const EventSubscriptionUpdated = "subscription-updated"

// SubaccountRoom is the pub/sub room for subaccount-wide events.
func SubaccountRoom(id uuid.UUID) string {
	return "subaccount-" + id.String()
}
