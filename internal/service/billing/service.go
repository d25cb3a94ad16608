package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

var (
	ErrUnknownPlan     = errors.New("unknown plan")
	ErrInvoiceSettled  = errors.New("invoice already settled")
	ErrInvalidStatus   = errors.New("invalid invoice status")
	ErrNoSubscription  = errors.New("subscription not found")
	ErrInvoiceNotFound = errors.New("invoice not found")
)

type BillingServicer interface {
	StartTrial(ctx context.Context, tx *sqlx.Tx, subaccountID uuid.UUID) (*model.Subscription, error)
	GetSubscription(ctx context.Context, subaccountID uuid.UUID) (*model.Subscription, error)
	ChangePlan(ctx context.Context, subaccountID uuid.UUID, plan model.Plan, extraSlots int) (*model.Subscription, *model.Invoice, error)
	MarkInvoice(ctx context.Context, invoiceID uuid.UUID, status model.InvoiceStatus, externalID string) (*model.Invoice, error)
	ListInvoices(ctx context.Context, subaccountID uuid.UUID) ([]*model.Invoice, error)
	ListAllInvoices(ctx context.Context, limit, offset int) ([]*model.Invoice, error)
	ExpireTrials(ctx context.Context, now time.Time) (int64, error)
	InstanceLimit(ctx context.Context, subaccountID uuid.UUID) (int, error)
}

type Service struct {
	subs     repository.SubscriptionRepository
	invoices repository.InvoiceRepository
	outbox   repository.OutboxRepository
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(
	subs repository.SubscriptionRepository,
	invoices repository.InvoiceRepository,
	outbox repository.OutboxRepository,
	logger zerolog.Logger,
) *Service {
	return &Service{
		subs:     subs,
		invoices: invoices,
		outbox:   outbox,
		logger:   logger.With().Str("component", "billing").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// StartTrial creates the trial subscription every new subaccount gets.
func (s *Service) StartTrial(ctx context.Context, tx *sqlx.Tx, subaccountID uuid.UUID) (*model.Subscription, error) {
	now := s.now()
	trialEnds := now.Add(model.TrialPeriod)
	sub := &model.Subscription{
		SubaccountID:      subaccountID,
		Plan:              model.PlanTrial,
		Status:            model.SubscriptionStatusTrialing,
		TrialEndsAt:       &trialEnds,
		IncludedInstances: model.Plans[model.PlanTrial].IncludedInstances,
	}
	if err := s.subs.Create(ctx, tx, sub); err != nil {
		return nil, fmt.Errorf("failed to start trial: %w", err)
	}
	return sub, nil
}

func (s *Service) GetSubscription(ctx context.Context, subaccountID uuid.UUID) (*model.Subscription, error) {
	sub, err := s.subs.GetBySubaccount(ctx, subaccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ChangePlan switches the plan and appends a pending invoice for the new
// monthly amount. The subscription becomes active once that invoice is paid.
func (s *Service) ChangePlan(ctx context.Context, subaccountID uuid.UUID, plan model.Plan, extraSlots int) (*model.Subscription, *model.Invoice, error) {
	info, ok := model.Plans[plan]
	if !ok || plan == model.PlanTrial {
		return nil, nil, ErrUnknownPlan
	}
	if extraSlots < 0 {
		extraSlots = 0
	}

	sub, err := s.GetSubscription(ctx, subaccountID)
	if err != nil {
		return nil, nil, err
	}

	sub.Plan = plan
	sub.IncludedInstances = info.IncludedInstances
	sub.ExtraSlots = extraSlots
	if sub.Status == model.SubscriptionStatusExpired || sub.Status == model.SubscriptionStatusCanceled {
		sub.Status = model.SubscriptionStatusPastDue
	}
	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	inv := &model.Invoice{
		ID:           uuid.New(),
		SubaccountID: subaccountID,
		Plan:         plan,
		AmountCents:  info.PriceCents + int64(extraSlots)*model.ExtraSlotPriceCents,
		Currency:     model.DefaultCurrency,
		Status:       model.InvoiceStatusPending,
		CreatedAt:    s.now(),
	}
	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	s.logger.Info().
		Str("subaccount_id", subaccountID.String()).
		Str("plan", string(plan)).
		Int("extra_slots", extraSlots).
		Int64("amount_cents", inv.AmountCents).
		Msg("plan changed")

	s.announce(ctx, sub)
	return sub, inv, nil
}

// MarkInvoice settles a pending invoice. Paying it activates the
// subscription for one billing period.
func (s *Service) MarkInvoice(ctx context.Context, invoiceID uuid.UUID, status model.InvoiceStatus, externalID string) (*model.Invoice, error) {
	if status != model.InvoiceStatusPaid && status != model.InvoiceStatusFailed {
		return nil, ErrInvalidStatus
	}

	inv, err := s.invoices.Get(ctx, invoiceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	var ext *string
	if externalID != "" {
		ext = &externalID
	}
	now := s.now()
	if err := s.invoices.SettleStatus(ctx, invoiceID, status, ext, now); err != nil {
		if errors.Is(err, repository.ErrStale) {
			return nil, ErrInvoiceSettled
		}
		return nil, fmt.Errorf("failed to settle invoice: %w", err)
	}

	inv.Status = status
	if ext != nil {
		inv.ExternalID = ext
	}
	if status == model.InvoiceStatusPaid {
		inv.PaidAt = &now
	}

	sub, err := s.GetSubscription(ctx, inv.SubaccountID)
	if err != nil {
		return inv, err
	}

	switch status {
	case model.InvoiceStatusPaid:
		periodEnd := now.Add(model.BillingPeriod)
		sub.Status = model.SubscriptionStatusActive
		sub.CurrentPeriodEnd = &periodEnd
	case model.InvoiceStatusFailed:
		sub.Status = model.SubscriptionStatusPastDue
	}
	if err := s.subs.Update(ctx, sub); err != nil {
		return inv, fmt.Errorf("failed to update subscription: %w", err)
	}

	s.announce(ctx, sub)
	return inv, nil
}

func (s *Service) ListInvoices(ctx context.Context, subaccountID uuid.UUID) ([]*model.Invoice, error) {
	invoices, err := s.invoices.ListBySubaccount(ctx, subaccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, nil
}

func (s *Service) ListAllInvoices(ctx context.Context, limit, offset int) ([]*model.Invoice, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	invoices, err := s.invoices.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, nil
}

func (s *Service) ExpireTrials(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.subs.ExpireTrials(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("count", n).Msg("expired trials")
	}
	return n, nil
}

// InstanceLimit is zero for a missing subscription.
func (s *Service) InstanceLimit(ctx context.Context, subaccountID uuid.UUID) (int, error) {
	sub, err := s.GetSubscription(ctx, subaccountID)
	if errors.Is(err, ErrNoSubscription) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if sub.Status == model.SubscriptionStatusTrialing && sub.TrialEndsAt != nil && !s.now().Before(*sub.TrialEndsAt) {
		return 0, nil
	}
	return sub.InstanceLimit(), nil
}

// announce queues a realtime notice for dashboards watching the subaccount.
func (s *Service) announce(ctx context.Context, sub *model.Subscription) {
	if s.outbox == nil {
		return
	}
	event, err := model.NewRealtimeEvent(
		model.SubaccountRoom(sub.SubaccountID),
		model.EventSubscriptionUpdated,
		model.SubscriptionUpdatedEvent{SubaccountID: sub.SubaccountID, Plan: sub.Plan, Status: sub.Status},
	)
	if err == nil {
		err = s.outbox.Create(ctx, nil, event)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("subaccount_id", sub.SubaccountID.String()).Msg("failed to queue subscription update")
	}
}
