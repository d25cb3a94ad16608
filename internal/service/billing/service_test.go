package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository/mocks"
	"github.com/jwalitptl/wa-connector/pkg/logger"
)

type fixture struct {
	svc      *Service
	subs     *mocks.SubscriptionRepository
	invoices *mocks.InvoiceRepository
	outbox   *mocks.OutboxRepository
}

func newFixture() *fixture {
	f := &fixture{
		subs:     mocks.NewSubscriptionRepository(),
		invoices: mocks.NewInvoiceRepository(),
		outbox:   &mocks.OutboxRepository{},
	}
	f.svc = NewService(f.subs, f.invoices, f.outbox, logger.Nop())
	return f
}

func TestStartTrial(t *testing.T) {
	f := newFixture()
	subID := uuid.New()

	sub, err := f.svc.StartTrial(context.Background(), nil, subID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanTrial, sub.Plan)
	assert.Equal(t, model.SubscriptionStatusTrialing, sub.Status)
	assert.Equal(t, 1, sub.IncludedInstances)
	require.NotNil(t, sub.TrialEndsAt)
	assert.WithinDuration(t, time.Now().Add(model.TrialPeriod), *sub.TrialEndsAt, time.Minute)

	limit, err := f.svc.InstanceLimit(context.Background(), subID)
	require.NoError(t, err)
	assert.Equal(t, 1, limit)
}

func TestChangePlanAndPay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	subID := uuid.New()
	_, err := f.svc.StartTrial(ctx, nil, subID)
	require.NoError(t, err)

	sub, inv, err := f.svc.ChangePlan(ctx, subID, model.PlanPro, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, sub.IncludedInstances)
	assert.Equal(t, 2, sub.ExtraSlots)
	assert.Equal(t, int64(9900+2*1500), inv.AmountCents)
	assert.Equal(t, model.InvoiceStatusPending, inv.Status)

	paid, err := f.svc.MarkInvoice(ctx, inv.ID, model.InvoiceStatusPaid, "ext_1")
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	sub, err = f.svc.GetSubscription(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)

	limit, err := f.svc.InstanceLimit(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, 7, limit)

	// only pending invoices can move
	_, err = f.svc.MarkInvoice(ctx, inv.ID, model.InvoiceStatusFailed, "")
	assert.ErrorIs(t, err, ErrInvoiceSettled)

	assert.Len(t, f.outbox.ByType(model.EventRealtimePrefix+model.EventSubscriptionUpdated), 2)
}

func TestChangePlan_Rejects(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _, err := f.svc.ChangePlan(ctx, uuid.New(), model.PlanTrial, 0)
	assert.ErrorIs(t, err, ErrUnknownPlan)

	_, _, err = f.svc.ChangePlan(ctx, uuid.New(), model.PlanStarter, 0)
	assert.ErrorIs(t, err, ErrNoSubscription)

	_, err = f.svc.MarkInvoice(ctx, uuid.New(), model.InvoiceStatusPending, "")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.MarkInvoice(ctx, uuid.New(), model.InvoiceStatusPaid, "")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestExpireTrials(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	subID := uuid.New()

	f.svc.now = func() time.Time { return time.Now().UTC().Add(-8 * 24 * time.Hour) }
	_, err := f.svc.StartTrial(ctx, nil, subID)
	require.NoError(t, err)
	f.svc.now = func() time.Time { return time.Now().UTC() }

	limit, err := f.svc.InstanceLimit(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, 0, limit)

	n, err := f.svc.ExpireTrials(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sub, err := f.svc.GetSubscription(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusExpired, sub.Status)
}
