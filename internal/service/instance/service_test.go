package instance

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/wa-connector/internal/client/evolution"
	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository/mocks"
	"github.com/jwalitptl/wa-connector/internal/service/billing"
	"github.com/jwalitptl/wa-connector/internal/service/subaccount"
	"github.com/jwalitptl/wa-connector/pkg/lock"
	"github.com/jwalitptl/wa-connector/pkg/logger"
	"github.com/jwalitptl/wa-connector/pkg/messaging"
	"github.com/jwalitptl/wa-connector/pkg/messaging/memory"
	"github.com/jwalitptl/wa-connector/pkg/metrics"
)

type fakeProvider struct {
	mu         sync.Mutex
	State      string
	Phone      string
	ConnectErr error
	StateErr   error
	Created    map[string]bool
	Webhooks   map[string]string
	Deleted    []string
	qrSeq      int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		State:    evolution.StateConnecting,
		Created:  make(map[string]bool),
		Webhooks: make(map[string]string),
	}
}

func (f *fakeProvider) CreateInstance(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Created[name] {
		return evolution.ErrInstanceExists
	}
	f.Created[name] = true
	return nil
}

func (f *fakeProvider) Connect(ctx context.Context, name string) (*evolution.QRCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return nil, f.ConnectErr
	}
	if !f.Created[name] {
		return nil, evolution.ErrInstanceNotFound
	}
	f.qrSeq++
	return &evolution.QRCode{Base64: "data:image/png;base64,qr" + string(rune('0'+f.qrSeq))}, nil
}

func (f *fakeProvider) ConnectionState(ctx context.Context, name string) (*evolution.ConnectionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StateErr != nil {
		return nil, f.StateErr
	}
	return &evolution.ConnectionState{InstanceName: name, State: f.State}, nil
}

func (f *fakeProvider) FetchInstance(ctx context.Context, name string) (*evolution.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := &evolution.Instance{Name: name, Number: f.Phone}
	if f.Phone != "" {
		inst.OwnerJID = f.Phone + "@s.whatsapp.net"
	}
	return inst, nil
}

func (f *fakeProvider) Logout(ctx context.Context, name string) error { return nil }

func (f *fakeProvider) DeleteInstance(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, name)
	return nil
}

func (f *fakeProvider) SetWebhook(ctx context.Context, name, webhookURL string, events []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Webhooks[name] = webhookURL
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][]messaging.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.messages == nil {
		p.messages = make(map[string][]messaging.Envelope)
	}
	p.messages[channel] = append(p.messages[channel], message.(messaging.Envelope))
	return nil
}

func (p *recordingPublisher) count(channel, event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.messages[channel] {
		if m.Event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	svc         *Service
	repo        *mocks.InstanceRepository
	provider    *fakeProvider
	publisher   *recordingPublisher
	outbox      *mocks.OutboxRepository
	metrics     *metrics.Metrics
	subaccounts *subaccount.Service
	billing     *billing.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      mocks.NewInstanceRepository(),
		provider:  newFakeProvider(),
		publisher: &recordingPublisher{},
		outbox:    &mocks.OutboxRepository{},
		metrics:   metrics.New("test", nil),
	}
	f.billing = billing.NewService(mocks.NewSubscriptionRepository(), mocks.NewInvoiceRepository(), nil, logger.Nop())
	f.subaccounts = subaccount.NewService(
		&mocks.TxRunner{},
		mocks.NewSubaccountRepository(),
		mocks.NewCompanyRepository(),
		mocks.NewInstallTokenRepository(),
		f.billing,
		lock.NewLocalLocker(),
		"https://app.example.com",
		logger.Nop(),
	)
	f.svc = NewService(
		f.repo,
		f.subaccounts,
		f.billing,
		f.provider,
		f.publisher,
		f.outbox,
		"https://app.example.com/api/webhook/evolution",
		f.metrics,
		logger.Nop(),
	)
	return f
}

func (f *fixture) subaccount(t *testing.T, location string) *model.Subaccount {
	t.Helper()
	sub, _, err := f.subaccounts.UpsertForLocation(context.Background(), subaccount.LocationProfile{
		LocationID: location,
		Email:      "owner@example.com",
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) connections() float64 {
	return testutil.ToFloat64(f.metrics.InstanceConnections.WithLabelValues(string(model.SourceWebhook))) +
		testutil.ToFloat64(f.metrics.InstanceConnections.WithLabelValues(string(model.SourcePoll))) +
		testutil.ToFloat64(f.metrics.InstanceConnections.WithLabelValues(string(model.SourceSync)))
}

func TestPairingScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")

	inst, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "wa-LOC_1", inst.EvolutionInstanceName)
	assert.Equal(t, model.InstanceStatusCreated, inst.Status)
	assert.Empty(t, f.provider.Created)

	inst, err = f.svc.GenerateQR(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusQRGenerated, inst.Status)
	require.NotNil(t, inst.QRCode)
	assert.NotEmpty(t, *inst.QRCode)
	assert.Equal(t, "https://app.example.com/api/webhook/evolution", f.provider.Webhooks["wa-LOC_1"])

	require.NoError(t, f.svc.HandleConnectionUpdate(ctx, "wa-LOC_1", evolution.StateOpen, "+15551234567"))

	inst, err = f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusConnected, inst.Status)
	assert.Equal(t, "+15551234567", inst.Phone())
	assert.Nil(t, inst.QRCode)
	assert.NotNil(t, inst.ConnectedAt)

	room := model.InstanceRoom(inst.ID)
	assert.Equal(t, 1, f.publisher.count(room, model.EventInstanceConnected))
	assert.Equal(t, float64(1), f.connections())

	// A second push for the same connection is a no-op.
	require.NoError(t, f.svc.HandleConnectionUpdate(ctx, "wa-LOC_1", evolution.StateOpen, "+15551234567"))
	assert.Equal(t, 1, f.publisher.count(room, model.EventInstanceConnected))
}

func TestGenerateQRReturnsFreshCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")

	inst, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)

	first, err := f.svc.GenerateQR(ctx, inst.ID)
	require.NoError(t, err)
	second, err := f.svc.GenerateQR(ctx, inst.ID)
	require.NoError(t, err)
	assert.NotEqual(t, *first.QRCode, *second.QRCode)
	assert.Equal(t, model.InstanceStatusQRGenerated, second.Status)
}

func TestGenerateQRProviderFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")
	f.provider.ConnectErr = evolution.ErrInstanceExists

	inst, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)

	_, err = f.svc.GenerateQR(ctx, inst.ID)
	assert.ErrorIs(t, err, ErrProvider)

	inst, err = f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusError, inst.Status)
	require.NotNil(t, inst.LastError)

	// Error is recoverable through a new QR code.
	f.provider.ConnectErr = nil
	inst, err = f.svc.GenerateQR(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusQRGenerated, inst.Status)
	assert.Nil(t, inst.LastError)
}

func TestGenerateQRRejectedWhenConnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")

	inst, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.GenerateQR(ctx, inst.ID)
	require.NoError(t, err)
	_, won, err := f.svc.MarkConnected(ctx, inst.ID, "", model.SourceWebhook)
	require.NoError(t, err)
	require.True(t, won)

	_, err = f.svc.GenerateQR(ctx, inst.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkConnectedSkippingQRIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")

	inst, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)

	got, won, err := f.svc.MarkConnected(ctx, inst.ID, "+1", model.SourceWebhook)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, model.InstanceStatusCreated, got.Status)
	assert.Zero(t, f.connections())
}

func TestDualChannelConvergence(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		ctx := context.Background()
		sub := f.subaccount(t, "LOC_1")

		inst, err := f.svc.Create(ctx, sub.ID)
		require.NoError(t, err)
		_, err = f.svc.GenerateQR(ctx, inst.ID)
		require.NoError(t, err)

		f.provider.State = evolution.StateOpen
		f.provider.Phone = "15551234567"

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.HandleConnectionUpdate(ctx, inst.EvolutionInstanceName, evolution.StateOpen, "+15551234567"))
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.Status(ctx, inst.ID)
			assert.NoError(t, err)
		}()
		wg.Wait()

		got, err := f.svc.Get(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, model.InstanceStatusConnected, got.Status)
		assert.Equal(t, 1, f.publisher.count(model.InstanceRoom(inst.ID), model.EventInstanceConnected))
		assert.Equal(t, float64(1), f.connections())
		assert.Equal(t, 1, f.repo.Transitions[model.InstanceStatusConnected])
	}
}

func TestPollNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")

	inst, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.GenerateQR(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleConnectionUpdate(ctx, inst.EvolutionInstanceName, evolution.StateOpen, "+1"))

	// The provider still reports pairing in progress; the webhook wins.
	f.provider.State = evolution.StateConnecting
	got, err := f.svc.Status(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusConnected, got.Status)
}

func TestSlotLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")

	_, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrSlotLimit)

	_, _, err = f.billing.ChangePlan(ctx, sub.ID, model.PlanBasic, 0)
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "wa-LOC_1-2", second.EvolutionInstanceName)
}

func TestCreateRejectsInactiveSubaccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")
	require.NoError(t, f.subaccounts.Uninstall(ctx, sub.ID))

	_, err := f.svc.Create(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrSubaccountInactive)
}

func TestDisconnectAndReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")

	inst, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.GenerateQR(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleConnectionUpdate(ctx, inst.EvolutionInstanceName, evolution.StateOpen, "+1"))
	require.NoError(t, f.svc.HandleConnectionUpdate(ctx, inst.EvolutionInstanceName, evolution.StateClose, ""))

	got, err := f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusDisconnected, got.Status)
	assert.NotNil(t, got.DisconnectedAt)
	assert.Equal(t, 1, f.publisher.count(model.InstanceRoom(inst.ID), model.EventInstanceDisconnected))

	notices := f.outbox.ByType(model.EventNotificationEmail)
	require.Len(t, notices, 1)
	var n model.Notification
	require.NoError(t, json.Unmarshal(notices[0].Payload, &n))
	assert.Equal(t, model.NotificationInstanceDisconnected, n.Kind)
	assert.Equal(t, "owner@example.com", n.Recipient)

	require.NoError(t, f.svc.HandleConnectionUpdate(ctx, inst.EvolutionInstanceName, evolution.StateOpen, "+1"))
	got, err = f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusConnected, got.Status)
	assert.Equal(t, 2, f.publisher.count(model.InstanceRoom(inst.ID), model.EventInstanceConnected))
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")

	inst, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.GenerateQR(ctx, inst.ID)
	require.NoError(t, err)

	f.provider.State = evolution.StateOpen
	f.provider.Phone = "15550001111"
	failed, err := f.svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)

	got, err := f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusConnected, got.Status)
	assert.Equal(t, "+15550001111", got.Phone())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.InstanceConnections.WithLabelValues(string(model.SourceSync))))

	f.provider.StateErr = evolution.ErrInstanceNotFound
	got, err = f.svc.Sync(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusNotFoundInEvolution, got.Status)

	// The row is kept and can be paired again.
	f.provider.StateErr = nil
	got, err = f.svc.GenerateQR(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusQRGenerated, got.Status)
}

func TestHandleQRUpdated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")

	inst, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.GenerateQR(ctx, inst.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleQRUpdated(ctx, inst.EvolutionInstanceName, "new-code"))
	got, err := f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-code", *got.QRCode)
	assert.Equal(t, 2, f.publisher.count(model.InstanceRoom(inst.ID), model.EventInstanceQR))

	assert.ErrorIs(t, f.svc.HandleQRUpdated(ctx, "wa-unknown", "x"), ErrInstanceNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subaccount(t, "LOC_1")

	inst, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, inst.ID))
	assert.Equal(t, []string{"wa-LOC_1"}, f.provider.Deleted)

	assert.ErrorIs(t, f.svc.Delete(ctx, uuid.New()), ErrInstanceNotFound)
}

func TestPublishesThroughBroker(t *testing.T) {
	f := newFixture(t)
	broker := memory.NewBroker()
	f.svc.publisher = broker
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := broker.PSubscribe(ctx, "instance-*")
	require.NoError(t, err)

	sub := f.subaccount(t, "LOC_1")
	inst, err := f.svc.Create(ctx, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.GenerateQR(ctx, inst.ID)
	require.NoError(t, err)
	<-ch // qr event

	_, _, err = f.svc.MarkConnected(ctx, inst.ID, "+15551234567", model.SourceWebhook)
	require.NoError(t, err)

	msg := <-ch
	assert.Equal(t, model.InstanceRoom(inst.ID), msg.Channel)
	var env struct {
		Event string                       `json:"event"`
		Data  model.InstanceConnectedEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &env))
	assert.Equal(t, model.EventInstanceConnected, env.Event)
	assert.Equal(t, "+15551234567", env.Data.PhoneNumber)
}
