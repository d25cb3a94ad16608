package instance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/internal/client/evolution"
	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
	"github.com/jwalitptl/wa-connector/pkg/messaging"
	"github.com/jwalitptl/wa-connector/pkg/metrics"
)

var (
	ErrInstanceNotFound   = errors.New("instance not found")
	ErrSlotLimit          = errors.New("instance slot limit reached")
	ErrSubaccountInactive = errors.New("subaccount is not active")
	ErrInvalidTransition  = errors.New("instance cannot make this transition")
	ErrNoQRCode           = errors.New("provider returned no qr code")
	ErrProvider           = errors.New("whatsapp provider request failed")
)

// Provider is the WhatsApp gateway.
type Provider interface {
	CreateInstance(ctx context.Context, name string) error
	Connect(ctx context.Context, name string) (*evolution.QRCode, error)
	ConnectionState(ctx context.Context, name string) (*evolution.ConnectionState, error)
	FetchInstance(ctx context.Context, name string) (*evolution.Instance, error)
	Logout(ctx context.Context, name string) error
	DeleteInstance(ctx context.Context, name string) error
	SetWebhook(ctx context.Context, name, webhookURL string, events []string) error
}

// Publisher delivers realtime events to a room.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

type SlotLimiter interface {
	InstanceLimit(ctx context.Context, subaccountID uuid.UUID) (int, error)
}

type Subaccounts interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Subaccount, error)
}

type InstanceServicer interface {
	Create(ctx context.Context, subaccountID uuid.UUID) (*model.WhatsappInstance, error)
	Get(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error)
	List(ctx context.Context, subaccountID uuid.UUID) ([]*model.WhatsappInstance, error)
	ListAll(ctx context.Context) ([]*model.WhatsappInstance, error)
	GenerateQR(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error)
	MarkConnected(ctx context.Context, id uuid.UUID, phone string, source model.ConnectionSource) (*model.WhatsappInstance, bool, error)
	MarkDisconnected(ctx context.Context, id uuid.UUID) (bool, error)
	MarkError(ctx context.Context, id uuid.UUID, cause string) error
	Status(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error)
	Sync(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error)
	SyncAll(ctx context.Context) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	HandleConnectionUpdate(ctx context.Context, instanceName, state, phone string) error
	HandleQRUpdated(ctx context.Context, instanceName, code string) error
}

type Service struct {
	repo        repository.InstanceRepository
	subaccounts Subaccounts
	slots       SlotLimiter
	provider    Provider
	publisher   Publisher
	outbox      repository.OutboxRepository
	webhookURL  string
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(
	repo repository.InstanceRepository,
	subaccounts Subaccounts,
	slots SlotLimiter,
	provider Provider,
	publisher Publisher,
	outbox repository.OutboxRepository,
	webhookURL string,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:        repo,
		subaccounts: subaccounts,
		slots:       slots,
		provider:    provider,
		publisher:   publisher,
		outbox:      outbox,
		webhookURL:  webhookURL,
		metrics:     m,
		logger:      logger.With().Str("component", "instance").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new instance row. The provider is not contacted until a
// QR code is requested.
func (s *Service) Create(ctx context.Context, subaccountID uuid.UUID) (*model.WhatsappInstance, error) {
	sub, err := s.subaccounts.Get(ctx, subaccountID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() {
		return nil, ErrSubaccountInactive
	}

	limit, err := s.slots.InstanceLimit(ctx, subaccountID)
	if err != nil {
		return nil, err
	}
	count, err := s.repo.CountBySubaccount(ctx, subaccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}
	if count >= limit {
		return nil, ErrSlotLimit
	}

	now := s.now()
	inst := &model.WhatsappInstance{
		SubaccountID:          subaccountID,
		EvolutionInstanceName: model.InstanceName(sub.Location(), count+1, now),
		Status:                model.InstanceStatusCreated,
	}
	err = s.repo.Create(ctx, inst)
	if errors.Is(err, repository.ErrConflict) {
		inst.EvolutionInstanceName = model.InstanceName("", 0, now)
		err = s.repo.Create(ctx, inst)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	s.logger.Info().
		Str("instance_id", inst.ID.String()).
		Str("name", inst.EvolutionInstanceName).
		Msg("instance created")
	return inst, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error) {
	inst, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

func (s *Service) List(ctx context.Context, subaccountID uuid.UUID) ([]*model.WhatsappInstance, error) {
	list, err := s.repo.ListBySubaccount(ctx, subaccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return list, nil
}

func (s *Service) ListAll(ctx context.Context) ([]*model.WhatsappInstance, error) {
	list, err := s.repo.ListByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return list, nil
}

// GenerateQR asks the provider for a pairing code. Calling it again yields a
// fresh code. A provider failure leaves the instance in the error state.
func (s *Service) GenerateQR(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(inst.Status, model.InstanceStatusQRGenerated) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inst.Status, model.InstanceStatusQRGenerated)
	}

	name := inst.EvolutionInstanceName
	if inst.Status == model.InstanceStatusCreated || inst.Status == model.InstanceStatusNotFoundInEvolution {
		if err := s.ensureProviderInstance(ctx, name); err != nil {
			return nil, s.fail(ctx, inst, err)
		}
	}

	qr, err := s.provider.Connect(ctx, name)
	if errors.Is(err, evolution.ErrInstanceNotFound) {
		if err = s.ensureProviderInstance(ctx, name); err == nil {
			qr, err = s.provider.Connect(ctx, name)
		}
	}
	if err != nil {
		return nil, s.fail(ctx, inst, err)
	}

	code := qr.Value()
	if code == "" {
		return nil, s.fail(ctx, inst, ErrNoQRCode)
	}

	ok, err := s.repo.UpdateStatus(ctx, id,
		model.SourcesFor(model.InstanceStatusQRGenerated),
		model.InstanceStatusQRGenerated,
		model.StatusUpdate{QRCode: &code},
	)
	if err != nil {
		return nil, err
	}
	if ok {
		s.countTransition(model.InstanceStatusQRGenerated)
		s.publish(ctx, id, model.EventInstanceQR, model.InstanceQREvent{InstanceID: id, QRCode: code})
	}
	return s.Get(ctx, id)
}

// MarkConnected is the single convergence point for every channel that can
// observe a connection. The status update is a check-and-set, so of any
// number of concurrent callers exactly one sees won=true, and only that
// caller announces the connection.
func (s *Service) MarkConnected(ctx context.Context, id uuid.UUID, phone string, source model.ConnectionSource) (*model.WhatsappInstance, bool, error) {
	from := model.SourcesFor(model.InstanceStatusConnected)
	if source == model.SourcePoll {
		from = []model.InstanceStatus{model.InstanceStatusQRGenerated}
	}

	now := s.now()
	upd := model.StatusUpdate{ClearQRCode: true, ConnectedAt: &now}
	if phone != "" {
		upd.PhoneNumber = &phone
	}

	won, err := s.repo.UpdateStatus(ctx, id, from, model.InstanceStatusConnected, upd)
	if err != nil {
		return nil, false, err
	}

	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, won, err
	}
	if !won {
		return inst, false, nil
	}

	if s.metrics != nil {
		s.metrics.InstanceConnections.WithLabelValues(string(source)).Inc()
	}
	s.countTransition(model.InstanceStatusConnected)
	s.publish(ctx, id, model.EventInstanceConnected, model.InstanceConnectedEvent{
		InstanceID:  id,
		PhoneNumber: inst.Phone(),
	})

	s.logger.Info().
		Str("instance_id", id.String()).
		Str("source", string(source)).
		Msg("instance connected")
	return inst, true, nil
}

func (s *Service) MarkDisconnected(ctx context.Context, id uuid.UUID) (bool, error) {
	now := s.now()
	won, err := s.repo.UpdateStatus(ctx, id,
		[]model.InstanceStatus{model.InstanceStatusConnected},
		model.InstanceStatusDisconnected,
		model.StatusUpdate{DisconnectedAt: &now},
	)
	if err != nil || !won {
		return false, err
	}

	s.countTransition(model.InstanceStatusDisconnected)
	s.publish(ctx, id, model.EventInstanceDisconnected, model.InstanceDisconnectedEvent{InstanceID: id})
	s.notifyDisconnected(ctx, id)

	s.logger.Info().Str("instance_id", id.String()).Msg("instance disconnected")
	return true, nil
}

func (s *Service) MarkError(ctx context.Context, id uuid.UUID, cause string) error {
	ok, err := s.repo.UpdateStatus(ctx, id,
		model.SourcesFor(model.InstanceStatusError),
		model.InstanceStatusError,
		model.StatusUpdate{LastError: &cause},
	)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInstanceNotFound
	}
	s.countTransition(model.InstanceStatusError)
	return nil
}

// Status is the polling read. While a QR code is showing it also checks the
// provider, so a browser poll converges on the same transition as the webhook.
// A poll never moves an instance backwards.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error) {
	inst, err := s.Get(ctx, id)
	if err != nil || inst.Status != model.InstanceStatusQRGenerated {
		return inst, err
	}

	st, err := s.provider.ConnectionState(ctx, inst.EvolutionInstanceName)
	if err != nil {
		s.logger.Debug().Err(err).Str("instance_id", id.String()).Msg("connection state check failed")
		return inst, nil
	}
	if st.State != evolution.StateOpen {
		return inst, nil
	}

	updated, _, err := s.MarkConnected(ctx, id, s.providerPhone(ctx, inst.EvolutionInstanceName), model.SourcePoll)
	if err != nil {
		return inst, err
	}
	return updated, nil
}

// Sync reconciles one instance with the provider.
func (s *Service) Sync(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	st, err := s.provider.ConnectionState(ctx, inst.EvolutionInstanceName)
	if errors.Is(err, evolution.ErrInstanceNotFound) {
		if inst.Status != model.InstanceStatusCreated && inst.Status != model.InstanceStatusNotFoundInEvolution {
			ok, err := s.repo.UpdateStatus(ctx, id,
				[]model.InstanceStatus{inst.Status},
				model.InstanceStatusNotFoundInEvolution,
				model.StatusUpdate{ClearQRCode: true},
			)
			if err != nil {
				return nil, err
			}
			if ok {
				s.countTransition(model.InstanceStatusNotFoundInEvolution)
				s.logger.Warn().Str("instance_id", id.String()).Msg("instance missing at provider")
			}
		}
		return s.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	switch st.State {
	case evolution.StateOpen:
		if inst.Status != model.InstanceStatusConnected {
			updated, _, err := s.MarkConnected(ctx, id, s.providerPhone(ctx, inst.EvolutionInstanceName), model.SourceSync)
			return updated, err
		}
	case evolution.StateClose:
		if inst.Status == model.InstanceStatusConnected {
			if _, err := s.MarkDisconnected(ctx, id); err != nil {
				return nil, err
			}
		}
	}
	return s.Get(ctx, id)
}

// SyncAll reconciles every instance that is pairing or paired and returns
// how many failed.
func (s *Service) SyncAll(ctx context.Context) (int, error) {
	list, err := s.repo.ListByStatus(ctx, model.InstanceStatusQRGenerated, model.InstanceStatusConnected)
	if err != nil {
		return 0, fmt.Errorf("failed to list instances: %w", err)
	}

	failed := 0
	for _, inst := range list {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		if _, err := s.Sync(ctx, inst.ID); err != nil {
			failed++
			s.logger.Warn().Err(err).Str("instance_id", inst.ID.String()).Msg("instance sync failed")
		}
	}
	return failed, nil
}

// Delete removes the local row. Provider cleanup is best effort.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInstanceNotFound
		}
		return fmt.Errorf("failed to delete instance: %w", err)
	}

	name := inst.EvolutionInstanceName
	if err := s.provider.Logout(ctx, name); err != nil && !errors.Is(err, evolution.ErrInstanceNotFound) {
		s.logger.Warn().Err(err).Str("name", name).Msg("provider logout failed")
	}
	if err := s.provider.DeleteInstance(ctx, name); err != nil && !errors.Is(err, evolution.ErrInstanceNotFound) {
		s.logger.Warn().Err(err).Str("name", name).Msg("provider delete failed")
	}
	return nil
}

// HandleConnectionUpdate applies a provider push. An open state is
// authoritative.
func (s *Service) HandleConnectionUpdate(ctx context.Context, instanceName, state, phone string) error {
	inst, err := s.repo.GetByName(ctx, instanceName)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInstanceNotFound
	}
	if err != nil {
		return err
	}

	switch state {
	case evolution.StateOpen:
		_, _, err = s.MarkConnected(ctx, inst.ID, phone, model.SourceWebhook)
	case evolution.StateClose:
		_, err = s.MarkDisconnected(ctx, inst.ID)
	}
	return err
}

func (s *Service) HandleQRUpdated(ctx context.Context, instanceName, code string) error {
	inst, err := s.repo.GetByName(ctx, instanceName)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInstanceNotFound
	}
	if err != nil {
		return err
	}
	if inst.Status != model.InstanceStatusQRGenerated || code == "" {
		return nil
	}
	if err := s.repo.SetQRCode(ctx, inst.ID, code); err != nil {
		return err
	}
	s.publish(ctx, inst.ID, model.EventInstanceQR, model.InstanceQREvent{InstanceID: inst.ID, QRCode: code})
	return nil
}

func (s *Service) ensureProviderInstance(ctx context.Context, name string) error {
	err := s.provider.CreateInstance(ctx, name)
	if err != nil && !errors.Is(err, evolution.ErrInstanceExists) {
		return err
	}
	if s.webhookURL != "" {
		if err := s.provider.SetWebhook(ctx, name, s.webhookURL, evolution.DefaultWebhookEvents); err != nil {
			s.logger.Warn().Err(err).Str("name", name).Msg("failed to register provider webhook")
		}
	}
	return nil
}

// fail records cause on the instance and returns it as a provider error.
func (s *Service) fail(ctx context.Context, inst *model.WhatsappInstance, cause error) error {
	if err := s.MarkError(ctx, inst.ID, cause.Error()); err != nil {
		s.logger.Error().Err(err).Str("instance_id", inst.ID.String()).Msg("failed to record instance error")
	}
	return fmt.Errorf("%w: %w", ErrProvider, cause)
}

func (s *Service) providerPhone(ctx context.Context, name string) string {
	info, err := s.provider.FetchInstance(ctx, name)
	if err != nil {
		s.logger.Debug().Err(err).Str("name", name).Msg("failed to fetch instance details")
		return ""
	}
	return info.Phone()
}

func (s *Service) publish(ctx context.Context, id uuid.UUID, event string, data interface{}) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, model.InstanceRoom(id), messaging.Envelope{Event: event, Data: data})
	if err != nil {
		s.logger.Warn().Err(err).Str("instance_id", id.String()).Str("event", event).Msg("failed to publish realtime event")
	}
}

func (s *Service) notifyDisconnected(ctx context.Context, id uuid.UUID) {
	if s.outbox == nil {
		return
	}
	inst, err := s.repo.Get(ctx, id)
	if err != nil {
		return
	}
	sub, err := s.subaccounts.Get(ctx, inst.SubaccountID)
	if err != nil || sub.Email == "" {
		return
	}
	payload, err := json.Marshal(model.Notification{
		Kind:      model.NotificationInstanceDisconnected,
		Recipient: sub.Email,
		Subject:   "WhatsApp number disconnected",
		Body:      fmt.Sprintf("The WhatsApp number %s was disconnected. Generate a new QR code to reconnect it.", inst.Phone()),
	})
	if err == nil {
		err = s.outbox.Create(ctx, nil, &model.OutboxEvent{EventType: model.EventNotificationEmail, Payload: payload})
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("instance_id", id.String()).Msg("failed to queue disconnect notice")
	}
}

func (s *Service) countTransition(to model.InstanceStatus) {
	if s.metrics != nil {
		s.metrics.InstanceTransitions.WithLabelValues(string(to)).Inc()
	}
}
