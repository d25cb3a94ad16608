package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/internal/client"
	"github.com/jwalitptl/wa-connector/internal/client/evolution"
	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
	"github.com/jwalitptl/wa-connector/pkg/worker"
)

var (
	ErrForwardDisabled  = errors.New("message forwarding is not configured")
	ErrBadSignature     = errors.New("invalid webhook signature")
	ErrUnsupportedEvent = errors.New("unsupported billing event")
)

const (
	eventConnectionUpdate = "connection.update"
	eventQRCodeUpdated    = "qrcode.updated"
)

type InstanceEvents interface {
	HandleConnectionUpdate(ctx context.Context, instanceName, state, phone string) error
	HandleQRUpdated(ctx context.Context, instanceName, code string) error
}

type Billing interface {
	MarkInvoice(ctx context.Context, invoiceID uuid.UUID, status model.InvoiceStatus, externalID string) (*model.Invoice, error)
	ChangePlan(ctx context.Context, subaccountID uuid.UUID, plan model.Plan, extraSlots int) (*model.Subscription, *model.Invoice, error)
}

type Forwarder interface {
	ForwardMessage(ctx context.Context, url string, payload json.RawMessage) error
}

type WebhookServicer interface {
	EnqueueMessage(ctx context.Context, msg *model.MessageWebhook) error
	Deliver(ctx context.Context, event *model.OutboxEvent) error
	HandleEvolution(ctx context.Context, ev *model.EvolutionEvent) error
	VerifyBillingSignature(body []byte, signature string) error
	HandleBilling(ctx context.Context, ev *model.BillingWebhook) error
}

type Service struct {
	outbox        repository.OutboxRepository
	instances     InstanceEvents
	billing       Billing
	forwarder     Forwarder
	forwardURL    string
	billingSecret []byte
	logger        zerolog.Logger
}

func NewService(
	outbox repository.OutboxRepository,
	instances InstanceEvents,
	billing Billing,
	forwarder Forwarder,
	forwardURL string,
	billingSecret string,
	logger zerolog.Logger,
) *Service {
	return &Service{
		outbox:        outbox,
		instances:     instances,
		billing:       billing,
		forwarder:     forwarder,
		forwardURL:    forwardURL,
		billingSecret: []byte(billingSecret),
		logger:        logger.With().Str("component", "webhook").Logger(),
	}
}

// EnqueueMessage queues an inbound message for delivery to the workflow
// engine. The outbox worker performs the actual call.
func (s *Service) EnqueueMessage(ctx context.Context, msg *model.MessageWebhook) error {
	if s.forwardURL == "" {
		return ErrForwardDisabled
	}
	payload, err := json.Marshal(model.ForwardedMessage{URL: s.forwardURL, Body: *msg})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := s.outbox.Create(ctx, nil, &model.OutboxEvent{EventType: model.EventWebhookMessage, Payload: payload}); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// Deliver is the outbox handler for webhook.message events. Client errors
// from the workflow engine are not retried.
func (s *Service) Deliver(ctx context.Context, event *model.OutboxEvent) error {
	var fwd model.ForwardedMessage
	if err := json.Unmarshal(event.Payload, &fwd); err != nil {
		return fmt.Errorf("%w: bad message payload: %v", worker.ErrPermanent, err)
	}
	body, err := json.Marshal(fwd.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", worker.ErrPermanent, err)
	}

	err = s.forwarder.ForwardMessage(ctx, fwd.URL, body)
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) && statusErr.Status >= http.StatusBadRequest && statusErr.Status < http.StatusInternalServerError {
		return fmt.Errorf("%w: %v", worker.ErrPermanent, err)
	}
	return err
}

// HandleEvolution routes a provider event. Event names arrive either as
// CONNECTION_UPDATE or connection.update.
func (s *Service) HandleEvolution(ctx context.Context, ev *model.EvolutionEvent) error {
	switch normalizeEvent(ev.Event) {
	case eventConnectionUpdate:
		var data model.EvolutionConnectionData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return fmt.Errorf("bad connection.update payload: %w", err)
		}
		return s.instances.HandleConnectionUpdate(ctx, ev.Instance, data.State, evolution.PhoneFromJID(data.Wuid))

	case eventQRCodeUpdated:
		var data model.EvolutionQRData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return fmt.Errorf("bad qrcode.updated payload: %w", err)
		}
		code := data.QRCode.Base64
		if code == "" {
			code = data.QRCode.Code
		}
		return s.instances.HandleQRUpdated(ctx, ev.Instance, code)
	}

	s.logger.Debug().Str("event", ev.Event).Str("instance", ev.Instance).Msg("ignoring provider event")
	return nil
}

// VerifyBillingSignature checks the hex HMAC-SHA256 of body. An unset
// secret rejects everything.
func (s *Service) VerifyBillingSignature(body []byte, signature string) error {
	if len(s.billingSecret) == 0 || signature == "" {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, s.billingSecret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

func (s *Service) HandleBilling(ctx context.Context, ev *model.BillingWebhook) error {
	switch {
	case ev.InvoiceID != nil && ev.Status != "":
		_, err := s.billing.MarkInvoice(ctx, *ev.InvoiceID, model.InvoiceStatus(ev.Status), ev.ExternalID)
		return err
	case ev.SubaccountID != nil && ev.Plan != "":
		_, _, err := s.billing.ChangePlan(ctx, *ev.SubaccountID, model.Plan(ev.Plan), ev.ExtraSlots)
		return err
	}
	return ErrUnsupportedEvent
}

// Sign is the counterpart of VerifyBillingSignature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func normalizeEvent(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", ".")
}
