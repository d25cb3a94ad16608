package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/internal/email"
	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/pkg/worker"
)

// Service delivers notification.email outbox events.
type Service struct {
	sender email.Service
	logger zerolog.Logger
}

func NewService(sender email.Service, logger zerolog.Logger) *Service {
	return &Service{
		sender: sender,
		logger: logger.With().Str("component", "notification").Logger(),
	}
}

// Handle is registered with the outbox router. Delivery is best effort: a
// disabled mailer or a malformed payload is logged and the event is settled.
func (s *Service) Handle(ctx context.Context, event *model.OutboxEvent) error {
	var n model.Notification
	if err := json.Unmarshal(event.Payload, &n); err != nil {
		return fmt.Errorf("%w: bad notification payload: %v", worker.ErrPermanent, err)
	}
	if n.Recipient == "" {
		return fmt.Errorf("%w: notification has no recipient", worker.ErrPermanent)
	}

	err := s.sender.Send(ctx, n.Recipient, n.Subject, n.Body)
	if errors.Is(err, email.ErrDisabled) {
		s.logger.Debug().Str("kind", string(n.Kind)).Msg("email disabled, notification dropped")
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Info().Str("kind", string(n.Kind)).Msg("notification sent")
	return nil
}
