package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/pkg/messaging"
	"github.com/jwalitptl/wa-connector/pkg/worker"
)

// Relay returns the outbox handler for realtime.* events. It publishes the
// stored envelope to the event's room.
func Relay(broker messaging.Broker) worker.HandlerFunc {
	return func(ctx context.Context, event *model.OutboxEvent) error {
		var p model.RealtimePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("%w: bad realtime payload: %v", worker.ErrPermanent, err)
		}
		if p.Room == "" || p.Event == "" {
			return fmt.Errorf("%w: realtime payload missing room or event", worker.ErrPermanent)
		}
		return broker.Publish(ctx, p.Room, messaging.Envelope{Event: p.Event, Data: p.Data})
	}
}
