package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

const (
	EventWebhookMessage    = "webhook.message"
	EventNotificationEmail = "notification.email"
	EventRealtimePrefix    = "realtime."
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       string          `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// RealtimePayload is the body of a realtime.* outbox event.
type RealtimePayload struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewRealtimeEvent builds an outbox event that the worker relays to room.
func NewRealtimeEvent(room, event string, data interface{}) (*OutboxEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(RealtimePayload{Room: room, Event: event, Data: raw})
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{EventType: EventRealtimePrefix + event, Payload: payload}, nil
}
