package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	// PSubscribe delivers every message whose channel matches the glob pattern.
	PSubscribe(ctx context.Context, pattern string) (<-chan Message, error)
	Ping(ctx context.Context) error
	Close() error
}

// Message is a payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Envelope is the JSON shape published for realtime events.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}
