// Package memory is an in-process Broker for single-node runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"github.com/jwalitptl/wa-connector/pkg/messaging"
)

type subscription struct {
	pattern string
	ch      chan messaging.Message
}

type Broker struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscription]struct{})}
}

func (b *Broker) Publish(ctx context.Context, channel string, message interface{}) error {
	var payload []byte
	switch m := message.(type) {
	case []byte:
		payload = m
	case json.RawMessage:
		payload = m
	default:
		var err error
		payload, err = json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- messaging.Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

func (b *Broker) PSubscribe(ctx context.Context, pattern string) (<-chan messaging.Message, error) {
	s := &subscription{pattern: pattern, ch: make(chan messaging.Message, 100)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()

	return s.ch, nil
}

func (b *Broker) Ping(ctx context.Context) error { return nil }

func (b *Broker) Close() error { return nil }
