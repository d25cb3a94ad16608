package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jwalitptl/wa-connector/internal/model"
)

// ErrPermanent marks a dispatch failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent dispatch failure")

type HandlerFunc func(ctx context.Context, event *model.OutboxEvent) error

// Router dispatches events by exact type first, then by the longest
// registered prefix.
type Router struct {
	mu       sync.RWMutex
	exact    map[string]HandlerFunc
	prefixes map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{
		exact:    make(map[string]HandlerFunc),
		prefixes: make(map[string]HandlerFunc),
	}
}

func (r *Router) Handle(eventType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[eventType] = h
}

func (r *Router) HandlePrefix(prefix string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[prefix] = h
}

func (r *Router) Dispatch(ctx context.Context, event *model.OutboxEvent) error {
	h := r.lookup(event.EventType)
	if h == nil {
		return fmt.Errorf("%w: no handler for %q", ErrPermanent, event.EventType)
	}
	return h(ctx, event)
}

func (r *Router) lookup(eventType string) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.exact[eventType]; ok {
		return h
	}
	var (
		best    HandlerFunc
		bestLen int
	)
	for prefix, h := range r.prefixes {
		if strings.HasPrefix(eventType, prefix) && len(prefix) > bestLen {
			best, bestLen = h, len(prefix)
		}
	}
	return best
}
