package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type OutboxRepository struct {
	mu        sync.Mutex
	Events    []*model.OutboxEvent
	CreateErr error
}

func (m *OutboxRepository) Create(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	event.ID = uuid.New()
	event.CreatedAt = time.Now().UTC()
	event.UpdatedAt = event.CreatedAt
	event.Status = string(model.OutboxStatusPending)
	m.Events = append(m.Events, event)
	return nil
}

func (m *OutboxRepository) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.OutboxEvent
	for _, e := range m.Events {
		if len(out) >= limit {
			break
		}
		if e.Status == string(model.OutboxStatusPending) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *OutboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Events {
		if e.ID == id {
			e.Status = string(status)
			e.ErrorMessage = errMsg
			e.RetryCount = retryCount
			return nil
		}
	}
	return repository.ErrNotFound
}

// ByType returns the recorded events of one type.
func (m *OutboxRepository) ByType(eventType string) []*model.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.OutboxEvent
	for _, e := range m.Events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
