package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

type InstanceRepository struct {
	mu        sync.Mutex
	Instances map[uuid.UUID]model.WhatsappInstance
	CreateErr error
	UpdateErr error

	// Transitions counts successful UpdateStatus calls per target status.
	Transitions map[model.InstanceStatus]int
}

func NewInstanceRepository() *InstanceRepository {
	return &InstanceRepository{
		Instances:   make(map[uuid.UUID]model.WhatsappInstance),
		Transitions: make(map[model.InstanceStatus]int),
	}
}

func (m *InstanceRepository) Create(ctx context.Context, inst *model.WhatsappInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	for _, i := range m.Instances {
		if i.EvolutionInstanceName == inst.EvolutionInstanceName {
			return repository.ErrConflict
		}
	}
	inst.Touch(time.Now().UTC())
	m.Instances[inst.ID] = *inst
	return nil
}

func (m *InstanceRepository) Get(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.Instances[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &i, nil
}

func (m *InstanceRepository) GetByName(ctx context.Context, name string) (*model.WhatsappInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.Instances {
		if i.EvolutionInstanceName == name {
			i := i
			return &i, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *InstanceRepository) ListBySubaccount(ctx context.Context, subaccountID uuid.UUID) ([]*model.WhatsappInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.WhatsappInstance
	for _, i := range m.Instances {
		if i.SubaccountID == subaccountID {
			i := i
			out = append(out, &i)
		}
	}
	return out, nil
}

func (m *InstanceRepository) ListByStatus(ctx context.Context, statuses ...model.InstanceStatus) ([]*model.WhatsappInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.WhatsappInstance
	for _, i := range m.Instances {
		if len(statuses) == 0 || containsStatus(statuses, i.Status) {
			i := i
			out = append(out, &i)
		}
	}
	return out, nil
}

func (m *InstanceRepository) CountBySubaccount(ctx context.Context, subaccountID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, i := range m.Instances {
		if i.SubaccountID == subaccountID {
			n++
		}
	}
	return n, nil
}

func (m *InstanceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []model.InstanceStatus, to model.InstanceStatus, upd model.StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return false, m.UpdateErr
	}
	i, ok := m.Instances[id]
	if !ok || !containsStatus(from, i.Status) {
		return false, nil
	}

	i.Status = to
	if upd.PhoneNumber != nil {
		i.PhoneNumber = upd.PhoneNumber
	}
	if upd.ClearQRCode {
		i.QRCode = nil
	} else if upd.QRCode != nil {
		i.QRCode = upd.QRCode
	}
	if upd.ConnectedAt != nil {
		i.ConnectedAt = upd.ConnectedAt
	}
	if upd.DisconnectedAt != nil {
		i.DisconnectedAt = upd.DisconnectedAt
	}
	i.LastError = upd.LastError
	i.UpdatedAt = time.Now().UTC()
	m.Instances[id] = i
	m.Transitions[to]++
	return true, nil
}

func (m *InstanceRepository) SetQRCode(ctx context.Context, id uuid.UUID, qr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.Instances[id]
	if !ok {
		return repository.ErrNotFound
	}
	i.QRCode = &qr
	m.Instances[id] = i
	return nil
}

func (m *InstanceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Instances[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.Instances, id)
	return nil
}

func containsStatus(list []model.InstanceStatus, s model.InstanceStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
