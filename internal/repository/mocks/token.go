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

type ApiTokenRepository struct {
	mu      sync.Mutex
	Tokens  map[uuid.UUID]model.ApiToken
	Touched map[uuid.UUID]time.Time
	GetErr  error

	// GetCalls counts GetByPrefix lookups.
	GetCalls int
}

func NewApiTokenRepository() *ApiTokenRepository {
	return &ApiTokenRepository{
		Tokens:  make(map[uuid.UUID]model.ApiToken),
		Touched: make(map[uuid.UUID]time.Time),
	}
}

func (m *ApiTokenRepository) Create(ctx context.Context, token *model.ApiToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.Tokens {
		if t.Prefix == token.Prefix {
			return repository.ErrConflict
		}
	}
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.CreatedAt = time.Now().UTC()
	m.Tokens[token.ID] = *token
	return nil
}

func (m *ApiTokenRepository) GetByPrefix(ctx context.Context, prefix string) (*model.ApiToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, t := range m.Tokens {
		if t.Prefix == prefix {
			t := t
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *ApiTokenRepository) ListBySubaccount(ctx context.Context, subaccountID uuid.UUID) ([]*model.ApiToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ApiToken
	for _, t := range m.Tokens {
		if t.SubaccountID == subaccountID {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

func (m *ApiTokenRepository) Delete(ctx context.Context, id, subaccountID uuid.UUID) (*model.ApiToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tokens[id]
	if !ok || t.SubaccountID != subaccountID {
		return nil, repository.ErrNotFound
	}
	delete(m.Tokens, id)
	return &t, nil
}

func (m *ApiTokenRepository) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Touched[id] = at
	if t, ok := m.Tokens[id]; ok {
		t.LastUsedAt = &at
		m.Tokens[id] = t
	}
	return nil
}

type OAuthStateRepository struct {
	mu     sync.Mutex
	States map[string]model.OAuthState
}

func NewOAuthStateRepository() *OAuthStateRepository {
	return &OAuthStateRepository{States: make(map[string]model.OAuthState)}
}

func (m *OAuthStateRepository) Create(ctx context.Context, state *model.OAuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.States[state.State]; ok {
		return repository.ErrConflict
	}
	m.States[state.State] = *state
	return nil
}

func (m *OAuthStateRepository) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.States[state]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(m.States, state)
	if !time.Now().Before(st.ExpiresAt) {
		return nil, repository.ErrNotFound
	}
	return &st, nil
}

func (m *OAuthStateRepository) DeleteAll(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.States))
	m.States = make(map[string]model.OAuthState)
	return n, nil
}

func (m *OAuthStateRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, st := range m.States {
		if !now.Before(st.ExpiresAt) {
			delete(m.States, k)
			n++
		}
	}
	return n, nil
}

type InstallTokenRepository struct {
	mu     sync.Mutex
	Tokens map[string]model.InstallToken
}

func NewInstallTokenRepository() *InstallTokenRepository {
	return &InstallTokenRepository{Tokens: make(map[string]model.InstallToken)}
}

func (m *InstallTokenRepository) Create(ctx context.Context, tx *sqlx.Tx, token *model.InstallToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Tokens[token.Token]; ok {
		return repository.ErrConflict
	}
	token.CreatedAt = time.Now().UTC()
	m.Tokens[token.Token] = *token
	return nil
}

func (m *InstallTokenRepository) Get(ctx context.Context, token string) (*model.InstallToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tokens[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (m *InstallTokenRepository) Consume(ctx context.Context, tx *sqlx.Tx, token, locationID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tokens[token]
	if !ok || !t.Usable(at) {
		return repository.ErrStale
	}
	t.ConsumedAt = &at
	t.ConsumedLocationID = &locationID
	m.Tokens[token] = t
	return nil
}

type CRMTokenRepository struct {
	mu        sync.Mutex
	Tokens    map[string]model.CRMToken
	UpsertErr error
}

func NewCRMTokenRepository() *CRMTokenRepository {
	return &CRMTokenRepository{Tokens: make(map[string]model.CRMToken)}
}

func (m *CRMTokenRepository) Upsert(ctx context.Context, token *model.CRMToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	token.UpdatedAt = time.Now().UTC()
	m.Tokens[token.LocationID] = *token
	return nil
}

func (m *CRMTokenRepository) Get(ctx context.Context, locationID string) (*model.CRMToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tokens[locationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}
