package apitoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
	"github.com/jwalitptl/wa-connector/pkg/messaging"
	"github.com/jwalitptl/wa-connector/pkg/security"
)

const (
	tokenScheme   = "wak_"
	prefixBytes   = 4
	secretBytes   = 32
	cacheTTL      = time.Minute
	cacheCleanup  = 5 * time.Minute
	touchTimeout  = 5 * time.Second
	createRetries = 2

	// RevokedChannel carries revocations to every replica's cache.
	RevokedChannel = "apitoken-revoked"
)

var (
	ErrInvalidToken  = errors.New("invalid api token")
	ErrTokenNotFound = errors.New("api token not found")
)

type ApiTokenServicer interface {
	Create(ctx context.Context, subaccountID uuid.UUID, name string) (*model.CreatedApiToken, error)
	Authenticate(ctx context.Context, bearer string) (*model.ApiToken, error)
	List(ctx context.Context, subaccountID uuid.UUID) ([]*model.ApiToken, error)
	Revoke(ctx context.Context, subaccountID, id uuid.UUID) error
}

type revocation struct {
	ID uuid.UUID `json:"id"`
}

// Service issues and verifies API tokens of the form wak_<prefix>_<secret>.
// The prefix locates the row; only a bcrypt hash of the secret is stored.
type Service struct {
	repo   repository.ApiTokenRepository
	hasher security.Hasher
	cache  *cache.Cache
	broker messaging.Broker
	logger zerolog.Logger
	now    func() time.Time
}

// NewService builds the token service. broker may be nil on a single node.
func NewService(repo repository.ApiTokenRepository, hasher security.Hasher, broker messaging.Broker, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		hasher: hasher,
		cache:  cache.New(cacheTTL, cacheCleanup),
		broker: broker,
		logger: logger.With().Str("component", "apitoken").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, subaccountID uuid.UUID, name string) (*model.CreatedApiToken, error) {
	secret, err := security.RandomToken(secretBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash token: %w", err)
	}

	for attempt := 0; ; attempt++ {
		prefix, err := security.RandomHex(prefixBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		tok := &model.ApiToken{
			SubaccountID: subaccountID,
			Name:         name,
			Prefix:       prefix,
			TokenHash:    hash,
		}
		err = s.repo.Create(ctx, tok)
		if errors.Is(err, repository.ErrConflict) && attempt < createRetries {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create api token: %w", err)
		}

		s.logger.Info().
			Str("subaccount_id", subaccountID.String()).
			Str("prefix", prefix).
			Msg("api token created")
		return &model.CreatedApiToken{ApiToken: tok, Token: tokenScheme + prefix + "_" + secret}, nil
	}
}

// Authenticate resolves a bearer token. Successful lookups are cached for a
// few minutes, keyed by a hash of the bearer.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*model.ApiToken, error) {
	key := security.Fingerprint(bearer)
	if v, ok := s.cache.Get(key); ok {
		tok := *v.(*model.ApiToken)
		return &tok, nil
	}

	prefix, secret, ok := parse(bearer)
	if !ok {
		return nil, ErrInvalidToken
	}

	tok, err := s.repo.GetByPrefix(ctx, prefix)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load api token: %w", err)
	}
	if err := s.hasher.Compare(tok.TokenHash, secret); err != nil {
		return nil, ErrInvalidToken
	}

	s.cache.SetDefault(key, tok)
	s.touch(tok.ID)

	out := *tok
	return &out, nil
}

func (s *Service) List(ctx context.Context, subaccountID uuid.UUID) ([]*model.ApiToken, error) {
	list, err := s.repo.ListBySubaccount(ctx, subaccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api tokens: %w", err)
	}
	return list, nil
}

// Revoke deletes the token and drops any cached authentication for it.
func (s *Service) Revoke(ctx context.Context, subaccountID, id uuid.UUID) error {
	_, err := s.repo.Delete(ctx, id, subaccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to revoke api token: %w", err)
	}

	s.evict(id)
	if s.broker != nil {
		if err := s.broker.Publish(ctx, RevokedChannel, revocation{ID: id}); err != nil {
			// Other replicas still drop it when their cache entry expires.
			s.logger.Warn().Err(err).Str("token_id", id.String()).Msg("failed to broadcast revocation")
		}
	}

	s.logger.Info().Str("token_id", id.String()).Msg("api token revoked")
	return nil
}

// Listen evicts tokens revoked on other replicas until ctx is done. It
// returns once the subscription is in place.
func (s *Service) Listen(ctx context.Context) error {
	if s.broker == nil {
		return nil
	}
	ch, err := s.broker.PSubscribe(ctx, RevokedChannel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to revocations: %w", err)
	}

	go func() {
		for msg := range ch {
			var rev revocation
			if err := json.Unmarshal(msg.Payload, &rev); err != nil {
				s.logger.Warn().Err(err).Msg("invalid revocation message")
				continue
			}
			s.evict(rev.ID)
		}
	}()
	return nil
}

func (s *Service) evict(id uuid.UUID) {
	for key, item := range s.cache.Items() {
		if tok, ok := item.Object.(*model.ApiToken); ok && tok.ID == id {
			s.cache.Delete(key)
		}
	}
}

func (s *Service) touch(id uuid.UUID) {
	at := s.now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.repo.TouchLastUsed(ctx, id, at); err != nil {
			s.logger.Debug().Err(err).Str("token_id", id.String()).Msg("failed to record token use")
		}
	}()
}

// parse splits wak_<8 hex>_<secret>. The secret may itself contain '_'.
func parse(bearer string) (prefix, secret string, ok bool) {
	rest, found := strings.CutPrefix(bearer, tokenScheme)
	if !found {
		return "", "", false
	}
	prefix, secret, found = strings.Cut(rest, "_")
	if !found || len(prefix) != 2*prefixBytes || secret == "" {
		return "", "", false
	}
	return prefix, secret, true
}
