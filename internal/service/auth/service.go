package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
	"github.com/jwalitptl/wa-connector/pkg/auth"
	"github.com/jwalitptl/wa-connector/pkg/security"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotInstalled       = errors.New("app is not installed for this location")
)

const tokenType = "Bearer"

type SubaccountLookup interface {
	GetByLocation(ctx context.Context, locationID string) (*model.Subaccount, error)
}

type AuthServicer interface {
	Login(ctx context.Context, req *model.LoginRequest) (*model.TokenResponse, error)
	IssueForSSO(ctx context.Context, payload *security.SSOPayload) (*model.SSOSessionResponse, error)
	Validate(ctx context.Context, token string) (*model.SessionClaims, error)
	EnsureAdmin(ctx context.Context, email, password string) error
}

type Service struct {
	users       repository.UserRepository
	subaccounts SubaccountLookup
	jwtSvc      auth.JWTService
	hasher      security.Hasher
	logger      zerolog.Logger
}

func NewService(users repository.UserRepository, subaccounts SubaccountLookup, jwtSvc auth.JWTService, hasher security.Hasher, logger zerolog.Logger) *Service {
	return &Service{
		users:       users,
		subaccounts: subaccounts,
		jwtSvc:      jwtSvc,
		hasher:      hasher,
		logger:      logger.With().Str("component", "auth").Logger(),
	}
}

func (s *Service) Login(ctx context.Context, req *model.LoginRequest) (*model.TokenResponse, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(req.Email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		s.logger.Info().Str("user_id", user.ID.String()).Msg("failed login")
		return nil, ErrInvalidCredentials
	}

	return s.issue(user.ID, user.Role, user.SubaccountID, "")
}

// IssueForSSO turns a decrypted SSO payload into a session scoped to the
// location's subaccount.
func (s *Service) IssueForSSO(ctx context.Context, payload *security.SSOPayload) (*model.SSOSessionResponse, error) {
	sub, err := s.subaccounts.GetByLocation(ctx, payload.LocationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInstalled, err)
	}
	if !sub.IsActive() {
		return nil, ErrNotInstalled
	}

	subID := sub.ID
	tok, err := s.issue(sub.ID, sub.Role, &subID, payload.LocationID)
	if err != nil {
		return nil, err
	}
	return &model.SSOSessionResponse{TokenResponse: *tok, Subaccount: sub}, nil
}

func (s *Service) Validate(ctx context.Context, token string) (*model.SessionClaims, error) {
	return s.jwtSvc.ValidateToken(token)
}

// EnsureAdmin creates the bootstrap system admin if it does not exist yet.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = strings.ToLower(email)
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	user := &model.User{Email: email, PasswordHash: hash, Name: "Administrator", Role: model.RoleSystemAdmin}
	if err := s.users.Create(ctx, user); err != nil && !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("failed to create admin: %w", err)
	}
	s.logger.Info().Str("email", email).Msg("bootstrap admin ensured")
	return nil
}

func (s *Service) issue(subject uuid.UUID, role model.Role, subaccountID *uuid.UUID, locationID string) (*model.TokenResponse, error) {
	token, expiresAt, err := s.jwtSvc.GenerateAccessToken(subject, role, subaccountID, locationID)
	if err != nil {
		return nil, err
	}
	return &model.TokenResponse{
		AccessToken: token,
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
		TokenType:   tokenType,
	}, nil
}
