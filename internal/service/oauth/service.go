package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/internal/client/crm"
	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
	"github.com/jwalitptl/wa-connector/internal/service/subaccount"
	"github.com/jwalitptl/wa-connector/pkg/metrics"
	"github.com/jwalitptl/wa-connector/pkg/security"
)

const stateBytes = 32

var (
	ErrInvalidState        = errors.New("oauth state is invalid or expired")
	ErrInvalidInstallToken = errors.New("install token is invalid")
	ErrNoLocation          = errors.New("authorization did not include a location")
	ErrNotConnected        = errors.New("location has no CRM credentials")
)

// CRM is the subset of the CRM API used during onboarding.
type CRM interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*crm.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*crm.TokenResponse, error)
	GetLocation(ctx context.Context, accessToken, locationID string) (*crm.Location, error)
	ListCustomMenus(ctx context.Context, accessToken, locationID string) ([]crm.CustomMenu, error)
	CreateCustomMenu(ctx context.Context, accessToken string, menu crm.CustomMenu) (*crm.CustomMenu, error)
}

type WorkflowCloner interface {
	DuplicateWorkflow(ctx context.Context, templateID, name string) (string, error)
}

type Subaccounts interface {
	VerifyInstallToken(ctx context.Context, token string) (*model.VerifyTokenResponse, error)
	UpsertForLocation(ctx context.Context, profile subaccount.LocationProfile) (*model.Subaccount, bool, error)
	Claim(ctx context.Context, token string, profile subaccount.LocationProfile) (*model.Subaccount, error)
}

type Config struct {
	AuthorizeURL       string
	ClientID           string
	RedirectURI        string
	Scopes             []string
	MenuURL            string
	MenuTitle          string
	StateTTL           time.Duration
	TokenSkew          time.Duration
	TemplateWorkflowID string
}

type OAuthServicer interface {
	BeginInstall(ctx context.Context, installToken string) (string, error)
	HandleCallback(ctx context.Context, code, state string) (*model.InstallResult, error)
	AccessToken(ctx context.Context, locationID string) (string, error)
	DecryptSSO(ctx context.Context, ssoKey string) (*security.SSOPayload, error)
	EnsureCustomMenu(ctx context.Context, locationID string) error
	ResetStates(ctx context.Context) (int64, error)
	SweepStates(ctx context.Context) (int64, error)
}

type Service struct {
	cfg         Config
	states      repository.OAuthStateRepository
	tokens      repository.CRMTokenRepository
	outbox      repository.OutboxRepository
	subaccounts Subaccounts
	crm         CRM
	workflows   WorkflowCloner
	sso         *security.SSOCodec
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(
	cfg Config,
	states repository.OAuthStateRepository,
	tokens repository.CRMTokenRepository,
	outbox repository.OutboxRepository,
	subaccounts Subaccounts,
	crmClient CRM,
	workflows WorkflowCloner,
	sso *security.SSOCodec,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.TokenSkew <= 0 {
		cfg.TokenSkew = time.Minute
	}
	return &Service{
		cfg:         cfg,
		states:      states,
		tokens:      tokens,
		outbox:      outbox,
		subaccounts: subaccounts,
		crm:         crmClient,
		workflows:   workflows,
		sso:         sso,
		metrics:     m,
		logger:      logger.With().Str("component", "oauth").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// BeginInstall records a single-use state and returns the CRM authorize URL.
// An install token, when given, must still be redeemable.
func (s *Service) BeginInstall(ctx context.Context, installToken string) (string, error) {
	st := &model.OAuthState{RedirectURI: s.cfg.RedirectURI}

	if installToken != "" {
		v, err := s.subaccounts.VerifyInstallToken(ctx, installToken)
		if err != nil {
			return "", err
		}
		if !v.Valid {
			return "", fmt.Errorf("%w: %s", ErrInvalidInstallToken, v.Error)
		}
		st.InstallToken = &installToken
	}

	state, err := security.RandomToken(stateBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	now := s.now()
	st.State = state
	st.CreatedAt = now
	st.ExpiresAt = now.Add(s.cfg.StateTTL)

	if err := s.states.Create(ctx, st); err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", s.cfg.ClientID)
	q.Set("redirect_uri", s.cfg.RedirectURI)
	q.Set("scope", strings.Join(s.cfg.Scopes, " "))
	q.Set("state", state)

	return s.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

// HandleCallback completes an install. The state is consumed before anything
// else so a replayed callback never reaches the CRM.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (*model.InstallResult, error) {
	st, err := s.states.Consume(ctx, state)
	if errors.Is(err, repository.ErrNotFound) {
		s.countInstall("invalid_state")
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	tok, err := s.crm.ExchangeCode(ctx, code, st.RedirectURI)
	if err != nil {
		s.countInstall("exchange_failed")
		return nil, err
	}
	if tok.LocationID == "" {
		s.countInstall("no_location")
		return nil, ErrNoLocation
	}

	if err := s.tokens.Upsert(ctx, &model.CRMToken{
		LocationID:   tok.LocationID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt(s.now()),
		Scope:        tok.Scope,
		UserType:     tok.UserType,
		CompanyID:    tok.CompanyID,
	}); err != nil {
		return nil, fmt.Errorf("failed to store crm token: %w", err)
	}

	profile := s.locationProfile(ctx, tok)
	result := &model.InstallResult{}

	var created bool
	if st.InstallToken != nil {
		result.Subaccount, err = s.subaccounts.Claim(ctx, *st.InstallToken, profile)
		result.Claimed = err == nil
		created = result.Claimed
	} else {
		result.Subaccount, created, err = s.subaccounts.UpsertForLocation(ctx, profile)
	}
	if err != nil {
		s.countInstall("failed")
		return nil, err
	}

	if err := s.EnsureCustomMenu(ctx, tok.LocationID); err != nil {
		s.logger.Warn().Err(err).Str("location_id", tok.LocationID).Msg("custom menu setup failed")
		result.Warnings = append(result.Warnings, "custom menu could not be created")
	}

	if created {
		if warning := s.provisionWorkflow(ctx, result.Subaccount); warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		s.queueWelcome(ctx, result.Subaccount)
	}

	switch {
	case result.Claimed:
		s.countInstall("claimed")
	case created:
		s.countInstall("installed")
	default:
		s.countInstall("reinstalled")
	}

	s.logger.Info().
		Str("location_id", tok.LocationID).
		Str("subaccount_id", result.Subaccount.ID.String()).
		Bool("claimed", result.Claimed).
		Bool("created", created).
		Msg("install completed")

	return result, nil
}

// AccessToken returns a usable access token for the location, refreshing it
// when it expires within the configured skew. Refresh failures are returned
// to the caller without retry.
func (s *Service) AccessToken(ctx context.Context, locationID string) (string, error) {
	tok, err := s.tokens.Get(ctx, locationID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrNotConnected
	}
	if err != nil {
		return "", fmt.Errorf("failed to load crm token: %w", err)
	}

	now := s.now()
	if !tok.Expired(now, s.cfg.TokenSkew) {
		return tok.AccessToken, nil
	}

	refreshed, err := s.crm.RefreshToken(ctx, tok.RefreshToken)
	if err != nil {
		return "", err
	}

	tok.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		tok.RefreshToken = refreshed.RefreshToken
	}
	tok.ExpiresAt = refreshed.ExpiresAt(now)
	if refreshed.Scope != "" {
		tok.Scope = refreshed.Scope
	}
	if err := s.tokens.Upsert(ctx, tok); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}

	s.logger.Debug().Str("location_id", locationID).Msg("crm token refreshed")
	return tok.AccessToken, nil
}

func (s *Service) DecryptSSO(ctx context.Context, ssoKey string) (*security.SSOPayload, error) {
	return s.sso.Decrypt(ssoKey)
}

// EnsureCustomMenu adds the app's menu entry to the location unless one with
// the same URL already exists.
func (s *Service) EnsureCustomMenu(ctx context.Context, locationID string) error {
	if s.cfg.MenuURL == "" {
		return nil
	}

	accessToken, err := s.AccessToken(ctx, locationID)
	if err != nil {
		return err
	}

	menus, err := s.crm.ListCustomMenus(ctx, accessToken, locationID)
	if err != nil {
		return err
	}
	for _, m := range menus {
		if m.URL == s.cfg.MenuURL {
			return nil
		}
	}

	_, err = s.crm.CreateCustomMenu(ctx, accessToken, crm.CustomMenu{
		Title:          s.cfg.MenuTitle,
		URL:            s.cfg.MenuURL,
		ShowOnLocation: true,
		OpenMode:       "iframe",
		Locations:      []string{locationID},
		UserRole:       "all",
	})
	return err
}

// ResetStates clears every pending state. Called once at process start.
func (s *Service) ResetStates(ctx context.Context) (int64, error) {
	n, err := s.states.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reset oauth states: %w", err)
	}
	return n, nil
}

func (s *Service) SweepStates(ctx context.Context) (int64, error) {
	n, err := s.states.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep oauth states: %w", err)
	}
	return n, nil
}

func (s *Service) locationProfile(ctx context.Context, tok *crm.TokenResponse) subaccount.LocationProfile {
	profile := subaccount.LocationProfile{
		LocationID:   tok.LocationID,
		CRMUserID:    tok.UserID,
		CRMCompanyID: tok.CompanyID,
	}
	loc, err := s.crm.GetLocation(ctx, tok.AccessToken, tok.LocationID)
	if err != nil {
		s.logger.Warn().Err(err).Str("location_id", tok.LocationID).Msg("failed to fetch location details")
		return profile
	}
	profile.Name = loc.Name
	profile.Email = loc.Email
	profile.Phone = loc.Phone
	return profile
}

func (s *Service) provisionWorkflow(ctx context.Context, sub *model.Subaccount) string {
	if s.workflows == nil || s.cfg.TemplateWorkflowID == "" {
		return ""
	}
	name := "wa-" + sub.Location()
	id, err := s.workflows.DuplicateWorkflow(ctx, s.cfg.TemplateWorkflowID, name)
	if err != nil {
		s.logger.Warn().Err(err).Str("subaccount_id", sub.ID.String()).Msg("workflow duplication failed")
		return "workflow could not be provisioned"
	}
	s.logger.Info().Str("workflow_id", id).Str("subaccount_id", sub.ID.String()).Msg("workflow provisioned")
	return ""
}

func (s *Service) queueWelcome(ctx context.Context, sub *model.Subaccount) {
	if s.outbox == nil || sub.Email == "" {
		return
	}
	payload, err := json.Marshal(model.Notification{
		Kind:      model.NotificationInstallCompleted,
		Recipient: sub.Email,
		Subject:   "WhatsApp connector installed",
		Body:      fmt.Sprintf("Hi %s, the WhatsApp connector is installed. Open it from your CRM menu to connect a number.", sub.Name),
	})
	if err == nil {
		err = s.outbox.Create(ctx, nil, &model.OutboxEvent{EventType: model.EventNotificationEmail, Payload: payload})
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("subaccount_id", sub.ID.String()).Msg("failed to queue welcome email")
	}
}

func (s *Service) countInstall(result string) {
	if s.metrics != nil {
		s.metrics.OAuthInstalls.WithLabelValues(result).Inc()
	}
}
