package subaccount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
	"github.com/jwalitptl/wa-connector/pkg/lock"
	"github.com/jwalitptl/wa-connector/pkg/security"
)

const (
	installTokenTTL   = 7 * 24 * time.Hour
	installTokenBytes = 32
	claimLockTTL      = 30 * time.Second
	demoCompanyName   = "Demo Company"
)

var (
	ErrSubaccountNotFound  = errors.New("subaccount not found")
	ErrInstallTokenInvalid = errors.New("install token is invalid or expired")
	ErrInstallTokenUsed    = errors.New("install token already used")
	ErrLocationTaken       = errors.New("location already linked to another subaccount")
)

// TrialStarter opens the trial subscription of a new subaccount.
type TrialStarter interface {
	StartTrial(ctx context.Context, tx *sqlx.Tx, subaccountID uuid.UUID) (*model.Subscription, error)
}

// LocationProfile is what the CRM tells us about a location at install time.
type LocationProfile struct {
	LocationID   string
	Name         string
	Email        string
	Phone        string
	CRMUserID    string
	CRMCompanyID string
}

type SubaccountServicer interface {
	ListActive(ctx context.Context, companyID *uuid.UUID) ([]*model.Subaccount, error)
	ListAll(ctx context.Context, companyID *uuid.UUID) ([]*model.Subaccount, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Subaccount, error)
	GetByLocation(ctx context.Context, locationID string) (*model.Subaccount, error)
	Update(ctx context.Context, id uuid.UUID, req *model.UpdateSubaccountRequest) (*model.Subaccount, error)
	Uninstall(ctx context.Context, id uuid.UUID) error
	CreatePlaceholder(ctx context.Context, req *model.CreatePlaceholderRequest, createdBy *uuid.UUID) (*model.PlaceholderResponse, error)
	VerifyInstallToken(ctx context.Context, token string) (*model.VerifyTokenResponse, error)
	UpsertForLocation(ctx context.Context, profile LocationProfile) (*model.Subaccount, bool, error)
	Claim(ctx context.Context, token string, profile LocationProfile) (*model.Subaccount, error)
	SeedDemo(ctx context.Context) (*model.Subaccount, error)
	CleanupDemo(ctx context.Context) (int, error)
}

type Service struct {
	tx            repository.TxRunner
	repo          repository.SubaccountRepository
	companies     repository.CompanyRepository
	installTokens repository.InstallTokenRepository
	billing       TrialStarter
	locker        lock.Locker
	publicURL     string
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(
	tx repository.TxRunner,
	repo repository.SubaccountRepository,
	companies repository.CompanyRepository,
	installTokens repository.InstallTokenRepository,
	billing TrialStarter,
	locker lock.Locker,
	publicURL string,
	logger zerolog.Logger,
) *Service {
	return &Service{
		tx:            tx,
		repo:          repo,
		companies:     companies,
		installTokens: installTokens,
		billing:       billing,
		locker:        locker,
		publicURL:     strings.TrimRight(publicURL, "/"),
		logger:        logger.With().Str("component", "subaccount").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ListActive is what users see. Uninstalled and unclaimed rows are hidden.
func (s *Service) ListActive(ctx context.Context, companyID *uuid.UUID) ([]*model.Subaccount, error) {
	subs, err := s.repo.List(ctx, model.SubaccountFilter{CompanyID: companyID})
	if err != nil {
		return nil, fmt.Errorf("failed to list subaccounts: %w", err)
	}
	return subs, nil
}

func (s *Service) ListAll(ctx context.Context, companyID *uuid.UUID) ([]*model.Subaccount, error) {
	subs, err := s.repo.List(ctx, model.SubaccountFilter{CompanyID: companyID, IncludeInactive: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list subaccounts: %w", err)
	}
	return subs, nil
}

// Get resolves any status so historical records stay reachable.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Subaccount, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSubaccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subaccount: %w", err)
	}
	return sub, nil
}

func (s *Service) GetByLocation(ctx context.Context, locationID string) (*model.Subaccount, error) {
	sub, err := s.repo.GetByLocationID(ctx, locationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSubaccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subaccount: %w", err)
	}
	return sub, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req *model.UpdateSubaccountRequest) (*model.Subaccount, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.BillingEnabled != nil {
		sub.BillingEnabled = *req.BillingEnabled
	}
	if req.ManualActivation != nil {
		sub.ManualActivation = *req.ManualActivation
	}
	if req.Role != nil {
		sub.Role = model.Role(*req.Role)
	}
	if req.Name != nil {
		sub.Name = *req.Name
	}
	if err := s.repo.Update(ctx, nil, sub); err != nil {
		return nil, fmt.Errorf("failed to update subaccount: %w", err)
	}
	return sub, nil
}

// Uninstall soft-deletes the subaccount.
func (s *Service) Uninstall(ctx context.Context, id uuid.UUID) error {
	err := s.repo.SoftDelete(ctx, id, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSubaccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to uninstall subaccount: %w", err)
	}
	s.logger.Info().Str("subaccount_id", id.String()).Msg("subaccount uninstalled")
	return nil
}

// CreatePlaceholder is the sell flow: an unbound subaccount plus a
// single-use install token that whoever completes OAuth with it will claim.
func (s *Service) CreatePlaceholder(ctx context.Context, req *model.CreatePlaceholderRequest, createdBy *uuid.UUID) (*model.PlaceholderResponse, error) {
	token, err := security.RandomToken(installTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate install token: %w", err)
	}

	sub := &model.Subaccount{
		CompanyID:      req.CompanyID,
		Name:           req.Name,
		Email:          req.Email,
		Role:           model.RoleUser,
		BillingEnabled: true,
		Sold:           true,
		Status:         model.SubaccountStatusPendingClaim,
	}
	if req.ReferringAgencyID != "" {
		agency := req.ReferringAgencyID
		sub.ReferringAgencyID = &agency
	}

	expiresAt := s.now().Add(installTokenTTL)
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.Create(ctx, tx, sub); err != nil {
			return err
		}
		return s.installTokens.Create(ctx, tx, &model.InstallToken{
			Token:        token,
			SubaccountID: sub.ID,
			CreatedBy:    createdBy,
			ExpiresAt:    expiresAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create placeholder: %w", err)
	}

	s.logger.Info().Str("subaccount_id", sub.ID.String()).Msg("placeholder subaccount created")

	return &model.PlaceholderResponse{
		Subaccount: sub,
		Token:      token,
		InstallURL: s.publicURL + "/install/" + token,
		ExpiresAt:  expiresAt,
	}, nil
}

// VerifyInstallToken never fails for a bad token; it reports it as invalid.
func (s *Service) VerifyInstallToken(ctx context.Context, token string) (*model.VerifyTokenResponse, error) {
	t, err := s.installTokens.Get(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return &model.VerifyTokenResponse{Valid: false, Error: "token not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify install token: %w", err)
	}

	switch {
	case t.ConsumedAt != nil:
		return &model.VerifyTokenResponse{Valid: false, Error: "token already used"}, nil
	case !s.now().Before(t.ExpiresAt):
		return &model.VerifyTokenResponse{Valid: false, Error: "token expired"}, nil
	}

	sub, err := s.Get(ctx, t.SubaccountID)
	if err != nil {
		return nil, err
	}
	return &model.VerifyTokenResponse{Valid: true, Subaccount: sub}, nil
}

// UpsertForLocation finds or creates the subaccount of a location after a
// direct install. A previously uninstalled row is reactivated. The bool
// reports whether a new row was created.
func (s *Service) UpsertForLocation(ctx context.Context, profile LocationProfile) (*model.Subaccount, bool, error) {
	existing, err := s.repo.GetByLocationID(ctx, profile.LocationID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up subaccount: %w", err)
	}

	if existing != nil {
		applyProfile(existing, profile)
		if existing.Status == model.SubaccountStatusUninstalled {
			existing.Status = model.SubaccountStatusActive
			existing.UninstalledAt = nil
			s.logger.Info().Str("location_id", profile.LocationID).Msg("reactivating subaccount")
		}
		if err := s.repo.Update(ctx, nil, existing); err != nil {
			return nil, false, fmt.Errorf("failed to update subaccount: %w", err)
		}
		return existing, false, nil
	}

	loc := profile.LocationID
	sub := &model.Subaccount{
		LocationID:     &loc,
		Role:           model.RoleUser,
		BillingEnabled: true,
		Status:         model.SubaccountStatusActive,
	}
	applyProfile(sub, profile)

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.Create(ctx, tx, sub); err != nil {
			return err
		}
		_, err := s.billing.StartTrial(ctx, tx, sub.ID)
		return err
	})
	if errors.Is(err, repository.ErrConflict) {
		// Lost a race with a concurrent install of the same location.
		existing, getErr := s.repo.GetByLocationID(ctx, profile.LocationID)
		if getErr != nil {
			return nil, false, fmt.Errorf("failed to create subaccount: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create subaccount: %w", err)
	}
	return sub, true, nil
}

// Claim redeems an install token for a location. Redemption is serialised
// per token and the token update is conditional, so exactly one of any
// number of concurrent claims succeeds.
func (s *Service) Claim(ctx context.Context, token string, profile LocationProfile) (*model.Subaccount, error) {
	var claimed *model.Subaccount

	err := s.locker.WithLock(ctx, "install:"+token, claimLockTTL, func(ctx context.Context) error {
		t, err := s.installTokens.Get(ctx, token)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInstallTokenInvalid
		}
		if err != nil {
			return err
		}
		if t.ConsumedAt != nil {
			return ErrInstallTokenUsed
		}
		if !t.Usable(s.now()) {
			return ErrInstallTokenInvalid
		}

		sub, err := s.Get(ctx, t.SubaccountID)
		if err != nil {
			return err
		}
		loc := profile.LocationID
		sub.LocationID = &loc
		sub.CRMUserID = profile.CRMUserID
		sub.CRMCompanyID = profile.CRMCompanyID

		return s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
			if err := s.repo.BindLocation(ctx, tx, sub); err != nil {
				switch {
				case errors.Is(err, repository.ErrConflict):
					return ErrLocationTaken
				case errors.Is(err, repository.ErrStale):
					return ErrInstallTokenUsed
				}
				return err
			}
			if err := s.installTokens.Consume(ctx, tx, token, profile.LocationID, s.now()); err != nil {
				if errors.Is(err, repository.ErrStale) {
					return ErrInstallTokenUsed
				}
				return err
			}
			if _, err := s.billing.StartTrial(ctx, tx, sub.ID); err != nil && !errors.Is(err, repository.ErrConflict) {
				return err
			}
			claimed = sub
			return nil
		})
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		// Another claim of the same token is in flight.
		return nil, ErrInstallTokenUsed
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("subaccount_id", claimed.ID.String()).
		Str("location_id", profile.LocationID).
		Msg("placeholder claimed")
	return claimed, nil
}

func applyProfile(sub *model.Subaccount, p LocationProfile) {
	if p.Name != "" {
		sub.Name = p.Name
	}
	if p.Email != "" {
		sub.Email = p.Email
	}
	if p.Phone != "" {
		sub.Phone = p.Phone
	}
	if p.CRMUserID != "" {
		sub.CRMUserID = p.CRMUserID
	}
	if p.CRMCompanyID != "" {
		sub.CRMCompanyID = p.CRMCompanyID
	}
}
