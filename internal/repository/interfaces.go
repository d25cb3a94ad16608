package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/wa-connector/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	// ErrStale means a conditional update matched no row in the expected state.
	ErrStale = errors.New("record not in expected state")
)

// All repository interfaces in one file
type (
	// TxRunner runs fn inside a database transaction.
	TxRunner interface {
		WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
	}

	CompanyRepository interface {
		Create(ctx context.Context, company *model.Company) error
		Get(ctx context.Context, id uuid.UUID) (*model.Company, error)
		List(ctx context.Context) ([]*model.Company, error)
		Update(ctx context.Context, company *model.Company) error
	}

	SubaccountRepository interface {
		Create(ctx context.Context, tx *sqlx.Tx, sub *model.Subaccount) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Subaccount, error)
		GetByLocationID(ctx context.Context, locationID string) (*model.Subaccount, error)
		List(ctx context.Context, filter model.SubaccountFilter) ([]*model.Subaccount, error)
		Update(ctx context.Context, tx *sqlx.Tx, sub *model.Subaccount) error
		SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
		// BindLocation claims a pending placeholder for a location.
		BindLocation(ctx context.Context, tx *sqlx.Tx, sub *model.Subaccount) error
		Delete(ctx context.Context, id uuid.UUID) error
	}

	InstanceRepository interface {
		Create(ctx context.Context, inst *model.WhatsappInstance) error
		Get(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error)
		GetByName(ctx context.Context, name string) (*model.WhatsappInstance, error)
		ListBySubaccount(ctx context.Context, subaccountID uuid.UUID) ([]*model.WhatsappInstance, error)
		ListByStatus(ctx context.Context, statuses ...model.InstanceStatus) ([]*model.WhatsappInstance, error)
		CountBySubaccount(ctx context.Context, subaccountID uuid.UUID) (int, error)
		// UpdateStatus moves the instance to `to` only if its current status is in `from`.
		// It reports whether this call performed the transition.
		UpdateStatus(ctx context.Context, id uuid.UUID, from []model.InstanceStatus, to model.InstanceStatus, upd model.StatusUpdate) (bool, error)
		SetQRCode(ctx context.Context, id uuid.UUID, qr string) error
		Delete(ctx context.Context, id uuid.UUID) error
	}

	SubscriptionRepository interface {
		Create(ctx context.Context, tx *sqlx.Tx, sub *model.Subscription) error
		GetBySubaccount(ctx context.Context, subaccountID uuid.UUID) (*model.Subscription, error)
		Update(ctx context.Context, sub *model.Subscription) error
		ExpireTrials(ctx context.Context, now time.Time) (int64, error)
	}

	InvoiceRepository interface {
		Create(ctx context.Context, inv *model.Invoice) error
		Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
		ListBySubaccount(ctx context.Context, subaccountID uuid.UUID) ([]*model.Invoice, error)
		List(ctx context.Context, limit, offset int) ([]*model.Invoice, error)
		// SettleStatus moves a pending invoice to paid or failed.
		SettleStatus(ctx context.Context, id uuid.UUID, status model.InvoiceStatus, externalID *string, at time.Time) error
	}

	ApiTokenRepository interface {
		Create(ctx context.Context, token *model.ApiToken) error
		GetByPrefix(ctx context.Context, prefix string) (*model.ApiToken, error)
		ListBySubaccount(ctx context.Context, subaccountID uuid.UUID) ([]*model.ApiToken, error)
		Delete(ctx context.Context, id, subaccountID uuid.UUID) (*model.ApiToken, error)
		TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	}

	OAuthStateRepository interface {
		Create(ctx context.Context, state *model.OAuthState) error
		// Consume deletes and returns a live state; replays get ErrNotFound.
		Consume(ctx context.Context, state string) (*model.OAuthState, error)
		DeleteAll(ctx context.Context) (int64, error)
		DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	}

	InstallTokenRepository interface {
		// Create joins tx so the token lands with its placeholder subaccount.
		Create(ctx context.Context, tx *sqlx.Tx, token *model.InstallToken) error
		Get(ctx context.Context, token string) (*model.InstallToken, error)
		// Consume marks the token used; a second call gets ErrStale.
		Consume(ctx context.Context, tx *sqlx.Tx, token, locationID string, at time.Time) error
	}

	CRMTokenRepository interface {
		Upsert(ctx context.Context, token *model.CRMToken) error
		Get(ctx context.Context, locationID string) (*model.CRMToken, error)
	}

	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string, retryCount int) error
	}
)
