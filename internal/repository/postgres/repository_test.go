package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/repository"
)

func newMock(t *testing.T) (BaseRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewBaseRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestInstanceUpdateStatusIsCompareAndSet(t *testing.T) {
	base, mock := newMock(t)
	repo := NewInstanceRepository(base)
	id := uuid.New()
	from := []model.InstanceStatus{model.InstanceStatusQRGenerated}

	mock.ExpectExec("UPDATE whatsapp_instances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE whatsapp_instances").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.UpdateStatus(context.Background(), id, from, model.InstanceStatusConnected, model.StatusUpdate{})
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.UpdateStatus(context.Background(), id, from, model.InstanceStatusConnected, model.StatusUpdate{})
	require.NoError(t, err)
	assert.False(t, won, "second caller loses the race")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstanceGetNotFound(t *testing.T) {
	base, mock := newMock(t)
	repo := NewInstanceRepository(base)

	mock.ExpectQuery("SELECT .* FROM whatsapp_instances WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, repository.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallTokenConsumeOnce(t *testing.T) {
	base, mock := newMock(t)
	repo := NewInstallTokenRepository(base)
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE install_tokens").
		WithArgs(at, "LOC_1", "tok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE install_tokens").
		WithArgs(at, "LOC_2", "tok").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Consume(context.Background(), nil, "tok", "LOC_1", at))

	err := repo.Consume(context.Background(), nil, "tok", "LOC_2", at)
	assert.True(t, errors.Is(err, repository.ErrStale))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOAuthStateConsume(t *testing.T) {
	base, mock := newMock(t)
	repo := NewOAuthStateRepository(base)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"state", "redirect_uri", "install_token", "created_at", "expires_at"}).
		AddRow("abc", "https://app.test/oauth/callback", nil, now, now.Add(10*time.Minute))
	mock.ExpectQuery("DELETE FROM oauth_states").
		WithArgs("abc", sqlmock.AnyArg()).
		WillReturnRows(rows)
	mock.ExpectQuery("DELETE FROM oauth_states").
		WithArgs("abc", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"state"}))

	st, err := repo.Consume(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", st.State)
	assert.Nil(t, st.InstallToken)

	_, err = repo.Consume(context.Background(), "abc")
	assert.True(t, errors.Is(err, repository.ErrNotFound), "replayed state")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBack(t *testing.T) {
	base, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := base.WithTx(context.Background(), func(*sqlx.Tx) error {
		return errors.New("claim failed")
	})
	assert.EqualError(t, err, "claim failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil))
	assert.Equal(t, repository.ErrConflict, mapError(&pq.Error{Code: uniqueViolation}))
	other := errors.New("connection reset")
	assert.Equal(t, other, mapError(other))
}

func TestInstallTokenCreateJoinsTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	base := NewBaseRepository(sqlx.NewDb(db, "postgres"))
	subs := NewSubaccountRepository(base)
	tokens := NewInstallTokenRepository(base)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO subaccounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO install_tokens").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = base.WithTx(ctx, func(tx *sqlx.Tx) error {
		sub := &model.Subaccount{Name: "Clinic", Status: model.SubaccountStatusPendingClaim}
		if err := subs.Create(ctx, tx, sub); err != nil {
			return err
		}
		return tokens.Create(ctx, tx, &model.InstallToken{
			Token:        "tok",
			SubaccountID: sub.ID,
			ExpiresAt:    time.Now().Add(time.Hour),
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
