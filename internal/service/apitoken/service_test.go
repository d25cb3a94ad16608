package apitoken

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/wa-connector/internal/repository/mocks"
	"github.com/jwalitptl/wa-connector/pkg/logger"
	"github.com/jwalitptl/wa-connector/pkg/messaging/memory"
	"github.com/jwalitptl/wa-connector/pkg/security"
)

func newService() (*Service, *mocks.ApiTokenRepository) {
	repo := mocks.NewApiTokenRepository()
	return NewService(repo, security.NewBcryptHasher(bcrypt.MinCost), nil, logger.Nop()), repo
}

func TestCreateAndAuthenticate(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()
	subID := uuid.New()

	created, err := svc.Create(ctx, subID, "zapier")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Token, "wak_"+created.Prefix+"_"))
	assert.NotContains(t, created.TokenHash, created.Token)

	tok, err := svc.Authenticate(ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, subID, tok.SubaccountID)

	// Second call is served from the cache.
	_, err = svc.Authenticate(ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.GetCalls)

	assert.Eventually(t, func() bool {
		list, _ := svc.List(ctx, subID)
		return len(list) == 1 && list[0].LastUsedAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestAuthenticateRejects(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created, err := svc.Create(ctx, uuid.New(), "n8n")
	require.NoError(t, err)

	for _, bearer := range []string{
		"",
		"wak_",
		"not-a-token",
		"wak_" + created.Prefix,
		"wak_" + created.Prefix + "_wrong-secret",
		"wak_deadbeef_" + strings.TrimPrefix(created.Token, "wak_"+created.Prefix+"_"),
	} {
		_, err := svc.Authenticate(ctx, bearer)
		assert.ErrorIs(t, err, ErrInvalidToken, "bearer %q", bearer)
	}
}

func TestRevokeEvictsCache(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	subID := uuid.New()

	created, err := svc.Create(ctx, subID, "n8n")
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, created.Token)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Revoke(ctx, uuid.New(), created.ID), ErrTokenNotFound)
	require.NoError(t, svc.Revoke(ctx, subID, created.ID))

	_, err = svc.Authenticate(ctx, created.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeEvictsOtherReplicas(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := mocks.NewApiTokenRepository()
	broker := memory.NewBroker()
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	local := NewService(repo, hasher, broker, logger.Nop())
	remote := NewService(repo, hasher, broker, logger.Nop())
	require.NoError(t, remote.Listen(ctx))

	subID := uuid.New()
	created, err := local.Create(ctx, subID, "zapier")
	require.NoError(t, err)

	_, err = remote.Authenticate(ctx, created.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, remote.cache.ItemCount())

	require.NoError(t, local.Revoke(ctx, subID, created.ID))

	assert.Eventually(t, func() bool { return remote.cache.ItemCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	_, err = remote.Authenticate(ctx, created.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
