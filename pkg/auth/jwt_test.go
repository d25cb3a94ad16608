package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/wa-connector/internal/model"
)

func TestJWT_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "wa-connector", time.Hour)
	userID := uuid.New()
	subID := uuid.New()

	token, exp, err := svc.GenerateAccessToken(userID, model.RoleUser, &subID, "LOC_1")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, model.RoleUser, claims.Role)
	require.NotNil(t, claims.SubaccountID)
	assert.Equal(t, subID, *claims.SubaccountID)
	assert.Equal(t, "LOC_1", claims.LocationID)
	assert.True(t, claims.CanAccess(subID))
	assert.False(t, claims.CanAccess(uuid.New()))
}

func TestJWT_Rejects(t *testing.T) {
	svc := NewJWTService("secret", "wa-connector", time.Hour)
	token, _, err := svc.GenerateAccessToken(uuid.New(), model.RoleAdmin, nil, "")
	require.NoError(t, err)

	_, err = NewJWTService("other", "wa-connector", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTService("secret", "someone-else", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := &hmacJWT{secret: []byte("secret"), issuer: "wa-connector", expiry: time.Minute, now: func() time.Time {
		return time.Now().Add(-time.Hour)
	}}
	old, _, err := expired.GenerateAccessToken(uuid.New(), model.RoleUser, nil, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"iss": "wa-connector"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
