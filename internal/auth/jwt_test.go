package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/auth"
)

const secret = "test-secret-key-very-long-and-secure"

func TestJWT_IssueAndValidateRoundTrip(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueAccessToken(secret, 42, 5*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ValidateToken(secret, token)
	require.NoError(t, err)
	require.NotNil(t, claims)

	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, auth.TokenTypeAccess, claims.TokenType)
	assert.NotEmpty(t, claims.ID)
	assert.NotNil(t, claims.IssuedAt)
}

func TestJWT_Rejections(t *testing.T) {
	t.Parallel()

	expired, err := auth.IssueAccessToken(secret, 1, -time.Second)
	require.NoError(t, err)
	refresh, err := auth.IssueRefreshToken(secret, 1, time.Hour)
	require.NoError(t, err)
	otherKey, err := auth.IssueAccessToken("a-completely-different-secret-key", 1, time.Hour)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 1}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"refresh token", refresh},
		{"wrong secret", otherKey},
		{"no expiry", noExpiry},
		{"malformed", "not.a.valid.jwt.token"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims, err := auth.ValidateToken(secret, tt.token)
			require.ErrorIs(t, err, auth.ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestJWT_RejectsNoneAlgorithm(t *testing.T) {
	t.Parallel()

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"user_id": 1,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = auth.ValidateToken(secret, unsigned)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestExpiry(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueAccessToken("key-the-client-never-sees", 9, time.Hour)
	require.NoError(t, err)

	exp, err := auth.Expiry(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 9}).SignedString([]byte("k"))
	require.NoError(t, err)
	exp, err = auth.Expiry(noExp)
	require.NoError(t, err)
	assert.True(t, exp.IsZero())

	_, err = auth.Expiry("garbage")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}
