package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret = "test-access-secret-key-for-testing-purposes"
	testIssuer       = "smarttransit-auth"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	service := NewService(testAccessSecret, testIssuer, time.Hour)
	userID := uuid.New()

	token, err := service.GenerateAccessToken(userID, []string{"passenger"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, []string{"passenger"}, claims.Roles)
	assert.Equal(t, AccessToken, claims.TokenType)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.False(t, claims.HasRole(RoleAdmin))
	assert.True(t, claims.HasRole("passenger"))
}

func TestValidateAccessToken_Rejections(t *testing.T) {
	service := NewService(testAccessSecret, testIssuer, time.Hour)
	userID := uuid.New()

	t.Run("Wrong secret", func(t *testing.T) {
		other := NewService("another-secret-another-secret-1234", testIssuer, time.Hour)
		token, err := other.GenerateAccessToken(userID, nil)
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("Wrong issuer", func(t *testing.T) {
		other := NewService(testAccessSecret, "someone-else", time.Hour)
		token, err := other.GenerateAccessToken(userID, nil)
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		expired := NewService(testAccessSecret, testIssuer, -time.Minute)
		token, err := expired.GenerateAccessToken(userID, nil)
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
		assert.True(t, service.IsTokenExpired(token))
	})

	t.Run("Refresh token type", func(t *testing.T) {
		claims := Claims{
			UserID:    userID,
			TokenType: "refresh",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    testIssuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAccessSecret))
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.ErrorContains(t, err, "invalid token type")
	})

	t.Run("Unsigned token", func(t *testing.T) {
		claims := Claims{UserID: userID, TokenType: AccessToken}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := service.ValidateAccessToken("not.a.token")
		assert.Error(t, err)
		assert.True(t, service.IsTokenExpired("not.a.token"))
	})
}

func TestExtractClaims(t *testing.T) {
	service := NewService(testAccessSecret, testIssuer, time.Hour)
	userID := uuid.New()

	token, err := service.GenerateAccessToken(userID, []string{RoleAdmin})
	require.NoError(t, err)

	claims, err := service.ExtractClaims(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.True(t, claims.HasRole(RoleAdmin))
	assert.False(t, service.IsTokenExpired(token))
}
