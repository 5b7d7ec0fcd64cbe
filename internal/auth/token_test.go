package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finrep/internal/auth"
	"finrep/internal/config"
	"finrep/internal/domain"
)

func newManager(t *testing.T, secret string) *auth.TokenManager {
	t.Helper()
	m, err := auth.NewTokenManager(config.JWTConfig{Secret: secret, Issuer: "finrep"})
	require.NoError(t, err)
	return m
}

func TestTokenManager_RoundTrip(t *testing.T) {
	m := newManager(t, "secret")
	token, err := m.Issue("ci-pipeline", "runs", time.Hour)
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ci-pipeline", claims.Subject)
	assert.Equal(t, "runs", claims.Scope)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	token, err := newManager(t, "secret").Issue("ci", "", time.Hour)
	require.NoError(t, err)

	_, err = newManager(t, "other").Validate(token)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestTokenManager_Expired(t *testing.T) {
	m := newManager(t, "secret")
	token, err := m.Issue("ci", "", -time.Minute)
	require.NoError(t, err)

	_, err = m.Validate(token)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestTokenManager_RejectsOtherAlgorithms(t *testing.T) {
	m := newManager(t, "secret")
	claims := jwt.RegisteredClaims{
		Subject:   "ci",
		Issuer:    "finrep",
		Audience:  jwt.ClaimStrings{"finrep-api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = m.Validate(token)
	assert.Error(t, err)
}

func TestNewTokenManager_EmptySecret(t *testing.T) {
	_, err := auth.NewTokenManager(config.JWTConfig{})
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
