// Package auth issues and validates the bearer tokens that guard the run API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"finrep/internal/config"
	"finrep/internal/domain"
)

const apiAudience = "finrep-api"

// Claims are the JWT claims carried by an API token.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// TokenManager signs and verifies HS256 API tokens.
type TokenManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenManager creates a TokenManager. An empty secret is a configuration error.
func NewTokenManager(cfg config.JWTConfig) (*TokenManager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: auth secret is empty", domain.ErrConfiguration)
	}
	return &TokenManager{secret: []byte(cfg.Secret), issuer: cfg.Issuer, now: time.Now}, nil
}

// Issue mints a token for subject that expires after ttl.
func (m *TokenManager) Issue(subject, scope string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
			Audience:  jwt.ClaimStrings{apiAudience},
		},
		Scope: scope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and checks signature, expiry, issuer and audience.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithAudience(apiAudience),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.Join(domain.ErrUnauthorized, fmt.Errorf("parsing token: %w", err))
	}
	if !token.Valid {
		return nil, domain.ErrUnauthorized
	}
	return claims, nil
}
