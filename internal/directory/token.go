package directory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingTokenSecret   = errors.New("directory: token secret required")
	ErrMissingAccessToken   = errors.New("directory: access token required")
	ErrInvalidAccessToken   = errors.New("directory: invalid access token")
	ErrExpiredAccessToken   = errors.New("directory: access token expired")
	ErrMissingTokenSubject  = errors.New("directory: token subject required")
	errMissingTokenAudience = errors.New("expected audience required")
)

// TokenClaims carries the identity fields the subsystem reads from a
// provider access token.
type TokenClaims struct {
	Subject string
	Email   string
}

type accessTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenValidatorConfig describes how to validate provider-issued access tokens.
type TokenValidatorConfig struct {
	Secret   []byte
	Audience string
	Clock    func() time.Time
}

// TokenValidator validates the HS256 access tokens the provider issues on
// sign-in, without a provider round trip.
type TokenValidator struct {
	secret   []byte
	audience string
	clock    func() time.Time
}

// NewTokenValidator constructs a validator with the provided configuration.
func NewTokenValidator(cfg TokenValidatorConfig) (*TokenValidator, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingTokenSecret
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, errMissingTokenAudience)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenValidator{
		secret:   append([]byte(nil), cfg.Secret...),
		audience: audience,
		clock:    clock,
	}, nil
}

// Validate parses and verifies the supplied access token.
func (v *TokenValidator) Validate(tokenString string) (TokenClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return TokenClaims{}, ErrMissingAccessToken
	}

	claims := &accessTokenClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidAccessToken, t.Method.Alg())
			}
			return v.secret, nil
		},
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenClaims{}, ErrExpiredAccessToken
		}
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return TokenClaims{}, ErrInvalidAccessToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return TokenClaims{}, ErrMissingTokenSubject
	}
	return TokenClaims{
		Subject: claims.Subject,
		Email:   NormalizeEmail(claims.Email),
	}, nil
}
