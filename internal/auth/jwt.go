// Package auth issues and checks the credentials used by the sync API.
//
// CREDENTIALS OVERVIEW:
//  1. Register or login with email + password → server returns a token pair
//  2. The access token is a short-lived JWT sent as "Authorization: Bearer <jwt>"
//  3. The refresh token is an opaque random string. Only its sha256 digest is
//     stored, so a leaked database can't be replayed against /auth/refresh.
//  4. Every refresh issues a new pair and overwrites the stored digest: the
//     previous refresh token stops working immediately.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<userID>","email":"a@b.c","iss":"trainsync","iat":...,"exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
//
// The server checks an access token with the secret alone. No DB lookup, so
// logout can't revoke it; it simply runs out after the access TTL.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTTL is how long an access token stays valid.
const DefaultAccessTTL = 15 * time.Minute

// TokenService signs and validates access tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option customises a TokenService.
type Option func(*TokenService)

// WithIssuer sets the "iss" claim written and required by the service.
func WithIssuer(issuer string) Option {
	return func(s *TokenService) { s.issuer = issuer }
}

// WithTTL sets the access token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *TokenService) { s.ttl = ttl }
}

// WithClock replaces time.Now. Tests use it to mint already-expired tokens.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, opts ...Option) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	s := &TokenService{
		secret: []byte(secret),
		issuer: "trainsync",
		ttl:    DefaultAccessTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= 0 {
		return nil, errors.New("auth: access token TTL must be positive")
	}
	return s, nil
}

// Claims is the access token payload. Subject ("sub") carries the account ID.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is what a valid access token resolves to.
type Identity struct {
	UserID string
	Email  string
}

// TTL returns the access token lifetime; the token pair reports it as expiresIn.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate creates and signs a new access token for the account.
func (s *TokenService) Generate(userID, email string) (string, error) {
	now := s.now()

	c := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies an access token string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid and the algorithm is HS256 (blocks "alg":"none")
//   - exp is present and in the future
//   - iss matches this service's issuer
func (s *TokenService) Validate(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, errors.New("auth: token expired")
		}
		return Identity{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return Identity{}, errors.New("auth: token has no subject")
	}

	return Identity{UserID: c.Subject, Email: c.Email}, nil
}
