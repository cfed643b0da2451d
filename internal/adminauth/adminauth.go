// Package adminauth issues and validates the admin API's session tokens.
// The gateway has a single operator identity gated by ADMIN_PASSWORD, so
// there is no user store or JWKS fetch here, only HMAC-signed sessions,
// grounded on the teacher's cognito.CognitoValidator token-parsing shape
// but adapted to symmetric signing.
package adminauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Subject is the fixed subject claim for the single admin identity.
const Subject = "admin"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// Claims is the JWT payload for an admin session.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator checks the admin password and issues/validates session
// tokens signed with a server-held secret.
type Authenticator struct {
	password string
	secret   []byte
	issuer   string
	ttl      time.Duration
}

// New builds an Authenticator. secret signs session tokens; it is
// distinct from password, which gates login.
func New(password, secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		password: password,
		secret:   []byte(secret),
		issuer:   "llm-gateway",
		ttl:      ttl,
	}
}

// CheckPassword compares the supplied password against the configured
// admin password in constant time.
func (a *Authenticator) CheckPassword(candidate string) error {
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(a.password)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// IssueSession mints a signed session token valid for the configured TTL.
func (a *Authenticator) IssueSession() (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(a.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   Subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and verifies a session token, returning its claims.
// It satisfies middleware.TokenValidator. The raw configured password is
// also accepted directly in place of a session token, so operators can
// script against the admin API with ADMIN_PASSWORD alone.
func (a *Authenticator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	if subtle.ConstantTimeCompare([]byte(tokenString), []byte(a.password)) == 1 {
		return &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: Subject, Issuer: a.issuer}}, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject != Subject {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
