package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose scopes a token to the flow that issued it.
type Purpose string

const (
	PurposeVerify  Purpose = "verify"
	PurposeSession Purpose = "session"

	tokenIssuer = "libraryd"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or purpose checks
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims carried by library tokens. Subject holds the
// account's uniqueId, which never changes.
type Claims struct {
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 tokens
type TokenIssuer struct {
	secret []byte
	ttl    map[Purpose]time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer with per-purpose lifetimes
func NewTokenIssuer(secret string, verifyTTL, sessionTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl: map[Purpose]time.Duration{
			PurposeVerify:  verifyTTL,
			PurposeSession: sessionTTL,
		},
		now: time.Now,
	}
}

// TTL returns the lifetime of tokens issued for purpose
func (t *TokenIssuer) TTL(purpose Purpose) time.Duration {
	return t.ttl[purpose]
}

// Issue signs a token for subject
func (t *TokenIssuer) Issue(subject string, purpose Purpose) (string, error) {
	ttl, ok := t.ttl[purpose]
	if !ok {
		return "", fmt.Errorf("unknown token purpose %q", purpose)
	}

	now := t.now()
	claims := &Claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates tokenString and returns its subject
func (t *TokenIssuer) Parse(tokenString string, purpose Purpose) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return "", fmt.Errorf("%w: expected %s token", ErrInvalidToken, purpose)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return claims.Subject, nil
}
