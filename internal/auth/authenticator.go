// Package auth provides password hashing, signed tokens and the pluggable
// login strategies.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/bookstore/library/internal/db"
	"github.com/bookstore/library/internal/repo"
)

const (
	StrategyLocal = "local"
	StrategyToken = "token"
)

// ErrInvalidCredentials is returned for unknown users, bad passwords and bad session tokens
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials carries whatever the strategy needs; local uses Username and
// Password, token uses Token.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// UserFinder looks up accounts by username or by their immutable uniqueId
type UserFinder interface {
	GetByUsername(ctx context.Context, username string) (*db.User, error)
	GetByUniqueID(ctx context.Context, uniqueID string) (*db.User, error)
}

// Authenticator checks credentials and returns the matching account.
// Verification status is left to the caller.
type Authenticator interface {
	Name() string
	Authenticate(ctx context.Context, creds Credentials) (*db.User, error)
}

// NewAuthenticator returns the strategy named by the configuration
func NewAuthenticator(strategy string, users UserFinder, hasher *PasswordHasher, tokens *TokenIssuer) (Authenticator, error) {
	switch strategy {
	case StrategyLocal:
		return &LocalAuthenticator{users: users, hasher: hasher}, nil
	case StrategyToken:
		return &TokenAuthenticator{users: users, tokens: tokens}, nil
	default:
		return nil, fmt.Errorf("unknown auth strategy %q", strategy)
	}
}

// LocalAuthenticator checks a username and password
type LocalAuthenticator struct {
	users  UserFinder
	hasher *PasswordHasher
}

func (a *LocalAuthenticator) Name() string { return StrategyLocal }

func (a *LocalAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*db.User, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := lookup(a.users.GetByUsername(ctx, creds.Username))
	if err != nil {
		return nil, err
	}

	if err := a.hasher.Compare(user.PasswordHash, creds.Password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return user, nil
}

// TokenAuthenticator accepts a previously issued session token
type TokenAuthenticator struct {
	users  UserFinder
	tokens *TokenIssuer
}

func (a *TokenAuthenticator) Name() string { return StrategyToken }

func (a *TokenAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*db.User, error) {
	if creds.Token == "" {
		return nil, ErrInvalidCredentials
	}

	uniqueID, err := a.tokens.Parse(creds.Token, PurposeSession)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return lookup(a.users.GetByUniqueID(ctx, uniqueID))
}

// lookup maps a missing account onto ErrInvalidCredentials
func lookup(user *db.User, err error) (*db.User, error) {
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return user, nil
}
