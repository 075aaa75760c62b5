package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bookstore/library/internal/db"
	"github.com/bookstore/library/internal/repo"
)

type fakeUsers map[string]*db.User

func (f fakeUsers) GetByUsername(ctx context.Context, username string) (*db.User, error) {
	if user, ok := f[db.NormalizeUsername(username)]; ok {
		return user, nil
	}
	return nil, repo.ErrUserNotFound
}

func (f fakeUsers) GetByUniqueID(ctx context.Context, uniqueID string) (*db.User, error) {
	for _, user := range f {
		if user.UniqueID == uniqueID {
			return user, nil
		}
	}
	return nil, repo.ErrUserNotFound
}

func TestPasswordHasher(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", hash)

	assert.NoError(t, hasher.Compare(hash, "secret1"))
	assert.ErrorIs(t, hasher.Compare(hash, "wrong"), ErrPasswordMismatch)
	assert.Error(t, hasher.Compare("not-a-hash", "secret1"))
}

func TestPasswordHasherCostFallback(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(99).cost)
}

func TestTokenIssueAndParse(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour, time.Minute)

	token, err := issuer.Issue("reader@example.com", PurposeVerify)
	require.NoError(t, err)

	subject, err := issuer.Parse(token, PurposeVerify)
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", subject)

	// A verification token is not a session
	_, err = issuer.Parse(token, PurposeSession)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Signed with another key
	other := NewTokenIssuer("other-secret", time.Hour, time.Minute)
	_, err = other.Parse(token, PurposeVerify)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Parse("garbage", PurposeVerify)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Issue("x", Purpose("unknown"))
	assert.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour, time.Minute)
	start := time.Now()
	issuer.now = func() time.Time { return start }

	token, err := issuer.Issue("reader@example.com", PurposeSession)
	require.NoError(t, err)

	issuer.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err = issuer.Parse(token, PurposeSession)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewAuthenticator(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)
	tokens := NewTokenIssuer("s", time.Hour, time.Hour)

	local, err := NewAuthenticator(StrategyLocal, fakeUsers{}, hasher, tokens)
	require.NoError(t, err)
	assert.Equal(t, StrategyLocal, local.Name())

	token, err := NewAuthenticator(StrategyToken, fakeUsers{}, hasher, tokens)
	require.NoError(t, err)
	assert.Equal(t, StrategyToken, token.Name())

	_, err = NewAuthenticator("oauth", fakeUsers{}, hasher, tokens)
	assert.Error(t, err)
}

func TestLocalAuthenticator(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("secret1")
	require.NoError(t, err)

	users := fakeUsers{"reader@example.com": {Username: "reader@example.com", PasswordHash: hash}}
	authn, err := NewAuthenticator(StrategyLocal, users, hasher, nil)
	require.NoError(t, err)
	ctx := context.Background()

	user, err := authn.Authenticate(ctx, Credentials{Username: "Reader@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", user.Username)

	_, err = authn.Authenticate(ctx, Credentials{Username: "reader@example.com", Password: "nope"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = authn.Authenticate(ctx, Credentials{Username: "ghost@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = authn.Authenticate(ctx, Credentials{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

type failingUsers struct{}

func (failingUsers) GetByUsername(ctx context.Context, username string) (*db.User, error) {
	return nil, errors.New("db down")
}

func (failingUsers) GetByUniqueID(ctx context.Context, uniqueID string) (*db.User, error) {
	return nil, errors.New("db down")
}

func TestTokenAuthenticator(t *testing.T) {
	tokens := NewTokenIssuer("s", time.Hour, time.Hour)
	users := fakeUsers{"reader@example.com": {Username: "reader@example.com", UniqueID: "uid-reader"}}
	authn, err := NewAuthenticator(StrategyToken, users, nil, tokens)
	require.NoError(t, err)
	ctx := context.Background()

	session, err := tokens.Issue("uid-reader", PurposeSession)
	require.NoError(t, err)

	user, err := authn.Authenticate(ctx, Credentials{Token: session})
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", user.Username)

	// the subject is the uniqueId, so a username is not a valid subject
	byName, err := tokens.Issue("reader@example.com", PurposeSession)
	require.NoError(t, err)
	_, err = authn.Authenticate(ctx, Credentials{Token: byName})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	verify, err := tokens.Issue("uid-reader", PurposeVerify)
	require.NoError(t, err)
	_, err = authn.Authenticate(ctx, Credentials{Token: verify})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	broken, err := NewAuthenticator(StrategyToken, failingUsers{}, nil, tokens)
	require.NoError(t, err)
	_, err = broken.Authenticate(ctx, Credentials{Token: session})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}
