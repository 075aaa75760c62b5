package library

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookstore/library/internal/apperr"
	"github.com/bookstore/library/internal/auth"
	"github.com/bookstore/library/internal/db"
	"github.com/bookstore/library/internal/events"
	"github.com/bookstore/library/internal/mail"
	"github.com/bookstore/library/internal/repo"
)

const (
	userTypeMember = "user"
	verifyPath     = "/api/users/verify/"

	mailTimeout    = 30 * time.Second
	cleanupTimeout = 5 * time.Second
)

// RegisterInput is the signup payload
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=255"`
	Username string `json:"username" validate:"required,email"`
	Phone    string `json:"phone" validate:"required,numeric,min=7,max=15"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// ProfileInput replaces the editable profile fields of the account with UniqueID
type ProfileInput struct {
	UniqueID string `json:"uniqueId" validate:"required"`
	Name     string `json:"name" validate:"required,max=255"`
	Username string `json:"username" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,numeric,min=7,max=15"`
	Address  string `json:"address" validate:"max=1024"`
}

// LoginResult carries the session established by a successful login
type LoginResult struct {
	User      *db.User  `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AccountsDeps are the collaborators the account service is built from
type AccountsDeps struct {
	Store         *repo.Store
	Hasher        *auth.PasswordHasher
	Tokens        *auth.TokenIssuer
	Authenticator auth.Authenticator
	Mailer        mail.Gateway
	Publisher     EventPublisher
	PublicBaseURL string
	Log           *zap.Logger
}

// Accounts handles registration, verification, login and profiles
type Accounts struct {
	store     *repo.Store
	hasher    *auth.PasswordHasher
	tokens    *auth.TokenIssuer
	authn     auth.Authenticator
	mailer    mail.Gateway
	publisher EventPublisher
	baseURL   string
	log       *zap.Logger
}

// NewAccounts creates the account service
func NewAccounts(deps AccountsDeps) *Accounts {
	return &Accounts{
		store:     deps.Store,
		hasher:    deps.Hasher,
		tokens:    deps.Tokens,
		authn:     deps.Authenticator,
		mailer:    deps.Mailer,
		publisher: deps.Publisher,
		baseURL:   strings.TrimRight(deps.PublicBaseURL, "/"),
		log:       deps.Log,
	}
}

// Register creates an unverified account and mails its verification link.
// If the mail cannot be sent the account is not kept.
func (s *Accounts) Register(ctx context.Context, in RegisterInput) (*db.User, error) {
	in.Username = db.NormalizeUsername(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	user := &db.User{
		Username:     in.Username,
		Name:         in.Name,
		Phone:        in.Phone,
		PasswordHash: hash,
		UniqueID:     uuid.New().String(),
		UserType:     userTypeMember,
		IsVerified:   false,
	}

	if err := s.store.Users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExists) {
			return nil, apperr.Duplicate("USER_EXISTS", "User already exists")
		}
		return nil, apperr.Internal(err)
	}

	// No connection is held while the relay answers.
	if err := s.sendVerification(ctx, user); err != nil {
		s.discardAccount(user)
		return nil, apperr.Internal(err)
	}

	s.log.Info("User registered", zap.String("username", user.Username), zap.String("unique_id", user.UniqueID))
	publishAsync(ctx, s.log, events.EventTypeUserRegistered, func(ctx context.Context) error {
		return s.publisher.PublishUserRegistered(ctx, user.Username, user.UniqueID)
	})

	return user, nil
}

func (s *Accounts) sendVerification(ctx context.Context, user *db.User) error {
	token, err := s.tokens.Issue(user.UniqueID, auth.PurposeVerify)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, mailTimeout)
	defer cancel()
	return s.mailer.Send(ctx, mail.VerificationMessage(user.Username, s.baseURL+verifyPath+token))
}

// discardAccount removes an account whose verification mail never left.
// It runs detached from the request so a cancelled caller still cleans up.
func (s *Accounts) discardAccount(user *db.User) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.store.Users.DeleteUser(ctx, user.ID); err != nil {
		s.log.Error("Failed to discard unverifiable account",
			zap.String("unique_id", user.UniqueID), zap.Error(err))
	}
}

// Verify marks the account named by a verification token as verified
func (s *Accounts) Verify(ctx context.Context, token string) error {
	uniqueID, err := s.tokens.Parse(token, auth.PurposeVerify)
	if err != nil {
		return apperr.InvalidToken("Invalid or expired token", err)
	}

	user, err := s.store.Users.GetByUniqueID(ctx, uniqueID)
	if err != nil {
		return userError(err)
	}
	if user.IsVerified {
		return nil
	}

	if err := s.store.Users.MarkVerified(ctx, user.ID); err != nil {
		return userError(err)
	}

	s.log.Info("User verified", zap.String("username", user.Username))
	return nil
}

// Login checks credentials with the configured strategy and issues a session token
func (s *Accounts) Login(ctx context.Context, creds auth.Credentials) (*LoginResult, error) {
	user, err := s.authn.Authenticate(ctx, creds)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return nil, apperr.InvalidCredentials()
		}
		return nil, apperr.Internal(err)
	}
	if !user.IsVerified {
		return nil, apperr.Unverified()
	}

	token, err := s.tokens.Issue(user.UniqueID, auth.PurposeSession)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	s.log.Info("User logged in", zap.String("username", user.Username), zap.String("strategy", s.authn.Name()))
	return &LoginResult{
		User:      user,
		Token:     token,
		ExpiresAt: time.Now().Add(s.tokens.TTL(auth.PurposeSession)).UTC(),
	}, nil
}

// Session resolves a session token to its account
func (s *Accounts) Session(ctx context.Context, token string) (*db.User, error) {
	uniqueID, err := s.tokens.Parse(token, auth.PurposeSession)
	if err != nil {
		return nil, apperr.InvalidToken("Invalid or expired session", err)
	}
	return s.GetUser(ctx, uniqueID)
}

// UpdateProfile overwrites name, username, phone and address
func (s *Accounts) UpdateProfile(ctx context.Context, in ProfileInput) (*db.User, error) {
	in.Username = db.NormalizeUsername(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var updated *db.User
	err := s.store.Transaction(ctx, func(tx *repo.Store) error {
		user, err := tx.Users.GetByUniqueID(ctx, in.UniqueID)
		if err != nil {
			return userError(err)
		}

		if in.Username != user.Username {
			other, err := tx.Users.GetByUsername(ctx, in.Username)
			if err == nil && other.ID != user.ID {
				return apperr.Duplicate("USER_EXISTS", "Username already taken")
			}
			if err != nil && !errors.Is(err, repo.ErrUserNotFound) {
				return apperr.Internal(err)
			}
		}

		user.Name = in.Name
		user.Username = in.Username
		user.Phone = in.Phone
		user.Address = in.Address
		if err := tx.Users.UpdateProfile(ctx, user); err != nil {
			if errors.Is(err, repo.ErrUserAlreadyExists) {
				return apperr.Duplicate("USER_EXISTS", "Username already taken")
			}
			return userError(err)
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListUsers returns every account
func (s *Accounts) ListUsers(ctx context.Context) ([]db.User, error) {
	users, err := s.store.Users.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return users, nil
}

// GetUser returns the account with uniqueID
func (s *Accounts) GetUser(ctx context.Context, uniqueID string) (*db.User, error) {
	user, err := s.store.Users.GetByUniqueID(ctx, uniqueID)
	if err != nil {
		return nil, userError(err)
	}
	return user, nil
}

// CurrentUser returns the account currently holding username
func (s *Accounts) CurrentUser(ctx context.Context, username string) (*db.User, error) {
	user, err := s.store.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, userError(err)
	}
	return user, nil
}

func userError(err error) error {
	if errors.Is(err, repo.ErrUserNotFound) {
		return apperr.NotFound("USER_NOT_FOUND", "User not found")
	}
	return apperr.Internal(err)
}
