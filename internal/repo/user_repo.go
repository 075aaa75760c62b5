package repo

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bookstore/library/internal/db"
)

var (
	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists is returned when a username is already registered
	ErrUserAlreadyExists = errors.New("user already exists")
)

// UserRepository handles member accounts with their cart and borrowed lists
type UserRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(database *gorm.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:  database,
		log: logger,
	}
}

func (r *UserRepository) withEntries(ctx context.Context) *gorm.DB {
	byID := func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") }
	return r.db.WithContext(ctx).Preload("Cart", byID).Preload("Borrowed", byID)
}

// CreateUser persists a new account
func (r *UserRepository) CreateUser(ctx context.Context, user *db.User) error {
	if _, err := r.GetByUsername(ctx, user.Username); err == nil {
		return ErrUserAlreadyExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	if err := r.db.WithContext(ctx).Omit("Cart", "Borrowed").Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrUserAlreadyExists
		}
		r.log.Error("Failed to create user", zap.String("username", user.Username), zap.Error(err))
		return err
	}

	r.log.Info("User created", zap.String("username", user.Username), zap.String("unique_id", user.UniqueID))
	return nil
}

// GetByUsername loads a user with cart and borrowed entries
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*db.User, error) {
	return r.first(ctx, "username = ?", db.NormalizeUsername(username))
}

// LockByUsername loads a user like GetByUsername and, inside a transaction,
// holds the user row until commit. Dialects without row locks ignore it.
func (r *UserRepository) LockByUsername(ctx context.Context, username string) (*db.User, error) {
	var user db.User
	err := r.withEntries(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("username = ?", db.NormalizeUsername(username)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		r.log.Error("Failed to lock user", zap.String("username", username), zap.Error(err))
		return nil, err
	}
	return &user, nil
}

// GetByUniqueID loads a user by its secondary identifier
func (r *UserRepository) GetByUniqueID(ctx context.Context, uniqueID string) (*db.User, error) {
	return r.first(ctx, "unique_id = ?", uniqueID)
}

func (r *UserRepository) first(ctx context.Context, query string, arg string) (*db.User, error) {
	var user db.User
	err := r.withEntries(ctx).Where(query, arg).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		r.log.Error("Failed to get user", zap.String("key", arg), zap.Error(err))
		return nil, err
	}
	return &user, nil
}

// ListUsers returns every account
func (r *UserRepository) ListUsers(ctx context.Context) ([]db.User, error) {
	users := []db.User{}
	if err := r.withEntries(ctx).Order("id ASC").Find(&users).Error; err != nil {
		r.log.Error("Failed to list users", zap.Error(err))
		return nil, err
	}
	return users, nil
}

// ListBorrowers returns the users holding at least one item
func (r *UserRepository) ListBorrowers(ctx context.Context) ([]db.User, error) {
	users := []db.User{}
	err := r.withEntries(ctx).
		Where("EXISTS (SELECT 1 FROM borrowed_entries b WHERE b.user_id = users.id)").
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		r.log.Error("Failed to list borrowers", zap.Error(err))
		return nil, err
	}
	return users, nil
}

// UpdateProfile overwrites the editable profile fields
func (r *UserRepository) UpdateProfile(ctx context.Context, user *db.User) error {
	updates := map[string]interface{}{
		"name":     user.Name,
		"username": db.NormalizeUsername(user.Username),
		"phone":    user.Phone,
		"address":  user.Address,
	}

	result := r.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", user.ID).Updates(updates)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrUserAlreadyExists
		}
		r.log.Error("Failed to update user", zap.Uint("id", user.ID), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	r.log.Info("User updated", zap.String("unique_id", user.UniqueID))
	return nil
}

// MarkVerified flags the account as email-verified
func (r *UserRepository) MarkVerified(ctx context.Context, userID uint) error {
	result := r.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", userID).Update("is_verified", true)
	if result.Error != nil {
		r.log.Error("Failed to verify user", zap.Uint("id", userID), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes the account together with its cart and borrowed entries
func (r *UserRepository) DeleteUser(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&db.CartEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&db.BorrowedEntry{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&db.User{}, userID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		r.log.Error("Failed to delete user", zap.Uint("id", userID), zap.Error(err))
	}
	return err
}

// AddCartEntries appends one cart entry per ISBN, preserving order
func (r *UserRepository) AddCartEntries(ctx context.Context, userID uint, isbns []string) error {
	if len(isbns) == 0 {
		return nil
	}

	entries := make([]db.CartEntry, len(isbns))
	for i, isbn := range isbns {
		entries[i] = db.CartEntry{UserID: userID, ISBN: isbn}
	}

	if err := r.db.WithContext(ctx).Create(&entries).Error; err != nil {
		r.log.Error("Failed to add cart entries", zap.Uint("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

// RemoveCartEntries deletes every cart entry for the ISBN and reports how many went
func (r *UserRepository) RemoveCartEntries(ctx context.Context, userID uint, isbn string) (int64, error) {
	result := r.db.WithContext(ctx).Where("user_id = ? AND isbn = ?", userID, isbn).Delete(&db.CartEntry{})
	if result.Error != nil {
		r.log.Error("Failed to remove cart entries", zap.Uint("user_id", userID), zap.String("isbn", isbn), zap.Error(result.Error))
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// RemoveCartEntriesByID deletes the given cart entries of the user and
// reports how many were still there
func (r *UserRepository) RemoveCartEntriesByID(ctx context.Context, userID uint, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Where("user_id = ? AND id IN ?", userID, ids).Delete(&db.CartEntry{})
	if result.Error != nil {
		r.log.Error("Failed to remove cart entries", zap.Uint("user_id", userID), zap.Error(result.Error))
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// AddBorrowed appends borrowed entries for the user
func (r *UserRepository) AddBorrowed(ctx context.Context, userID uint, entries []db.BorrowedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		entries[i].UserID = userID
	}

	if err := r.db.WithContext(ctx).Create(&entries).Error; err != nil {
		r.log.Error("Failed to add borrowed entries", zap.Uint("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

// RemoveBorrowed deletes the borrowed entries whose ISBN is listed and
// returns the removed rows.
func (r *UserRepository) RemoveBorrowed(ctx context.Context, userID uint, isbns []string) ([]db.BorrowedEntry, error) {
	removed := []db.BorrowedEntry{}
	if len(isbns) == 0 {
		return removed, nil
	}

	tx := r.db.WithContext(ctx)
	if err := tx.Where("user_id = ? AND isbn IN ?", userID, isbns).Order("id ASC").Find(&removed).Error; err != nil {
		r.log.Error("Failed to load borrowed entries", zap.Uint("user_id", userID), zap.Error(err))
		return nil, err
	}
	if len(removed) == 0 {
		return removed, nil
	}

	ids := make([]uint, len(removed))
	for i, entry := range removed {
		ids[i] = entry.ID
	}
	if err := tx.Where("id IN ?", ids).Delete(&db.BorrowedEntry{}).Error; err != nil {
		r.log.Error("Failed to remove borrowed entries", zap.Uint("user_id", userID), zap.Error(err))
		return nil, err
	}
	return removed, nil
}
