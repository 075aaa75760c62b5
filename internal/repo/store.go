package repo

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookstore/library/internal/db"
)

// Store groups the repositories that share one connection or transaction.
type Store struct {
	db    *gorm.DB
	log   *zap.Logger
	Books *BookRepository
	Users *UserRepository
}

// NewStore creates repositories over the database
func NewStore(database *db.DB, logger *zap.Logger) *Store {
	return newStore(database.DB, logger)
}

func newStore(conn *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:    conn,
		log:   logger,
		Books: NewBookRepository(conn, logger),
		Users: NewUserRepository(conn, logger),
	}
}

// Transaction runs fn with repositories bound to a single database
// transaction. Returning an error from fn rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newStore(tx, s.log))
	})
}
