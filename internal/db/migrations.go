package db

import (
	"gorm.io/gorm"
)

// RunMigrations runs all database migrations
func RunMigrations(db *DB) error {
	if err := db.AutoMigrate(&Book{}, &User{}, &CartEntry{}, &BorrowedEntry{}); err != nil {
		return err
	}

	if db.Dialector.Name() == "postgres" {
		return createIndexes(db.DB)
	}
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Case-insensitive substring search on title
		`CREATE INDEX IF NOT EXISTS idx_books_title_lower ON books (LOWER(title))`,

		// listBorrowed scans users that hold at least one item
		`CREATE INDEX IF NOT EXISTS idx_borrowed_entries_user_isbn ON borrowed_entries (user_id, isbn)`,
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return err
		}
	}

	return nil
}
