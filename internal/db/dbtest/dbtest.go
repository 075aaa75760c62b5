// Package dbtest opens throwaway databases for tests.
package dbtest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bookstore/library/internal/db"
)

// New returns a migrated in-memory sqlite database. The pool is pinned to a
// single connection so every query sees the same in-memory database.
func New(t *testing.T) *db.DB {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	database := &db.DB{DB: gormDB}
	require.NoError(t, db.RunMigrations(database))

	t.Cleanup(func() { _ = database.Close() })
	return database
}

// Interleave runs stmt just before the first "update" or "delete" statement
// against table, on that statement's own connection or transaction. It stands
// in for another writer committing between a caller's read and its write; when
// the caller's transaction rolls back, stmt is rolled back with it.
func Interleave(t *testing.T, database *db.DB, op, table, stmt string, args ...interface{}) {
	t.Helper()

	var once sync.Once
	fn := func(tx *gorm.DB) {
		if tx.Statement.Table != table {
			return
		}
		once.Do(func() {
			if _, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context, stmt, args...); err != nil {
				_ = tx.AddError(err)
			}
		})
	}

	const name = "dbtest:interleave"
	var err error
	switch op {
	case "update":
		err = database.Callback().Update().Before("gorm:update").Register(name, fn)
	case "delete":
		err = database.Callback().Delete().Before("gorm:delete").Register(name, fn)
	default:
		t.Fatalf("dbtest: cannot interleave %q", op)
	}
	require.NoError(t, err)
}
