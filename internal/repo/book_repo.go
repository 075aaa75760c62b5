package repo

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bookstore/library/internal/db"
)

var (
	// ErrBookNotFound is returned when a book is not found
	ErrBookNotFound = errors.New("book not found")

	// ErrBookAlreadyExists is returned when trying to create a book that already exists
	ErrBookAlreadyExists = errors.New("book already exists")

	// ErrOutOfStock is returned when no copy of a book is left to lend
	ErrOutOfStock = errors.New("book out of stock")
)

// BookFilter narrows ListBooks. Zero values mean "no constraint".
type BookFilter struct {
	Genre string
	Year  *int
	Title string
	Limit int
}

// BookRepository handles book inventory operations
type BookRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewBookRepository creates a new book repository
func NewBookRepository(database *gorm.DB, logger *zap.Logger) *BookRepository {
	return &BookRepository{
		db:  database,
		log: logger,
	}
}

// GetBook retrieves a book by ISBN
func (r *BookRepository) GetBook(ctx context.Context, isbn string) (*db.Book, error) {
	var book db.Book
	err := r.db.WithContext(ctx).Where("isbn = ?", isbn).First(&book).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		r.log.Error("Failed to get book", zap.String("isbn", isbn), zap.Error(err))
		return nil, err
	}

	return &book, nil
}

// CreateBook adds a new title to the inventory
func (r *BookRepository) CreateBook(ctx context.Context, book *db.Book) error {
	var existing db.Book
	err := r.db.WithContext(ctx).Where("isbn = ?", book.ISBN).First(&existing).Error
	if err == nil {
		return ErrBookAlreadyExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		r.log.Error("Failed to check book existence", zap.String("isbn", book.ISBN), zap.Error(err))
		return err
	}

	if err := r.db.WithContext(ctx).Create(book).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrBookAlreadyExists
		}
		r.log.Error("Failed to create book", zap.String("isbn", book.ISBN), zap.Error(err))
		return err
	}

	r.log.Info("Book created", zap.String("isbn", book.ISBN), zap.String("title", book.Title))
	return nil
}

// ListBooks returns books matching the filter ordered by title
func (r *BookRepository) ListBooks(ctx context.Context, filter BookFilter) ([]db.Book, error) {
	query := r.db.WithContext(ctx).Model(&db.Book{})

	if filter.Genre != "" {
		query = query.Where("genre = ?", filter.Genre)
	}
	if filter.Year != nil {
		query = query.Where("year = ?", *filter.Year)
	}
	if filter.Title != "" {
		query = query.Where("LOWER(title) LIKE ? ESCAPE '\\'", containsPattern(filter.Title))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	books := []db.Book{}
	if err := query.Order("title ASC").Order("isbn ASC").Find(&books).Error; err != nil {
		r.log.Error("Failed to list books", zap.Error(err))
		return nil, err
	}

	return books, nil
}

// FindByISBNs returns the stored books among the given ISBNs
func (r *BookRepository) FindByISBNs(ctx context.Context, isbns []string) ([]db.Book, error) {
	books := []db.Book{}
	if len(isbns) == 0 {
		return books, nil
	}

	if err := r.db.WithContext(ctx).Where("isbn IN ?", isbns).Order("title ASC").Find(&books).Error; err != nil {
		r.log.Error("Failed to find books", zap.Strings("isbns", isbns), zap.Error(err))
		return nil, err
	}
	return books, nil
}

// DecrementStock takes one copy off the shelf. The decrement is conditional on
// a positive count so concurrent callers cannot drive the count negative.
func (r *BookRepository) DecrementStock(ctx context.Context, isbn string) error {
	result := r.db.WithContext(ctx).Model(&db.Book{}).
		Where("isbn = ? AND item_count > 0", isbn).
		Update("item_count", gorm.Expr("item_count - ?", 1))
	if result.Error != nil {
		r.log.Error("Failed to decrement stock", zap.String("isbn", isbn), zap.Error(result.Error))
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetBook(ctx, isbn); err != nil {
			return err
		}
		return ErrOutOfStock
	}
	return nil
}

// IncrementStock puts copies back on the shelf
func (r *BookRepository) IncrementStock(ctx context.Context, isbn string, copies int) error {
	result := r.db.WithContext(ctx).Model(&db.Book{}).
		Where("isbn = ?", isbn).
		Update("item_count", gorm.Expr("item_count + ?", copies))
	if result.Error != nil {
		r.log.Error("Failed to increment stock", zap.String("isbn", isbn), zap.Error(result.Error))
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrBookNotFound
	}
	return nil
}

// GetStats returns the number of titles and the number of copies on the shelf
func (r *BookRepository) GetStats(ctx context.Context) (titles, copies int64, err error) {
	var row struct {
		Titles int64
		Copies int64
	}
	err = r.db.WithContext(ctx).Model(&db.Book{}).
		Select("COUNT(*) AS titles, COALESCE(SUM(item_count), 0) AS copies").
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Titles, row.Copies, nil
}

// containsPattern builds a LIKE pattern matching text anywhere, case-insensitively.
func containsPattern(text string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(text))
	return "%" + escaped + "%"
}
