// Package library holds the lending workflow and account management.
package library

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bookstore/library/internal/apperr"
	"github.com/bookstore/library/internal/db"
	"github.com/bookstore/library/internal/events"
	"github.com/bookstore/library/internal/metrics"
	"github.com/bookstore/library/internal/repo"
)

const (
	// searchAll makes SearchBooks return every book
	searchAll = "-"
	// filterAll disables one FilterBooks constraint
	filterAll = "all"

	searchLimit = 4
	unknown     = "Unknown"
)

// BookInput is the payload for adding a title
type BookInput struct {
	ISBN      string `json:"ISBN" validate:"required,max=32"`
	BibNum    string `json:"BibNum" validate:"max=64"`
	Title     string `json:"Title" validate:"required,max=255"`
	Author    string `json:"Author" validate:"max=255"`
	Publisher string `json:"Publisher" validate:"max=255"`
	Genre     string `json:"Genre" validate:"max=100"`
	Year      int    `json:"Year" validate:"gte=0"`
	ItemCount int    `json:"ItemCount" validate:"gte=0"`
}

// BorrowedBook is one copy held by a member, resolved against the catalog
type BorrowedBook struct {
	ISBN      string    `json:"isbn"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	UID       string    `json:"uid"`
	Borrower  string    `json:"borrower"`
	TakenDate time.Time `json:"takenDate"`
}

// ImportResult summarises a bulk import
type ImportResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Inventory enforces the stock rules across books, carts and borrowed lists
type Inventory struct {
	store     *repo.Store
	publisher EventPublisher
	log       *zap.Logger
}

// NewInventory creates the inventory service
func NewInventory(store *repo.Store, publisher EventPublisher, log *zap.Logger) *Inventory {
	return &Inventory{
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

// AddBook creates a title; an existing ISBN is left untouched
func (s *Inventory) AddBook(ctx context.Context, in BookInput) (*db.Book, error) {
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Title = strings.TrimSpace(in.Title)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	book := &db.Book{
		ISBN:      in.ISBN,
		BibNum:    in.BibNum,
		Title:     in.Title,
		Author:    in.Author,
		Publisher: in.Publisher,
		Genre:     in.Genre,
		Year:      in.Year,
		ItemCount: in.ItemCount,
	}

	if err := s.store.Books.CreateBook(ctx, book); err != nil {
		if errors.Is(err, repo.ErrBookAlreadyExists) {
			return nil, apperr.Duplicate("DUPLICATE_ISBN", "Book Already Exists")
		}
		return nil, apperr.Internal(err)
	}

	s.RefreshCatalogStats(ctx)
	publishAsync(ctx, s.log, events.EventTypeBookCreated, func(ctx context.Context) error {
		return s.publisher.PublishBookCreated(ctx, book.ISBN, book.Title, book.ItemCount)
	})

	return book, nil
}

// RefreshCatalogStats recomputes the catalog gauges. A failure only costs a
// stale gauge, so it is logged and not returned.
func (s *Inventory) RefreshCatalogStats(ctx context.Context) {
	titles, copies, err := s.store.Books.GetStats(ctx)
	if err != nil {
		s.log.Warn("Failed to refresh catalog stats", zap.Error(err))
		return
	}
	metrics.SetCatalogStats(titles, copies)
}

// ImportBooks adds each title, skipping duplicates and invalid rows
func (s *Inventory) ImportBooks(ctx context.Context, books []BookInput) (ImportResult, error) {
	var result ImportResult
	for _, in := range books {
		_, err := s.AddBook(ctx, in)
		switch {
		case err == nil:
			result.Created++
		case apperr.IsKind(err, apperr.KindDuplicate), apperr.IsKind(err, apperr.KindInvalidInput):
			s.log.Warn("Skipping book", zap.String("isbn", in.ISBN), zap.Error(err))
			result.Skipped++
		default:
			return result, err
		}
	}

	s.log.Info("Books imported", zap.Int("created", result.Created), zap.Int("skipped", result.Skipped))
	return result, nil
}

// ListBooks returns every book
func (s *Inventory) ListBooks(ctx context.Context) ([]db.Book, error) {
	books, err := s.store.Books.ListBooks(ctx, repo.BookFilter{})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return books, nil
}

// GetBook returns one book by ISBN
func (s *Inventory) GetBook(ctx context.Context, isbn string) (*db.Book, error) {
	book, err := s.store.Books.GetBook(ctx, isbn)
	if err != nil {
		return nil, bookError(err, isbn)
	}
	return book, nil
}

// SearchBooks matches text against titles. "-" returns everything, otherwise
// at most four matches.
func (s *Inventory) SearchBooks(ctx context.Context, text string) ([]db.Book, error) {
	if text == searchAll {
		return s.ListBooks(ctx)
	}

	books, err := s.store.Books.ListBooks(ctx, repo.BookFilter{Title: text, Limit: searchLimit})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return books, nil
}

// FilterBooks combines genre, year and title constraints; "all" skips one
func (s *Inventory) FilterBooks(ctx context.Context, genre, year, title string) ([]db.Book, error) {
	var filter repo.BookFilter

	if genre != filterAll {
		filter.Genre = genre
	}
	if year != filterAll {
		y, err := strconv.Atoi(year)
		if err != nil {
			return nil, apperr.InvalidInput("INVALID_YEAR", fmt.Sprintf("year %q is not a number", year))
		}
		filter.Year = &y
	}
	if title != filterAll {
		filter.Title = title
	}

	books, err := s.store.Books.ListBooks(ctx, filter)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return books, nil
}

// AddToCart appends one cart entry per ISBN. Every ISBN is checked before
// anything is written, so a failing call leaves the cart unchanged.
func (s *Inventory) AddToCart(ctx context.Context, username string, isbns []string) error {
	if len(isbns) == 0 {
		return apperr.InvalidInput("INVALID_BOOKS_ARRAY", "Invalid books array")
	}

	return s.store.Transaction(ctx, func(tx *repo.Store) error {
		user, err := tx.Users.GetByUsername(ctx, username)
		if err != nil {
			return userError(err)
		}

		for _, isbn := range isbns {
			book, err := tx.Books.GetBook(ctx, isbn)
			if err != nil {
				return bookError(err, isbn)
			}
			if book.ItemCount <= 0 {
				metrics.RecordOutOfStock()
				return outOfStock(isbn)
			}
		}

		if err := tx.Users.AddCartEntries(ctx, user.ID, isbns); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
}

// Checkout lends every book in the cart. The whole cart succeeds or nothing
// changes; an empty cart is a no-op. Only the entries read here leave the
// cart, and if any of them is already gone the checkout is rolled back.
func (s *Inventory) Checkout(ctx context.Context, username string) ([]db.BorrowedEntry, error) {
	var borrowed []db.BorrowedEntry
	var user *db.User

	err := s.store.Transaction(ctx, func(tx *repo.Store) error {
		var err error
		user, err = tx.Users.LockByUsername(ctx, username)
		if err != nil {
			return userError(err)
		}
		if len(user.Cart) == 0 {
			return nil
		}

		now := time.Now().UTC()
		borrowed = make([]db.BorrowedEntry, 0, len(user.Cart))
		ids := make([]uint, 0, len(user.Cart))
		for _, entry := range user.Cart {
			ids = append(ids, entry.ID)
			if err := tx.Books.DecrementStock(ctx, entry.ISBN); err != nil {
				if errors.Is(err, repo.ErrOutOfStock) {
					metrics.RecordOutOfStock()
				}
				return bookError(err, entry.ISBN)
			}
			borrowed = append(borrowed, db.BorrowedEntry{ISBN: entry.ISBN, TakenDate: now})
		}

		if err := tx.Users.AddBorrowed(ctx, user.ID, borrowed); err != nil {
			return apperr.Internal(err)
		}
		removed, err := tx.Users.RemoveCartEntriesByID(ctx, user.ID, ids)
		if err != nil {
			return apperr.Internal(err)
		}
		if removed != int64(len(ids)) {
			borrowed = nil
			return apperr.Conflict("CART_CHANGED", "Cart changed during checkout, try again")
		}
		return nil
	})
	metrics.RecordCheckout(len(borrowed), err)
	if err != nil {
		return nil, err
	}
	if len(borrowed) == 0 {
		return []db.BorrowedEntry{}, nil
	}

	s.RefreshCatalogStats(ctx)
	isbns := isbnsOf(borrowed)
	s.log.Info("Checkout completed", zap.String("username", user.Username), zap.Strings("isbns", isbns))
	publishAsync(ctx, s.log, events.EventTypeCartCheckedOut, func(ctx context.Context) error {
		return s.publisher.PublishCartCheckedOut(ctx, user.Username, isbns)
	})

	return borrowed, nil
}

// ReturnBooks removes the listed ISBNs from the member's borrowed list and
// puts one copy back per removed entry. ISBNs the member does not hold are
// ignored. It reports how many copies went back on the shelf.
func (s *Inventory) ReturnBooks(ctx context.Context, uniqueID string, isbns []string) (int, error) {
	if len(isbns) == 0 {
		return 0, apperr.InvalidInput("INVALID_ISBN_ARRAY", "Invalid isbn array")
	}

	returned := 0
	err := s.store.Transaction(ctx, func(tx *repo.Store) error {
		user, err := tx.Users.GetByUniqueID(ctx, uniqueID)
		if err != nil {
			return userError(err)
		}

		books, err := tx.Books.FindByISBNs(ctx, isbns)
		if err != nil {
			return apperr.Internal(err)
		}
		if len(books) == 0 {
			return apperr.NotFound("BOOKS_NOT_FOUND", "No books found with the provided ISBN")
		}

		removed, err := tx.Users.RemoveBorrowed(ctx, user.ID, isbns)
		if err != nil {
			return apperr.Internal(err)
		}

		copies := make(map[string]int, len(removed))
		for _, entry := range removed {
			copies[entry.ISBN]++
		}
		for _, book := range books {
			n := copies[book.ISBN]
			if n == 0 {
				continue
			}
			if err := tx.Books.IncrementStock(ctx, book.ISBN, n); err != nil {
				return bookError(err, book.ISBN)
			}
			returned += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordReturn(returned)
	s.RefreshCatalogStats(ctx)
	s.log.Info("Books returned", zap.String("unique_id", uniqueID), zap.Int("copies", returned))
	publishAsync(ctx, s.log, events.EventTypeBooksReturned, func(ctx context.Context) error {
		return s.publisher.PublishBooksReturned(ctx, uniqueID, isbns)
	})

	return returned, nil
}

// RemoveFromCart deletes every cart entry for isbn; an absent ISBN is a no-op
func (s *Inventory) RemoveFromCart(ctx context.Context, username, isbn string) error {
	user, err := s.store.Users.GetByUsername(ctx, username)
	if err != nil {
		return userError(err)
	}

	if _, err := s.store.Users.RemoveCartEntries(ctx, user.ID, isbn); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// BooksInCart returns the stored books referenced by the member's cart
func (s *Inventory) BooksInCart(ctx context.Context, username string) ([]db.Book, error) {
	user, err := s.store.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, userError(err)
	}

	isbns := make([]string, len(user.Cart))
	for i, entry := range user.Cart {
		isbns[i] = entry.ISBN
	}

	books, err := s.store.Books.FindByISBNs(ctx, isbns)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if len(books) == 0 {
		return nil, apperr.EmptyResult("NO_BOOKS_IN_CART", "No books found in cart")
	}
	return books, nil
}

// ListBorrowed flattens every member's borrowed list
func (s *Inventory) ListBorrowed(ctx context.Context) ([]BorrowedBook, error) {
	users, err := s.store.Users.ListBorrowers(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if len(users) == 0 {
		return nil, apperr.EmptyResult("NO_BORROWED_BOOKS", "No borrowed books found")
	}

	var isbns []string
	for _, user := range users {
		isbns = append(isbns, isbnsOf(user.Borrowed)...)
	}
	books, err := s.store.Books.FindByISBNs(ctx, isbns)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	byISBN := make(map[string]db.Book, len(books))
	for _, book := range books {
		byISBN[book.ISBN] = book
	}

	result := make([]BorrowedBook, 0, len(isbns))
	for _, user := range users {
		for _, entry := range user.Borrowed {
			item := BorrowedBook{
				ISBN:      entry.ISBN,
				Title:     unknown,
				Author:    unknown,
				UID:       user.UniqueID,
				Borrower:  user.Name,
				TakenDate: entry.TakenDate,
			}
			if book, ok := byISBN[entry.ISBN]; ok {
				item.Title = book.Title
				item.Author = book.Author
			}
			result = append(result, item)
		}
	}
	return result, nil
}

func bookError(err error, isbn string) error {
	switch {
	case errors.Is(err, repo.ErrBookNotFound):
		return apperr.NotFound("BOOK_NOT_FOUND", fmt.Sprintf("Book with ISBN %s not found", isbn))
	case errors.Is(err, repo.ErrOutOfStock):
		return outOfStock(isbn)
	default:
		return apperr.Internal(err)
	}
}

func outOfStock(isbn string) error {
	return apperr.OutOfStock("OUT_OF_STOCK", fmt.Sprintf("Book with ISBN %s is out of stock", isbn))
}

func isbnsOf(entries []db.BorrowedEntry) []string {
	isbns := make([]string, len(entries))
	for i, entry := range entries {
		isbns[i] = entry.ISBN
	}
	return isbns
}
