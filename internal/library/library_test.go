package library

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/bookstore/library/internal/apperr"
	"github.com/bookstore/library/internal/auth"
	"github.com/bookstore/library/internal/db"
	"github.com/bookstore/library/internal/db/dbtest"
	"github.com/bookstore/library/internal/events"
	"github.com/bookstore/library/internal/mail"
	"github.com/bookstore/library/internal/metrics"
	"github.com/bookstore/library/internal/repo"
)

// MockPublisher records published events
type MockPublisher struct {
	mu     sync.Mutex
	events []string
}

func (m *MockPublisher) record(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func (m *MockPublisher) PublishBookCreated(ctx context.Context, isbn, title string, itemCount int) error {
	return m.record(events.EventTypeBookCreated + ":" + isbn)
}

func (m *MockPublisher) PublishCartCheckedOut(ctx context.Context, username string, isbns []string) error {
	return m.record(events.EventTypeCartCheckedOut + ":" + username)
}

func (m *MockPublisher) PublishBooksReturned(ctx context.Context, uniqueID string, isbns []string) error {
	return m.record(events.EventTypeBooksReturned + ":" + uniqueID)
}

func (m *MockPublisher) PublishUserRegistered(ctx context.Context, username, uniqueID string) error {
	return m.record(events.EventTypeUserRegistered + ":" + username)
}

// MockMailer records sent messages and fails when err is set. A non-nil
// hold makes Send wait for it to close after signalling entered.
type MockMailer struct {
	mu      sync.Mutex
	sent    []mail.Message
	err     error
	hold    chan struct{}
	entered chan struct{}
}

func (m *MockMailer) Send(ctx context.Context, msg mail.Message) error {
	if m.hold != nil {
		m.entered <- struct{}{}
		select {
		case <-m.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type testEnv struct {
	database  *db.DB
	store     *repo.Store
	inventory *Inventory
	accounts  *Accounts
	tokens    *auth.TokenIssuer
	publisher *MockPublisher
	mailer    *MockMailer
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := zap.NewNop()
	database := dbtest.New(t)
	store := repo.NewStore(database, log)
	publisher := &MockPublisher{}
	mailer := &MockMailer{}
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	tokens := auth.NewTokenIssuer("test-secret", time.Hour, time.Hour)

	authn, err := auth.NewAuthenticator(auth.StrategyLocal, store.Users, hasher, tokens)
	require.NoError(t, err)

	return &testEnv{
		database:  database,
		store:     store,
		inventory: NewInventory(store, publisher, log),
		accounts: NewAccounts(AccountsDeps{
			Store:         store,
			Hasher:        hasher,
			Tokens:        tokens,
			Authenticator: authn,
			Mailer:        mailer,
			Publisher:     publisher,
			PublicBaseURL: "http://localhost:5000/",
			Log:           log,
		}),
		tokens:    tokens,
		publisher: publisher,
		mailer:    mailer,
	}
}

func (e *testEnv) addBook(t *testing.T, isbn, title string, copies int) {
	t.Helper()
	_, err := e.inventory.AddBook(context.Background(), BookInput{
		ISBN:      isbn,
		Title:     title,
		Author:    "Author " + isbn,
		Genre:     "Fiction",
		Year:      1965,
		ItemCount: copies,
	})
	require.NoError(t, err)
}

func (e *testEnv) addUser(t *testing.T, username string) *db.User {
	t.Helper()
	user := &db.User{
		Username:     username,
		Name:         "Reader " + username,
		PasswordHash: "x",
		UniqueID:     "uid-" + username,
		IsVerified:   true,
	}
	require.NoError(t, e.store.Users.CreateUser(context.Background(), user))
	return user
}

func (e *testEnv) stock(t *testing.T, isbn string) int {
	t.Helper()
	book, err := e.store.Books.GetBook(context.Background(), isbn)
	require.NoError(t, err)
	return book.ItemCount
}

func (e *testEnv) user(t *testing.T, username string) *db.User {
	t.Helper()
	user, err := e.store.Users.GetByUsername(context.Background(), username)
	require.NoError(t, err)
	return user
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}

func TestAddBook(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book, err := env.inventory.AddBook(ctx, BookInput{ISBN: " 111 ", Title: "Dune", ItemCount: 3})
	require.NoError(t, err)
	assert.Equal(t, "111", book.ISBN)

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"book.created:111"}, env.publisher.Events())
	}, time.Second, 10*time.Millisecond)

	_, err = env.inventory.AddBook(ctx, BookInput{ISBN: "222", ItemCount: 1})
	assertKind(t, err, apperr.KindInvalidInput)
	assert.Contains(t, err.Error(), "Title is required")

	_, err = env.inventory.AddBook(ctx, BookInput{ISBN: "222", Title: "Negative", ItemCount: -1})
	assertKind(t, err, apperr.KindInvalidInput)
}

func TestAddBookDuplicateLeavesRecordUnchanged(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.addBook(t, "111", "Dune", 3)

	_, err := env.inventory.AddBook(ctx, BookInput{ISBN: "111", Title: "Impostor", ItemCount: 50})
	assertKind(t, err, apperr.KindDuplicate)

	book, err := env.inventory.GetBook(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, 3, book.ItemCount)
}

func TestImportBooks(t *testing.T) {
	env := setupTestEnv(t)
	env.addBook(t, "111", "Dune", 1)

	result, err := env.inventory.ImportBooks(context.Background(), []BookInput{
		{ISBN: "111", Title: "Dune"},
		{ISBN: "222", Title: "Emma", ItemCount: 2},
		{ISBN: "", Title: "No ISBN"},
	})
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Created: 1, Skipped: 2}, result)
}

func TestSearchBooks(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	for _, b := range []struct{ isbn, title string }{
		{"1", "Harry Potter 1"},
		{"2", "Harry Potter 2"},
		{"3", "harry potter 3"},
		{"4", "HARRY POTTER 4"},
		{"5", "Harry Potter 5"},
		{"6", "Dune"},
	} {
		env.addBook(t, b.isbn, b.title, 1)
	}

	all, err := env.inventory.SearchBooks(ctx, "-")
	require.NoError(t, err)
	assert.Len(t, all, 6)

	none, err := env.inventory.SearchBooks(ctx, "xyz-no-match")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	capped, err := env.inventory.SearchBooks(ctx, "potter")
	require.NoError(t, err)
	assert.Len(t, capped, 4)
}

func TestFilterBooks(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.inventory.AddBook(ctx, BookInput{ISBN: "1", Title: "Dune", Genre: "SciFi", Year: 1965, ItemCount: 1})
	require.NoError(t, err)
	_, err = env.inventory.AddBook(ctx, BookInput{ISBN: "2", Title: "Dune Messiah", Genre: "SciFi", Year: 1969, ItemCount: 1})
	require.NoError(t, err)
	_, err = env.inventory.AddBook(ctx, BookInput{ISBN: "3", Title: "Emma", Genre: "Classic", Year: 1815, ItemCount: 1})
	require.NoError(t, err)

	books, err := env.inventory.FilterBooks(ctx, "all", "all", "all")
	require.NoError(t, err)
	assert.Len(t, books, 3)

	books, err = env.inventory.FilterBooks(ctx, "SciFi", "all", "dune")
	require.NoError(t, err)
	assert.Len(t, books, 2)

	books, err = env.inventory.FilterBooks(ctx, "SciFi", "1969", "all")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "2", books[0].ISBN)

	books, err = env.inventory.FilterBooks(ctx, "Classic", "all", "dune")
	require.NoError(t, err)
	assert.Empty(t, books)

	_, err = env.inventory.FilterBooks(ctx, "all", "nineteen", "all")
	assertKind(t, err, apperr.KindInvalidInput)
}

func TestAddToCartIsAllOrNothing(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.addBook(t, "A", "Available", 1)
	env.addBook(t, "B", "Gone", 0)
	env.addUser(t, "reader@example.com")

	err := env.inventory.AddToCart(ctx, "reader@example.com", []string{"A", "B"})
	assertKind(t, err, apperr.KindOutOfStock)
	assert.Empty(t, env.user(t, "reader@example.com").Cart)

	err = env.inventory.AddToCart(ctx, "reader@example.com", []string{"A", "missing"})
	assertKind(t, err, apperr.KindNotFound)
	assert.Empty(t, env.user(t, "reader@example.com").Cart)

	err = env.inventory.AddToCart(ctx, "ghost@example.com", []string{"A"})
	assertKind(t, err, apperr.KindNotFound)

	err = env.inventory.AddToCart(ctx, "reader@example.com", nil)
	assertKind(t, err, apperr.KindInvalidInput)

	// Duplicates are kept in input order
	require.NoError(t, env.inventory.AddToCart(ctx, "reader@example.com", []string{"A", "A"}))
	cart := env.user(t, "reader@example.com").Cart
	require.Len(t, cart, 2)
	assert.Equal(t, "A", cart[0].ISBN)
	assert.Equal(t, "A", cart[1].ISBN)
}

func TestCheckoutAndReturnRoundTrip(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.addBook(t, "111", "Dune", 2)
	user := env.addUser(t, "reader@example.com")

	require.NoError(t, env.inventory.AddToCart(ctx, "reader@example.com", []string{"111"}))

	borrowed, err := env.inventory.Checkout(ctx, "reader@example.com")
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	assert.Equal(t, 1, env.stock(t, "111"))

	loaded := env.user(t, "reader@example.com")
	assert.Empty(t, loaded.Cart)
	require.Len(t, loaded.Borrowed, 1)
	assert.False(t, loaded.Borrowed[0].TakenDate.IsZero())

	returned, err := env.inventory.ReturnBooks(ctx, user.UniqueID, []string{"111"})
	require.NoError(t, err)
	assert.Equal(t, 1, returned)
	assert.Equal(t, 2, env.stock(t, "111"))
	assert.Empty(t, env.user(t, "reader@example.com").Borrowed)

	assert.Eventually(t, func() bool {
		return len(env.publisher.Events()) == 3
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{
		"book.created:111",
		"cart.checked_out:reader@example.com",
		"books.returned:" + user.UniqueID,
	}, env.publisher.Events())
}

func TestCheckoutRollsBackOnOutOfStock(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.addBook(t, "A", "Plenty", 5)
	env.addBook(t, "B", "Last", 1)
	env.addUser(t, "first@example.com")
	env.addUser(t, "second@example.com")

	require.NoError(t, env.inventory.AddToCart(ctx, "first@example.com", []string{"B"}))
	require.NoError(t, env.inventory.AddToCart(ctx, "second@example.com", []string{"A", "B"}))

	_, err := env.inventory.Checkout(ctx, "first@example.com")
	require.NoError(t, err)

	_, err = env.inventory.Checkout(ctx, "second@example.com")
	assertKind(t, err, apperr.KindOutOfStock)

	// The decrement of A was rolled back with the rest of the batch
	assert.Equal(t, 5, env.stock(t, "A"))
	assert.Equal(t, 0, env.stock(t, "B"))
	second := env.user(t, "second@example.com")
	assert.Len(t, second.Cart, 2)
	assert.Empty(t, second.Borrowed)
}

func TestCheckoutEmptyCartIsNoop(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.addBook(t, "111", "Dune", 1)
	user := env.addUser(t, "reader@example.com")
	require.NoError(t, env.store.Users.AddBorrowed(ctx, user.ID, []db.BorrowedEntry{{ISBN: "111", TakenDate: time.Now()}}))

	borrowed, err := env.inventory.Checkout(ctx, "reader@example.com")
	require.NoError(t, err)
	assert.Empty(t, borrowed)

	loaded := env.user(t, "reader@example.com")
	assert.Empty(t, loaded.Cart)
	assert.Len(t, loaded.Borrowed, 1)
	assert.Equal(t, 1, env.stock(t, "111"))

	_, err = env.inventory.Checkout(ctx, "ghost@example.com")
	assertKind(t, err, apperr.KindNotFound)
}

func TestCheckoutMissingBook(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	user := env.addUser(t, "reader@example.com")
	require.NoError(t, env.store.Users.AddCartEntries(ctx, user.ID, []string{"vanished"}))

	_, err := env.inventory.Checkout(ctx, "reader@example.com")
	assertKind(t, err, apperr.KindNotFound)
	assert.Len(t, env.user(t, "reader@example.com").Cart, 1)
}

func TestCheckoutLosesRaceForLastCopy(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.addBook(t, "last", "Only Copy", 1)
	env.addUser(t, "first@example.com")
	require.NoError(t, env.inventory.AddToCart(ctx, "first@example.com", []string{"last"}))

	// another member's checkout takes the copy between our cart read and the decrement
	dbtest.Interleave(t, env.database, "update", "books",
		"UPDATE books SET item_count = item_count - 1 WHERE isbn = ?", "last")

	_, err := env.inventory.Checkout(ctx, "first@example.com")
	assertKind(t, err, apperr.KindOutOfStock)

	// the rival write ran inside our transaction, so the rollback undoes it too
	assert.Equal(t, 1, env.stock(t, "last"))
	user := env.user(t, "first@example.com")
	assert.Len(t, user.Cart, 1)
	assert.Empty(t, user.Borrowed)
}

func TestCheckoutKeepsEntriesAddedMeanwhile(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.addBook(t, "A", "First", 2)
	env.addBook(t, "B", "Added later", 2)
	reader := env.addUser(t, "reader@example.com")
	require.NoError(t, env.inventory.AddToCart(ctx, "reader@example.com", []string{"A"}))

	// a concurrent AddToCart commits after the checkout has read the cart
	dbtest.Interleave(t, env.database, "delete", "cart_entries",
		"INSERT INTO cart_entries (user_id, isbn) VALUES (?, ?)", reader.ID, "B")

	borrowed, err := env.inventory.Checkout(ctx, "reader@example.com")
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	assert.Equal(t, "A", borrowed[0].ISBN)

	user := env.user(t, "reader@example.com")
	require.Len(t, user.Cart, 1)
	assert.Equal(t, "B", user.Cart[0].ISBN)
	assert.Equal(t, 2, env.stock(t, "B"))
}

func TestCheckoutOfConsumedCartRollsBack(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.addBook(t, "A", "Popular", 2)
	reader := env.addUser(t, "reader@example.com")
	require.NoError(t, env.inventory.AddToCart(ctx, "reader@example.com", []string{"A"}))

	// a second checkout of the same cart already moved the entries
	dbtest.Interleave(t, env.database, "delete", "cart_entries",
		"DELETE FROM cart_entries WHERE user_id = ?", reader.ID)

	_, err := env.inventory.Checkout(ctx, "reader@example.com")
	assertKind(t, err, apperr.KindConflict)

	assert.Equal(t, 2, env.stock(t, "A"))
	assert.Empty(t, env.user(t, "reader@example.com").Borrowed)
}

func catalogGauge(t *testing.T, name string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			require.Len(t, family.GetMetric(), 1)
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestCatalogGaugesFollowInventory(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.inventory.AddBook(ctx, BookInput{ISBN: "A", Title: "Dune", ItemCount: 2})
	require.NoError(t, err)
	_, err = env.inventory.AddBook(ctx, BookInput{ISBN: "B", Title: "Emma", ItemCount: 1})
	require.NoError(t, err)
	assert.Equal(t, 2.0, catalogGauge(t, "library_catalog_titles"))
	assert.Equal(t, 3.0, catalogGauge(t, "library_catalog_copies_on_shelf"))

	user := env.addUser(t, "reader@example.com")
	require.NoError(t, env.inventory.AddToCart(ctx, "reader@example.com", []string{"A", "B"}))
	_, err = env.inventory.Checkout(ctx, "reader@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1.0, catalogGauge(t, "library_catalog_copies_on_shelf"))

	_, err = env.inventory.ReturnBooks(ctx, user.UniqueID, []string{"B"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, catalogGauge(t, "library_catalog_copies_on_shelf"))
	assert.Equal(t, 2.0, catalogGauge(t, "library_catalog_titles"))
}

func TestReturnBooks(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.addBook(t, "A", "Held", 0)
	env.addBook(t, "B", "Not held", 4)
	user := env.addUser(t, "reader@example.com")
	require.NoError(t, env.store.Users.AddBorrowed(ctx, user.ID, []db.BorrowedEntry{
		{ISBN: "A", TakenDate: time.Now()},
		{ISBN: "A", TakenDate: time.Now()},
	}))

	// Only copies actually held go back on the shelf
	returned, err := env.inventory.ReturnBooks(ctx, user.UniqueID, []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, 2, returned)
	assert.Equal(t, 2, env.stock(t, "A"))
	assert.Equal(t, 4, env.stock(t, "B"))

	_, err = env.inventory.ReturnBooks(ctx, "nobody", []string{"A"})
	assertKind(t, err, apperr.KindNotFound)

	_, err = env.inventory.ReturnBooks(ctx, user.UniqueID, []string{"unknown"})
	assertKind(t, err, apperr.KindNotFound)

	_, err = env.inventory.ReturnBooks(ctx, user.UniqueID, nil)
	assertKind(t, err, apperr.KindInvalidInput)
}

func TestRemoveFromCart(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.addBook(t, "A", "One", 3)
	env.addBook(t, "B", "Two", 3)
	env.addUser(t, "reader@example.com")
	require.NoError(t, env.inventory.AddToCart(ctx, "reader@example.com", []string{"A", "B", "A"}))

	require.NoError(t, env.inventory.RemoveFromCart(ctx, "reader@example.com", "A"))
	cart := env.user(t, "reader@example.com").Cart
	require.Len(t, cart, 1)
	assert.Equal(t, "B", cart[0].ISBN)

	// Absent ISBN is a no-op
	require.NoError(t, env.inventory.RemoveFromCart(ctx, "reader@example.com", "Z"))
	assert.Len(t, env.user(t, "reader@example.com").Cart, 1)

	err := env.inventory.RemoveFromCart(ctx, "ghost@example.com", "A")
	assertKind(t, err, apperr.KindNotFound)
}

func TestBooksInCart(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.addBook(t, "A", "One", 3)
	env.addUser(t, "reader@example.com")

	_, err := env.inventory.BooksInCart(ctx, "reader@example.com")
	assertKind(t, err, apperr.KindEmptyResult)

	require.NoError(t, env.inventory.AddToCart(ctx, "reader@example.com", []string{"A", "A"}))
	books, err := env.inventory.BooksInCart(ctx, "reader@example.com")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "One", books[0].Title)

	_, err = env.inventory.BooksInCart(ctx, "ghost@example.com")
	assertKind(t, err, apperr.KindNotFound)
}

func TestListBorrowed(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.inventory.ListBorrowed(ctx)
	assertKind(t, err, apperr.KindEmptyResult)

	env.addBook(t, "A", "Dune", 1)
	user := env.addUser(t, "reader@example.com")
	env.addUser(t, "idle@example.com")
	taken := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, env.store.Users.AddBorrowed(ctx, user.ID, []db.BorrowedEntry{
		{ISBN: "A", TakenDate: taken},
		{ISBN: "deleted", TakenDate: taken},
	}))

	items, err := env.inventory.ListBorrowed(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Dune", items[0].Title)
	assert.Equal(t, "Author A", items[0].Author)
	assert.Equal(t, user.UniqueID, items[0].UID)
	assert.Equal(t, user.Name, items[0].Borrower)
	assert.True(t, taken.Equal(items[0].TakenDate))

	assert.Equal(t, "Unknown", items[1].Title)
	assert.Equal(t, "Unknown", items[1].Author)
}

func TestInventoryInternalErrors(t *testing.T) {
	database := dbtest.New(t)
	inventory := NewInventory(repo.NewStore(database, zap.NewNop()), &MockPublisher{}, zap.NewNop())
	require.NoError(t, database.Close())

	_, err := inventory.ListBooks(context.Background())
	assertKind(t, err, apperr.KindInternal)
	assert.Equal(t, "internal server error", apperr.From(err).Message)

	err = inventory.AddToCart(context.Background(), "reader@example.com", []string{"A"})
	assertKind(t, err, apperr.KindInternal)
}

func TestMailFailureRollsBackRegistration(t *testing.T) {
	env := setupTestEnv(t)
	env.mailer.err = errors.New("relay down")

	_, err := env.accounts.Register(context.Background(), RegisterInput{
		Name:     "Reader",
		Username: "reader@example.com",
		Phone:    "5551234",
		Password: "secret1",
	})
	assertKind(t, err, apperr.KindInternal)

	_, err = env.store.Users.GetByUsername(context.Background(), "reader@example.com")
	assert.ErrorIs(t, err, repo.ErrUserNotFound)

	// the username is free again once the relay recovers
	env.mailer.err = nil
	_, err = env.accounts.Register(context.Background(), RegisterInput{
		Name:     "Reader",
		Username: "reader@example.com",
		Phone:    "5551234",
		Password: "secret1",
	})
	require.NoError(t, err)
}

func TestPendingMailDoesNotHoldDatabase(t *testing.T) {
	env := setupTestEnv(t)
	env.addBook(t, "A", "Dune", 1)
	env.mailer.hold = make(chan struct{})
	env.mailer.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := env.accounts.Register(context.Background(), RegisterInput{
			Name:     "Reader",
			Username: "reader@example.com",
			Phone:    "5551234",
			Password: "secret1",
		})
		done <- err
	}()

	select {
	case <-env.mailer.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("registration never reached the mailer")
	}

	// the store has a single connection, so this only returns if the
	// registration released it before waiting on the relay
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	books, err := env.inventory.ListBooks(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 1)

	close(env.mailer.hold)
	require.NoError(t, <-done)

	user, err := env.store.Users.GetByUsername(context.Background(), "reader@example.com")
	require.NoError(t, err)
	assert.False(t, user.IsVerified)
	assert.Len(t, env.mailer.sent, 1)
}
