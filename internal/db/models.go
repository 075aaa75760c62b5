package db

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Book represents a title held by the library. ItemCount is the number of
// copies currently on the shelf.
type Book struct {
	ISBN      string    `gorm:"primaryKey;type:varchar(32)" json:"ISBN"`
	BibNum    string    `gorm:"type:varchar(64)" json:"BibNum"`
	Title     string    `gorm:"type:varchar(255);not null;index:idx_books_title" json:"Title"`
	Author    string    `gorm:"type:varchar(255);index:idx_books_author" json:"Author"`
	Publisher string    `gorm:"type:varchar(255)" json:"Publisher"`
	Genre     string    `gorm:"type:varchar(100);index:idx_books_genre" json:"Genre"`
	Year      int       `gorm:"not null;default:0;index:idx_books_year" json:"Year"`
	ItemCount int       `gorm:"not null;default:0;check:item_count >= 0" json:"ItemCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for Book model
func (Book) TableName() string {
	return "books"
}

// User is a library member account.
type User struct {
	ID           uint            `gorm:"primaryKey" json:"-"`
	Username     string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_users_username" json:"username"`
	Name         string          `gorm:"type:varchar(255);not null" json:"name"`
	Phone        string          `gorm:"type:varchar(32)" json:"phone"`
	Address      string          `gorm:"type:text" json:"address,omitempty"`
	PasswordHash string          `gorm:"type:varchar(255);not null" json:"-"`
	UniqueID     string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_users_unique_id" json:"uniqueId"`
	UserType     string          `gorm:"type:varchar(32);not null;default:'user'" json:"userType"`
	IsVerified   bool            `gorm:"not null;default:false" json:"isVerified"`
	Cart         []CartEntry     `gorm:"constraint:OnDelete:CASCADE" json:"cart"`
	Borrowed     []BorrowedEntry `gorm:"constraint:OnDelete:CASCADE" json:"borrowed"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}

// BeforeSave normalises the username so lookups are case-insensitive.
func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Username = NormalizeUsername(u.Username)
	return nil
}

// NormalizeUsername trims and lower-cases a username (an email address).
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// CartEntry is a pending request to borrow one copy of a book.
type CartEntry struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	UserID uint   `gorm:"not null;index:idx_cart_entries_user" json:"-"`
	ISBN   string `gorm:"type:varchar(32);not null" json:"isbn"`
}

// TableName specifies the table name for CartEntry model
func (CartEntry) TableName() string {
	return "cart_entries"
}

// BorrowedEntry records one copy a user currently holds.
type BorrowedEntry struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	UserID    uint      `gorm:"not null;index:idx_borrowed_entries_user" json:"-"`
	ISBN      string    `gorm:"type:varchar(32);not null;index:idx_borrowed_entries_isbn" json:"isbn"`
	TakenDate time.Time `gorm:"not null" json:"takenDate"`
}

// TableName specifies the table name for BorrowedEntry model
func (BorrowedEntry) TableName() string {
	return "borrowed_entries"
}
