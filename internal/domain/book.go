package domain

import (
	"context"
	"time"
)

// Book represents a title in the catalog together with its copy counters.
// AvailableCopies always stays within [0, TotalCopies]; the catalog store
// enforces the bound, and only the lending engine moves it.
type Book struct {
	ID              int64
	Title           string
	Author          string
	ISBN            string // optional, unique when present
	Description     string
	Genre           string
	PublicationYear int
	TotalCopies     int
	AvailableCopies int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CatalogStore is the data owner for books. AvailableCopies moves only
// through AdjustAvailability and ResizeCopies; there is deliberately no
// direct setter.
type CatalogStore interface {
	GetBook(ctx context.Context, id int64) (*Book, error)
	ListBooks(ctx context.Context, offset, limit int) ([]*Book, error)

	// AdjustAvailability applies available_copies += delta as a single
	// conditional mutation. It fails with ErrNotFound if the book does not
	// exist and ErrInvariantViolation if the result would leave the counter
	// outside [0, total_copies].
	AdjustAvailability(ctx context.Context, id int64, delta int) error

	// ResizeCopies changes total_copies to totalCopies and shifts
	// available_copies by the same delta in one conditional mutation, so
	// the number of lent-out copies is preserved. It fails with
	// ErrNotFound for an unknown book and ErrConflict when the new total
	// is below the number of copies currently lent out.
	ResizeCopies(ctx context.Context, id int64, totalCopies int) error

	CreateBook(ctx context.Context, book *Book) error

	// UpdateBook writes metadata columns only. Copy counters move solely
	// through AdjustAvailability and ResizeCopies.
	UpdateBook(ctx context.Context, book *Book) error

	DeleteBook(ctx context.Context, id int64) error
}

// BookSearcher finds books by free text and genre. Text matching is a
// case-insensitive substring match over title, author, and description;
// genre, when non-empty, is an exact match.
type BookSearcher interface {
	SearchBooks(ctx context.Context, query, genre string) ([]*Book, error)
}
