package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/smartlib/internal/domain"
)

// CacheInvalidator drops cached catalog entries after a write. The Redis
// client satisfies it; nil disables invalidation.
type CacheInvalidator interface {
	InvalidatePattern(ctx context.Context, pattern string) error
}

// BookInput carries the writable fields of a book for create and update.
type BookInput struct {
	Title           string
	Author          string
	ISBN            string
	Description     string
	Genre           string
	PublicationYear int
	TotalCopies     int
}

// CatalogService handles admin-side catalog management. Copy-count changes
// and deletions go through the lending engine so they serialize with issues
// and returns on the same book.
type CatalogService struct {
	catalog domain.CatalogStore
	lending *LendingService
	cache   CacheInvalidator
	logger  *slog.Logger
}

// NewCatalogService creates a new catalog service. cache may be nil.
func NewCatalogService(
	catalog domain.CatalogStore,
	lending *LendingService,
	cache CacheInvalidator,
	logger *slog.Logger,
) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}

	return &CatalogService{
		catalog: catalog,
		lending: lending,
		cache:   cache,
		logger:  logger,
	}
}

func validateBookInput(in BookInput) error {
	if in.Title == "" {
		return errors.New("title is required")
	}
	if in.Author == "" {
		return errors.New("author is required")
	}
	if in.TotalCopies < 1 {
		return errors.New("total copies must be at least 1")
	}
	if in.PublicationYear != 0 && (in.PublicationYear < 1000 || in.PublicationYear > time.Now().Year()+1) {
		return errors.New("publication year out of range")
	}
	return nil
}

// CreateBook adds a title to the catalog with all copies available.
func (s *CatalogService) CreateBook(ctx context.Context, in BookInput) (*domain.Book, error) {
	if err := validateBookInput(in); err != nil {
		return nil, err
	}

	book := &domain.Book{
		Title:           in.Title,
		Author:          in.Author,
		ISBN:            in.ISBN,
		Description:     in.Description,
		Genre:           in.Genre,
		PublicationYear: in.PublicationYear,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: in.TotalCopies,
	}

	if err := s.catalog.CreateBook(ctx, book); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("isbn %s: %w", in.ISBN, err)
		}
		return nil, err
	}

	s.invalidate(ctx)
	s.logger.Info("book created",
		slog.Int64("book_id", book.ID),
		slog.String("title", book.Title),
	)

	return book, nil
}

// UpdateBook replaces a book's metadata and copy count. The copy count
// always goes through the lending engine, which resizes atomically under
// the book's lock and refuses to shrink below the number of copies lent
// out. The metadata save writes no counter columns, so it cannot undo a
// concurrent issue or return.
func (s *CatalogService) UpdateBook(ctx context.Context, id int64, in BookInput) (*domain.Book, error) {
	if err := validateBookInput(in); err != nil {
		return nil, err
	}

	book, err := s.lending.UpdateCopyCount(ctx, id, in.TotalCopies)
	if err != nil {
		return nil, err
	}

	book.Title = in.Title
	book.Author = in.Author
	book.ISBN = in.ISBN
	book.Description = in.Description
	book.Genre = in.Genre
	book.PublicationYear = in.PublicationYear

	if err := s.catalog.UpdateBook(ctx, book); err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.logger.Info("book updated", slog.Int64("book_id", id))

	return book, nil
}

// DeleteBook removes a book, refusing while loans on it are active.
func (s *CatalogService) DeleteBook(ctx context.Context, id int64) error {
	if err := s.lending.DeleteBook(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx)
	s.logger.Info("book deleted", slog.Int64("book_id", id))
	return nil
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePattern(ctx, "book:*"); err != nil {
		s.logger.Warn("cache invalidation failed", slog.String("error", err.Error()))
	}
}
