package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yourorg/smartlib/internal/domain"
)

// BookCache is the read-through cache in front of single-book lookups.
// The Redis client satisfies it; a nil cache disables caching.
type BookCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// LoanView is a loan joined with its book and the overdue state derived
// from the caller's clock. Nothing here is stored; overdue is always
// computed at read time.
type LoanView struct {
	Loan         *domain.Loan
	BookTitle    string
	BookAuthor   string
	Overdue      bool
	DaysUntilDue int
}

// QueryService serves all read paths: catalog browsing, search, and loan
// views. It never mutates catalog or ledger state.
type QueryService struct {
	catalog  domain.CatalogStore
	searcher domain.BookSearcher
	ledger   domain.LoanLedger
	cache    BookCache
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewQueryService creates a new query service. cache may be nil.
func NewQueryService(
	catalog domain.CatalogStore,
	searcher domain.BookSearcher,
	ledger domain.LoanLedger,
	cache BookCache,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}

	return &QueryService{
		catalog:  catalog,
		searcher: searcher,
		ledger:   ledger,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// ListBooks returns a page of the catalog.
func (s *QueryService) ListBooks(ctx context.Context, offset, limit int) ([]*domain.Book, error) {
	return s.catalog.ListBooks(ctx, offset, limit)
}

// GetBook fetches a single book, serving from cache when possible. Cache
// failures degrade to a direct read; they are logged, never surfaced.
func (s *QueryService) GetBook(ctx context.Context, id int64) (*domain.Book, error) {
	key := fmt.Sprintf("book:%d", id)

	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var book domain.Book
			if err := json.Unmarshal([]byte(raw), &book); err == nil {
				return &book, nil
			}
			s.logger.Warn("discarding malformed cache entry", slog.String("key", key))
		}
	}

	book, err := s.catalog.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(book); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
				s.logger.Warn("cache write failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		}
	}

	return book, nil
}

// Search finds books whose title, author, or description contains query
// (case-insensitive), optionally restricted to an exact genre. An empty
// query with an empty genre returns the whole catalog; results come back
// in a stable order.
func (s *QueryService) Search(ctx context.Context, query, genre string) ([]*domain.Book, error) {
	query = strings.TrimSpace(query)
	genre = strings.TrimSpace(genre)

	books, err := s.searcher.SearchBooks(ctx, query, genre)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return books, nil
}

// MyLoans returns the user's active loans joined with their books, with
// overdue and days-until-due derived from now.
func (s *QueryService) MyLoans(ctx context.Context, userID int64, now time.Time) ([]*LoanView, error) {
	loans, err := s.ledger.ActiveLoansForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, loans, now)
}

// AllLoans returns a page of the full ledger, active and returned alike,
// for the admin issue listing.
func (s *QueryService) AllLoans(ctx context.Context, offset, limit int, now time.Time) ([]*LoanView, error) {
	loans, err := s.ledger.ListLoans(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, loans, now)
}

func (s *QueryService) enrich(ctx context.Context, loans []*domain.Loan, now time.Time) ([]*LoanView, error) {
	views := make([]*LoanView, 0, len(loans))
	for _, loan := range loans {
		view := &LoanView{Loan: loan}
		if loan.Status == domain.LoanStatusActive {
			view.Overdue = loan.Overdue(now)
			view.DaysUntilDue = loan.DaysUntilDue(now)
		}

		book, err := s.GetBook(ctx, loan.BookID)
		if err != nil {
			// The book may have been deleted after all its loans closed;
			// keep the loan row with an empty title rather than failing
			// the whole listing.
			s.logger.Warn("loan references missing book",
				slog.Int64("loan_id", loan.ID),
				slog.Int64("book_id", loan.BookID),
			)
		} else {
			view.BookTitle = book.Title
			view.BookAuthor = book.Author
		}
		views = append(views, view)
	}
	return views, nil
}
