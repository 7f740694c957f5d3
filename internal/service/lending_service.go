package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/smartlib/internal/domain"
	"github.com/yourorg/smartlib/internal/observability/metrics"
	"github.com/yourorg/smartlib/internal/reliability/keylock"
	"github.com/yourorg/smartlib/pkg/config"
)

// LendingService is the only component allowed to change a book's
// available_copies together with the loan ledger. Issue is serialized per
// book and Return per loan through a keyed mutex, so the admission check and
// the counter mutation cannot interleave for the same key. The catalog
// store's guarded AdjustAvailability is a second line of defense: even a
// writer that bypasses the lock cannot push the counter out of bounds.
type LendingService struct {
	catalog domain.CatalogStore
	ledger  domain.LoanLedger
	locks   *keylock.KeyedMutex
	logger  *slog.Logger
	config  *config.Config

	// now is the clock; tests substitute it.
	now func() time.Time
}

// NewLendingService creates a new lending service
func NewLendingService(
	catalog domain.CatalogStore,
	ledger domain.LoanLedger,
	logger *slog.Logger,
	cfg *config.Config,
) *LendingService {
	if logger == nil {
		logger = slog.Default()
	}

	return &LendingService{
		catalog: catalog,
		ledger:  ledger,
		locks:   keylock.New(),
		logger:  logger,
		config:  cfg,
		now:     time.Now,
	}
}

func bookKey(id int64) string { return fmt.Sprintf("book:%d", id) }
func loanKey(id int64) string { return fmt.Sprintf("loan:%d", id) }

// lock acquires the per-key mutex within the configured timeout, translating
// expiry into the retryable domain.ErrBusy.
func (s *LendingService) lock(ctx context.Context, key, operation string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.config.LockTimeout)
	defer cancel()

	if err := s.locks.Lock(lockCtx, key); err != nil {
		metrics.ObserveLockTimeout(operation)
		s.logger.Warn("lock acquisition timed out",
			slog.String("operation", operation),
			slog.String("key", key),
		)
		return nil, fmt.Errorf("%s on %s: %w", operation, key, domain.ErrBusy)
	}
	return func() { s.locks.Unlock(key) }, nil
}

// Issue lends one copy of a book to a user until dueDate. On success the
// book's availability has been decremented and a new active loan recorded;
// on any failure neither has changed.
func (s *LendingService) Issue(ctx context.Context, userID, bookID int64, dueDate time.Time) (*domain.Loan, error) {
	start := s.now()

	if !dueDate.After(start) {
		metrics.ObserveIssue("invalid_due_date", s.now().Sub(start))
		return nil, fmt.Errorf("due date must be after %s: %w", start.Format(time.RFC3339), domain.ErrInvalidDueDate)
	}
	if max := s.config.MaxLoanDays; max > 0 && dueDate.After(start.AddDate(0, 0, max)) {
		metrics.ObserveIssue("invalid_due_date", s.now().Sub(start))
		return nil, fmt.Errorf("loan duration exceeds %d days: %w", max, domain.ErrInvalidDueDate)
	}

	unlock, err := s.lock(ctx, bookKey(bookID), "issue")
	if err != nil {
		metrics.ObserveIssue("busy", s.now().Sub(start))
		return nil, err
	}
	defer unlock()

	book, err := s.catalog.GetBook(ctx, bookID)
	if err != nil {
		metrics.ObserveIssue("not_found", s.now().Sub(start))
		return nil, err
	}

	if book.AvailableCopies == 0 {
		metrics.ObserveIssue("no_copies", s.now().Sub(start))
		return nil, fmt.Errorf("book %d: %w", bookID, domain.ErrNoCopiesAvailable)
	}

	if !s.config.AllowDuplicateLoans {
		active, err := s.ledger.ActiveLoansForBook(ctx, bookID)
		if err != nil {
			metrics.ObserveIssue("error", s.now().Sub(start))
			return nil, fmt.Errorf("admission check failed: %w", err)
		}
		for _, l := range active {
			if l.UserID == userID {
				metrics.ObserveIssue("duplicate", s.now().Sub(start))
				return nil, fmt.Errorf("user %d already holds an active loan for book %d: %w",
					userID, bookID, domain.ErrConflict)
			}
		}
	}

	if err := s.catalog.AdjustAvailability(ctx, bookID, -1); err != nil {
		metrics.ObserveIssue("no_copies", s.now().Sub(start))
		if errors.Is(err, domain.ErrInvariantViolation) {
			// The counter hit zero between the check and the decrement;
			// treat it as losing the admission check, not as corruption.
			return nil, fmt.Errorf("book %d: %w", bookID, domain.ErrNoCopiesAvailable)
		}
		return nil, err
	}

	loan, err := s.ledger.CreateLoan(ctx, userID, bookID, start, dueDate)
	if err != nil {
		// Roll the decrement back so the failed issue leaves no net change.
		if compErr := s.catalog.AdjustAvailability(ctx, bookID, +1); compErr != nil {
			s.logger.Error("failed to compensate availability after loan creation failure",
				slog.Int64("book_id", bookID),
				slog.String("error", compErr.Error()),
			)
		}
		metrics.ObserveIssue("error", s.now().Sub(start))
		return nil, err
	}

	metrics.ObserveIssue("success", s.now().Sub(start))
	metrics.IncrementActiveLoans()
	s.logger.Info("book issued",
		slog.Int64("loan_id", loan.ID),
		slog.Int64("book_id", bookID),
		slog.Int64("user_id", userID),
		slog.Time("due_date", dueDate),
	)

	return loan, nil
}

// Return closes a loan and gives its copy back to the pool. Exactly one of
// two racing returns succeeds; the other observes ErrAlreadyReturned and
// the counter moves by exactly one.
func (s *LendingService) Return(ctx context.Context, loanID int64) (*domain.Loan, error) {
	unlock, err := s.lock(ctx, loanKey(loanID), "return")
	if err != nil {
		metrics.ObserveReturn("busy")
		return nil, err
	}
	defer unlock()

	loan, err := s.ledger.GetLoan(ctx, loanID)
	if err != nil {
		metrics.ObserveReturn("not_found")
		return nil, err
	}
	if loan.Status == domain.LoanStatusReturned {
		metrics.ObserveReturn("already_returned")
		return nil, fmt.Errorf("loan %d: %w", loanID, domain.ErrAlreadyReturned)
	}

	// Increment first, close second. CloseLoan carries the atomic
	// active-only guard, so if it fails the increment is rolled back and
	// the whole operation is a no-op.
	if err := s.catalog.AdjustAvailability(ctx, loan.BookID, +1); err != nil {
		metrics.ObserveReturn("error")
		return nil, err
	}

	closed, err := s.ledger.CloseLoan(ctx, loanID, s.now())
	if err != nil {
		if compErr := s.catalog.AdjustAvailability(ctx, loan.BookID, -1); compErr != nil {
			s.logger.Error("failed to compensate availability after close failure",
				slog.Int64("book_id", loan.BookID),
				slog.String("error", compErr.Error()),
			)
		}
		if errors.Is(err, domain.ErrAlreadyReturned) {
			metrics.ObserveReturn("already_returned")
		} else {
			metrics.ObserveReturn("error")
		}
		return nil, err
	}

	metrics.ObserveReturn("success")
	metrics.DecrementActiveLoans()
	s.logger.Info("book returned",
		slog.Int64("loan_id", closed.ID),
		slog.Int64("book_id", closed.BookID),
		slog.Int64("user_id", closed.UserID),
	)

	return closed, nil
}

// ReturnForUser closes a loan after verifying it belongs to userID, so one
// member cannot return another member's loan by guessing IDs.
func (s *LendingService) ReturnForUser(ctx context.Context, loanID, userID int64) (*domain.Loan, error) {
	loan, err := s.ledger.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.UserID != userID {
		return nil, fmt.Errorf("loan %d: %w", loanID, domain.ErrNotFound)
	}
	return s.Return(ctx, loanID)
}

// UpdateCopyCount is the copy-count accessor for catalog management. The
// resize is a single conditional store mutation that preserves the number
// of lent-out copies, and it runs under the same per-book lock as Issue, so
// admin edits cannot race a lend.
func (s *LendingService) UpdateCopyCount(ctx context.Context, bookID int64, totalCopies int) (*domain.Book, error) {
	if totalCopies < 1 {
		return nil, fmt.Errorf("total copies must be at least 1: %w", domain.ErrInvariantViolation)
	}

	unlock, err := s.lock(ctx, bookKey(bookID), "update_copies")
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.catalog.ResizeCopies(ctx, bookID, totalCopies); err != nil {
		return nil, err
	}

	return s.catalog.GetBook(ctx, bookID)
}

// DeleteBook removes a book from the catalog, failing with ErrConflict while
// any loan on it is still active. The per-book lock keeps a concurrent issue
// from slipping in between the check and the delete.
func (s *LendingService) DeleteBook(ctx context.Context, bookID int64) error {
	unlock, err := s.lock(ctx, bookKey(bookID), "delete_book")
	if err != nil {
		return err
	}
	defer unlock()

	active, err := s.ledger.ActiveLoansForBook(ctx, bookID)
	if err != nil {
		return fmt.Errorf("active loan check failed: %w", err)
	}
	if len(active) > 0 {
		return fmt.Errorf("book %d has %d active loans: %w", bookID, len(active), domain.ErrConflict)
	}

	return s.catalog.DeleteBook(ctx, bookID)
}
