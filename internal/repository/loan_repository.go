package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/smartlib/internal/domain"
)

// PostgresLoanRepository implements domain.LoanLedger using PostgreSQL.
// Rows are only ever inserted or closed; there is no delete.
type PostgresLoanRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresLoanRepository creates a new loan repository
func NewPostgresLoanRepository(db *sql.DB, logger *slog.Logger) *PostgresLoanRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresLoanRepository{
		db:     db,
		logger: logger,
	}
}

const loanColumns = `id, book_id, user_id, issue_date, due_date, return_date, status, created_at, updated_at`

func scanLoan(row interface{ Scan(...any) error }) (*domain.Loan, error) {
	loan := &domain.Loan{}
	var returnDate sql.NullTime
	err := row.Scan(
		&loan.ID,
		&loan.BookID,
		&loan.UserID,
		&loan.IssueDate,
		&loan.DueDate,
		&returnDate,
		&loan.Status,
		&loan.CreatedAt,
		&loan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if returnDate.Valid {
		t := returnDate.Time
		loan.ReturnDate = &t
	}
	return loan, nil
}

// GetLoan retrieves a loan by ID
func (r *PostgresLoanRepository) GetLoan(ctx context.Context, id int64) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`

	loan, err := scanLoan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}

	return loan, nil
}

// CreateLoan appends a new active loan
func (r *PostgresLoanRepository) CreateLoan(ctx context.Context, userID, bookID int64, issueDate, dueDate time.Time) (*domain.Loan, error) {
	if !dueDate.After(issueDate) {
		return nil, fmt.Errorf("due date %s not after issue date %s: %w",
			dueDate.Format(time.RFC3339), issueDate.Format(time.RFC3339), domain.ErrInvalidDueDate)
	}

	query := `
		INSERT INTO loans (book_id, user_id, issue_date, due_date, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + loanColumns

	loan, err := scanLoan(r.db.QueryRowContext(ctx, query, bookID, userID, issueDate, dueDate, domain.LoanStatusActive))
	if err != nil {
		r.logger.Error("failed to create loan",
			slog.Int64("book_id", bookID),
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}

	return loan, nil
}

// CloseLoan flips an active loan to returned. The status predicate in the
// UPDATE makes the transition atomic: of two racing returns exactly one
// matches a row, the other observes ErrAlreadyReturned.
func (r *PostgresLoanRepository) CloseLoan(ctx context.Context, id int64, returnDate time.Time) (*domain.Loan, error) {
	query := `
		UPDATE loans
		SET return_date = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING ` + loanColumns

	loan, err := scanLoan(r.db.QueryRowContext(ctx, query, returnDate, domain.LoanStatusReturned, id, domain.LoanStatusActive))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM loans WHERE id = $1)", id).Scan(&exists); err != nil {
				return nil, fmt.Errorf("failed to check loan existence: %w", err)
			}
			if !exists {
				return nil, fmt.Errorf("loan %d: %w", id, domain.ErrNotFound)
			}
			return nil, fmt.Errorf("loan %d: %w", id, domain.ErrAlreadyReturned)
		}
		return nil, fmt.Errorf("failed to close loan: %w", err)
	}

	return loan, nil
}

// ActiveLoansForBook lists active loans for a book in insertion order.
func (r *PostgresLoanRepository) ActiveLoansForBook(ctx context.Context, bookID int64) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE book_id = $1 AND status = $2 ORDER BY id`
	return r.queryLoans(ctx, query, bookID, domain.LoanStatusActive)
}

// ActiveLoansForUser lists active loans for a user in insertion order.
func (r *PostgresLoanRepository) ActiveLoansForUser(ctx context.Context, userID int64) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE user_id = $1 AND status = $2 ORDER BY id`
	return r.queryLoans(ctx, query, userID, domain.LoanStatusActive)
}

// ListLoans returns a page of the full ledger, newest last.
func (r *PostgresLoanRepository) ListLoans(ctx context.Context, offset, limit int) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans ORDER BY id OFFSET $1 LIMIT $2`
	return r.queryLoans(ctx, query, offset, limit)
}

func (r *PostgresLoanRepository) queryLoans(ctx context.Context, query string, args ...any) ([]*domain.Loan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []*domain.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, loan)
	}

	return loans, rows.Err()
}
