package domain

import (
	"context"
	"time"
)

// Loan status values. A loan is created active and moves to returned exactly
// once; there are no other transitions.
const (
	LoanStatusActive   = "active"
	LoanStatusReturned = "returned"
)

// Loan is one borrowing transaction linking a user to a book copy for a
// bounded period. IssueDate and DueDate are immutable after creation;
// ReturnDate is set exactly once by a successful return.
type Loan struct {
	ID         int64
	BookID     int64
	UserID     int64
	IssueDate  time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Overdue reports whether the loan is active and past due at the given time.
// Derived, never stored.
func (l *Loan) Overdue(now time.Time) bool {
	return l.Status == LoanStatusActive && now.After(l.DueDate)
}

// DaysUntilDue returns whole days until the due date at the given time,
// negative once overdue.
func (l *Loan) DaysUntilDue(now time.Time) int {
	return int(l.DueDate.Sub(now).Hours() / 24)
}

// LoanLedger is the authoritative, append-only history of borrowing events.
// Loans are never deleted; CloseLoan is the only mutation.
type LoanLedger interface {
	GetLoan(ctx context.Context, id int64) (*Loan, error)

	// CreateLoan appends a new active loan. It fails with ErrInvalidDueDate
	// if dueDate is not strictly after issueDate.
	CreateLoan(ctx context.Context, userID, bookID int64, issueDate, dueDate time.Time) (*Loan, error)

	// CloseLoan sets return_date and flips status to returned. It fails with
	// ErrNotFound for an unknown loan and ErrAlreadyReturned if the loan is
	// already closed; the guard is atomic so racing returns cannot both win.
	CloseLoan(ctx context.Context, id int64, returnDate time.Time) (*Loan, error)

	ActiveLoansForBook(ctx context.Context, bookID int64) ([]*Loan, error)
	ActiveLoansForUser(ctx context.Context, userID int64) ([]*Loan, error)
	ListLoans(ctx context.Context, offset, limit int) ([]*Loan, error)
}
