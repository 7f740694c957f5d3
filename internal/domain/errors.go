package domain

import "errors"

// Sentinel errors returned by stores, the lending engine, and services.
// Handlers match these with errors.Is to pick HTTP status codes.
var (
	// ErrNotFound is returned when a book, loan, or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDueDate is returned when a due date is not strictly after
	// the issue time, or exceeds the configured maximum loan duration.
	ErrInvalidDueDate = errors.New("invalid due date")

	// ErrNoCopiesAvailable is returned when an issue request loses the
	// admission check, including the case where a concurrent issue took
	// the last copy.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrAlreadyReturned is returned on a second return of the same loan.
	// It is a distinct failure, not a silent success, so callers can tell
	// a double-submit apart from a real state change.
	ErrAlreadyReturned = errors.New("loan already returned")

	// ErrInvariantViolation means a copy-count mutation would leave
	// available_copies outside [0, total_copies]. It should never surface
	// through the lending engine under correct usage.
	ErrInvariantViolation = errors.New("availability invariant violation")

	// ErrConflict is returned when an operation collides with existing
	// state: deleting a book with active loans, or issuing a duplicate
	// active loan to the same user when policy forbids it.
	ErrConflict = errors.New("conflict")

	// ErrBusy is returned when per-key serialization could not be acquired
	// within the configured timeout. It is the only error callers should
	// retry automatically.
	ErrBusy = errors.New("resource busy")
)
