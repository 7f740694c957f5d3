package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/yourorg/smartlib/internal/domain"
)

// PostgresBookRepository implements domain.CatalogStore using PostgreSQL.
type PostgresBookRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresBookRepository creates a new book repository
func NewPostgresBookRepository(db *sql.DB, logger *slog.Logger) *PostgresBookRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresBookRepository{
		db:     db,
		logger: logger,
	}
}

const bookColumns = `id, title, author, COALESCE(isbn, ''), COALESCE(description, ''),
		COALESCE(genre, ''), COALESCE(publication_year, 0), total_copies, available_copies,
		created_at, updated_at`

func scanBook(row interface{ Scan(...any) error }) (*domain.Book, error) {
	book := &domain.Book{}
	err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.ISBN,
		&book.Description,
		&book.Genre,
		&book.PublicationYear,
		&book.TotalCopies,
		&book.AvailableCopies,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return book, nil
}

// GetBook retrieves a book by ID
func (r *PostgresBookRepository) GetBook(ctx context.Context, id int64) (*domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = $1`

	book, err := scanBook(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("book %d: %w", id, domain.ErrNotFound)
		}
		r.logger.Error("failed to get book",
			slog.Int64("book_id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	return book, nil
}

// ListBooks returns a page of the catalog ordered by ID.
func (r *PostgresBookRepository) ListBooks(ctx context.Context, offset, limit int) ([]*domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books ORDER BY id OFFSET $1 LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}

	return books, rows.Err()
}

// AdjustAvailability applies available_copies += delta as a single guarded
// UPDATE, so the bound check and the mutation cannot race with other writers.
func (r *PostgresBookRepository) AdjustAvailability(ctx context.Context, id int64, delta int) error {
	query := `
		UPDATE books
		SET available_copies = available_copies + $1, updated_at = NOW()
		WHERE id = $2
		  AND available_copies + $1 >= 0
		  AND available_copies + $1 <= total_copies
	`

	result, err := r.db.ExecContext(ctx, query, delta, id)
	if err != nil {
		return fmt.Errorf("failed to adjust availability: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rows == 0 {
		// Either the book is missing or the delta breaks the bound.
		var exists bool
		if err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)", id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check book existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("book %d: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("adjust by %d on book %d: %w", delta, id, domain.ErrInvariantViolation)
	}

	return nil
}

// CreateBook inserts a new book
func (r *PostgresBookRepository) CreateBook(ctx context.Context, book *domain.Book) error {
	query := `
		INSERT INTO books (title, author, isbn, description, genre, publication_year, total_copies, available_copies)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, 0), $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		book.Title,
		book.Author,
		book.ISBN,
		book.Description,
		book.Genre,
		book.PublicationYear,
		book.TotalCopies,
		book.AvailableCopies,
	).Scan(&book.ID, &book.CreatedAt, &book.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("isbn %q already exists: %w", book.ISBN, domain.ErrConflict)
		}
		r.logger.Error("failed to create book",
			slog.String("title", book.Title),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create book: %w", err)
	}

	return nil
}

// UpdateBook updates the metadata columns of an existing book. Copy
// counters are deliberately not written here; they move only through
// AdjustAvailability and ResizeCopies, so a metadata save can never clobber
// a counter changed by a concurrent issue or return.
func (r *PostgresBookRepository) UpdateBook(ctx context.Context, book *domain.Book) error {
	query := `
		UPDATE books
		SET title = $1, author = $2, isbn = NULLIF($3, ''), description = $4,
		    genre = $5, publication_year = NULLIF($6, 0), updated_at = NOW()
		WHERE id = $7
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		book.Title,
		book.Author,
		book.ISBN,
		book.Description,
		book.Genre,
		book.PublicationYear,
		book.ID,
	).Scan(&book.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("book %d: %w", book.ID, domain.ErrNotFound)
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("isbn %q already exists: %w", book.ISBN, domain.ErrConflict)
		}
		return fmt.Errorf("failed to update book: %w", err)
	}

	return nil
}

// ResizeCopies moves total_copies to the new count and shifts
// available_copies by the same delta in one guarded statement, computed
// from the row's current values rather than a caller snapshot. The guard
// refuses a shrink below the number of copies lent out.
func (r *PostgresBookRepository) ResizeCopies(ctx context.Context, id int64, totalCopies int) error {
	query := `
		UPDATE books
		SET available_copies = available_copies + ($2 - total_copies),
		    total_copies = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND available_copies + ($2 - total_copies) >= 0
	`

	result, err := r.db.ExecContext(ctx, query, id, totalCopies)
	if err != nil {
		return fmt.Errorf("failed to resize copies for book %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rows == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check book %d: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("book %d: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("cannot shrink book %d below its lent-out copies: %w",
			id, domain.ErrConflict)
	}

	return nil
}

// DeleteBook removes a book. Active-loan checks happen in the catalog
// service before this is called.
func (r *PostgresBookRepository) DeleteBook(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM books WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("book %d: %w", id, domain.ErrNotFound)
	}

	return nil
}

// SearchBooks returns books whose title, author, or description contains the
// query (case-insensitive), optionally restricted to an exact genre. Results
// are ordered by ID so identical input yields identical output.
func (r *PostgresBookRepository) SearchBooks(ctx context.Context, query, genre string) ([]*domain.Book, error) {
	sqlQuery := `
		SELECT ` + bookColumns + `
		FROM books
		WHERE (title ILIKE '%' || $1 || '%'
		   OR author ILIKE '%' || $1 || '%'
		   OR description ILIKE '%' || $1 || '%')
	`
	args := []any{query}
	if genre != "" {
		sqlQuery += " AND genre = $2"
		args = append(args, genre)
	}
	sqlQuery += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		r.logger.Error("failed to search books",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to search books: %w", err)
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}

	return books, rows.Err()
}
