package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yourorg/smartlib/internal/service"
)

// BooksHandler lists the catalog with skip/limit paging.
type BooksHandler struct {
	queries *service.QueryService
	logger  *slog.Logger
}

// NewBooksHandler creates a new catalog listing handler
func NewBooksHandler(queries *service.QueryService, logger *slog.Logger) *BooksHandler {
	return &BooksHandler{queries: queries, logger: logger}
}

// ServeHTTP handles GET /books requests
func (h *BooksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	skip := intQuery(r, "skip", 0)
	limit := intQuery(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	books, err := h.queries.ListBooks(r.Context(), skip, limit)
	if err != nil {
		h.logger.Error("list books failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookDTOs(books))
}

// BookSearchHandler searches the catalog by text and genre.
type BookSearchHandler struct {
	queries *service.QueryService
	logger  *slog.Logger
}

// NewBookSearchHandler creates a new search handler
func NewBookSearchHandler(queries *service.QueryService, logger *slog.Logger) *BookSearchHandler {
	return &BookSearchHandler{queries: queries, logger: logger}
}

// ServeHTTP handles GET /books/search?query=...&genre=... requests
func (h *BookSearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	genre := r.URL.Query().Get("genre")
	if query == "" && genre == "" {
		http.Error(w, "query or genre is required", http.StatusBadRequest)
		return
	}

	books, err := h.queries.Search(r.Context(), query, genre)
	if err != nil {
		h.logger.Error("search failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookDTOs(books))
}

// BookDetailHandler fetches a single book.
type BookDetailHandler struct {
	queries *service.QueryService
	logger  *slog.Logger
}

// NewBookDetailHandler creates a new book detail handler
func NewBookDetailHandler(queries *service.QueryService, logger *slog.Logger) *BookDetailHandler {
	return &BookDetailHandler{queries: queries, logger: logger}
}

// ServeHTTP handles GET /books/{id} requests
func (h *BookDetailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid book id", http.StatusBadRequest)
		return
	}

	book, err := h.queries.GetBook(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookDTO(book))
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}
