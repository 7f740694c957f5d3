package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yourorg/smartlib/internal/security/audit"
	"github.com/yourorg/smartlib/internal/security/middleware"
	"github.com/yourorg/smartlib/internal/service"
)

// BookRequest represents the writable fields for create and update.
type BookRequest struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	Description     string `json:"description"`
	Genre           string `json:"genre"`
	PublicationYear int    `json:"publication_year"`
	TotalCopies     int    `json:"total_copies"`
}

func (r BookRequest) toInput() service.BookInput {
	total := r.TotalCopies
	if total == 0 {
		total = 1
	}
	return service.BookInput{
		Title:           r.Title,
		Author:          r.Author,
		ISBN:            r.ISBN,
		Description:     r.Description,
		Genre:           r.Genre,
		PublicationYear: r.PublicationYear,
		TotalCopies:     total,
	}
}

// CreateBookHandler handles admin catalog additions.
type CreateBookHandler struct {
	catalog  *service.CatalogService
	auditLog *audit.Logger
	logger   *slog.Logger
}

// NewCreateBookHandler creates a new create-book handler
func NewCreateBookHandler(catalog *service.CatalogService, auditLog *audit.Logger, logger *slog.Logger) *CreateBookHandler {
	return &CreateBookHandler{catalog: catalog, auditLog: auditLog, logger: logger}
}

// ServeHTTP handles POST /admin/books requests
func (h *CreateBookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	book, err := h.catalog.CreateBook(r.Context(), req.toInput())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	userID := middleware.GetUserIDFromContext(r.Context())
	h.auditLog.LogBookChange(r.Context(), userID, "create", book.ID, "success", book.Title)

	writeJSON(w, http.StatusCreated, toBookDTO(book))
}

// UpdateBookHandler handles admin catalog edits.
type UpdateBookHandler struct {
	catalog  *service.CatalogService
	auditLog *audit.Logger
	logger   *slog.Logger
}

// NewUpdateBookHandler creates a new update-book handler
func NewUpdateBookHandler(catalog *service.CatalogService, auditLog *audit.Logger, logger *slog.Logger) *UpdateBookHandler {
	return &UpdateBookHandler{catalog: catalog, auditLog: auditLog, logger: logger}
}

// ServeHTTP handles PUT /admin/books/{id} requests
func (h *UpdateBookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid book id", http.StatusBadRequest)
		return
	}

	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	book, err := h.catalog.UpdateBook(r.Context(), id, req.toInput())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	userID := middleware.GetUserIDFromContext(r.Context())
	h.auditLog.LogBookChange(r.Context(), userID, "update", book.ID, "success", book.Title)

	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// DeleteBookHandler handles admin catalog removals.
type DeleteBookHandler struct {
	catalog  *service.CatalogService
	auditLog *audit.Logger
	logger   *slog.Logger
}

// NewDeleteBookHandler creates a new delete-book handler
func NewDeleteBookHandler(catalog *service.CatalogService, auditLog *audit.Logger, logger *slog.Logger) *DeleteBookHandler {
	return &DeleteBookHandler{catalog: catalog, auditLog: auditLog, logger: logger}
}

// ServeHTTP handles DELETE /admin/books/{id} requests
func (h *DeleteBookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid book id", http.StatusBadRequest)
		return
	}

	if err := h.catalog.DeleteBook(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	userID := middleware.GetUserIDFromContext(r.Context())
	h.auditLog.LogBookChange(r.Context(), userID, "delete", id, "success", "")

	writeJSON(w, http.StatusOK, map[string]string{"message": "Book deleted successfully"})
}
