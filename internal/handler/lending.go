package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/yourorg/smartlib/internal/security/audit"
	"github.com/yourorg/smartlib/internal/security/middleware"
	"github.com/yourorg/smartlib/internal/service"
)

// IssueRequest carries the due date for a new loan. A zero due date asks
// the server to apply the default loan period.
type IssueRequest struct {
	DueDate time.Time `json:"due_date"`
}

// IssueHandler lends a book copy to the authenticated user.
type IssueHandler struct {
	lending  *service.LendingService
	auditLog *audit.Logger
	logger   *slog.Logger

	defaultLoanDays int
}

// NewIssueHandler creates a new issue handler
func NewIssueHandler(lending *service.LendingService, auditLog *audit.Logger, defaultLoanDays int, logger *slog.Logger) *IssueHandler {
	return &IssueHandler{
		lending:         lending,
		auditLog:        auditLog,
		logger:          logger,
		defaultLoanDays: defaultLoanDays,
	}
}

// ServeHTTP handles POST /books/{id}/issue requests
func (h *IssueHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid book id", http.StatusBadRequest)
		return
	}

	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// The body is optional; an empty one means "use the default period".
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.DueDate.IsZero() {
		req.DueDate = time.Now().AddDate(0, 0, h.defaultLoanDays)
	}

	loan, err := h.lending.Issue(r.Context(), userID, bookID, req.DueDate)
	if err != nil {
		h.auditLog.LogIssue(r.Context(), userID, bookID, "failed", err.Error())
		writeDomainError(w, err)
		return
	}

	h.auditLog.LogIssue(r.Context(), userID, bookID, "success", "")
	writeJSON(w, http.StatusCreated, toLoanDTO(loan))
}

// ReturnHandler closes one of the authenticated user's loans.
type ReturnHandler struct {
	lending  *service.LendingService
	auditLog *audit.Logger
	logger   *slog.Logger
}

// NewReturnHandler creates a new return handler
func NewReturnHandler(lending *service.LendingService, auditLog *audit.Logger, logger *slog.Logger) *ReturnHandler {
	return &ReturnHandler{lending: lending, auditLog: auditLog, logger: logger}
}

// ServeHTTP handles POST /books/return/{issue_id} requests
func (h *ReturnHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "issue_id")
	if err != nil {
		http.Error(w, "invalid issue id", http.StatusBadRequest)
		return
	}

	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	loan, err := h.lending.ReturnForUser(r.Context(), loanID, userID)
	if err != nil {
		h.auditLog.LogReturn(r.Context(), userID, loanID, "failed", err.Error())
		writeDomainError(w, err)
		return
	}

	h.auditLog.LogReturn(r.Context(), userID, loanID, "success", "")
	writeJSON(w, http.StatusOK, toLoanDTO(loan))
}

// MyBooksHandler lists the authenticated user's active loans with book
// details and derived overdue state.
type MyBooksHandler struct {
	queries *service.QueryService
	logger  *slog.Logger
}

// NewMyBooksHandler creates a new my-books handler
func NewMyBooksHandler(queries *service.QueryService, logger *slog.Logger) *MyBooksHandler {
	return &MyBooksHandler{queries: queries, logger: logger}
}

// ServeHTTP handles GET /my-books requests
func (h *MyBooksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	views, err := h.queries.MyLoans(r.Context(), userID, time.Now())
	if err != nil {
		h.logger.Error("my loans failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanViewDTOs(views))
}

// AdminIssuesHandler lists the full loan ledger for administrators.
type AdminIssuesHandler struct {
	queries *service.QueryService
	logger  *slog.Logger
}

// NewAdminIssuesHandler creates a new admin issues handler
func NewAdminIssuesHandler(queries *service.QueryService, logger *slog.Logger) *AdminIssuesHandler {
	return &AdminIssuesHandler{queries: queries, logger: logger}
}

// ServeHTTP handles GET /admin/book-issues requests
func (h *AdminIssuesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	skip := intQuery(r, "skip", 0)
	limit := intQuery(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	views, err := h.queries.AllLoans(r.Context(), skip, limit, time.Now())
	if err != nil {
		h.logger.Error("admin issues failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanViewDTOs(views))
}
