package handler

import (
	"time"

	"github.com/yourorg/smartlib/internal/domain"
	"github.com/yourorg/smartlib/internal/service"
)

// bookDTO is the wire shape of a catalog entry.
type bookDTO struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn,omitempty"`
	Description     string    `json:"description,omitempty"`
	Genre           string    `json:"genre,omitempty"`
	PublicationYear int       `json:"publication_year,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toBookDTO(b *domain.Book) bookDTO {
	return bookDTO{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Description:     b.Description,
		Genre:           b.Genre,
		PublicationYear: b.PublicationYear,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func toBookDTOs(books []*domain.Book) []bookDTO {
	out := make([]bookDTO, len(books))
	for i, b := range books {
		out[i] = toBookDTO(b)
	}
	return out
}

// loanDTO is the wire shape of a loan.
type loanDTO struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	BookID     int64      `json:"book_id"`
	IssueDate  time.Time  `json:"issue_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     string     `json:"status"`
}

func toLoanDTO(l *domain.Loan) loanDTO {
	return loanDTO{
		ID:         l.ID,
		UserID:     l.UserID,
		BookID:     l.BookID,
		IssueDate:  l.IssueDate,
		DueDate:    l.DueDate,
		ReturnDate: l.ReturnDate,
		Status:     l.Status,
	}
}

// loanViewDTO adds the joined book and the derived overdue state.
type loanViewDTO struct {
	loanDTO
	BookTitle    string `json:"book_title"`
	BookAuthor   string `json:"book_author"`
	Overdue      bool   `json:"overdue"`
	DaysUntilDue int    `json:"days_until_due"`
}

func toLoanViewDTOs(views []*service.LoanView) []loanViewDTO {
	out := make([]loanViewDTO, len(views))
	for i, v := range views {
		out[i] = loanViewDTO{
			loanDTO:      toLoanDTO(v.Loan),
			BookTitle:    v.BookTitle,
			BookAuthor:   v.BookAuthor,
			Overdue:      v.Overdue,
			DaysUntilDue: v.DaysUntilDue,
		}
	}
	return out
}

// userDTO is the wire shape of a user profile. The password hash never
// leaves the server.
type userDTO struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserDTO(u *domain.User) userDTO {
	return userDTO{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt,
	}
}
