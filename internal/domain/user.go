package domain

import (
	"context"
	"time"
)

// User represents a library member or administrator.
type User struct {
	ID           int64
	Username     string // unique
	Email        string // unique
	PasswordHash string // bcrypt hash, never returned by the API
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRepository defines data access for users.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
}
