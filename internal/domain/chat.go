package domain

import (
	"context"
	"time"
)

// ChatMessage is one exchange with the library assistant.
type ChatMessage struct {
	ID        int64
	UserID    int64
	Message   string
	Response  string
	CreatedAt time.Time
}

// ChatRepository persists assistant exchanges.
type ChatRepository interface {
	Create(ctx context.Context, msg *ChatMessage) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*ChatMessage, error)
}
