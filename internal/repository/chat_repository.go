package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/yourorg/smartlib/internal/domain"
)

// PostgresChatRepository implements domain.ChatRepository using PostgreSQL
type PostgresChatRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresChatRepository creates a new chat repository
func NewPostgresChatRepository(db *sql.DB, logger *slog.Logger) *PostgresChatRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresChatRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists one assistant exchange
func (r *PostgresChatRepository) Create(ctx context.Context, msg *domain.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (user_id, message, response)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query, msg.UserID, msg.Message, msg.Response).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		r.logger.Error("failed to save chat message",
			slog.Int64("user_id", msg.UserID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to save chat message: %w", err)
	}

	return nil
}

// ListByUser returns the most recent exchanges for a user, newest first
func (r *PostgresChatRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*domain.ChatMessage, error) {
	query := `
		SELECT id, user_id, message, COALESCE(response, ''), created_at
		FROM chat_messages
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.ChatMessage
	for rows.Next() {
		msg := &domain.ChatMessage{}
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Message, &msg.Response, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
