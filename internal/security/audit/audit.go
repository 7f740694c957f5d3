package audit

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (al *Logger) LogAction(ctx context.Context, userID int64, action, resource string, resourceID int64, status, details string) {
	requestID := ""
	if reqID := ctx.Value("request_id"); reqID != nil {
		requestID, _ = reqID.(string)
	}

	al.logger.Info("audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", strconv.FormatInt(resourceID, 10)),
		slog.Int64("user_id", userID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", requestID),
		slog.Time("timestamp", time.Now()),
	)
}

func (al *Logger) LogIssue(ctx context.Context, userID, bookID int64, status, details string) {
	al.LogAction(ctx, userID, "issue", "book", bookID, status, details)
}

func (al *Logger) LogReturn(ctx context.Context, userID, loanID int64, status, details string) {
	al.LogAction(ctx, userID, "return", "loan", loanID, status, details)
}

func (al *Logger) LogBookChange(ctx context.Context, userID int64, action string, bookID int64, status, details string) {
	al.LogAction(ctx, userID, action, "book", bookID, status, details)
}

func (al *Logger) LogDenied(ctx context.Context, userID int64, reason string) {
	al.LogAction(ctx, userID, "access_denied", "api", 0, "denied", reason)
}
