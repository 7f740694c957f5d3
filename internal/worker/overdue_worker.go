package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/smartlib/internal/domain"
	"github.com/yourorg/smartlib/internal/observability/metrics"
	"github.com/yourorg/smartlib/internal/security/audit"
)

// OverdueWorker periodically scans active loans and publishes active and
// overdue counts as gauges. Overdue is derived from the due date at scan
// time; the worker never mutates the ledger.
type OverdueWorker struct {
	ledger   domain.LoanLedger
	logger   *slog.Logger
	auditLog *audit.Logger
	interval time.Duration

	now func() time.Time
}

// NewOverdueWorker creates a new overdue scanner
func NewOverdueWorker(
	ledger domain.LoanLedger,
	auditLog *audit.Logger,
	logger *slog.Logger,
	interval time.Duration,
) *OverdueWorker {
	if logger == nil {
		logger = slog.Default()
	}

	return &OverdueWorker{
		ledger:   ledger,
		logger:   logger,
		auditLog: auditLog,
		interval: interval,
		now:      time.Now,
	}
}

// Start begins the scan loop and blocks until the context is cancelled.
func (w *OverdueWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("overdue worker started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("overdue worker stopped")
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// scan walks the ledger one page at a time and publishes the counts it
// found.
func (w *OverdueWorker) scan(ctx context.Context) (active, overdue int) {
	const pageSize = 500

	now := w.now()

	for offset := 0; ; offset += pageSize {
		loans, err := w.ledger.ListLoans(ctx, offset, pageSize)
		if err != nil {
			w.logger.Error("overdue scan failed", slog.String("error", err.Error()))
			return active, overdue
		}
		for _, loan := range loans {
			if loan.Status != domain.LoanStatusActive {
				continue
			}
			active++
			if loan.Overdue(now) {
				overdue++
				w.logger.Debug("loan overdue",
					slog.Int64("loan_id", loan.ID),
					slog.Int64("user_id", loan.UserID),
					slog.Time("due_date", loan.DueDate),
				)
			}
		}
		if len(loans) < pageSize {
			break
		}
	}

	metrics.SetActiveLoans(active)
	metrics.SetOverdueLoans(overdue)

	if overdue > 0 && w.auditLog != nil {
		w.auditLog.LogAction(ctx, 0, "overdue_scan", "ledger", 0, "completed",
			fmt.Sprintf("%d of %d active loans overdue", overdue, active))
	}

	w.logger.Info("overdue scan completed",
		slog.Int("active_loans", active),
		slog.Int("overdue_loans", overdue),
	)
	return active, overdue
}
