package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"spese/internal/amqp"
	"spese/internal/log"
	"spese/internal/metrics"
	"spese/internal/storage"
)

// PurgeWorker hard-deletes expenses whose undo window has closed.
type PurgeWorker struct {
	store     storage.ExpenseStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
	batchSize int
}

func NewPurgeWorker(store storage.ExpenseStore, batchSize int, m *metrics.Metrics, logger *slog.Logger) *PurgeWorker {
	if m == nil {
		m = metrics.New(nil)
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &PurgeWorker{
		store:     store,
		metrics:   m,
		logger:    log.WithComponent(logger, log.ComponentWorker),
		batchSize: batchSize,
	}
}

// HandleDeleteMessage processes a single expense delete message from AMQP.
// A row that was restored or already purged is skipped, so redelivery is
// harmless.
func (w *PurgeWorker) HandleDeleteMessage(ctx context.Context, msg *amqp.ExpenseDeleteMessage) error {
	w.logger.InfoContext(ctx, "Processing delete message",
		log.FieldExpenseID, msg.ID,
		"timestamp", msg.Timestamp)

	purged, err := w.purge(ctx, msg.ID)
	if err != nil {
		return err
	}
	if purged {
		w.logger.InfoContext(ctx, "Expense purged",
			log.FieldExpenseID, msg.ID,
			log.FieldExpenseDesc, msg.Description,
			log.FieldAmountCents, msg.AmountCents)
	}
	return nil
}

// SweepStale purges expenses soft-deleted before the cutoff. It is the
// backup for delete messages lost while the app or broker was down.
func (w *PurgeWorker) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := w.store.ListDeletedBefore(ctx, time.Now().Add(-olderThan), w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale deletions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	purged := 0
	for _, id := range ids {
		ok, err := w.purge(ctx, id)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to purge stale expense", log.FieldExpenseID, id, log.FieldError, err)
			continue
		}
		if ok {
			purged++
		}
	}

	w.logger.InfoContext(ctx, "Stale deletions swept",
		"found", len(ids),
		"purged", purged,
		log.FieldOperation, log.OpPurge)
	return purged, nil
}

func (w *PurgeWorker) purge(ctx context.Context, id int64) (bool, error) {
	err := w.store.PurgeExpense(ctx, id)
	switch {
	case err == nil:
		w.metrics.ExpensesPurged.Inc()
		return true, nil
	case errors.Is(err, storage.ErrNotDeleted):
		w.logger.DebugContext(ctx, "Expense restored or already purged, skipping", log.FieldExpenseID, id)
		return false, nil
	default:
		return false, fmt.Errorf("purge expense %d: %w", id, err)
	}
}
