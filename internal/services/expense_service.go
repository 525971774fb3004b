package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"spese/internal/amqp"
	"spese/internal/core"
	"spese/internal/log"
	"spese/internal/metrics"
	"spese/internal/storage"
	"spese/internal/undo"
)

const publishDeadline = 30 * time.Second

// DeletePublisher announces permanently deleted expenses.
type DeletePublisher interface {
	PublishExpenseDelete(ctx context.Context, msg *amqp.ExpenseDeleteMessage) error
}

// Options configures an ExpenseService. Zero values pick defaults.
type Options struct {
	// Publisher is optional; without it finalized deletes stay soft-deleted.
	Publisher   DeletePublisher
	UndoTimeout time.Duration
	Clock       clock.WithDelayedExecution
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// ExpenseService orchestrates expense operations across storage and AMQP
type ExpenseService struct {
	store       storage.ExpenseStore
	publisher   DeletePublisher
	undoTimeout time.Duration
	clock       clock.WithDelayedExecution
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewExpenseService(store storage.ExpenseStore, opts Options) *ExpenseService {
	if opts.UndoTimeout <= 0 {
		opts.UndoTimeout = undo.DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &ExpenseService{
		store:       store,
		publisher:   opts.Publisher,
		undoTimeout: opts.UndoTimeout,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		logger:      log.WithComponent(opts.Logger, log.ComponentExpense),
	}
}

// UndoTimeout returns the undo window given to new coordinators.
func (s *ExpenseService) UndoTimeout() time.Duration {
	return s.undoTimeout
}

// CreateExpense validates and stores an expense
func (s *ExpenseService) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	created, err := s.store.CreateExpense(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	fields := log.NewFields().
		WithExpense(created.ID, created.Description, created.Amount.Cents, created.Primary, created.Secondary).
		WithOperation(log.OpCreate)
	s.logger.InfoContext(ctx, "Expense created", fields.ToSlice()...)

	return created, nil
}

// GetExpense returns a live expense or storage.ErrNotFound.
func (s *ExpenseService) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	return s.store.GetExpense(ctx, id)
}

// ListExpenses returns the live expenses of a month.
func (s *ExpenseService) ListExpenses(ctx context.Context, year, month int) ([]core.Expense, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month %d", month)
	}
	expenses, err := s.store.ListExpenses(ctx, year, month)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

// MonthOverview lists a month and summarizes it by primary category.
func (s *ExpenseService) MonthOverview(ctx context.Context, year, month int) (core.MonthOverview, []core.Expense, error) {
	expenses, err := s.ListExpenses(ctx, year, month)
	if err != nil {
		return core.MonthOverview{}, nil, err
	}
	return core.Summarize(year, month, expenses), expenses, nil
}

// NewUndoCoordinator returns a coordinator whose commit soft-deletes, whose
// restore undeletes and whose timeout publishes the permanent delete.
// onError, when set, also receives commit and restore failures.
func (s *ExpenseService) NewUndoCoordinator(logger *slog.Logger, onError func(error)) (*undo.Coordinator[core.Expense], error) {
	if logger == nil {
		logger = s.logger
	}

	commit := func(ctx context.Context, e core.Expense) error {
		s.metrics.DeletesRequested.Inc()
		return s.store.SoftDeleteExpense(ctx, e.ID)
	}
	restore := func(ctx context.Context, e core.Expense) error {
		if err := s.store.RestoreExpense(ctx, e.ID); err != nil {
			return err
		}
		logger.Info("Expense restored by undo", log.FieldExpenseID, e.ID, log.FieldOperation, log.OpUndo)
		return nil
	}

	return undo.New(commit, restore, undo.Options[core.Expense]{
		Timeout:   s.undoTimeout,
		Clock:     s.clock,
		Logger:    logger,
		OnTimeout: s.finalize,
		OnError: func(err error) {
			s.recordFailure(logger, err)
			if onError != nil {
				onError(err)
			}
		},
	})
}

func (s *ExpenseService) finalize(e core.Expense) {
	s.metrics.DeletesFinalized.Inc()
	s.logger.Info("Expense deletion is permanent", log.FieldExpenseID, e.ID, log.FieldOperation, log.OpFinalize)

	if s.publisher == nil {
		s.logger.Warn("AMQP publisher not available, skipping delete message", log.FieldExpenseID, e.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishDeadline)
	defer cancel()
	if err := s.publisher.PublishExpenseDelete(ctx, amqp.NewExpenseDeleteMessage(e)); err != nil {
		// The row stays soft-deleted and invisible; only the purge is lost.
		s.logger.Error("Failed to publish delete message", log.FieldExpenseID, e.ID, log.FieldError, err)
	}
}

func (s *ExpenseService) recordFailure(logger *slog.Logger, err error) {
	op := "unknown"
	var opErr *undo.OperationError[core.Expense]
	if errors.As(err, &opErr) {
		op = string(opErr.Op)
		logger.Error("Undo operation failed",
			log.FieldOperation, op,
			log.FieldExpenseID, opErr.Item.ID,
			"rolled_back", opErr.RolledBack,
			log.FieldError, opErr.Err)
	}
	s.metrics.Failures.WithLabelValues(op).Inc()
}

// Close closes the underlying store.
func (s *ExpenseService) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close expense service: %w", err)
	}
	return nil
}
