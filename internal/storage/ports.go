package storage

import (
	"context"
	"errors"
	"time"

	"spese/internal/core"
)

var (
	// ErrNotFound is returned when no live expense has the given ID.
	ErrNotFound = errors.New("expense not found")
	// ErrNotDeleted is returned by restore and purge when the expense is not
	// soft-deleted.
	ErrNotDeleted = errors.New("expense is not deleted")
)

// ExpenseStore persists expenses. Deletes are soft until purged.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	ListExpenses(ctx context.Context, year, month int) ([]core.Expense, error)
	SoftDeleteExpense(ctx context.Context, id int64) error
	RestoreExpense(ctx context.Context, id int64) error
	PurgeExpense(ctx context.Context, id int64) error
	// ListDeletedBefore returns IDs of expenses soft-deleted before the
	// cutoff, oldest first, at most limit of them.
	ListDeletedBefore(ctx context.Context, before time.Time, limit int) ([]int64, error)
	Close() error
}
