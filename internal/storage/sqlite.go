package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"spese/internal/core"
	"spese/internal/log"

	_ "modernc.org/sqlite"
)

const (
	dateLayout = "2006-01-02"
	// Fixed width so deleted_at compares correctly as text.
	timestampLayout = "2006-01-02T15:04:05.000000Z"
)

type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ ExpenseStore = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string, logger *slog.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Commits, restores and purges arrive from several goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: log.WithComponent(logger, log.ComponentStorage),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateExpense inserts e and returns it with its new ID.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (date, description, amount_cents, primary_category, secondary_category)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Date.Format(dateLayout), e.Description, e.Amount.Cents, e.Primary, e.Secondary)
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("read expense id: %w", err)
	}
	e.ID = id

	r.logger.InfoContext(ctx, "Expense saved to SQLite",
		log.FieldExpenseID, e.ID,
		log.FieldExpenseDesc, e.Description,
		log.FieldAmountCents, e.Amount.Cents)

	return e, nil
}

// GetExpense returns a live (not soft-deleted) expense.
func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, date, description, amount_cents, primary_category, secondary_category
		 FROM expenses WHERE id = ? AND deleted_at IS NULL`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense by id: %w", err)
	}
	return e, nil
}

// ListExpenses returns live expenses of the given month ordered by date.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, year, month int) ([]core.Expense, error) {
	from := core.NewDate(year, month, 1)
	to := core.Date{Time: from.AddDate(0, 1, 0)}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, date, description, amount_cents, primary_category, secondary_category
		 FROM expenses
		 WHERE deleted_at IS NULL AND date >= ? AND date < ?
		 ORDER BY date, id`,
		from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

// SoftDeleteExpense hides the expense from reads until it is restored or purged.
func (r *SQLiteRepository) SoftDeleteExpense(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(timestampLayout), id)
	if err != nil {
		return fmt.Errorf("soft delete expense: %w", err)
	}
	if err := expectOneRow(res, ErrNotFound); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Expense soft deleted", log.FieldExpenseID, id)
	return nil
}

// RestoreExpense undoes a soft delete.
func (r *SQLiteRepository) RestoreExpense(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET deleted_at = NULL WHERE id = ? AND deleted_at IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("restore expense: %w", err)
	}
	if err := expectOneRow(res, ErrNotDeleted); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Expense restored", log.FieldExpenseID, id)
	return nil
}

// PurgeExpense removes a soft-deleted expense for good.
func (r *SQLiteRepository) PurgeExpense(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND deleted_at IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("purge expense: %w", err)
	}
	if err := expectOneRow(res, ErrNotDeleted); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Expense purged", log.FieldExpenseID, id)
	return nil
}

// ListDeletedBefore returns soft-deleted expense IDs older than before.
func (r *SQLiteRepository) ListDeletedBefore(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM expenses
		 WHERE deleted_at IS NOT NULL AND deleted_at < ?
		 ORDER BY deleted_at, id
		 LIMIT ?`,
		before.UTC().Format(timestampLayout), limit)
	if err != nil {
		return nil, fmt.Errorf("list deleted expenses: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expense id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted expenses: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(s rowScanner) (core.Expense, error) {
	var (
		e    core.Expense
		date string
	)
	if err := s.Scan(&e.ID, &date, &e.Description, &e.Amount.Cents, &e.Primary, &e.Secondary); err != nil {
		return core.Expense{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	e.Date = d
	return e, nil
}

func expectOneRow(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return none
	}
	return nil
}
