package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"spese/internal/core"
	"spese/internal/storage"
)

type record struct {
	expense   core.Expense
	deletedAt time.Time
}

func (r *record) deleted() bool { return !r.deletedAt.IsZero() }

// Store keeps expenses in memory. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*record
}

var _ storage.ExpenseStore = (*Store)(nil)

func New() *Store {
	return &Store{items: make(map[int64]*record)}
}

// CreateExpense validates and stores e under a new ID.
func (s *Store) CreateExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.items[e.ID] = &record{expense: e}
	return e, nil
}

func (s *Store) GetExpense(_ context.Context, id int64) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok || r.deleted() {
		return core.Expense{}, storage.ErrNotFound
	}
	return r.expense, nil
}

func (s *Store) ListExpenses(_ context.Context, year, month int) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Expense
	for _, r := range s.items {
		if r.deleted() {
			continue
		}
		if r.expense.Date.Year() == year && int(r.expense.Date.Month()) == month {
			out = append(out, r.expense)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.Before(out[j].Date.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SoftDeleteExpense(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok || r.deleted() {
		return storage.ErrNotFound
	}
	r.deletedAt = time.Now()
	return nil
}

func (s *Store) RestoreExpense(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok || !r.deleted() {
		return storage.ErrNotDeleted
	}
	r.deletedAt = time.Time{}
	return nil
}

func (s *Store) PurgeExpense(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok || !r.deleted() {
		return storage.ErrNotDeleted
	}
	delete(s.items, id)
	return nil
}

func (s *Store) ListDeletedBefore(_ context.Context, before time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*record
	for _, r := range s.items {
		if r.deleted() && r.deletedAt.Before(before) {
			stale = append(stale, r)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if !stale[i].deletedAt.Equal(stale[j].deletedAt) {
			return stale[i].deletedAt.Before(stale[j].deletedAt)
		}
		return stale[i].expense.ID < stale[j].expense.ID
	})
	ids := make([]int64, 0, min(limit, len(stale)))
	for _, r := range stale {
		if len(ids) == limit {
			break
		}
		ids = append(ids, r.expense.ID)
	}
	return ids, nil
}

// Deleted reports whether id exists and is soft-deleted.
func (s *Store) Deleted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	return ok && r.deleted()
}

// Len returns the number of stored rows, soft-deleted ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) Close() error { return nil }
