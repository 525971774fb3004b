package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"spese/internal/core"
	"spese/internal/log"
	"spese/internal/session"
	"spese/internal/storage"
	"spese/internal/undo"
)

type createExpenseRequest struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Primary     string `json:"primary"`
	Secondary   string `json:"secondary"`
}

type categoryResponse struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type monthResponse struct {
	Year       int                `json:"year"`
	Month      int                `json:"month"`
	Total      string             `json:"total"`
	ByCategory []categoryResponse `json:"by_category"`
	Expenses   []expenseResponse  `json:"expenses"`
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	var req createExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	date := core.Date{Time: time.Now().UTC().Truncate(24 * time.Hour)}
	if v := sanitizeInput(req.Date); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			writeError(w, "Invalid date, expected YYYY-MM-DD", http.StatusUnprocessableEntity)
			return
		}
		date = d
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, "Invalid amount", http.StatusUnprocessableEntity)
		return
	}

	exp := core.Expense{
		Date:        date,
		Description: sanitizeInput(req.Description),
		Amount:      core.Money{Cents: cents},
		Primary:     sanitizeInput(req.Primary),
		Secondary:   sanitizeInput(req.Secondary),
	}
	if err := exp.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	created, err := s.expenses.CreateExpense(ctx, exp)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to create expense", log.FieldError, err, log.FieldOperation, log.OpCreate)
		writeError(w, "Could not save expense", http.StatusInternalServerError)
		return
	}

	writeJSON(w, newExpenseResponse(created), http.StatusCreated)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	year, month := parseYearMonth(r)

	overview, expenses, err := s.expenses.MonthOverview(ctx, year, month)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Failed to list expenses",
			log.FieldError, err,
			log.FieldOperation, log.OpList,
			"year", year,
			"month", month)
		writeError(w, "Could not load expenses", http.StatusInternalServerError)
		return
	}

	resp := monthResponse{
		Year:       year,
		Month:      month,
		Total:      overview.Total.String(),
		ByCategory: make([]categoryResponse, 0, len(overview.ByCategory)),
		Expenses:   make([]expenseResponse, 0, len(expenses)),
	}
	for _, c := range overview.ByCategory {
		resp.ByCategory = append(resp.ByCategory, categoryResponse{Name: c.Name, Amount: c.Amount.String()})
	}
	for _, e := range expenses {
		resp.Expenses = append(resp.Expenses, newExpenseResponse(e))
	}

	writeJSON(w, resp, http.StatusOK)
}

// handleDeleteExpense hides the expense at once and opens the undo window.
// The row is only removed for good once the window closes.
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, "Invalid expense ID", http.StatusBadRequest)
		return
	}

	exp, err := s.expenses.GetExpense(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, "Expense not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load expense", log.FieldError, err, log.FieldExpenseID, id)
		writeError(w, "Could not load expense", http.StatusInternalServerError)
		return
	}

	sess, err := s.requestDelete(sessionFrom(ctx), exp)
	if err != nil {
		logger.ErrorContext(ctx, "Could not start deletion", log.FieldError, err, log.FieldExpenseID, id)
		writeError(w, "Session unavailable", http.StatusServiceUnavailable)
		return
	}

	logger.InfoContext(ctx, "Expense deletion pending",
		log.FieldExpenseID, exp.ID,
		log.FieldOperation, log.OpDelete)

	writeJSON(w, pendingResponse{
		Active:       true,
		Expense:      ptr(newExpenseResponse(exp)),
		UndoWindowMs: sess.Undo.Timeout().Milliseconds(),
	}, http.StatusAccepted)
}

// requestDelete hands exp to the session's coordinator. When the session was
// evicted after withSession resolved it, the delete goes to a fresh session
// for the same cookie instead.
func (s *Server) requestDelete(sess *session.Session, exp core.Expense) (*session.Session, error) {
	err := sess.Undo.RequestDelete(exp)
	if !errors.Is(err, undo.ErrClosed) {
		return sess, err
	}

	fresh, err := s.sessions.Get(sess.ID)
	if err != nil {
		return nil, err
	}
	if err := fresh.Undo.RequestDelete(exp); err != nil {
		return nil, err
	}
	return fresh, nil
}

func ptr[T any](v T) *T {
	return &v
}
