package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"spese/internal/core"
	"spese/internal/log"
	"spese/internal/session"
	"spese/internal/undo"
)

type pendingResponse struct {
	Active       bool             `json:"active"`
	Expense      *expenseResponse `json:"expense,omitempty"`
	UndoWindowMs int64            `json:"undo_window_ms,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
}

type noticeResponse struct {
	Message string `json:"message"`
	Time    string `json:"time"`
}

func newPendingResponse(p undo.Pending[core.Expense]) pendingResponse {
	if !p.Active {
		return pendingResponse{}
	}
	return pendingResponse{Active: true, Expense: ptr(newExpenseResponse(p.Item))}
}

func (s *Server) handleUndoStatus(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	resp := newPendingResponse(sess.Undo.Pending())
	resp.LastError = sess.TakeNotice().Message
	writeJSON(w, resp, http.StatusOK)
}

// handleUndo restores the pending expense. 409 means there was nothing left
// to undo: the window closed or the prompt was dismissed.
func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(ctx)

	restored := sess.Undo.RequestUndo()
	s.metrics.ObserveUndo(restored)

	log.FromContext(ctx).InfoContext(ctx, "Undo requested",
		"restored", restored,
		log.FieldOperation, log.OpUndo)

	status := http.StatusOK
	if !restored {
		status = http.StatusConflict
	}
	writeJSON(w, map[string]bool{"restored": restored}, status)
}

func (s *Server) handleDismissUndo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(ctx)

	if sess.Undo.Dismiss() {
		s.metrics.Dismissals.Inc()
		log.FromContext(ctx).InfoContext(ctx, "Undo dismissed", log.FieldOperation, log.OpDismiss)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUndoEvents streams the pending slot as server-sent events: one
// "pending" event per published value and a "notice" event per failure.
// A notice is cleared once written, so reconnecting clients do not see it again.
// Slow clients only see the latest value.
func (s *Server) handleUndoEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	pending := sess.Undo.Subscribe(ctx)
	notices := sess.Notices.Subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shuttingDown:
			return
		case p, ok := <-pending:
			if !ok {
				return
			}
			if err := writeEvent(w, "pending", newPendingResponse(p)); err != nil {
				return
			}
		case n, ok := <-notices:
			if !ok {
				return
			}
			if n.Message == "" {
				continue
			}
			if err := writeEvent(w, "notice", newNoticeResponse(n)); err != nil {
				return
			}
			sess.AckNotice(n)
		}
		flusher.Flush()
	}
}

func newNoticeResponse(n session.Notice) noticeResponse {
	return noticeResponse{Message: n.Message, Time: n.Time.UTC().Format("2006-01-02T15:04:05Z")}
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
	return err
}
