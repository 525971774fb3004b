package http

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"spese/internal/metrics"
	"spese/internal/services"
	"spese/internal/session"
	"spese/internal/storage/memory"
	"spese/internal/undo"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type testEnv struct {
	server *Server
	store  *memory.Store
	clock  *testingclock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	env := &testEnv{
		store: memory.New(),
		clock: testingclock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)),
	}
	svc := services.NewExpenseService(env.store, services.Options{
		UndoTimeout: 5 * time.Second,
		Clock:       env.clock,
		Metrics:     m,
		Logger:      logger,
	})
	sessions := session.NewRegistry(10, time.Hour, svc.NewUndoCoordinator, m, logger)
	t.Cleanup(sessions.Close)

	env.server = NewServer(":0", svc, sessions, Options{Metrics: m, Gatherer: reg, Logger: logger})
	return env
}

// client replays the session cookie the server handed out.
type client struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func (e *testEnv) client(t *testing.T) *client {
	return &client{t: t, handler: e.server.Handler}
}

func (c *client) do(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == sessionCookieName {
			c.cookie = ck
		}
	}
	return rec
}

func (c *client) createExpense(desc, amount string) expenseResponse {
	c.t.Helper()
	body := `{"date":"2025-06-01","description":"` + desc + `","amount":"` + amount + `","primary":"Casa","secondary":"Spesa"}`
	rec := c.do(http.MethodPost, "/expenses", body)
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	var e expenseResponse
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func (c *client) listIDs() []int64 {
	c.t.Helper()
	rec := c.do(http.MethodGet, "/expenses?year=2025&month=6", "")
	require.Equal(c.t, http.StatusOK, rec.Code)
	var resp monthResponse
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	ids := make([]int64, 0, len(resp.Expenses))
	for _, e := range resp.Expenses {
		ids = append(ids, e.ID)
	}
	return ids
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.client(t).do(http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}

func TestCreateExpense(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "valid expense",
			body:       `{"date":"2025-06-01","description":"Pizza","amount":"12,50","primary":"Svago","secondary":"Ristorante"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "date defaults to today",
			body:       `{"description":"Caffè","amount":"1.20","primary":"Svago","secondary":"Bar"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "malformed JSON",
			body:       `{"description":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"description":"x","amount":"1","primary":"a","secondary":"b","extra":true}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid amount",
			body:       `{"description":"Pizza","amount":"-3","primary":"Svago","secondary":"Ristorante"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "invalid date",
			body:       `{"date":"01/06/2025","description":"Pizza","amount":"3","primary":"Svago","secondary":"Ristorante"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "missing category",
			body:       `{"description":"Pizza","amount":"3","primary":"Svago"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.client(t).do(http.MethodPost, "/expenses", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	t.Run("response carries formatted amount", func(t *testing.T) {
		e := env.client(t).createExpense("Cena", "30,05")
		assert.NotZero(t, e.ID)
		assert.Equal(t, "30,05", e.Amount)
		assert.Equal(t, int64(3005), e.AmountCents)
		assert.Equal(t, "2025-06-01", e.Date)
	})
}

func TestListExpenses(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.createExpense("Affitto", "700")
	c.createExpense("Bollette", "80,20")

	rec := c.do(http.MethodGet, "/expenses?year=2025&month=6", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[monthResponse](t, rec)
	assert.Equal(t, 2025, resp.Year)
	assert.Equal(t, 6, resp.Month)
	assert.Equal(t, "780,20", resp.Total)
	assert.Len(t, resp.Expenses, 2)
	require.Len(t, resp.ByCategory, 1)
	assert.Equal(t, "Casa", resp.ByCategory[0].Name)

	empty := decode[monthResponse](t, c.do(http.MethodGet, "/expenses?year=2024&month=1", ""))
	assert.Empty(t, empty.Expenses)
	assert.Equal(t, "0,00", empty.Total)
}

func TestDeleteThenUndo(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	e := c.createExpense("Spesa", "42")

	rec := c.do(http.MethodDelete, "/expenses/"+itoa(e.ID), "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	pending := decode[pendingResponse](t, rec)
	assert.True(t, pending.Active)
	assert.Equal(t, int64(5000), pending.UndoWindowMs)
	require.NotNil(t, pending.Expense)
	assert.Equal(t, e.ID, pending.Expense.ID)

	require.Eventually(t, func() bool { return env.store.Deleted(e.ID) }, waitFor, tick)
	assert.Empty(t, c.listIDs())

	status := decode[pendingResponse](t, c.do(http.MethodGet, "/undo", ""))
	assert.True(t, status.Active)

	rec = c.do(http.MethodPost, "/undo", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"restored": true}, decode[map[string]bool](t, rec))

	require.Eventually(t, func() bool { return len(c.listIDs()) == 1 }, waitFor, tick)
	assert.False(t, decode[pendingResponse](t, c.do(http.MethodGet, "/undo", "")).Active)

	rec = c.do(http.MethodPost, "/undo", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, map[string]bool{"restored": false}, decode[map[string]bool](t, rec))
}

func TestUndoAfterWindowCloses(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	e := c.createExpense("Benzina", "60")

	require.Equal(t, http.StatusAccepted, c.do(http.MethodDelete, "/expenses/"+itoa(e.ID), "").Code)
	require.Eventually(t, func() bool { return env.store.Deleted(e.ID) }, waitFor, tick)

	env.clock.Step(5 * time.Second)
	require.Eventually(t, func() bool {
		return !decode[pendingResponse](t, c.do(http.MethodGet, "/undo", "")).Active
	}, waitFor, tick)

	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/undo", "").Code)
	assert.True(t, env.store.Deleted(e.ID))
}

func TestDismissUndo(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	e := c.createExpense("Palestra", "35")

	require.Equal(t, http.StatusAccepted, c.do(http.MethodDelete, "/expenses/"+itoa(e.ID), "").Code)
	assert.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, "/undo", "").Code)
	assert.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, "/undo", "").Code)

	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/undo", "").Code)
	require.Eventually(t, func() bool { return env.store.Deleted(e.ID) }, waitFor, tick)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.metrics.Dismissals))
}

func TestDeleteExpense_ClosedSession(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	e := c.createExpense("Cena", "25")
	exp, err := env.server.expenses.GetExpense(context.Background(), e.ID)
	require.NoError(t, err)

	live, err := env.server.sessions.Get(c.cookie.Value)
	require.NoError(t, err)

	// A session evicted after the request resolved it.
	evicted, err := env.server.expenses.NewUndoCoordinator(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, err)
	evicted.Close()
	stale := &session.Session{ID: live.ID, Undo: evicted, Notices: undo.NewValue(session.Notice{})}

	t.Run("retries on the live session", func(t *testing.T) {
		got, err := env.server.requestDelete(stale, exp)
		require.NoError(t, err)
		assert.Same(t, live, got)
		assert.True(t, live.Undo.HasPendingUndo())
		require.Eventually(t, func() bool { return env.store.Deleted(e.ID) }, waitFor, tick)
		assert.Equal(t, http.StatusOK, c.do(http.MethodPost, "/undo", "").Code)
	})

	t.Run("fails once the registry is closed", func(t *testing.T) {
		env.server.sessions.Close()
		_, err := env.server.requestDelete(stale, exp)
		assert.ErrorIs(t, err, session.ErrClosed)
	})
}

func TestUndoStatus_ReportsNoticeOnce(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.createExpense("Treno", "12")

	sess, err := env.server.sessions.Get(c.cookie.Value)
	require.NoError(t, err)
	sess.Notices.Set(session.Notice{Message: "Could not restore the deleted expense.", Time: time.Now()})

	first := decode[pendingResponse](t, c.do(http.MethodGet, "/undo", ""))
	assert.Equal(t, "Could not restore the deleted expense.", first.LastError)

	second := decode[pendingResponse](t, c.do(http.MethodGet, "/undo", ""))
	assert.Empty(t, second.LastError)
}

func TestDeleteSupersedesPrevious(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	first := c.createExpense("Primo", "1")
	second := c.createExpense("Secondo", "2")

	c.do(http.MethodDelete, "/expenses/"+itoa(first.ID), "")
	c.do(http.MethodDelete, "/expenses/"+itoa(second.ID), "")
	require.Eventually(t, func() bool {
		return env.store.Deleted(first.ID) && env.store.Deleted(second.ID)
	}, waitFor, tick)

	assert.Equal(t, http.StatusOK, c.do(http.MethodPost, "/undo", "").Code)
	require.Eventually(t, func() bool { return !env.store.Deleted(second.ID) }, waitFor, tick)
	assert.True(t, env.store.Deleted(first.ID))
}

func TestDeleteExpense_Errors(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	assert.Equal(t, http.StatusNotFound, c.do(http.MethodDelete, "/expenses/999", "").Code)
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodDelete, "/expenses/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodDelete, "/expenses/0", "").Code)
}

func TestSessionsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	alice := env.client(t)
	bob := env.client(t)

	e := alice.createExpense("Regalo", "25")
	require.Equal(t, http.StatusAccepted, alice.do(http.MethodDelete, "/expenses/"+itoa(e.ID), "").Code)

	assert.Equal(t, http.StatusConflict, bob.do(http.MethodPost, "/undo", "").Code)
	assert.NotEqual(t, alice.cookie.Value, bob.cookie.Value)
	assert.Equal(t, http.StatusOK, alice.do(http.MethodPost, "/undo", "").Code)
}

func TestSessionCookie(t *testing.T) {
	env := newTestEnv(t)

	t.Run("issued once", func(t *testing.T) {
		c := env.client(t)
		c.do(http.MethodGet, "/undo", "")
		require.NotNil(t, c.cookie)
		assert.True(t, c.cookie.HttpOnly)

		rec := c.do(http.MethodGet, "/undo", "")
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("malformed cookie is replaced", func(t *testing.T) {
		c := env.client(t)
		c.cookie = &http.Cookie{Name: sessionCookieName, Value: "not-a-uuid"}
		c.do(http.MethodGet, "/undo", "")
		assert.NotEqual(t, "not-a-uuid", c.cookie.Value)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.do(http.MethodPost, "/undo", "")

	rec := c.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `spese_undos_total{result="too_late"} 1`)
}

func TestUndoEvents(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler)
	defer ts.Close()

	c := env.client(t)
	e := c.createExpense("Libro", "18")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/undo/events", nil)
	require.NoError(t, err)
	req.AddCookie(c.cookie)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(resp.Body)

	first := <-events
	assert.Equal(t, "pending", first.name)
	assert.False(t, first.pending.Active)

	require.Equal(t, http.StatusAccepted, c.do(http.MethodDelete, "/expenses/"+itoa(e.ID), "").Code)

	select {
	case ev := <-events:
		assert.Equal(t, "pending", ev.name)
		assert.True(t, ev.pending.Active)
		require.NotNil(t, ev.pending.Expense)
		assert.Equal(t, e.ID, ev.pending.Expense.ID)
	case <-ctx.Done():
		t.Fatal("no event after delete")
	}
}

func TestUndoEvents_NoticeNotReplayed(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler)
	defer ts.Close()

	c := env.client(t)
	c.createExpense("Museo", "15")
	sess, err := env.server.sessions.Get(c.cookie.Value)
	require.NoError(t, err)
	sess.Notices.Set(session.Notice{Message: "Could not delete the expense. It has been kept.", Time: time.Now()})

	stream := func() (<-chan sseEvent, context.CancelFunc) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/undo/events", nil)
		require.NoError(t, err)
		req.AddCookie(c.cookie)
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return readEvents(resp.Body), cancel
	}

	events, cancel := stream()
	var names []string
	for len(names) < 2 {
		ev, ok := <-events
		require.True(t, ok)
		names = append(names, ev.name)
	}
	cancel()
	assert.ElementsMatch(t, []string{"pending", "notice"}, names)
	require.Eventually(t, func() bool { return sess.Notices.Load().Message == "" }, waitFor, tick)

	events, cancel = stream()
	defer cancel()
	assert.Equal(t, "pending", (<-events).name)
	select {
	case ev := <-events:
		t.Fatalf("unexpected %q event on reconnect", ev.name)
	case <-time.After(100 * time.Millisecond):
	}
}

type sseEvent struct {
	name    string
	pending pendingResponse
}

func readEvents(body io.Reader) <-chan sseEvent {
	out := make(chan sseEvent, 8)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(body)
		var ev sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				_ = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.pending)
			case line == "":
				out <- ev
				ev = sseEvent{}
			}
		}
	}()
	return out
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
