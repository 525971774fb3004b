// Package session keeps one undo coordinator per browser session.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spese/internal/cache"
	"spese/internal/core"
	"spese/internal/log"
	"spese/internal/metrics"
	"spese/internal/undo"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("session registry closed")

// Notice is a user-facing message about a failed delete or undo.
type Notice struct {
	Message string
	Time    time.Time
}

// Session owns the undo state of one client.
type Session struct {
	ID      string
	Undo    *undo.Coordinator[core.Expense]
	Notices *undo.Value[Notice]

	noticeMu sync.Mutex
}

// TakeNotice returns the undelivered notice, if any, and clears it.
func (s *Session) TakeNotice() Notice {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()

	n := s.Notices.Load()
	if n.Message != "" {
		s.Notices.Set(Notice{})
	}
	return n
}

// AckNotice clears n once it has been shown, unless a newer notice replaced it.
func (s *Session) AckNotice(n Notice) {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()

	cur := s.Notices.Load()
	if cur.Message == n.Message && cur.Time.Equal(n.Time) {
		s.Notices.Set(Notice{})
	}
}

func (s *Session) notify(message string) {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	s.Notices.Set(Notice{Message: message, Time: time.Now()})
}

func (s *Session) close() {
	s.Undo.Close()
	s.Notices.Close()
}

// CoordinatorFactory builds the coordinator for a new session. onError must
// receive the coordinator's commit and restore failures.
type CoordinatorFactory func(logger *slog.Logger, onError func(error)) (*undo.Coordinator[core.Expense], error)

// Registry maps session IDs to sessions. Idle sessions expire after the TTL
// and the least recently used one is evicted past capacity; either way its
// pending deletion is made permanent.
type Registry struct {
	mu       sync.Mutex
	sessions *cache.LRUCache[*Session]
	factory  CoordinatorFactory
	metrics  *metrics.Metrics
	logger   *slog.Logger
	closing  sync.WaitGroup
	closed   bool
}

func NewRegistry(maxSessions int, ttl time.Duration, factory CoordinatorFactory, m *metrics.Metrics, logger *slog.Logger) *Registry {
	if m == nil {
		m = metrics.New(nil)
	}
	r := &Registry{
		factory: factory,
		metrics: m,
		logger:  log.WithComponent(logger, log.ComponentSession),
	}
	r.sessions = cache.NewLRUCache[*Session](maxSessions, ttl).OnEvict(r.evicted)
	return r
}

// Get returns the session for id, creating it on first use. Every call
// refreshes the session's TTL.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if s, ok := r.sessions.Get(id); ok {
		r.sessions.Set(id, s)
		return s, nil
	}

	s := &Session{ID: id, Notices: undo.NewValue(Notice{})}
	logger := r.logger.With(log.FieldSessionID, id)
	coordinator, err := r.factory(logger, func(err error) {
		s.notify(noticeFor(err))
	})
	if err != nil {
		return nil, fmt.Errorf("create undo coordinator: %w", err)
	}
	s.Undo = coordinator

	r.sessions.Set(id, s)
	r.metrics.ActiveSessions.Inc()
	logger.Debug("Session created")
	return s, nil
}

// lookup returns an existing session without creating or refreshing it.
func (r *Registry) lookup(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Size()
}

// CleanExpired evicts sessions idle past the TTL.
func (r *Registry) CleanExpired() int {
	return r.sessions.CleanExpired()
}

// Close finalizes every session's pending deletion and waits for their
// coordinators to drain.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	n := r.sessions.Purge()
	r.closing.Wait()
	r.logger.Info("Sessions closed", "count", n, log.FieldOperation, log.OpShutdown)
}

func (r *Registry) evicted(id string, s *Session) {
	r.metrics.ActiveSessions.Dec()
	r.logger.Debug("Session evicted", log.FieldSessionID, id)

	// Close waits for in-flight commits; keep it off the caller's path.
	r.closing.Add(1)
	go func() {
		defer r.closing.Done()
		s.close()
	}()
}

func noticeFor(err error) string {
	switch {
	case errors.Is(err, undo.ErrCommitFailed):
		return "Could not delete the expense. It has been kept."
	case errors.Is(err, undo.ErrRestoreFailed):
		return "Could not restore the deleted expense."
	default:
		return "Something went wrong."
	}
}
