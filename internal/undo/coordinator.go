// Package undo implements optimistic deletes with a bounded undo window.
//
// A Coordinator applies a delete immediately (commit), keeps the deleted item
// in a single pending slot for a grace period, and either restores it when
// the user asks for an undo or lets the delete become permanent when the
// period elapses. Every delete request mints a sequence token; timer expiry,
// commit failure and undo all compare it under one mutex, so a stale event
// can never act on a newer pending item.
package undo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"spese/internal/log"
)

// DefaultTimeout is the undo window used when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Func is a host side effect applied to an item.
type Func[T any] func(ctx context.Context, item T) error

// Options configures a Coordinator.
type Options[T any] struct {
	// Timeout is the undo window (default: 5s).
	Timeout time.Duration

	// OnTimeout runs after a deletion became permanent.
	OnTimeout func(item T)

	// OnError receives *OperationError[T] for failed commits and restores.
	OnError func(err error)

	// Clock arms the timeout timer (default: clock.RealClock).
	Clock clock.WithDelayedExecution

	Logger *slog.Logger
}

// Coordinator manages at most one pending deletion at a time.
type Coordinator[T any] struct {
	commit    Func[T]
	restore   Func[T]
	timeout   time.Duration
	onTimeout func(T)
	onError   func(error)
	clock     clock.WithDelayedExecution
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	// wg tracks commit/restore goroutines and armed timers.
	wg sync.WaitGroup

	mu     sync.Mutex
	seq    uint64
	state  State
	slot   *pendingDeletion[T]
	timer  clock.Timer
	closed bool

	pending *Value[Pending[T]]
}

// New creates a coordinator that deletes with commit and undoes with restore.
func New[T any](commit, restore Func[T], opts Options[T]) (*Coordinator[T], error) {
	if commit == nil || restore == nil {
		return nil, errors.New("commit and restore are required")
	}
	if opts.Timeout < 0 {
		return nil, errors.New("timeout must be positive")
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator[T]{
		commit:    commit,
		restore:   restore,
		timeout:   opts.Timeout,
		onTimeout: opts.OnTimeout,
		onError:   opts.OnError,
		clock:     opts.Clock,
		logger:    opts.Logger.With(log.FieldComponent, log.ComponentUndo),
		ctx:       ctx,
		cancel:    cancel,
		pending:   NewValue(Pending[T]{}),
	}, nil
}

// Timeout returns the configured undo window.
func (c *Coordinator[T]) Timeout() time.Duration {
	return c.timeout
}

// RequestDelete makes item the pending deletion, superseding any previous
// one without restoring it, and launches commit in the background. It
// returns ErrClosed, without calling commit, once Close has started.
func (c *Coordinator[T]) RequestDelete(item T) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	c.stopTimerLocked()
	if c.slot != nil {
		c.logger.Debug("Superseding pending deletion", log.FieldToken, c.slot.token)
	}

	c.seq++
	p := &pendingDeletion[T]{
		item:      item,
		token:     c.seq,
		committed: make(chan struct{}),
	}
	c.slot = p
	c.state = StatePendingUndo
	c.pending.Set(Pending[T]{Item: item, Active: true})

	token := p.token
	c.wg.Add(2) // timer + commit
	c.timer = c.clock.AfterFunc(c.timeout, func() {
		defer c.wg.Done()
		c.expire(token)
	})
	c.mu.Unlock()

	go c.runCommit(p)
	return nil
}

// RequestUndo cancels the pending deletion and launches restore. It returns
// false when nothing is pending or the deletion is already permanent. A true
// result does not mean restore has finished.
func (c *Coordinator[T]) RequestUndo() bool {
	c.mu.Lock()
	c.stopTimerLocked()
	if c.slot == nil || c.state != StatePendingUndo {
		c.mu.Unlock()
		return false
	}

	p := c.slot
	c.clearLocked(StateIdle)
	c.wg.Add(1)
	c.mu.Unlock()

	go c.runRestore(p)
	return true
}

// Dismiss drops the pending deletion without restoring it; the commit stays
// in effect. It reports whether there was a pending deletion to drop.
func (c *Coordinator[T]) Dismiss() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	if c.slot == nil {
		return false
	}
	c.clearLocked(StateIdle)
	return true
}

// Flush makes the pending deletion permanent now, as if its timer had
// expired. It reports whether there was anything to finalize.
func (c *Coordinator[T]) Flush() bool {
	c.mu.Lock()
	token, item, ok := c.flushLocked()
	c.mu.Unlock()

	if ok {
		c.notifyTimeout(token, item)
	}
	return ok
}

// Close finalizes any pending deletion, waits for in-flight commit and
// restore calls, and closes subscriber channels. Later deletes are rejected
// with ErrClosed.
func (c *Coordinator[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	token, item, ok := c.flushLocked()
	c.mu.Unlock()

	if ok {
		c.notifyTimeout(token, item)
	}

	c.wg.Wait()
	c.cancel()
	c.pending.Close()
}

// HasPendingUndo reports whether an undo is currently possible.
func (c *Coordinator[T]) HasPendingUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot != nil && c.state == StatePendingUndo
}

// State returns the current lifecycle state.
func (c *Coordinator[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the latest published view of the pending slot.
func (c *Coordinator[T]) Pending() Pending[T] {
	return c.pending.Load()
}

// Subscribe streams the pending slot: the current value first, then updates.
func (c *Coordinator[T]) Subscribe(ctx context.Context) <-chan Pending[T] {
	return c.pending.Subscribe(ctx)
}

func (c *Coordinator[T]) expire(token uint64) {
	c.mu.Lock()
	if c.slot == nil || c.slot.token != token || c.state != StatePendingUndo {
		c.mu.Unlock()
		c.logger.Debug("Ignoring stale timeout", log.FieldToken, token)
		return
	}
	c.timer = nil
	item, _ := c.finalizeLocked(token)
	c.mu.Unlock()

	c.notifyTimeout(token, item)
}

func (c *Coordinator[T]) finalizeLocked(token uint64) (T, bool) {
	var zero T
	if c.slot == nil || c.slot.token != token {
		return zero, false
	}
	item := c.slot.item
	c.clearLocked(StatePermanentlyCommitted)
	return item, true
}

func (c *Coordinator[T]) flushLocked() (uint64, T, bool) {
	var zero T
	if c.slot == nil || c.state != StatePendingUndo {
		return 0, zero, false
	}
	c.stopTimerLocked()
	token := c.slot.token
	item, ok := c.finalizeLocked(token)
	return token, item, ok
}

func (c *Coordinator[T]) notifyTimeout(token uint64, item T) {
	c.logger.Debug("Deletion is now permanent", log.FieldToken, token)
	if c.onTimeout != nil {
		c.onTimeout(item)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A newer delete may have arrived while the callback ran.
	if c.state == StatePermanentlyCommitted && c.seq == token {
		c.state = StateIdle
	}
}

func (c *Coordinator[T]) runCommit(p *pendingDeletion[T]) {
	defer c.wg.Done()

	err := c.commit(c.ctx, p.item)
	p.commitErr = err
	close(p.committed)
	if err == nil {
		return
	}

	c.mu.Lock()
	rolledBack := c.slot != nil && c.slot.token == p.token
	if rolledBack {
		c.stopTimerLocked()
		c.clearLocked(StateIdle)
	}
	c.mu.Unlock()

	c.report(&OperationError[T]{Op: OpCommit, Item: p.item, Err: err, RolledBack: rolledBack})
}

func (c *Coordinator[T]) runRestore(p *pendingDeletion[T]) {
	defer c.wg.Done()

	// Restoring before the delete landed would let the delete win.
	<-p.committed
	if p.commitErr != nil {
		c.logger.Debug("Skipping restore, commit never took effect", log.FieldToken, p.token)
		return
	}

	if err := c.restore(c.ctx, p.item); err != nil {
		c.report(&OperationError[T]{Op: OpRestore, Item: p.item, Err: err})
	}
}

func (c *Coordinator[T]) report(err error) {
	c.logger.Warn("Undo operation failed", log.FieldError, err)
	if c.onError != nil {
		c.onError(err)
	}
}

// stopTimerLocked cancels the armed timer. A timer that already fired is
// left to its callback, which drops itself on the token check.
func (c *Coordinator[T]) stopTimerLocked() {
	if c.timer == nil {
		return
	}
	if c.timer.Stop() {
		c.wg.Done()
	}
	c.timer = nil
}

func (c *Coordinator[T]) clearLocked(next State) {
	c.slot = nil
	c.state = next
	c.pending.Set(Pending[T]{})
}
