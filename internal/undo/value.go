package undo

import (
	"context"
	"sync"
)

// Value is a single-writer observable cell. Readers get the latest value and
// every later update; intermediate values may be skipped when a reader is slow.
type Value[T any] struct {
	mu     sync.Mutex
	v      T
	subs   map[chan T]struct{}
	closed bool
	done   chan struct{}
}

// NewValue creates a cell holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		v:    initial,
		subs: make(map[chan T]struct{}),
		done: make(chan struct{}),
	}
}

// Load returns the current value.
func (v *Value[T]) Load() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

// Set stores x and notifies subscribers. It is a no-op after Close.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.v = x
	for ch := range v.subs {
		offer(ch, x)
	}
}

// Subscribe returns a channel that first yields the current value and then
// each update. The channel is closed when ctx is done or the cell is closed.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		close(ch)
		return ch
	}
	ch <- v.v
	v.subs[ch] = struct{}{}
	v.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-v.done:
			return
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, ok := v.subs[ch]; ok {
			delete(v.subs, ch)
			close(ch)
		}
	}()

	return ch
}

// Close closes every subscriber channel. Later Sets are ignored.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for ch := range v.subs {
		delete(v.subs, ch)
		close(ch)
	}
	close(v.done)
}

// offer replaces whatever is buffered in ch with x. Callers hold v.mu, so
// there is no competing sender and the second send cannot block.
func offer[T any](ch chan T, x T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- x:
	default:
	}
}
