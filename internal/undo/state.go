package undo

// State is the coordinator's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StatePendingUndo
	// StatePermanentlyCommitted is held only while the timeout notification
	// runs; the coordinator then returns to StateIdle.
	StatePermanentlyCommitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingUndo:
		return "pending_undo"
	case StatePermanentlyCommitted:
		return "permanently_committed"
	default:
		return "unknown"
	}
}

// Pending is the observable view of the pending slot. Active is false when
// nothing can be undone.
type Pending[T any] struct {
	Item   T
	Active bool
}

// pendingDeletion is the single slot of in-flight state.
type pendingDeletion[T any] struct {
	item  T
	token uint64

	// committed is closed once commit returns; commitErr is set before.
	committed chan struct{}
	commitErr error
}
