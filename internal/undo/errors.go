package undo

import (
	"errors"
	"fmt"
)

// Op names the host operation that failed.
type Op string

const (
	OpCommit  Op = "commit"
	OpRestore Op = "restore"
)

var (
	// ErrCommitFailed is reported when commit returned an error. The pending
	// deletion was rolled back if it was still current.
	ErrCommitFailed = errors.New("commit failed")
	// ErrRestoreFailed is reported when restore returned an error after a
	// successful undo. The coordinator does not retry.
	ErrRestoreFailed = errors.New("restore failed")
	// ErrClosed is returned by RequestDelete after Close.
	ErrClosed = errors.New("undo coordinator closed")
)

// OperationError carries the item a commit or restore failed for.
type OperationError[T any] struct {
	Op   Op
	Item T
	Err  error
	// RolledBack is true when a commit failure cleared the pending slot.
	RolledBack bool
}

func (e *OperationError[T]) Error() string {
	return fmt.Sprintf("%s: %v", e.kind(), e.Err)
}

// Unwrap exposes both the sentinel for Op and the underlying cause.
func (e *OperationError[T]) Unwrap() []error {
	return []error{e.kind(), e.Err}
}

func (e *OperationError[T]) kind() error {
	if e.Op == OpRestore {
		return ErrRestoreFailed
	}
	return ErrCommitFailed
}
