package engine

import (
	"errors"
	"fmt"
)

var (
	ErrConflicts         = errors.New("repository has unresolved conflicts")
	ErrIndexLocked       = errors.New("index.lock is held by another git process")
	ErrDetachedHead      = errors.New("HEAD is detached")
	ErrRebaseInProgress  = errors.New("a rebase is in progress")
	ErrLocksUnavailable  = errors.New("lfs locking is not configured")
	ErrFactsUnavailable  = errors.New("repository metadata is unavailable")
	ErrNothingToSnapshot = errors.New("no modified files to snapshot")
	ErrUnknownBranch     = errors.New("branch does not exist")
)

// PreconditionError is a user actionable refusal to run an operation, as
// opposed to a failing git command.
type PreconditionError struct {
	Op     string
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

func precondition(op string, err error, format string, args ...any) error {
	return &PreconditionError{Op: op, Reason: fmt.Sprintf(format, args...), Err: err}
}
