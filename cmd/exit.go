package cmd

import (
	"errors"
	"fmt"

	"github.com/thiagokokada/gitk-sync/internal/engine"
	"github.com/thiagokokada/gitk-sync/internal/git"
	"github.com/thiagokokada/gitk-sync/internal/lfslock"
	"github.com/thiagokokada/gitk-sync/internal/rebase"
	"github.com/thiagokokada/gitk-sync/internal/snapshot"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitPrecondition = 2
	ExitGit          = 3
	ExitCredential   = 4
	ExitRebase       = 5
	ExitPartial      = 6
)

// BatchError reports lock operations that failed for some paths.
type BatchError struct {
	Op       string
	Failures []lfslock.Failure
}

func (e *BatchError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("%s failed for %s: %s", e.Op, e.Failures[0].Path, e.Failures[0].Reason)
	}
	return fmt.Sprintf("%s failed for %d paths", e.Op, len(e.Failures))
}

// ExitCode maps err to the process exit code. More specific causes win
// over the generic git failure they may be wrapped in.
func ExitCode(err error) int {
	var (
		pre   *engine.PreconditionError
		cmd   *git.CommandError
		batch *BatchError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, lfslock.ErrNoCredential):
		return ExitCredential
	case errors.Is(err, rebase.ErrManualIntervention):
		return ExitRebase
	case errors.As(err, &batch):
		return ExitPartial
	case errors.As(err, &pre),
		errors.Is(err, engine.ErrLocksUnavailable),
		errors.Is(err, engine.ErrFactsUnavailable),
		errors.Is(err, snapshot.ErrNotFound),
		errors.Is(err, snapshot.ErrAmbiguous),
		errors.Is(err, snapshot.ErrNoFiles),
		errors.Is(err, snapshot.ErrNothingToSave),
		errors.Is(err, rebase.ErrDeclined):
		return ExitPrecondition
	case errors.As(err, &cmd):
		return ExitGit
	default:
		return ExitFailure
	}
}
