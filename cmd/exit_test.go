package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/thiagokokada/gitk-sync/internal/engine"
	"github.com/thiagokokada/gitk-sync/internal/git"
	"github.com/thiagokokada/gitk-sync/internal/lfslock"
	"github.com/thiagokokada/gitk-sync/internal/rebase"
	"github.com/thiagokokada/gitk-sync/internal/snapshot"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	gitErr := &git.CommandError{Args: []string{"pull"}, Err: errors.New("exit status 1")}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "generic", err: errors.New("boom"), want: ExitFailure},
		{name: "git", err: fmt.Errorf("pull: %w", gitErr), want: ExitGit},
		{name: "precondition", err: &engine.PreconditionError{Op: "pull", Reason: "conflicts", Err: engine.ErrConflicts}, want: ExitPrecondition},
		{name: "locks unavailable", err: engine.ErrLocksUnavailable, want: ExitPrecondition},
		{name: "ambiguous snapshot", err: fmt.Errorf("restore: %w", snapshot.ErrAmbiguous), want: ExitPrecondition},
		{name: "credential", err: fmt.Errorf("lock: %w", lfslock.ErrNoCredential), want: ExitCredential},
		{name: "rebase", err: &rebase.FatalError{}, want: ExitRebase},
		{name: "partial", err: &BatchError{Op: "lock", Failures: []lfslock.Failure{{Path: "a", Reason: "already locked"}}}, want: ExitPartial},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Fatalf("%s: ExitCode() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestBatchErrorMessage(t *testing.T) {
	t.Parallel()

	one := &BatchError{Op: "lock", Failures: []lfslock.Failure{{Path: "Hero.uasset", Reason: "already locked by Bob"}}}
	if got := one.Error(); got != "lock failed for Hero.uasset: already locked by Bob" {
		t.Fatalf("unexpected message %q", got)
	}
	two := &BatchError{Op: "unlock", Failures: make([]lfslock.Failure, 2)}
	if got := two.Error(); got != "unlock failed for 2 paths" {
		t.Fatalf("unexpected message %q", got)
	}
}
