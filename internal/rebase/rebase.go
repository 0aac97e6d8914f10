// Package rebase detects interrupted rebases and repairs them.
package rebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/thiagokokada/gitk-sync/internal/git"
)

// ErrManualIntervention is wrapped by FatalError.
var ErrManualIntervention = errors.New("rebase needs manual intervention")

// ErrDeclined marks a strategy skipped because the user did not confirm it.
var ErrDeclined = errors.New("declined by user")

// State is derived from markers in the git directory on every call.
type State struct {
	RebaseInProgress  bool `json:"rebase_in_progress" yaml:"rebase_in_progress"`
	HeadMarkerPresent bool `json:"head_marker_present" yaml:"head_marker_present"`
}

// Strategy is one remediation command.
type Strategy struct {
	Name string
	Args []string
	// Destructive strategies may lose local state and go through the
	// confirm callback.
	Destructive bool
}

// DefaultStrategies aborts first and quits only as a last resort.
var DefaultStrategies = []Strategy{
	{Name: "abort", Args: []string{"rebase", "--abort"}},
	{Name: "quit", Args: []string{"rebase", "--quit"}, Destructive: true},
}

type Attempt struct {
	Strategy string `json:"strategy" yaml:"strategy"`
	Err      error  `json:"-" yaml:"-"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Outcome reports what Remediate did. Applied is empty when no rebase was
// in progress.
type Outcome struct {
	Applied  string    `json:"applied,omitempty" yaml:"applied,omitempty"`
	Attempts []Attempt `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// FatalError means every strategy failed.
type FatalError struct {
	Attempts []Attempt
}

func (e *FatalError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return fmt.Sprintf("%v (%s)", ErrManualIntervention, strings.Join(parts, "; "))
}

func (e *FatalError) Unwrap() []error {
	errs := []error{ErrManualIntervention}
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// ConfirmFunc is asked before a destructive strategy runs. previous is the
// error of the strategy tried before it.
type ConfirmFunc func(ctx context.Context, next Strategy, previous error) bool

type Diagnostics struct {
	gitDir     string
	exec       git.Executor
	strategies []Strategy
}

// New returns diagnostics for gitDir. Without strategies DefaultStrategies
// is used.
func New(gitDir string, exec git.Executor, strategies ...Strategy) *Diagnostics {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	return &Diagnostics{gitDir: gitDir, exec: exec, strategies: strategies}
}

// Status inspects the marker files without running git.
func (d *Diagnostics) Status() State {
	var st State
	if isDir(filepath.Join(d.gitDir, "rebase-merge")) {
		st.RebaseInProgress = true
		st.HeadMarkerPresent = isFile(filepath.Join(d.gitDir, "rebase-merge", "head-name"))
		return st
	}
	apply := filepath.Join(d.gitDir, "rebase-apply")
	// rebase-apply/applying belongs to "git am"
	if isDir(apply) && !isFile(filepath.Join(apply, "applying")) {
		st.RebaseInProgress = true
		st.HeadMarkerPresent = isFile(filepath.Join(apply, "head-name"))
	}
	return st
}

func (d *Diagnostics) InProgress() bool { return d.Status().RebaseInProgress }

// Remediate tries each strategy in order and stops at the first success.
// Without a rebase in progress it does nothing.
func (d *Diagnostics) Remediate(ctx context.Context, confirm ConfirmFunc) (Outcome, error) {
	var out Outcome
	if !d.InProgress() {
		return out, nil
	}
	var previous error
	for _, s := range d.strategies {
		if s.Destructive && confirm != nil && !confirm(ctx, s, previous) {
			out.Attempts = append(out.Attempts, attempt(s.Name, ErrDeclined))
			break
		}
		_, err := d.exec.Run(ctx, s.Args, git.RunOptions{})
		if err == nil && d.InProgress() {
			err = errors.New("rebase markers still present")
		}
		if err == nil {
			out.Applied = s.Name
			out.Attempts = append(out.Attempts, attempt(s.Name, nil))
			slog.Info("rebase remediated", slog.String("strategy", s.Name))
			return out, nil
		}
		slog.Warn("rebase remediation step failed", slog.String("strategy", s.Name), slog.Any("error", err))
		out.Attempts = append(out.Attempts, attempt(s.Name, err))
		previous = err
		if ctx.Err() != nil {
			break
		}
	}
	return out, &FatalError{Attempts: out.Attempts}
}

func attempt(name string, err error) Attempt {
	a := Attempt{Strategy: name, Err: err}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
