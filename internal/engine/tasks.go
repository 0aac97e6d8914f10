package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/thiagokokada/gitk-sync/internal/git"
	"github.com/thiagokokada/gitk-sync/internal/status"
)

// requireClean refuses to run op while the stored status reports conflicts
// or an interrupted rebase.
func (e *Engine) requireClean(op string, st status.RepoStatus) error {
	if st.HasConflicts() {
		return precondition(op, ErrConflicts, "resolve %d conflicted file(s) first", len(st.Conflicts))
	}
	if st.RebaseInProgress || (e.Deps.Rebase != nil && e.Deps.Rebase.InProgress()) {
		return precondition(op, ErrRebaseInProgress, "finish or fix the interrupted rebase first")
	}
	return nil
}

type CloneTask struct {
	engine *Engine
	URL    string
	Dir    string
}

func (t *CloneTask) Name() string { return "clone" }

func (t *CloneTask) Execute(ctx context.Context) error {
	e := t.engine
	dir, err := filepath.Abs(t.Dir)
	if err != nil {
		return err
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return precondition("clone", nil, "%s already exists and is not empty", dir)
	}
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("clone: %w", err)
	}

	poller := git.StartSizePoller(ctx, dir, e.cfg.PollInterval, e.Progress)
	defer poller.Stop()

	e.progress("Cloning " + t.URL)
	args := []string{"clone", "--progress", t.URL, dir}
	if _, err := e.Exec.Run(ctx, args, git.RunOptions{Dir: parent, Progress: e.Progress}); err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	// clones made without git-lfs on PATH still work, only without hooks
	if _, err := e.Exec.Run(ctx, []string{"lfs", "install", "--local"}, git.RunOptions{Dir: dir}); err != nil {
		slog.Warn("git lfs install failed", slog.String("dir", dir), slog.Any("error", err))
	}
	e.progress("Clone finished")
	return nil
}

// PullTask rebases the current branch onto the trunk. It is skipped when the
// stored status says there is nothing to pull.
type PullTask struct {
	engine  *Engine
	Skipped bool
}

func (t *PullTask) Name() string { return "pull" }

func (t *PullTask) Execute(ctx context.Context) error {
	e := t.engine
	st := e.store().Load()
	if err := e.requireClean("pull", st); err != nil {
		return err
	}
	if st.CommitsBehindTrunk == 0 {
		t.Skipped = true
		slog.Info("pull skipped, already up to date", slog.String("trunk", e.cfg.Remote+"/"+e.cfg.Trunk))
		return nil
	}
	if err := e.waitIndexLock(ctx, "pull"); err != nil {
		return err
	}
	e.progress(fmt.Sprintf("Pulling %d commit(s)", st.CommitsBehindTrunk))
	args := []string{"pull", "--rebase", "--autostash", "--progress", e.cfg.Remote, e.cfg.Trunk}
	if _, err := e.Exec.Run(ctx, args, git.RunOptions{Progress: e.Progress}); err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	if e.cfg.LFSPullAfter {
		if _, err := e.Exec.Run(ctx, []string{"lfs", "pull"}, git.RunOptions{Progress: e.Progress}); err != nil {
			return fmt.Errorf("lfs pull: %w", err)
		}
	}
	return nil
}

type PushTask struct {
	engine  *Engine
	Skipped bool
}

func (t *PushTask) Name() string { return "push" }

func (t *PushTask) Execute(ctx context.Context) error {
	e := t.engine
	st := e.store().Load()
	if err := e.requireClean("push", st); err != nil {
		return err
	}
	if st.Detached || st.Branch == "" {
		return precondition("push", ErrDetachedHead, "check out a branch before pushing")
	}
	if st.Upstream != "" && st.CommitsAhead == 0 {
		t.Skipped = true
		slog.Info("push skipped, nothing to push", slog.String("branch", st.Branch))
		return nil
	}
	args := []string{"push", "--progress", "--set-upstream", e.cfg.Remote, st.Branch}
	if _, err := e.Exec.Run(ctx, args, git.RunOptions{Progress: e.Progress}); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

type CheckoutTask struct {
	engine *Engine
	Branch string
}

func (t *CheckoutTask) Name() string { return "checkout " + t.Branch }

func (t *CheckoutTask) Execute(ctx context.Context) error {
	e := t.engine
	if t.Branch == "" {
		return precondition("checkout", nil, "no branch given")
	}
	if err := e.requireClean("checkout", e.store().Load()); err != nil {
		return err
	}
	refs, err := git.Refs(ctx, e.Exec)
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	// a remote-only branch is created locally by checkout's DWIM
	if !git.HasRef(refs, git.RefKindBranch, t.Branch) && !git.HasRef(refs, git.RefKindRemoteBranch, e.cfg.Remote+"/"+t.Branch) {
		return precondition("checkout", ErrUnknownBranch, "branch %s not found locally or on %s", t.Branch, e.cfg.Remote)
	}
	if err := e.waitIndexLock(ctx, "checkout"); err != nil {
		return err
	}
	if _, err := e.Exec.Run(ctx, []string{"checkout", "--progress", t.Branch}, git.RunOptions{Progress: e.Progress}); err != nil {
		return fmt.Errorf("checkout %s: %w", t.Branch, err)
	}
	return nil
}

type RebaseTask struct {
	engine *Engine
}

func (t *RebaseTask) Name() string { return "rebase" }

func (t *RebaseTask) Execute(ctx context.Context) error {
	e := t.engine
	if err := e.requireClean("rebase", e.store().Load()); err != nil {
		return err
	}
	if err := e.waitIndexLock(ctx, "rebase"); err != nil {
		return err
	}
	upstream := e.cfg.Remote + "/" + e.cfg.Trunk
	if _, err := e.Exec.Run(ctx, []string{"rebase", "--autostash", upstream}, git.RunOptions{}); err != nil {
		if e.Deps.Rebase != nil && e.Deps.Rebase.InProgress() {
			return fmt.Errorf("rebase onto %s stopped; resolve conflicts or run rebase fix: %w", upstream, err)
		}
		return fmt.Errorf("rebase onto %s: %w", upstream, err)
	}
	return nil
}

type DiffTask struct {
	engine  *Engine
	Options git.DiffOptions
	Result  DiffResult
}

func (t *DiffTask) Name() string { return "diff" }

func (t *DiffTask) Execute(ctx context.Context) error {
	text, sections, err := git.Diff(ctx, t.engine.Exec, t.Options)
	if err != nil {
		return err
	}
	t.Result = DiffResult{Text: text, Sections: sections}
	return nil
}
