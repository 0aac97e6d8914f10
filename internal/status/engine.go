package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thiagokokada/gitk-sync/internal/git"
)

// Facts is the subset of git.Facts the engine reads.
type Facts interface {
	RemoteURL(name string) (string, error)
	UserName() string
}

// RebaseProbe reports whether a rebase is interrupted.
type RebaseProbe interface {
	InProgress() bool
}

// Options tunes a single refresh.
type Options struct {
	// SkipFetch avoids the network round trip when the caller already
	// refreshed remote refs.
	SkipFetch bool
}

// Engine derives RepoStatus from git and publishes it to a Store.
type Engine struct {
	exec   git.Executor
	facts  Facts
	rebase RebaseProbe
	store  *Store
	remote string
	trunk  string
}

// NewEngine wires an engine. facts and rebase may be nil.
func NewEngine(exec git.Executor, store *Store, facts Facts, rebase RebaseProbe, remote, trunk string) *Engine {
	return &Engine{exec: exec, store: store, facts: facts, rebase: rebase, remote: remote, trunk: trunk}
}

func (e *Engine) Store() *Store { return e.store }

// Run refreshes the status. The store is only replaced when every step
// succeeded.
func (e *Engine) Run(ctx context.Context, opts Options) (RepoStatus, error) {
	if !opts.SkipFetch {
		if _, err := e.exec.Run(ctx, []string{"fetch", "--prune", e.remote}, git.RunOptions{}); err != nil {
			return RepoStatus{}, fmt.Errorf("fetch %s: %w", e.remote, err)
		}
	}
	wt, err := git.Status(ctx, e.exec)
	if err != nil {
		return RepoStatus{}, err
	}
	st := RepoStatus{
		Branch:        wt.Branch,
		Upstream:      wt.Upstream,
		Remote:        e.remote,
		HeadCommit:    wt.Head,
		Detached:      wt.Detached,
		CommitsAhead:  wt.Ahead,
		CommitsBehind: wt.Behind,
		Conflicts:     wt.Conflicts,
		ModifiedFiles: wt.Changes,
		Untracked:     wt.Untracked,
		UpdatedAt:     time.Now(),
	}
	st.RemoteBranch = wt.Upstream
	if st.RemoteBranch == "" && wt.Branch != "" {
		st.RemoteBranch = e.remote + "/" + wt.Branch
	}

	behindTrunk, err := e.behindTrunk(ctx, wt.Head)
	if err != nil {
		return RepoStatus{}, err
	}
	st.CommitsBehindTrunk = behindTrunk

	if e.facts != nil {
		st.Username = e.facts.UserName()
		if url, err := e.facts.RemoteURL(e.remote); err == nil {
			if owner, repo, err := git.ParseOwnerRepo(url); err == nil {
				st.Owner, st.Repo = owner, repo
			}
		}
	}
	if e.rebase != nil {
		st.RebaseInProgress = e.rebase.InProgress()
	}

	gen := e.store.Replace(st)
	slog.Debug("repository status refreshed",
		slog.String("branch", st.Branch),
		slog.Int("ahead", st.CommitsAhead),
		slog.Int("behind", st.CommitsBehind),
		slog.Int("behind_trunk", st.CommitsBehindTrunk),
		slog.Int("conflicts", len(st.Conflicts)),
		slog.Uint64("generation", gen),
	)
	return st, nil
}

// behindTrunk counts commits on <remote>/<trunk> missing from HEAD. A missing
// trunk ref or an unborn HEAD counts as zero.
func (e *Engine) behindTrunk(ctx context.Context, head string) (int, error) {
	if head == "" {
		return 0, nil
	}
	trunkRef := "refs/remotes/" + e.remote + "/" + e.trunk
	out, err := e.exec.Run(ctx, []string{"rev-parse", "--verify", "--quiet", trunkRef}, git.RunOptions{AllowExitCodes: []int{1}})
	if err != nil {
		return 0, err
	}
	if out.ExitCode != 0 {
		return 0, nil
	}
	_, behind, err := git.AheadBehind(ctx, e.exec, "HEAD", trunkRef)
	return behind, err
}

// RefreshTask runs the engine as a queue task.
type RefreshTask struct {
	Engine  *Engine
	Options Options
}

func (t RefreshTask) Name() string {
	if t.Options.SkipFetch {
		return "status (no fetch)"
	}
	return "status"
}

func (t RefreshTask) Execute(ctx context.Context) error {
	_, err := t.Engine.Run(ctx, t.Options)
	return err
}
