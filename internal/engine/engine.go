// Package engine exposes the repository operations. Mutating operations are
// serialized through the task queue; reads wait on a barrier first so they
// observe every write submitted before them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/thiagokokada/gitk-sync/internal/git"
	"github.com/thiagokokada/gitk-sync/internal/lfslock"
	"github.com/thiagokokada/gitk-sync/internal/queue"
	"github.com/thiagokokada/gitk-sync/internal/rebase"
	"github.com/thiagokokada/gitk-sync/internal/snapshot"
	"github.com/thiagokokada/gitk-sync/internal/status"
)

type Config struct {
	Remote string
	Trunk  string
	// IndexLockAttempts and IndexLockDelay bound the wait for a stale
	// index.lock before a mutating git command.
	IndexLockAttempts int
	IndexLockDelay    time.Duration
	// LFSPullAfter runs "git lfs pull" after a successful pull.
	LFSPullAfter bool
	// PollInterval paces clone size reporting.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Remote == "" {
		c.Remote = "origin"
	}
	if c.Trunk == "" {
		c.Trunk = "main"
	}
	if c.IndexLockAttempts <= 0 {
		c.IndexLockAttempts = 10
	}
	if c.IndexLockDelay <= 0 {
		c.IndexLockDelay = 500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Deps are the collaborators of an Engine. Locks and Facts are optional.
type Deps struct {
	Exec      git.Executor
	GitDir    string
	Queue     *queue.Queue
	Status    *status.Engine
	Snapshots *snapshot.Manager
	Rebase    *rebase.Diagnostics
	Locks     *lfslock.Client
	Facts     *git.Facts
	// Progress receives free text progress of long operations.
	Progress chan<- string
}

type Engine struct {
	cfg Config
	Deps
}

func New(cfg Config, deps Deps) *Engine {
	return &Engine{cfg: cfg.withDefaults(), Deps: deps}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) store() *status.Store { return e.Deps.Status.Store() }

func (e *Engine) refresh(skipFetch bool) queue.Task {
	return status.RefreshTask{Engine: e.Deps.Status, Options: status.Options{SkipFetch: skipFetch}}
}

func (e *Engine) submit(ctx context.Context, tasks ...queue.Task) error {
	return e.Queue.Submit(tasks...).Wait(ctx)
}

// Clone clones url into dir, which must not be a non-empty directory.
func (e *Engine) Clone(ctx context.Context, url, dir string) error {
	return e.submit(ctx, &CloneTask{engine: e, URL: url, Dir: dir})
}

// Pull integrates the trunk into the current branch. The decision to pull
// is taken from the stored status, which is computed first if it never was.
func (e *Engine) Pull(ctx context.Context) error {
	tasks := []queue.Task{&PullTask{engine: e}, e.refresh(true)}
	if e.store().Generation() == 0 {
		tasks = append([]queue.Task{e.refresh(false)}, tasks...)
	}
	return e.submit(ctx, tasks...)
}

// Push publishes the current branch.
func (e *Engine) Push(ctx context.Context) error {
	return e.submit(ctx, &PushTask{engine: e}, e.refresh(true))
}

// Checkout switches to branch.
func (e *Engine) Checkout(ctx context.Context, branch string) error {
	return e.submit(ctx, &CheckoutTask{engine: e, Branch: branch}, e.refresh(true))
}

// Rebase fetches and rebases the current branch onto the trunk.
func (e *Engine) Rebase(ctx context.Context) error {
	return e.submit(ctx, e.refresh(false), &RebaseTask{engine: e}, e.refresh(true))
}

// StatusOptions selects how fresh Status must be.
type StatusOptions struct {
	// Refresh recomputes the status through the queue; otherwise the
	// stored status is returned once earlier writes have drained.
	Refresh   bool
	SkipFetch bool
}

func (e *Engine) Status(ctx context.Context, opts StatusOptions) (status.RepoStatus, error) {
	if opts.Refresh {
		if err := e.submit(ctx, e.refresh(opts.SkipFetch)); err != nil {
			return status.RepoStatus{}, err
		}
		return e.store().Load(), nil
	}
	if err := e.Queue.Barrier(ctx); err != nil {
		return status.RepoStatus{}, err
	}
	return e.store().Load(), nil
}

func (e *Engine) Log(ctx context.Context, opts git.LogOptions) ([]git.Commit, error) {
	if err := e.Queue.Barrier(ctx); err != nil {
		return nil, err
	}
	return git.Log(ctx, e.Exec, opts)
}

// DiffResult is unified diff text plus where each file starts.
type DiffResult struct {
	Text     string            `json:"text" yaml:"text"`
	Sections []git.FileSection `json:"sections" yaml:"sections"`
}

func (e *Engine) Diff(ctx context.Context, opts git.DiffOptions) (DiffResult, error) {
	task := &DiffTask{engine: e, Options: opts}
	if err := e.submit(ctx, task); err != nil {
		return DiffResult{}, err
	}
	return task.Result, nil
}

func (e *Engine) ShowCommitFiles(ctx context.Context, rev string) ([]git.FileStat, error) {
	if e.Facts == nil {
		return nil, ErrFactsUnavailable
	}
	if err := e.Queue.Barrier(ctx); err != nil {
		return nil, err
	}
	return e.Facts.CommitFiles(rev)
}

func (e *Engine) Lock(ctx context.Context, paths []string) (lfslock.BatchResult, error) {
	return e.lockBatch(ctx, "lock", func(ctx context.Context) (lfslock.BatchResult, error) {
		return e.Locks.Acquire(ctx, paths)
	})
}

func (e *Engine) Unlock(ctx context.Context, paths []string, force bool) (lfslock.BatchResult, error) {
	return e.lockBatch(ctx, "unlock", func(ctx context.Context) (lfslock.BatchResult, error) {
		return e.Locks.Release(ctx, paths, force)
	})
}

func (e *Engine) lockBatch(ctx context.Context, name string, fn func(context.Context) (lfslock.BatchResult, error)) (lfslock.BatchResult, error) {
	if e.Locks == nil {
		return lfslock.BatchResult{}, ErrLocksUnavailable
	}
	var res lfslock.BatchResult
	err := e.submit(ctx, queue.Func(name, func(ctx context.Context) error {
		var err error
		res, err = fn(ctx)
		return err
	}))
	return res, err
}

// VerifyLocks returns one page of locks; it does not touch the repository
// and bypasses the queue.
func (e *Engine) VerifyLocks(ctx context.Context, req lfslock.VerifyRequest) (lfslock.VerifyResponse, error) {
	if e.Locks == nil {
		return lfslock.VerifyResponse{}, ErrLocksUnavailable
	}
	return e.Locks.Verify(ctx, req)
}

// VerifyAllLocks follows verify cursors until the server reports no more
// pages.
func (e *Engine) VerifyAllLocks(ctx context.Context, ref string) (lfslock.VerifyResponse, error) {
	if e.Locks == nil {
		return lfslock.VerifyResponse{}, ErrLocksUnavailable
	}
	return e.Locks.VerifyAll(ctx, ref)
}

// ListLocks lists every lock, or only the lock on path when it is set.
func (e *Engine) ListLocks(ctx context.Context, path string) ([]lfslock.Lock, error) {
	if e.Locks == nil {
		return nil, ErrLocksUnavailable
	}
	return e.Locks.List(ctx, path)
}

func (e *Engine) ListSnapshots(ctx context.Context, all bool) ([]snapshot.Snapshot, error) {
	if err := e.Queue.Barrier(ctx); err != nil {
		return nil, err
	}
	return e.Snapshots.List(ctx, all)
}

// SaveSnapshot captures req.Files, or every modified file when empty.
func (e *Engine) SaveSnapshot(ctx context.Context, req snapshot.SaveRequest) (snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	save := queue.Func("snapshot save", func(ctx context.Context) error {
		if len(req.Files) == 0 {
			req.Files = e.store().Load().ModifiedPaths()
			if len(req.Files) == 0 {
				return precondition("snapshot save", ErrNothingToSnapshot, "no modified files")
			}
		}
		if err := e.waitIndexLock(ctx, "snapshot save"); err != nil {
			return err
		}
		var err error
		snap, err = e.Snapshots.Save(ctx, req)
		return err
	})
	tasks := []queue.Task{save, e.refresh(true)}
	if len(req.Files) == 0 {
		tasks = append([]queue.Task{e.refresh(true)}, tasks...)
	}
	err := e.submit(ctx, tasks...)
	return snap, err
}

// RestoreSnapshot restores id. modified is the caller's view of the changed
// files; nil uses a freshly computed status.
func (e *Engine) RestoreSnapshot(ctx context.Context, id string, modified []string) error {
	restore := queue.Func("snapshot restore", func(ctx context.Context) error {
		files := modified
		if files == nil {
			files = e.store().Load().ModifiedPaths()
		}
		if err := e.waitIndexLock(ctx, "snapshot restore"); err != nil {
			return err
		}
		return e.Snapshots.Restore(ctx, id, files)
	})
	tasks := []queue.Task{restore, e.refresh(true)}
	if modified == nil {
		tasks = append([]queue.Task{e.refresh(true)}, tasks...)
	}
	return e.submit(ctx, tasks...)
}

func (e *Engine) DeleteSnapshot(ctx context.Context, id string) error {
	return e.submit(ctx, queue.Func("snapshot delete", func(ctx context.Context) error {
		return e.Snapshots.Delete(ctx, id)
	}))
}

// SnapshotFiles lists the paths id contains.
func (e *Engine) SnapshotFiles(ctx context.Context, id string) ([]string, error) {
	if err := e.Queue.Barrier(ctx); err != nil {
		return nil, err
	}
	return e.Snapshots.Files(ctx, id)
}

// PreviewSnapshot diffs a snapshot's version of path against the working
// tree.
func (e *Engine) PreviewSnapshot(ctx context.Context, id, path string) (string, error) {
	if err := e.Queue.Barrier(ctx); err != nil {
		return "", err
	}
	return e.Snapshots.Preview(ctx, id, path)
}

// RebaseStatus inspects rebase markers without running git.
func (e *Engine) RebaseStatus() rebase.State {
	return e.Deps.Rebase.Status()
}

// FixRebase remediates an interrupted rebase. confirm gates destructive
// strategies and may be nil.
func (e *Engine) FixRebase(ctx context.Context, confirm rebase.ConfirmFunc) (rebase.Outcome, error) {
	var out rebase.Outcome
	err := e.submit(ctx, queue.Func("rebase fix", func(ctx context.Context) error {
		var err error
		out, err = e.Deps.Rebase.Remediate(ctx, confirm)
		return err
	}), e.refresh(true))
	return out, err
}

// waitIndexLock waits a bounded number of fixed delays for a stale
// index.lock, which background maintenance may hold, to disappear.
func (e *Engine) waitIndexLock(ctx context.Context, op string) error {
	if e.GitDir == "" {
		return nil
	}
	lock := filepath.Join(e.GitDir, "index.lock")
	for attempt := 0; ; attempt++ {
		_, err := os.Stat(lock)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt+1 >= e.cfg.IndexLockAttempts {
			return precondition(op, ErrIndexLocked, "%s exists; another git process is running or crashed", lock)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.IndexLockDelay):
		}
	}
}

func (e *Engine) progress(msg string) {
	if e.Progress == nil {
		return
	}
	select {
	case e.Progress <- msg:
	default:
	}
}
