package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitk-sync/internal/config"
	"github.com/thiagokokada/gitk-sync/internal/engine"
	"github.com/thiagokokada/gitk-sync/internal/git"
	"github.com/thiagokokada/gitk-sync/internal/lfslock"
	"github.com/thiagokokada/gitk-sync/internal/queue"
	"github.com/thiagokokada/gitk-sync/internal/rebase"
	"github.com/thiagokokada/gitk-sync/internal/snapshot"
	"github.com/thiagokokada/gitk-sync/internal/status"
)

// app owns every component bound to one repository.
type app struct {
	cfg      config.Config
	runner   *git.Runner
	gitDir   string
	queue    *queue.Queue
	worker   *queue.Worker
	suppress *atomic.Bool
	status   *status.Engine
	engine   *engine.Engine
	progress chan string
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	runner, err := git.OpenRunner(ctx, cfg.Repo.Path)
	if err != nil {
		return nil, err
	}
	root := runner.Dir()
	gitDir, err := git.ResolveGitDir(root)
	if err != nil {
		return nil, err
	}

	// go-git may not understand every repository layout; the engine then
	// runs without owner/repo and commit stats
	var facts *git.Facts
	var statusFacts status.Facts
	if f, err := git.OpenFacts(root); err != nil {
		slog.Warn("repository metadata unavailable", slog.String("root", root), slog.Any("error", err))
	} else {
		facts, statusFacts = f, f
	}

	locks, err := newLockClient(cfg.LFS, cfg.Repo.Remote, facts)
	if err != nil {
		return nil, err
	}

	diag := rebase.New(gitDir, runner)
	store := status.NewStore()
	st := status.NewEngine(runner, store, statusFacts, diag, cfg.Repo.Remote, cfg.Repo.Trunk)
	q := queue.New()
	suppress := &atomic.Bool{}
	progress := make(chan string, 64)

	deps := engine.Deps{
		Exec:      runner,
		GitDir:    gitDir,
		Queue:     q,
		Status:    st,
		Snapshots: snapshot.New(runner, root),
		Rebase:    diag,
		Locks:     locks,
		Facts:     facts,
		Progress:  progress,
	}
	return &app{
		cfg:      cfg,
		runner:   runner,
		gitDir:   gitDir,
		queue:    q,
		worker:   queue.NewWorker(q, suppress),
		suppress: suppress,
		status:   st,
		engine:   engine.New(engineConfig(cfg), deps),
		progress: progress,
	}, nil
}

// newCloneApp wires only what clone needs; there is no repository yet.
func newCloneApp(cfg config.Config) *app {
	q := queue.New()
	progress := make(chan string, 64)
	runner := git.NewRunner("")
	return &app{
		cfg:      cfg,
		runner:   runner,
		queue:    q,
		worker:   queue.NewWorker(q, nil),
		engine:   engine.New(engineConfig(cfg), engine.Deps{Exec: runner, Queue: q, Progress: progress}),
		progress: progress,
	}
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		Remote:            cfg.Repo.Remote,
		Trunk:             cfg.Repo.Trunk,
		IndexLockAttempts: cfg.IndexLock.Attempts,
		IndexLockDelay:    cfg.IndexLock.Delay,
		LFSPullAfter:      cfg.LFS.PullAfter,
	}
}

// newLockClient returns nil when no LFS endpoint can be derived; lock
// commands then report that locking is not configured.
func newLockClient(cfg config.LFS, remote string, facts *git.Facts) (*lfslock.Client, error) {
	lfsURL := cfg.URL
	var remoteURL string
	if facts != nil {
		if lfsURL == "" {
			lfsURL = facts.ConfigValue("lfs.url")
		}
		remoteURL, _ = facts.RemoteURL(remote)
	}
	endpoint, err := lfslock.Endpoint(lfsURL, remoteURL)
	if err != nil {
		slog.Debug("lfs locking disabled", slog.Any("error", err))
		return nil, nil
	}
	client, err := lfslock.New(lfslock.Config{
		Endpoint:     endpoint,
		Credentials:  lfslock.StaticToken(cfg.Token),
		Username:     cfg.Username,
		Ref:          cfg.Ref,
		DisplayNames: cfg.DisplayNames,
		PageSize:     cfg.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("lfs lock client: %w", err)
	}
	return client, nil
}

// start runs the worker and progress printer until the returned stop
// function is called.
func (a *app) start(ctx context.Context, progressOut io.Writer) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg conc.WaitGroup
	wg.Go(func() {
		if err := a.worker.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("worker stopped", slog.Any("error", err))
		}
	})
	wg.Go(func() { a.printProgress(ctx, progressOut) })
	return func() {
		cancel()
		wg.Wait()
	}
}

func (a *app) printProgress(ctx context.Context, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.progress:
			fmt.Fprintln(w, msg)
		}
	}
}

// withApp opens the repository, runs fn with a live worker and stops the
// worker afterwards.
func (o *options) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, o.cfg)
	if err != nil {
		return err
	}
	stop := a.start(ctx, cmd.ErrOrStderr())
	defer stop()
	return fn(ctx, a)
}

// refreshTask recomputes the status without fetching.
func (a *app) refreshTask() queue.Task {
	return status.RefreshTask{Engine: a.status, Options: status.Options{SkipFetch: true}}
}
