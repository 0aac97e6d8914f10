package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitk-sync/internal/maintenance"
	"github.com/thiagokokada/gitk-sync/internal/status"
	"github.com/thiagokokada/gitk-sync/internal/watch"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the task worker, background maintenance and the file watcher",
		Long: `serve keeps one repository in sync until interrupted: the task worker
executes queued git work, maintenance fetches and runs git maintenance on
a schedule, and the watcher refreshes the cached status when files change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}
}

// serve blocks until ctx is cancelled or a component fails.
func (a *app) serve(ctx context.Context) error {
	components, err := a.components()
	if err != nil {
		return err
	}
	p := pool.New().WithContext(ctx).WithCancelOnError()
	for _, run := range components {
		p.Go(run)
	}

	// the first refresh fetches so the trunk distance is current
	a.queue.SubmitDetached(status.RefreshTask{Engine: a.status})
	slog.Info("serving", slog.String("root", a.runner.Dir()),
		slog.Bool("maintenance", a.cfg.Maintenance.Enabled), slog.Bool("watch", a.cfg.Watch.Enabled))

	err = p.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// components builds every long running loop of serve. Nothing is started
// here, so a construction error leaves no goroutine behind.
func (a *app) components() ([]func(context.Context) error, error) {
	components := []func(context.Context) error{
		a.worker.Run,
		func(ctx context.Context) error {
			a.printProgressLog(ctx)
			return nil
		},
	}
	if a.cfg.Maintenance.Enabled {
		m, err := maintenance.New(a.runner, maintenance.Config{
			Remote:              a.cfg.Repo.Remote,
			FetchInterval:       a.cfg.Maintenance.FetchInterval,
			MaintenanceInterval: a.cfg.Maintenance.Interval,
			Tasks:               a.cfg.Maintenance.Tasks,
		})
		if err != nil {
			return nil, err
		}
		components = append(components, m.Run)
	}
	if a.cfg.Watch.Enabled {
		w := watch.New(a.runner.Dir(), a.gitDir, a.suppress, a.cfg.Watch.Debounce, func() {
			id := a.queue.SubmitDetached(a.refreshTask())
			slog.Debug("status refresh queued", slog.String("sequence", id.String()))
		})
		components = append(components, w.Run)
	}
	return components, nil
}

func (a *app) printProgressLog(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.progress:
			slog.Info("progress", slog.String("message", msg))
		}
	}
}
