// Package maintenance runs periodic fetch and repository housekeeping
// outside the task queue.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/thiagokokada/gitk-sync/internal/git"
)

// Config is fixed for the lifetime of a Runner.
type Config struct {
	Remote              string
	FetchInterval       time.Duration
	MaintenanceInterval time.Duration
	// Tasks selects "git maintenance" tasks (gc, commit-graph, ...). Empty
	// runs the auto heuristics.
	Tasks []string
}

type Runner struct {
	exec git.Executor
	cfg  Config
}

func New(exec git.Executor, cfg Config) (*Runner, error) {
	if cfg.FetchInterval <= 0 || cfg.MaintenanceInterval <= 0 {
		return nil, errors.New("maintenance intervals must be positive")
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	cfg.Tasks = append([]string(nil), cfg.Tasks...)
	return &Runner{exec: exec, cfg: cfg}, nil
}

// Run blocks until ctx is done. Failed iterations are logged and retried on
// the next tick; an error is returned only if a loop panicked.
func (r *Runner) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	wg.Go(func() { r.loop(ctx, "fetch", r.cfg.FetchInterval, r.Fetch) })
	wg.Go(func() { r.loop(ctx, "maintenance", r.cfg.MaintenanceInterval, r.Maintain) })
	if recovered := wg.WaitAndRecover(); recovered != nil {
		return fmt.Errorf("maintenance loop panicked: %w", recovered.AsError())
	}
	return nil
}

// Fetch runs one fetch with prune.
func (r *Runner) Fetch(ctx context.Context) error {
	_, err := r.exec.Run(ctx, []string{"fetch", "--prune", "--quiet", r.cfg.Remote}, git.RunOptions{})
	return err
}

// Maintain runs one round of repository maintenance.
func (r *Runner) Maintain(ctx context.Context) error {
	args := []string{"maintenance", "run", "--quiet"}
	if len(r.cfg.Tasks) == 0 {
		args = append(args, "--auto")
	}
	for _, task := range r.cfg.Tasks {
		args = append(args, "--task="+task)
	}
	_, err := r.exec.Run(ctx, args, git.RunOptions{})
	return err
}

func (r *Runner) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := fn(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("background "+name+" failed", slog.Any("error", err))
				continue
			}
			slog.Debug("background "+name+" finished", slog.Duration("duration", time.Since(start)))
		}
	}
}
