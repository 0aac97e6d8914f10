package cmd

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitk-sync/internal/lfslock"
)

func newLockCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lock <path>...",
		Short: "Acquire Git LFS locks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.engine.Lock(ctx, args)
				if err != nil {
					return err
				}
				return printBatch(opts.printer(cmd.OutOrStdout()), "lock", "locked", res)
			})
		},
	}
}

func newUnlockCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "unlock <path>...",
		Short: "Release Git LFS locks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.engine.Unlock(ctx, args, force)
				if err != nil {
					return err
				}
				return printBatch(opts.printer(cmd.OutOrStdout()), "unlock", "unlocked", res)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "release locks owned by someone else")
	return cmd
}

// printBatch reports res and turns failures into a *BatchError.
func printBatch(p printer, op, verb string, res lfslock.BatchResult) error {
	if p.yaml {
		if err := p.encode(res); err != nil {
			return err
		}
	} else {
		for _, path := range res.Paths {
			p.line("%s %s", p.style(okStyle, verb), path)
		}
		for _, f := range res.Failures {
			p.line("%s %s: %s", p.style(errStyle, "failed"), f.Path, f.Reason)
		}
	}
	if !res.OK() {
		return &BatchError{Op: op, Failures: res.Failures}
	}
	return nil
}

func newLocksCmd(opts *options) *cobra.Command {
	var (
		path   string
		ref    string
		cursor string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "List Git LFS locks split into ours and theirs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				p := opts.printer(cmd.OutOrStdout())
				if path != "" {
					locks, err := a.engine.ListLocks(ctx, path)
					if err != nil {
						return err
					}
					if p.yaml {
						return p.encode(locks)
					}
					printLocks(p, "", locks)
					return nil
				}

				var (
					resp lfslock.VerifyResponse
					err  error
				)
				if cursor != "" || cmd.Flags().Changed("limit") {
					resp, err = a.engine.VerifyLocks(ctx, lfslock.VerifyRequest{Cursor: cursor, Limit: limit, Ref: ref})
				} else {
					resp, err = a.engine.VerifyAllLocks(ctx, ref)
				}
				if err != nil {
					return err
				}
				if p.yaml {
					return p.encode(resp)
				}
				printLocks(p, "Ours:", resp.Ours)
				printLocks(p, "Theirs:", resp.Theirs)
				if resp.NextCursor != "" {
					p.line("%s", p.style(dimStyle, "More locks: --cursor "+resp.NextCursor))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "show only the lock on this path")
	cmd.Flags().StringVar(&ref, "ref", "", "lock ref, e.g. refs/heads/main (default from config)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")
	cmd.Flags().IntVar(&limit, "limit", lfslock.DefaultPageSize, "page size; setting it fetches a single page")
	return cmd
}

func printLocks(p printer, heading string, locks []lfslock.Lock) {
	if heading != "" {
		p.line("%s", p.style(headingStyle, heading))
	}
	if len(locks) == 0 {
		p.line("  %s", p.style(dimStyle, "none"))
		return
	}
	for _, l := range locks {
		owner := l.DisplayName
		if owner == "" && l.Owner != nil {
			owner = l.Owner.Name
		}
		p.line("  %s  %s  %s", l.Path, owner, p.style(dimStyle, humanize.Time(l.LockedAt)))
	}
}
