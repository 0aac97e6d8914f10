package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitk-sync/internal/engine"
	"github.com/thiagokokada/gitk-sync/internal/git"
	"github.com/thiagokokada/gitk-sync/internal/rebase"
	"github.com/thiagokokada/gitk-sync/internal/status"
)

func newStatusCmd(opts *options) *cobra.Command {
	var fetch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show branch, sync and working tree status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				// a fresh process has no cached status yet
				st, err := a.engine.Status(ctx, engine.StatusOptions{Refresh: true, SkipFetch: !fetch})
				if err != nil {
					return err
				}
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					return p.encode(st)
				}
				printStatus(p, st, a.cfg.Repo.Remote+"/"+a.cfg.Repo.Trunk)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fetch, "fetch", false, "fetch the remote before computing the status")
	return cmd
}

func printStatus(p printer, st status.RepoStatus, trunk string) {
	switch {
	case st.Detached:
		p.line("HEAD detached at %s", shortHash(st.HeadCommit))
	default:
		p.line("On branch %s", p.style(headingStyle, st.Branch))
	}
	if st.Upstream != "" {
		p.line("Tracking %s: ahead %d, behind %d", st.Upstream, st.CommitsAhead, st.CommitsBehind)
	}
	if st.CommitsBehindTrunk > 0 {
		p.line("%s", p.style(warnStyle, fmt.Sprintf("%d commits behind %s", st.CommitsBehindTrunk, trunk)))
	}
	if st.RebaseInProgress {
		p.line("%s", p.style(errStyle, "Rebase in progress; run 'gitk-sync rebase fix' to recover"))
	}
	if len(st.Conflicts) > 0 {
		p.line("%s", p.style(headingStyle, "Conflicts:"))
		for _, path := range st.Conflicts {
			p.line("  %s", p.style(errStyle, path))
		}
	}
	if len(st.ModifiedFiles) > 0 {
		p.line("%s", p.style(headingStyle, "Changes:"))
		for _, f := range st.ModifiedFiles {
			kind := f.Worktree
			if kind == git.ChangeNone {
				kind = f.Index
			}
			staged := ""
			if f.Staged() {
				staged = p.style(okStyle, " (staged)")
			}
			p.line("  %-10s %s%s", kind, f.Path, staged)
		}
	}
	if len(st.Untracked) > 0 {
		p.line("%s", p.style(headingStyle, "Untracked:"))
		for _, path := range st.Untracked {
			p.line("  %s", path)
		}
	}
	if len(st.Conflicts)+len(st.ModifiedFiles)+len(st.Untracked) == 0 {
		p.line("%s", p.style(okStyle, "Working tree clean"))
	}
	if !st.UpdatedAt.IsZero() {
		p.line("%s", p.style(dimStyle, "Updated "+humanize.Time(st.UpdatedAt)))
	}
}

func shortHash(h string) string {
	if len(h) > 10 {
		return h[:10]
	}
	return h
}

// runMutation runs op and prints the status that results from it.
func runMutation(opts *options, cmd *cobra.Command, done string, op func(ctx context.Context, a *app) error) error {
	return opts.withApp(cmd, func(ctx context.Context, a *app) error {
		if err := op(ctx, a); err != nil {
			return err
		}
		st, err := a.engine.Status(ctx, engine.StatusOptions{})
		if err != nil {
			return err
		}
		p := opts.printer(cmd.OutOrStdout())
		if p.yaml {
			return p.encode(st)
		}
		p.line("%s", p.style(okStyle, done))
		printStatus(p, st, a.cfg.Repo.Remote+"/"+a.cfg.Repo.Trunk)
		return nil
	})
}

func newPullCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Rebase the current branch onto the remote trunk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMutation(opts, cmd, "Pull finished", func(ctx context.Context, a *app) error {
				return a.engine.Pull(ctx)
			})
		},
	}
}

func newPushCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push the current branch and set its upstream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMutation(opts, cmd, "Push finished", func(ctx context.Context, a *app) error {
				return a.engine.Push(ctx)
			})
		},
	}
}

func newCheckoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <branch>",
		Short: "Switch to a local or remote branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(opts, cmd, "Switched to "+args[0], func(ctx context.Context, a *app) error {
				return a.engine.Checkout(ctx, args[0])
			})
		},
	}
}

func newCloneCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clone <url> [dir]",
		Short: "Clone a repository and enable Git LFS in it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cloneDir(args)
			if err != nil {
				return err
			}
			a := newCloneApp(opts.cfg)
			stop := a.start(cmd.Context(), cmd.ErrOrStderr())
			defer stop()
			if err := a.engine.Clone(cmd.Context(), args[0], dir); err != nil {
				return err
			}
			p := opts.printer(cmd.OutOrStdout())
			if p.yaml {
				return p.encode(map[string]string{"url": args[0], "dir": dir})
			}
			p.line("%s", p.style(okStyle, "Cloned into "+dir))
			return nil
		},
	}
}

func cloneDir(args []string) (string, error) {
	if len(args) == 2 {
		return args[1], nil
	}
	if _, repo, err := git.ParseOwnerRepo(args[0]); err == nil {
		return repo, nil
	}
	base := strings.TrimSuffix(filepath.Base(strings.TrimRight(args[0], "/")), ".git")
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("cannot derive a directory from %q", args[0])
	}
	return base, nil
}

func newRebaseCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebase",
		Short: "Fetch and rebase the current branch onto the remote trunk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMutation(opts, cmd, "Rebase finished", func(ctx context.Context, a *app) error {
				return a.engine.Rebase(ctx)
			})
		},
	}
	cmd.AddCommand(newRebaseStatusCmd(opts), newRebaseFixCmd(opts))
	return cmd
}

func newRebaseStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether an interrupted rebase is left behind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(_ context.Context, a *app) error {
				state := a.engine.RebaseStatus()
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					return p.encode(state)
				}
				if !state.RebaseInProgress {
					p.line("%s", p.style(okStyle, "No rebase in progress"))
					return nil
				}
				p.line("%s", p.style(errStyle, "Rebase in progress"))
				if !state.HeadMarkerPresent {
					p.line("The rebase has no head-name marker; 'rebase fix' will likely need --quit")
				}
				return nil
			})
		},
	}
}

func newRebaseFixCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "fix",
		Short: "Recover from an interrupted rebase (abort, then quit)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				out, err := a.engine.FixRebase(ctx, confirmDestructive(yes))
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					if encErr := p.encode(out); encErr != nil {
						return encErr
					}
					return err
				}
				for _, at := range out.Attempts {
					if at.Error != "" {
						p.line("git rebase --%s: %s", at.Strategy, p.style(errStyle, at.Error))
					}
				}
				if err != nil {
					var fatal *rebase.FatalError
					if errors.As(err, &fatal) {
						p.line("%s", p.style(errStyle, "Every recovery strategy failed; resolve the rebase by hand"))
					}
					return err
				}
				if out.Applied == "" {
					p.line("%s", p.style(okStyle, "No rebase in progress"))
					return nil
				}
				p.line("%s", p.style(okStyle, "Recovered with git rebase --"+out.Applied))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "run destructive strategies without asking")
	return cmd
}

// confirmDestructive asks on a terminal before a destructive strategy.
// Without a terminal only --yes allows it.
func confirmDestructive(yes bool) rebase.ConfirmFunc {
	return func(ctx context.Context, next rebase.Strategy, previous error) bool {
		if yes {
			return true
		}
		if !isTerminal(os.Stdin) {
			return false
		}
		desc := "This drops the rebase state and leaves HEAD where it is."
		if previous != nil {
			desc = fmt.Sprintf("The previous attempt failed: %v\n%s", previous, desc)
		}
		var confirmed bool
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Run git rebase --%s?", next.Name)).
				Description(desc).
				Value(&confirmed),
		))
		if err := form.RunWithContext(ctx); err != nil {
			return false
		}
		return confirmed
	}
}

func newLogCmd(opts *options) *cobra.Command {
	var lo git.LogOptions
	cmd := &cobra.Command{
		Use:   "log [ref] [-- paths...]",
		Short: "List commits newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			revs, paths := splitAtDash(cmd, args)
			if len(revs) > 1 {
				return fmt.Errorf("log takes at most one ref, got %d", len(revs))
			}
			if len(revs) == 1 {
				lo.Ref = revs[0]
			}
			lo.Paths = paths
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				commits, err := a.engine.Log(ctx, lo)
				if err != nil {
					return err
				}
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					return p.encode(commits)
				}
				for _, c := range commits {
					p.line("%s %s %s %s",
						p.style(warnStyle, shortHash(c.Hash)),
						p.style(dimStyle, humanize.Time(c.Author.When)),
						p.style(headingStyle, c.Author.Name),
						c.Summary())
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&lo.Limit, "limit", "n", git.DefaultLogLimit, "maximum number of commits")
	cmd.Flags().IntVar(&lo.Skip, "skip", 0, "skip this many commits first")
	return cmd
}

func newDiffCmd(opts *options) *cobra.Command {
	var do git.DiffOptions
	cmd := &cobra.Command{
		Use:   "diff [from [to]] [-- paths...]",
		Short: "Show changes in the working tree, the index or between revisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			revs, paths := splitAtDash(cmd, args)
			if len(revs) > 2 {
				return fmt.Errorf("diff takes at most two revisions, got %d", len(revs))
			}
			if len(revs) > 0 {
				do.From = revs[0]
			}
			if len(revs) > 1 {
				do.To = revs[1]
			}
			do.Paths = paths
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.engine.Diff(ctx, do)
				if err != nil {
					return err
				}
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					return p.encode(res)
				}
				text := res.Text
				if p.styled {
					text = git.HighlightDiff(text, lipgloss.HasDarkBackground())
				}
				fmt.Fprint(p.w, text)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&do.Staged, "staged", false, "diff the index instead of the working tree")
	return cmd
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <rev>",
		Short: "List the files a commit changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				files, err := a.engine.ShowCommitFiles(ctx, args[0])
				if err != nil {
					return err
				}
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					return p.encode(files)
				}
				for _, f := range files {
					p.line("%s %s %s",
						p.style(okStyle, fmt.Sprintf("+%-5d", f.Additions)),
						p.style(errStyle, fmt.Sprintf("-%-5d", f.Deletions)),
						f.Path)
				}
				return nil
			})
		},
	}
}

// splitAtDash separates revisions from the paths given after "--".
func splitAtDash(cmd *cobra.Command, args []string) (revs, paths []string) {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		return args, nil
	}
	return args[:dash], args[dash:]
}
