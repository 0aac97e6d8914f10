package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitk-sync/internal/git"
	"github.com/thiagokokada/gitk-sync/internal/snapshot"
)

func newSnapshotCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot",
		Aliases: []string{"snap"},
		Short:   "Save and restore partial snapshots of the working tree",
	}
	cmd.AddCommand(
		newSnapshotListCmd(opts),
		newSnapshotSaveCmd(opts),
		newSnapshotRestoreCmd(opts),
		newSnapshotDeleteCmd(opts),
		newSnapshotFilesCmd(opts),
		newSnapshotPreviewCmd(opts),
	)
	return cmd
}

func newSnapshotListCmd(opts *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				snaps, err := a.engine.ListSnapshots(ctx, all)
				if err != nil {
					return err
				}
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					return p.encode(snaps)
				}
				if len(snaps) == 0 {
					p.line("%s", p.style(dimStyle, "No snapshots"))
					return nil
				}
				for _, s := range snaps {
					p.line("%s %s %s %s", p.style(warnStyle, shortHash(s.ID)), s.Ref,
						p.style(dimStyle, humanize.Time(s.CreatedAt)), s.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include stash entries not created by gitk-sync")
	return cmd
}

func newSnapshotSaveCmd(opts *options) *cobra.Command {
	var (
		message string
		index   string
	)
	cmd := &cobra.Command{
		Use:   "save [path...]",
		Short: "Snapshot the given files, or every modified file",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := snapshot.ParseIndexOption(index)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				snap, err := a.engine.SaveSnapshot(ctx, snapshot.SaveRequest{Files: args, Message: message, Index: idx})
				if err != nil {
					return err
				}
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					return p.encode(snap)
				}
				p.line("%s %s %s", p.style(okStyle, "Saved"), shortHash(snap.ID), snap.Message)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "snapshot description")
	cmd.Flags().StringVar(&index, "index", snapshot.IndexPreserve.String(), "staged state after saving: preserve or clear")
	return cmd
}

func newSnapshotRestoreCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a snapshot over the files it contains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.engine.RestoreSnapshot(ctx, args[0], nil); err != nil {
					return err
				}
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					return p.encode(map[string]string{"restored": args[0]})
				}
				p.line("%s %s", p.style(okStyle, "Restored"), args[0])
				return nil
			})
		},
	}
}

func newSnapshotDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Drop a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.engine.DeleteSnapshot(ctx, args[0]); err != nil {
					return err
				}
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					return p.encode(map[string]string{"deleted": args[0]})
				}
				p.line("%s %s", p.style(okStyle, "Deleted"), args[0])
				return nil
			})
		},
	}
}

func newSnapshotFilesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "files <id>",
		Short: "List the files a snapshot contains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				files, err := a.engine.SnapshotFiles(ctx, args[0])
				if err != nil {
					return err
				}
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					return p.encode(files)
				}
				for _, f := range files {
					p.line("%s", f)
				}
				return nil
			})
		},
	}
}

func newSnapshotPreviewCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <id> <path>",
		Short: "Diff a snapshot's version of a file against the working tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				diff, err := a.engine.PreviewSnapshot(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				p := opts.printer(cmd.OutOrStdout())
				if p.yaml {
					return p.encode(map[string]string{"id": args[0], "path": args[1], "diff": diff})
				}
				if p.styled {
					diff = git.HighlightDiff(diff, lipgloss.HasDarkBackground())
				}
				fmt.Fprint(p.w, diff)
				return nil
			})
		},
	}
}
