// Package cmd is the gitk-sync command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitk-sync/internal/buildinfo"
	"github.com/thiagokokada/gitk-sync/internal/config"
	"github.com/thiagokokada/gitk-sync/internal/logging"
)

// options are the persistent flags plus the configuration they resolve to.
type options struct {
	repo       string
	configFile string
	output     string
	logLevel   string
	noColor    bool

	cfg config.Config
}

// Run executes the command line against os.Args and returns the error the
// process should exit with.
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := NewRootCmd()
	root.SetArgs(os.Args[1:])
	return root.ExecuteContext(ctx)
}

func NewRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   buildinfo.Name,
		Short: "Background git and Git LFS orchestration",
		Long: `gitk-sync serialises git operations on one repository through a task
queue, keeps a cached repository status, coordinates Git LFS file locks
and manages partial snapshots of the working tree.`,
		// main prints the error and picks the exit code
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.repo, "repo", "C", "", "repository path (default from config or the current directory)")
	flags.StringVar(&opts.configFile, "config", "", "config file (default gitk-sync.yaml in the repository or user config dir)")
	flags.StringVarP(&opts.output, "output", "o", "text", "output format: text or yaml")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable coloured output")

	cmd.AddCommand(
		newServeCmd(opts),
		newStatusCmd(opts),
		newPullCmd(opts),
		newPushCmd(opts),
		newCheckoutCmd(opts),
		newCloneCmd(opts),
		newRebaseCmd(opts),
		newLogCmd(opts),
		newDiffCmd(opts),
		newShowCmd(opts),
		newLockCmd(opts),
		newUnlockCmd(opts),
		newLocksCmd(opts),
		newSnapshotCmd(opts),
		newVersionCmd(opts),
	)
	return cmd
}

func (o *options) load(cmd *cobra.Command) error {
	switch o.output {
	case "text", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}
	lookup := o.repo
	if lookup == "" {
		lookup = "."
	}
	cfg, err := config.Load(lookup, o.configFile)
	if err != nil {
		return err
	}
	if o.repo != "" {
		cfg.Repo.Path = o.repo
	}
	level := cfg.Log.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	if _, err := logging.Setup(cmd.ErrOrStderr(), level, cfg.Log.Format); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}
