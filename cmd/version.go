package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/gitk-sync/internal/buildinfo"
	"github.com/thiagokokada/gitk-sync/internal/git"
)

type versionReport struct {
	Build      buildinfo.Info `yaml:"build"`
	Go         string         `yaml:"go"`
	Platform   string         `yaml:"platform"`
	Git        string         `yaml:"git,omitempty"`
	GitLFS     string         `yaml:"git_lfs,omitempty"`
	MinimumGit string         `yaml:"minimum_git"`
}

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information for gitk-sync, git and git-lfs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := versionReport{
				Build:      buildinfo.Read(),
				Go:         runtime.Version(),
				Platform:   runtime.GOOS + "/" + runtime.GOARCH,
				MinimumGit: git.MinGitVersion(),
			}
			// missing tools are reported, not fatal
			if v, err := git.GitVersion(); err == nil {
				r.Git = v
			}
			if v, err := git.LFSVersion(); err == nil {
				r.GitLFS = v
			}

			p := opts.printer(cmd.OutOrStdout())
			if p.yaml {
				return p.encode(r)
			}
			p.line("%s %s (%s, %s)", buildinfo.Name, r.Build, r.Go, r.Platform)
			p.line("%s", orMissing(r.Git, "git"))
			p.line("%s", orMissing(r.GitLFS, "git-lfs"))
			p.line("minimum supported git: %s", r.MinimumGit)
			return nil
		},
	}
}

func orMissing(v, name string) string {
	if v == "" {
		return name + ": not found"
	}
	return v
}
