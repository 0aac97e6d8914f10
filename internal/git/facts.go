package git

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

// Facts answers read-only questions about repository configuration and
// history without spawning git.
type Facts struct {
	repo *gitlib.Repository
	root string
}

// OpenFacts opens the repository at root with go-git.
func OpenFacts(root string) (*Facts, error) {
	repo, err := gitlib.PlainOpenWithOptions(root, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return &Facts{repo: repo, root: root}, nil
}

// RemoteURL returns the first fetch URL of the named remote.
func (f *Facts) RemoteURL(name string) (string, error) {
	remote, err := f.repo.Remote(name)
	if err != nil {
		return "", fmt.Errorf("remote %s: %w", name, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %s has no url", name)
	}
	return urls[0], nil
}

// UserName returns user.name with system/global/local precedence.
func (f *Facts) UserName() string {
	cfg, err := f.repo.ConfigScoped(config.GlobalScope)
	if err != nil {
		return ""
	}
	return cfg.User.Name
}

// ConfigValue reads "section.key" or "section.subsection.key" from the
// repository configuration.
func (f *Facts) ConfigValue(key string) string {
	cfg, err := f.repo.Config()
	if err != nil {
		return ""
	}
	parts := strings.Split(key, ".")
	switch len(parts) {
	case 2:
		return cfg.Raw.Section(parts[0]).Option(parts[1])
	case 3:
		return cfg.Raw.Section(parts[0]).Subsection(parts[1]).Option(parts[2])
	default:
		return ""
	}
}

// FileStat is one file touched by a commit.
type FileStat struct {
	Path      string `json:"path" yaml:"path"`
	Additions int    `json:"additions" yaml:"additions"`
	Deletions int    `json:"deletions" yaml:"deletions"`
}

// CommitFiles lists the files changed by a commit relative to its first
// parent.
func (f *Facts) CommitFiles(rev string) ([]FileStat, error) {
	hash, err := f.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rev, err)
	}
	commit, err := f.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", rev, err)
	}
	stats, err := commit.Stats()
	if err != nil {
		return nil, fmt.Errorf("commit stats %s: %w", rev, err)
	}
	files := make([]FileStat, 0, len(stats))
	for _, st := range stats {
		files = append(files, FileStat{Path: st.Name, Additions: st.Addition, Deletions: st.Deletion})
	}
	return files, nil
}

// ParseOwnerRepo extracts "owner" and "repo" from https, ssh and scp-like
// remote URLs.
func ParseOwnerRepo(remoteURL string) (owner, repo string, err error) {
	raw := strings.TrimSpace(remoteURL)
	if raw == "" {
		return "", "", errors.New("empty remote url")
	}
	var path string
	if strings.Contains(raw, "://") {
		u, perr := url.Parse(raw)
		if perr != nil {
			return "", "", fmt.Errorf("parse remote url: %w", perr)
		}
		path = u.Path
	} else if _, after, ok := strings.Cut(raw, ":"); ok {
		// git@github.com:owner/repo.git
		path = after
	} else {
		return "", "", fmt.Errorf("unsupported remote url %q", remoteURL)
	}
	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("remote url %q has no owner/repo", remoteURL)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

// ResolveGitDir returns the metadata directory of the worktree at root,
// following the "gitdir:" indirection used by linked worktrees and
// submodules.
func ResolveGitDir(root string) (string, error) {
	dotGit := filepath.Join(root, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", fmt.Errorf("stat .git: %w", err)
	}
	if info.IsDir() {
		return dotGit, nil
	}
	content, err := os.ReadFile(dotGit)
	if err != nil {
		return "", fmt.Errorf("read .git file: %w", err)
	}
	line := strings.TrimSpace(string(content))
	dir, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", fmt.Errorf("%s is not a git directory or gitdir file", dotGit)
	}
	dir = strings.TrimSpace(dir)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return filepath.Clean(dir), nil
}
