package git

import (
	"context"
	"strconv"
	"strings"
)

// FileSection marks where a file's hunk block starts in diff text.
type FileSection struct {
	Path string `json:"path" yaml:"path"`
	Line int    `json:"line" yaml:"line"`
}

// DiffOptions selects what Diff compares.
type DiffOptions struct {
	// From and To are revisions. Empty From diffs against the worktree (or
	// the index when Staged is set).
	From   string
	To     string
	Staged bool
	Paths  []string
}

// Diff returns unified diff text together with its file sections.
func Diff(ctx context.Context, exec Executor, opts DiffOptions) (string, []FileSection, error) {
	args := []string{"diff", "--no-color", "--no-ext-diff"}
	if opts.Staged {
		args = append(args, "--cached")
	}
	if opts.From != "" {
		args = append(args, opts.From)
	}
	if opts.To != "" {
		args = append(args, opts.To)
	}
	if len(opts.Paths) > 0 {
		args = append(args, "--")
		args = append(args, opts.Paths...)
	}
	out, err := exec.Run(ctx, args, RunOptions{AllowExitCodes: []int{1}})
	if err != nil {
		return "", nil, err
	}
	return out.Stdout, parseDiffSections(out.Stdout), nil
}

// parseDiffSections records the 1-based line of every "diff --git" header.
func parseDiffSections(diffText string) []FileSection {
	var sections []FileSection
	n := 0
	for line := range strings.Lines(diffText) {
		n++
		rest, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "diff --git ")
		if !ok {
			continue
		}
		_, post, ok := splitDiffHeader(rest)
		if ok && post != "" {
			sections = append(sections, FileSection{Path: post, Line: n})
		}
	}
	return sections
}

// splitDiffHeader splits `a/x b/y` into its pre and post image paths.
// Paths with unusual characters are C-quoted by git.
func splitDiffHeader(s string) (pre, post string, ok bool) {
	// unquoted paths may contain spaces; same-path headers split in half
	if n := len(s); n%2 == 1 && strings.HasPrefix(s, "a/") {
		mid := n / 2
		if s[mid] == ' ' && strings.HasPrefix(s[mid+1:], "b/") && s[2:mid] == s[mid+3:] {
			return s[2:mid], s[mid+3:], true
		}
	}
	pre, s, ok = nextDiffPath(s)
	if !ok {
		return "", "", false
	}
	post, _, ok = nextDiffPath(s)
	return pre, post, ok
}

func nextDiffPath(s string) (path, rest string, ok bool) {
	s = strings.TrimLeft(s, " \t")
	if s == "" {
		return "", "", false
	}
	if s[0] == '"' {
		end := 1
		for end < len(s) && s[end] != '"' {
			if s[end] == '\\' {
				end++
			}
			end++
		}
		if end >= len(s) {
			return "", "", false
		}
		unquoted, err := strconv.Unquote(s[:end+1])
		if err != nil {
			return "", "", false
		}
		return stripSidePrefix(unquoted), s[end+1:], true
	}
	path, rest, _ = strings.Cut(s, " ")
	return stripSidePrefix(path), rest, true
}

func stripSidePrefix(p string) string {
	if len(p) > 2 && (p[:2] == "a/" || p[:2] == "b/") {
		return p[2:]
	}
	return p
}

// diffLineCode strips the +/-/space marker from a hunk body line.
func diffLineCode(line string) (string, bool) {
	if line == "" {
		return "", false
	}
	switch line[0] {
	case '+', '-', ' ':
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			return "", false
		}
		return line[1:], true
	default:
		return "", false
	}
}
