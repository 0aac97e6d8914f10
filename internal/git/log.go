package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Signature struct {
	Name  string    `json:"name" yaml:"name"`
	Email string    `json:"email" yaml:"email"`
	When  time.Time `json:"when" yaml:"when"`
}

type Commit struct {
	Hash         string    `json:"hash" yaml:"hash"`
	ParentHashes []string  `json:"parents,omitempty" yaml:"parents,omitempty"`
	Author       Signature `json:"author" yaml:"author"`
	Committer    Signature `json:"committer" yaml:"committer"`
	Message      string    `json:"message" yaml:"message"`
}

// Summary returns the first line of the commit message.
func (c Commit) Summary() string {
	return strings.SplitN(strings.TrimSpace(c.Message), "\n", 2)[0]
}

// LogOptions selects the commits returned by Log.
type LogOptions struct {
	Ref   string
	Limit int
	Skip  int
	Paths []string
}

// DefaultLogLimit caps Log when no limit is requested.
const DefaultLogLimit = 250

// NUL-delimited records; commit messages cannot contain NUL.
const logFormat = "%H%n%P%n%an%n%ae%n%aI%n%cn%n%ce%n%cI%n%B%x00"

// Log lists commits newest first.
func Log(ctx context.Context, exec Executor, opts LogOptions) ([]Commit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	args := []string{
		"--no-pager", "log",
		"--no-color", "--no-decorate", "--date-order", "--no-patch",
		"--max-count=" + strconv.Itoa(limit),
		// tformat avoids git log adding an extra newline after each record
		"--pretty=tformat:" + logFormat,
	}
	if opts.Skip > 0 {
		args = append(args, "--skip="+strconv.Itoa(opts.Skip))
	}
	if opts.Ref != "" {
		args = append(args, opts.Ref)
	}
	if len(opts.Paths) > 0 {
		args = append(args, "--")
		args = append(args, opts.Paths...)
	}
	out, err := exec.Run(ctx, args, RunOptions{})
	if err != nil {
		return nil, err
	}
	return parseLogOutput(out.Stdout)
}

func parseLogOutput(out string) ([]Commit, error) {
	var commits []Commit
	for rec := range strings.SplitSeq(out, "\x00") {
		// git prints a newline between records even when the format ends with NUL
		rec = strings.TrimLeft(rec, "\r\n")
		if rec == "" {
			continue
		}
		c, err := parseLogRecord(rec)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}

func parseLogRecord(rec string) (Commit, error) {
	parts := strings.Split(rec, "\n")
	if len(parts) < 8 {
		return Commit{}, fmt.Errorf("unexpected git log record: got %d lines", len(parts))
	}
	hash := strings.TrimSpace(parts[0])
	if hash == "" {
		return Commit{}, fmt.Errorf("missing commit hash")
	}
	var parents []string
	if line := strings.TrimSpace(parts[1]); line != "" {
		parents = strings.Fields(line)
	}
	authorWhen, _ := time.Parse(time.RFC3339, parts[4])
	committerWhen, _ := time.Parse(time.RFC3339, parts[7])
	message := ""
	if len(parts) > 8 {
		message = strings.Join(parts[8:], "\n")
	}
	return Commit{
		Hash:         hash,
		ParentHashes: parents,
		Author:       Signature{Name: parts[2], Email: parts[3], When: authorWhen},
		Committer:    Signature{Name: parts[5], Email: parts[6], When: committerWhen},
		Message:      message,
	}, nil
}
