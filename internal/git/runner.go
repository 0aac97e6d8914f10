package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Executor runs git subcommands. The Runner is the only production
// implementation; tests substitute fakes.
type Executor interface {
	Run(ctx context.Context, args []string, opts RunOptions) (Outcome, error)
	Output(ctx context.Context, args []string, opts RunOptions) (string, error)
}

// RunOptions tweaks a single invocation.
type RunOptions struct {
	// Dir overrides the runner's working directory.
	Dir string
	// Env is appended to the process environment.
	Env   []string
	Stdin io.Reader
	// Progress receives human readable progress lines parsed from stderr.
	// Sends never block; lines are dropped when the observer lags behind.
	Progress chan<- string
	// AllowExitCodes lists non-zero exit codes that are not errors
	// (e.g. 1 for "git diff --exit-code").
	AllowExitCodes []int
}

// Outcome is the captured result of one subprocess.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// CommandError reports a failed git invocation together with its stderr.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	name := "git"
	if len(e.Args) > 0 {
		name = "git " + e.Args[0]
	}
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", name, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", name, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner shells out to the git executable rooted at a directory.
type Runner struct {
	dir    string
	binary string
}

// NewRunner returns a Runner executing in dir. An empty dir uses the process
// working directory, which is what clone needs.
func NewRunner(dir string) *Runner {
	return &Runner{dir: dir, binary: "git"}
}

// OpenRunner resolves the repository top level containing path and returns a
// Runner bound to it.
func OpenRunner(ctx context.Context, path string) (*Runner, error) {
	if err := ensureMinGitVersion(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	root, err := NewRunner(abs).Output(ctx, []string{"rev-parse", "--show-toplevel"}, RunOptions{})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	if root == "" {
		return nil, fmt.Errorf("open repository: git rev-parse returned empty root")
	}
	return NewRunner(root), nil
}

// Dir returns the directory commands run in.
func (r *Runner) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Output runs git and returns its trimmed stdout.
func (r *Runner) Output(ctx context.Context, args []string, opts RunOptions) (string, error) {
	out, err := r.Run(ctx, args, opts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Stdout), nil
}

// Run spawns exactly one git process and waits for it.
func (r *Runner) Run(ctx context.Context, args []string, opts RunOptions) (Outcome, error) {
	if r == nil {
		return Outcome{}, fmt.Errorf("git runner not initialized")
	}
	if len(args) == 0 {
		return Outcome{}, fmt.Errorf("git: no subcommand")
	}
	dir := r.dir
	if opts.Dir != "" {
		dir = opts.Dir
	}
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = dir
	cmd.Stdin = opts.Stdin
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, opts.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	var progressDone chan struct{}
	if opts.Progress != nil {
		pr, pw := io.Pipe()
		cmd.Stderr = io.MultiWriter(&stderr, pw)
		progressDone = make(chan struct{})
		go func() {
			defer close(progressDone)
			forwardProgress(pr, opts.Progress)
		}()
		defer func() {
			_ = pw.Close()
			<-progressDone
		}()
	} else {
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()
	out := Outcome{
		Stdout:   stdout.String(),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	slog.Debug("git command",
		slog.String("dir", dir),
		slog.Any("args", args),
		slog.Duration("duration", out.Duration),
		slog.Any("error", err),
	)
	if err == nil {
		return out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		if slices.Contains(opts.AllowExitCodes, out.ExitCode) {
			return out, nil
		}
	} else {
		out.ExitCode = -1
	}
	return out, &CommandError{Args: args, ExitCode: out.ExitCode, Stderr: out.Stderr, Err: err}
}

func forwardProgress(r io.Reader, progress chan<- string) {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case progress <- line:
		default:
		}
	}
	// drain so the writer side never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

// scanProgressLines splits on '\n' and '\r' since git redraws progress
// counters in place with carriage returns.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
