// Package gittest provides a scripted git.Executor for tests.
package gittest

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/thiagokokada/gitk-sync/internal/git"
)

// Response is the scripted result of a command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Err makes the call fail with a *git.CommandError wrapping it.
	Err error
	// Do runs before the response is returned, e.g. to touch the
	// filesystem like the real command would.
	Do func(args []string)
}

// Fake matches commands by the longest registered prefix of the
// space-joined argument list. Unmatched commands succeed with empty output.
type Fake struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     [][]string
}

func New() *Fake {
	return &Fake{responses: map[string]Response{}}
}

// On registers resp for every command starting with prefix.
func (f *Fake) On(prefix string, resp Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = resp
	return f
}

// Fail is shorthand for a failing command.
func (f *Fake) Fail(prefix, stderr string) *Fake {
	return f.On(prefix, Response{Stderr: stderr, ExitCode: 1, Err: errors.New("exit status 1")})
}

func (f *Fake) Run(_ context.Context, args []string, opts git.RunOptions) (git.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, slices.Clone(args))
	resp, ok := f.match(strings.Join(args, " "))
	f.mu.Unlock()
	if !ok {
		return git.Outcome{}, nil
	}
	if resp.Do != nil {
		resp.Do(args)
	}
	out := git.Outcome{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr}
	if resp.Err != nil && !slices.Contains(opts.AllowExitCodes, resp.ExitCode) {
		return out, &git.CommandError{Args: args, ExitCode: resp.ExitCode, Stderr: resp.Stderr, Err: resp.Err}
	}
	return out, nil
}

func (f *Fake) Output(ctx context.Context, args []string, opts git.RunOptions) (string, error) {
	out, err := f.Run(ctx, args, opts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Stdout), nil
}

func (f *Fake) match(cmd string) (Response, bool) {
	best := -1
	var resp Response
	for prefix, r := range f.responses {
		if strings.HasPrefix(cmd, prefix) && len(prefix) > best {
			best = len(prefix)
			resp = r
		}
	}
	return resp, best >= 0
}

// Calls returns every recorded command as a space-joined string.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

// Called reports whether any recorded command starts with prefix.
func (f *Fake) Called(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
