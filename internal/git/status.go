package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ChangeKind describes one side (index or worktree) of a porcelain entry.
type ChangeKind string

const (
	ChangeNone        ChangeKind = ""
	ChangeModified    ChangeKind = "modified"
	ChangeAdded       ChangeKind = "added"
	ChangeDeleted     ChangeKind = "deleted"
	ChangeRenamed     ChangeKind = "renamed"
	ChangeCopied      ChangeKind = "copied"
	ChangeTypeChanged ChangeKind = "typechange"
	ChangeUnmerged    ChangeKind = "unmerged"
)

// FileChange is a tracked path with staged and/or unstaged modifications.
type FileChange struct {
	Path     string     `json:"path" yaml:"path"`
	OrigPath string     `json:"orig_path,omitempty" yaml:"orig_path,omitempty"`
	Index    ChangeKind `json:"index,omitempty" yaml:"index,omitempty"`
	Worktree ChangeKind `json:"worktree,omitempty" yaml:"worktree,omitempty"`
}

func (f FileChange) Staged() bool   { return f.Index != ChangeNone }
func (f FileChange) Unstaged() bool { return f.Worktree != ChangeNone }

// WorktreeStatus is the parsed form of "git status --porcelain=v2 --branch -z".
type WorktreeStatus struct {
	Head           string
	Branch         string
	Detached       bool
	Upstream       string
	HasAheadBehind bool
	Ahead          int
	Behind         int
	Changes        []FileChange
	Conflicts      []string
	Untracked      []string
}

// Status runs git status in porcelain v2 form and parses it. Optional locks
// are disabled so the index is not rewritten and watchers stay quiet.
func Status(ctx context.Context, exec Executor) (WorktreeStatus, error) {
	out, err := exec.Run(ctx, []string{
		"status", "--porcelain=v2", "--branch", "--untracked-files=all", "-z",
	}, RunOptions{Env: []string{"GIT_OPTIONAL_LOCKS=0"}})
	if err != nil {
		return WorktreeStatus{}, err
	}
	st, err := ParseStatusPorcelainV2(strings.NewReader(out.Stdout))
	if err != nil {
		return WorktreeStatus{}, fmt.Errorf("parse git status: %w", err)
	}
	return st, nil
}

// ParseStatusPorcelainV2 parses NUL separated porcelain v2 output.
func ParseStatusPorcelainV2(r io.Reader) (WorktreeStatus, error) {
	var res WorktreeStatus
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	scanner.Split(scanNUL)
	// renamed entries carry their original path in the following record
	expectOrig := false
	for scanner.Scan() {
		rec := scanner.Text()
		if expectOrig {
			res.Changes[len(res.Changes)-1].OrigPath = rec
			expectOrig = false
			continue
		}
		if len(rec) < 2 {
			continue
		}
		switch rec[0] {
		case '#':
			parseBranchHeader(rec, &res)
		case '1':
			fields := strings.SplitN(rec, " ", 9)
			if len(fields) < 9 || len(fields[1]) != 2 {
				continue
			}
			res.Changes = append(res.Changes, FileChange{
				Path:     fields[8],
				Index:    kindFromCode(fields[1][0]),
				Worktree: kindFromCode(fields[1][1]),
			})
		case '2':
			fields := strings.SplitN(rec, " ", 10)
			if len(fields) < 10 || len(fields[1]) != 2 {
				continue
			}
			res.Changes = append(res.Changes, FileChange{
				Path:     fields[9],
				Index:    kindFromCode(fields[1][0]),
				Worktree: kindFromCode(fields[1][1]),
			})
			expectOrig = true
		case 'u':
			fields := strings.SplitN(rec, " ", 11)
			if len(fields) < 11 {
				continue
			}
			res.Conflicts = append(res.Conflicts, fields[10])
		case '?':
			res.Untracked = append(res.Untracked, rec[2:])
		default:
			// '!' ignored entries
		}
	}
	return res, scanner.Err()
}

func parseBranchHeader(rec string, res *WorktreeStatus) {
	key, value, ok := strings.Cut(strings.TrimPrefix(rec, "# "), " ")
	if !ok {
		return
	}
	switch key {
	case "branch.oid":
		if value != "(initial)" {
			res.Head = value
		}
	case "branch.head":
		if value == "(detached)" {
			res.Detached = true
			return
		}
		res.Branch = value
	case "branch.upstream":
		res.Upstream = value
	case "branch.ab":
		parts := strings.Fields(value)
		if len(parts) != 2 {
			return
		}
		ahead, errA := strconv.Atoi(strings.TrimPrefix(parts[0], "+"))
		behind, errB := strconv.Atoi(strings.TrimPrefix(parts[1], "-"))
		if errA != nil || errB != nil {
			return
		}
		res.Ahead, res.Behind = ahead, behind
		res.HasAheadBehind = true
	}
}

func kindFromCode(c byte) ChangeKind {
	switch c {
	case 'M':
		return ChangeModified
	case 'A':
		return ChangeAdded
	case 'D':
		return ChangeDeleted
	case 'R':
		return ChangeRenamed
	case 'C':
		return ChangeCopied
	case 'T':
		return ChangeTypeChanged
	case 'U':
		return ChangeUnmerged
	default:
		return ChangeNone
	}
}

// AheadBehind counts commits reachable only from left and only from right
// of "left...right".
func AheadBehind(ctx context.Context, exec Executor, left, right string) (ahead, behind int, err error) {
	out, err := exec.Output(ctx, []string{"rev-list", "--left-right", "--count", left + "..." + right}, RunOptions{})
	if err != nil {
		return 0, 0, err
	}
	return parseLeftRightCount(out)
}

func parseLeftRightCount(out string) (int, int, error) {
	parts := strings.Fields(out)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", out)
	}
	ahead, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", out)
	}
	behind, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", out)
	}
	return ahead, behind, nil
}

func scanNUL(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
