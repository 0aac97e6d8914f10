// Package snapshot captures and restores selected working tree files using
// git stash entries.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/thiagokokada/gitk-sync/internal/git"
)

// messagePrefix marks stash entries owned by this package.
const messagePrefix = "gitk-sync: "

var (
	ErrNoFiles       = errors.New("snapshot needs at least one file")
	ErrNothingToSave = errors.New("no changes to save in the selected files")
	ErrNotFound      = errors.New("snapshot not found")
	ErrAmbiguous     = errors.New("snapshot id prefix is ambiguous")
)

// literal makes git match path arguments verbatim, so a name like a[1].txt
// is never read as a glob that also matches a1.txt.
func literal() git.RunOptions {
	return git.RunOptions{Env: []string{"GIT_LITERAL_PATHSPECS=1"}}
}

// IndexOption controls what happens to staged changes of captured files.
type IndexOption int

const (
	// IndexPreserve keeps staged changes staged.
	IndexPreserve IndexOption = iota
	// IndexClear leaves the captured files unstaged after saving.
	IndexClear
)

func (o IndexOption) String() string {
	if o == IndexClear {
		return "clear"
	}
	return "preserve"
}

// ParseIndexOption accepts "preserve" and "clear".
func ParseIndexOption(s string) (IndexOption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "preserve", "keep":
		return IndexPreserve, nil
	case "clear":
		return IndexClear, nil
	default:
		return IndexPreserve, fmt.Errorf("unknown index option %q", s)
	}
}

type Snapshot struct {
	ID        string    `json:"id" yaml:"id"`
	Ref       string    `json:"ref" yaml:"ref"`
	Message   string    `json:"message" yaml:"message"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

type SaveRequest struct {
	Files   []string
	Message string
	Index   IndexOption
}

// Manager manages snapshots of the worktree at root.
type Manager struct {
	exec git.Executor
	root string
}

func New(exec git.Executor, root string) *Manager {
	return &Manager{exec: exec, root: root}
}

// List returns snapshots in stash order. all includes stash entries not
// created by the manager.
func (m *Manager) List(ctx context.Context, all bool) ([]Snapshot, error) {
	entries, err := git.StashList(ctx, m.exec)
	if err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		msg := e.Message()
		owned := strings.HasPrefix(msg, messagePrefix)
		if !owned && !all {
			continue
		}
		snaps = append(snaps, Snapshot{
			ID:        e.Hash,
			Ref:       e.Ref,
			Message:   strings.TrimPrefix(msg, messagePrefix),
			CreatedAt: e.CreatedAt,
		})
	}
	return snaps, nil
}

// Save captures exactly req.Files and leaves the working tree as it was.
func (m *Manager) Save(ctx context.Context, req SaveRequest) (Snapshot, error) {
	if len(req.Files) == 0 {
		return Snapshot{}, ErrNoFiles
	}
	msg := req.Message
	if msg == "" {
		msg = "snapshot " + time.Now().Format(time.DateTime)
	}
	before, err := m.stashTop(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	args := append([]string{"stash", "push", "--include-untracked", "-m", messagePrefix + msg, "--"}, req.Files...)
	if _, err := m.exec.Run(ctx, args, literal()); err != nil {
		return Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	after, err := m.stashTop(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if after == "" || after == before {
		return Snapshot{}, ErrNothingToSave
	}

	// put the captured changes back so saving is invisible to the user
	applyArgs := []string{"stash", "apply", "--quiet"}
	if req.Index == IndexPreserve {
		applyArgs = append(applyArgs, "--index")
	}
	if _, err := m.exec.Run(ctx, append(applyArgs, after), git.RunOptions{}); err != nil {
		return Snapshot{}, fmt.Errorf("reapply snapshot %s: %w", after, err)
	}
	if req.Index == IndexClear {
		if err := m.unstage(ctx, req.Files); err != nil {
			return Snapshot{}, err
		}
	}
	slog.Info("snapshot saved", slog.String("id", after), slog.Int("files", len(req.Files)), slog.String("index", req.Index.String()))
	return Snapshot{ID: after, Ref: "stash@{0}", Message: msg, CreatedAt: time.Now()}, nil
}

// Restore brings back the snapshot's files. Files listed in modified that
// the snapshot also captured are discarded first; everything else in the
// working tree is left alone.
func (m *Manager) Restore(ctx context.Context, id string, modified []string) error {
	snap, err := m.resolve(ctx, id)
	if err != nil {
		return err
	}
	tracked, untracked, err := m.files(ctx, snap.ID)
	if err != nil {
		return err
	}
	var overwrite []string
	for _, path := range modified {
		if slices.Contains(tracked, path) || slices.Contains(untracked, path) {
			overwrite = append(overwrite, path)
		}
	}
	if err := m.discard(ctx, overwrite); err != nil {
		return err
	}
	if _, err := m.exec.Run(ctx, []string{"stash", "apply", "--quiet", snap.ID}, git.RunOptions{}); err != nil {
		return fmt.Errorf("restore snapshot %s: %w", snap.Ref, err)
	}
	slog.Info("snapshot restored", slog.String("id", snap.ID), slog.Int("overwritten", len(overwrite)))
	return nil
}

// Delete drops the snapshot.
func (m *Manager) Delete(ctx context.Context, id string) error {
	snap, err := m.resolve(ctx, id)
	if err != nil {
		return err
	}
	if _, err := m.exec.Run(ctx, []string{"stash", "drop", "--quiet", snap.Ref}, git.RunOptions{}); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", snap.Ref, err)
	}
	return nil
}

// Files lists every path captured by the snapshot.
func (m *Manager) Files(ctx context.Context, id string) ([]string, error) {
	snap, err := m.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	tracked, untracked, err := m.files(ctx, snap.ID)
	if err != nil {
		return nil, err
	}
	return append(tracked, untracked...), nil
}

func (m *Manager) resolve(ctx context.Context, id string) (Snapshot, error) {
	snaps, err := m.List(ctx, true)
	if err != nil {
		return Snapshot{}, err
	}
	var matches []Snapshot
	for _, s := range snaps {
		if s.ID == id || s.Ref == id {
			return s, nil
		}
		if len(id) >= 7 && strings.HasPrefix(s.ID, id) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return Snapshot{}, fmt.Errorf("%w: %s matches %d snapshots", ErrAmbiguous, id, len(matches))
	}
}

func (m *Manager) stashTop(ctx context.Context) (string, error) {
	out, err := m.exec.Run(ctx, []string{"rev-parse", "--quiet", "--verify", "refs/stash"}, git.RunOptions{AllowExitCodes: []int{1}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Stdout), nil
}

// files splits the snapshot's paths into tracked changes and untracked
// additions. A stash commit's third parent holds the untracked files.
func (m *Manager) files(ctx context.Context, id string) (tracked, untracked []string, err error) {
	out, err := m.exec.Output(ctx, []string{"diff", "--name-only", "-z", id + "^1", id}, git.RunOptions{})
	if err != nil {
		return nil, nil, err
	}
	tracked = splitNUL(out)
	res, err := m.exec.Run(ctx, []string{"rev-parse", "--quiet", "--verify", id + "^3"}, git.RunOptions{AllowExitCodes: []int{1}})
	if err != nil {
		return nil, nil, err
	}
	if res.ExitCode == 0 {
		out, err := m.exec.Output(ctx, []string{"ls-tree", "-r", "-z", "--name-only", id + "^3"}, git.RunOptions{})
		if err != nil {
			return nil, nil, err
		}
		untracked = splitNUL(out)
	}
	return tracked, untracked, nil
}

// discard resets paths to HEAD, deleting the ones HEAD does not know.
func (m *Manager) discard(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"ls-tree", "-z", "--name-only", "HEAD", "--"}, paths...)
	out, err := m.exec.Output(ctx, args, literal())
	if err != nil {
		return err
	}
	inHead := splitNUL(out)
	var remove []string
	for _, p := range paths {
		if !slices.Contains(inHead, p) {
			remove = append(remove, p)
		}
	}
	if len(inHead) > 0 {
		args := append([]string{"checkout", "HEAD", "--"}, inHead...)
		if _, err := m.exec.Run(ctx, args, literal()); err != nil {
			return fmt.Errorf("discard changes: %w", err)
		}
	}
	if len(remove) > 0 {
		args := append([]string{"rm", "--cached", "--quiet", "--ignore-unmatch", "--"}, remove...)
		if _, err := m.exec.Run(ctx, args, literal()); err != nil {
			return fmt.Errorf("discard changes: %w", err)
		}
		for _, p := range remove {
			if err := os.Remove(filepath.Join(m.root, filepath.FromSlash(p))); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("discard changes: %w", err)
			}
		}
	}
	return nil
}

func (m *Manager) unstage(ctx context.Context, files []string) error {
	args := append([]string{"diff", "--cached", "--name-only", "-z", "--"}, files...)
	out, err := m.exec.Output(ctx, args, literal())
	if err != nil {
		return err
	}
	staged := splitNUL(out)
	if len(staged) == 0 {
		return nil
	}
	if _, err := m.exec.Run(ctx, append([]string{"reset", "--quiet", "--"}, staged...), literal()); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	return nil
}

func splitNUL(out string) []string {
	var paths []string
	for p := range strings.SplitSeq(out, "\x00") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// isBinary uses git's heuristic: a NUL byte in the first 8000 bytes.
func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0
}
