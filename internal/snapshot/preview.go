package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/thiagokokada/gitk-sync/internal/git"
)

// Preview returns a unified diff from the snapshot's version of path to the
// current working tree file.
func (m *Manager) Preview(ctx context.Context, id, path string) (string, error) {
	snap, err := m.resolve(ctx, id)
	if err != nil {
		return "", err
	}
	tracked, untracked, err := m.files(ctx, snap.ID)
	if err != nil {
		return "", err
	}
	var object string
	switch {
	case slices.Contains(tracked, path):
		object = snap.ID + ":" + path
	case slices.Contains(untracked, path):
		object = snap.ID + "^3:" + path
	default:
		return "", fmt.Errorf("%s is not part of snapshot %s", path, snap.Ref)
	}

	// tracked deletions have no blob in the snapshot
	out, err := m.exec.Run(ctx, []string{"cat-file", "blob", object}, git.RunOptions{AllowExitCodes: []int{128}})
	if err != nil {
		return "", err
	}
	saved := []byte(out.Stdout)
	if out.ExitCode != 0 {
		saved = nil
	}
	current, err := os.ReadFile(filepath.Join(m.root, filepath.FromSlash(path)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if isBinary(saved) || isBinary(current) {
		if string(saved) == string(current) {
			return "", nil
		}
		return fmt.Sprintf("Binary files snapshot/%s and worktree/%s differ\n", path, path), nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(saved)),
		B:        difflib.SplitLines(string(current)),
		FromFile: "snapshot/" + path,
		ToFile:   "worktree/" + path,
		Context:  3,
	})
}
