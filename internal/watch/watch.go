// Package watch reports external changes to a repository.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/gitk-sync/internal/debounce"
)

const DefaultDelay = 350 * time.Millisecond

// Watcher calls OnChange, debounced, when files in the working tree or the
// git directory change. Events are dropped while Suppress is set, which the
// task worker does while it writes to the repository itself.
type Watcher struct {
	root     string
	gitDir   string
	suppress *atomic.Bool
	delay    time.Duration
	onChange func()
}

func New(root, gitDir string, suppress *atomic.Bool, delay time.Duration, onChange func()) *Watcher {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if suppress == nil {
		suppress = &atomic.Bool{}
	}
	return &Watcher{root: root, gitDir: gitDir, suppress: suppress, delay: delay, onChange: onChange}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	if w.gitDir != "" {
		if err := fsw.Add(w.gitDir); err != nil {
			return fmt.Errorf("watch %s: %w", w.gitDir, err)
		}
	}

	d := debounce.New(w.delay, w.onChange)
	defer d.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// new directories are not covered by existing watches
				if err := w.addTree(fsw, ev.Name); err != nil {
					slog.Debug("watch new directory", slog.String("path", ev.Name), slog.Any("error", err))
				}
			}
			slog.Debug("fsnotify event", slog.String("op", ev.Op.String()), slog.String("path", ev.Name))
			d.Trigger()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if shouldIgnore(ev.Name) {
		return false
	}
	return !w.suppress.Load()
}

// addTree watches dir and its subdirectories, skipping git metadata.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func shouldIgnore(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".lock", ".ipc":
		return true
	}
	return false
}
