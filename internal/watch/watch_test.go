package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestShouldIgnore(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"/repo/.git/index.lock":  true,
		"/repo/.git/HEAD.LOCK":   true,
		"/repo/.git/gc.ipc":      true,
		"/repo/.git/index":       false,
		"/repo/Content/a.uasset": false,
	}
	for path, want := range tests {
		if got := shouldIgnore(path); got != want {
			t.Fatalf("shouldIgnore(%q) = %v, want %v", path, got, want)
		}
	}
}

func startWatcher(t *testing.T, root string, suppress *atomic.Bool, calls *atomic.Int32) {
	t.Helper()
	w := New(root, "", suppress, 10*time.Millisecond, func() { calls.Add(1) })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() = %v", err)
		}
	})
	// give the watcher time to register
	time.Sleep(50 * time.Millisecond)
}

func TestWatcherDebouncesChanges(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "Content"), 0o755); err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	startWatcher(t, root, nil, &calls)

	for i := range 5 {
		name := filepath.Join(root, "Content", "asset.uasset")
		if err := os.WriteFile(name, []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("change was not reported")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("burst should coalesce into one callback, got %d", got)
	}
}

func TestWatcherDropsEventsWhileSuppressed(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var suppress atomic.Bool
	suppress.Store(true)
	var calls atomic.Int32
	startWatcher(t, root, &suppress, &calls)

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("suppressed events triggered %d callbacks", got)
	}
}
