package rebase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/thiagokokada/gitk-sync/internal/git"
	"github.com/thiagokokada/gitk-sync/internal/git/gittest"
)

func markRebase(t *testing.T, gitDir string, headName bool) {
	t.Helper()
	dir := filepath.Join(gitDir, "rebase-merge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if headName {
		if err := os.WriteFile(filepath.Join(dir, "head-name"), []byte("refs/heads/main\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func clearMarkers(gitDir string) func([]string) {
	return func([]string) { _ = os.RemoveAll(filepath.Join(gitDir, "rebase-merge")) }
}

func TestStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, gitDir string)
		want  State
	}{
		{name: "clean", setup: func(*testing.T, string) {}, want: State{}},
		{name: "merge without head", setup: func(t *testing.T, d string) { markRebase(t, d, false) }, want: State{RebaseInProgress: true}},
		{name: "merge with head", setup: func(t *testing.T, d string) { markRebase(t, d, true) }, want: State{RebaseInProgress: true, HeadMarkerPresent: true}},
		{name: "apply", setup: func(t *testing.T, d string) {
			if err := os.MkdirAll(filepath.Join(d, "rebase-apply"), 0o755); err != nil {
				t.Fatal(err)
			}
		}, want: State{RebaseInProgress: true}},
		{name: "git am", setup: func(t *testing.T, d string) {
			if err := os.MkdirAll(filepath.Join(d, "rebase-apply"), 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(d, "rebase-apply", "applying"), nil, 0o644); err != nil {
				t.Fatal(err)
			}
		}, want: State{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gitDir := t.TempDir()
			tt.setup(t, gitDir)
			if got := New(gitDir, gittest.New()).Status(); got != tt.want {
				t.Fatalf("Status() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRemediateWithoutRebaseIsNoOp(t *testing.T) {
	t.Parallel()

	fake := gittest.New()
	out, err := New(t.TempDir(), fake).Remediate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}
	if out.Applied != "" || len(fake.Calls()) != 0 {
		t.Fatalf("expected no-op, got %+v calls=%v", out, fake.Calls())
	}
}

func TestRemediateAbortFirst(t *testing.T) {
	t.Parallel()

	gitDir := t.TempDir()
	markRebase(t, gitDir, true)
	fake := gittest.New().On("rebase --abort", gittest.Response{Do: clearMarkers(gitDir)})

	out, err := New(gitDir, fake).Remediate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}
	if out.Applied != "abort" || fake.Called("rebase --quit") {
		t.Fatalf("abort should win: %+v calls=%v", out, fake.Calls())
	}
}

func TestRemediateFallsBackToQuit(t *testing.T) {
	t.Parallel()

	gitDir := t.TempDir()
	markRebase(t, gitDir, false)
	fake := gittest.New().
		Fail("rebase --abort", "fatal: could not read ORIG_HEAD").
		On("rebase --quit", gittest.Response{Do: clearMarkers(gitDir)})

	var confirmed error
	confirm := func(_ context.Context, next Strategy, previous error) bool {
		if next.Name != "quit" {
			t.Errorf("unexpected confirmation for %s", next.Name)
		}
		confirmed = previous
		return true
	}
	out, err := New(gitDir, fake).Remediate(context.Background(), confirm)
	if err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}
	if out.Applied != "quit" || len(out.Attempts) != 2 || out.Attempts[0].Err == nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	var cmdErr *git.CommandError
	if !errors.As(confirmed, &cmdErr) {
		t.Fatalf("confirm should see the abort failure, got %v", confirmed)
	}
}

func TestRemediateFatalWhenAllFail(t *testing.T) {
	t.Parallel()

	gitDir := t.TempDir()
	markRebase(t, gitDir, true)
	fake := gittest.New().
		Fail("rebase --abort", "abort failed").
		Fail("rebase --quit", "quit failed")

	_, err := New(gitDir, fake).Remediate(context.Background(), nil)
	var fatal *FatalError
	if !errors.As(err, &fatal) || len(fatal.Attempts) != 2 {
		t.Fatalf("expected FatalError with two attempts, got %v", err)
	}
	if !errors.Is(err, ErrManualIntervention) {
		t.Fatal("FatalError should match ErrManualIntervention")
	}
}

func TestRemediateDeclinedQuit(t *testing.T) {
	t.Parallel()

	gitDir := t.TempDir()
	markRebase(t, gitDir, true)
	fake := gittest.New().Fail("rebase --abort", "abort failed")

	_, err := New(gitDir, fake).Remediate(context.Background(), func(context.Context, Strategy, error) bool { return false })
	if !errors.Is(err, ErrDeclined) || !errors.Is(err, ErrManualIntervention) {
		t.Fatalf("expected declined fatal error, got %v", err)
	}
	if fake.Called("rebase --quit") {
		t.Fatal("quit must not run when declined")
	}
}

func TestRemediateMarkersSurvivingSuccess(t *testing.T) {
	t.Parallel()

	gitDir := t.TempDir()
	markRebase(t, gitDir, true)
	strategies := []Strategy{{Name: "noop", Args: []string{"status"}}}
	_, err := New(gitDir, gittest.New(), strategies...).Remediate(context.Background(), nil)
	var fatal *FatalError
	if !errors.As(err, &fatal) || fatal.Attempts[0].Strategy != "noop" {
		t.Fatalf("strategy leaving markers behind must count as failure, got %v", err)
	}
}
