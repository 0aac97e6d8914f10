package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagokokada/gitk-sync/internal/git"
	"github.com/thiagokokada/gitk-sync/internal/git/gittest"
	"github.com/thiagokokada/gitk-sync/internal/lfslock"
	"github.com/thiagokokada/gitk-sync/internal/queue"
	"github.com/thiagokokada/gitk-sync/internal/rebase"
	"github.com/thiagokokada/gitk-sync/internal/snapshot"
	"github.com/thiagokokada/gitk-sync/internal/status"
)

type harness struct {
	eng    *Engine
	fake   *gittest.Fake
	store  *status.Store
	gitDir string
}

func newHarness(t *testing.T, fake *gittest.Fake, cfg Config) *harness {
	t.Helper()
	gitDir := t.TempDir()
	store := status.NewStore()
	q := queue.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = queue.NewWorker(q, nil).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	if cfg.IndexLockAttempts == 0 {
		cfg.IndexLockAttempts = 3
		cfg.IndexLockDelay = 5 * time.Millisecond
	}
	diag := rebase.New(gitDir, fake)
	eng := New(cfg, Deps{
		Exec:      fake,
		GitDir:    gitDir,
		Queue:     q,
		Status:    status.NewEngine(fake, store, nil, diag, "origin", "main"),
		Snapshots: snapshot.New(fake, t.TempDir()),
		Rebase:    diag,
	})
	return &harness{eng: eng, fake: fake, store: store, gitDir: gitDir}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPullWithConflictsLeavesStatusUntouched(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gittest.New(), Config{})
	h.store.Replace(status.RepoStatus{
		Branch:             "main",
		Conflicts:          []string{"Maps/Level.umap"},
		CommitsBehindTrunk: 3,
	})
	before := h.store.Load()
	gen := h.store.Generation()

	pending := h.eng.Queue.Submit(&PullTask{engine: h.eng}, h.eng.refresh(true))
	var err error
	select {
	case err = <-pending.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pull did not complete")
	}

	require.ErrorIs(t, err, ErrConflicts)
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, "pull", pre.Op)
	assert.Equal(t, before, h.store.Load())
	assert.Equal(t, gen, h.store.Generation())
	assert.Empty(t, h.fake.Calls(), "no git command may run")

	// the facade reports the same error
	require.ErrorIs(t, h.eng.Pull(testContext(t)), ErrConflicts)
	assert.Equal(t, gen, h.store.Generation())
}

func TestPullSkipsWhenUpToDate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gittest.New(), Config{})
	h.store.Replace(status.RepoStatus{Branch: "main"})

	require.NoError(t, h.eng.Pull(testContext(t)))
	assert.False(t, h.fake.Called("pull"))
	assert.True(t, h.fake.Called("status --porcelain=v2"), "status is refreshed after the pull sequence")
	assert.False(t, h.fake.Called("fetch"), "refresh after pull skips fetch")
}

func TestPullRunsWhenBehind(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gittest.New(), Config{LFSPullAfter: true})
	h.store.Replace(status.RepoStatus{Branch: "main", CommitsBehindTrunk: 2})

	require.NoError(t, h.eng.Pull(testContext(t)))
	assert.True(t, h.fake.Called("pull --rebase --autostash --progress origin main"))
	assert.True(t, h.fake.Called("lfs pull"))
}

func TestPullComputesStatusFirst(t *testing.T) {
	t.Parallel()

	fake := gittest.New().
		On("status --porcelain=v2", gittest.Response{Stdout: "# branch.oid 1111111111111111111111111111111111111111\x00# branch.head main\x00"}).
		On("rev-list --left-right --count", gittest.Response{Stdout: "0 4"})
	h := newHarness(t, fake, Config{})

	require.NoError(t, h.eng.Pull(testContext(t)))
	calls := fake.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "fetch --prune origin", calls[0])
	assert.True(t, fake.Called("pull --rebase"))
	assert.Equal(t, 4, h.store.Load().CommitsBehindTrunk)
}

func TestPullWaitsForStaleIndexLock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gittest.New(), Config{IndexLockAttempts: 200, IndexLockDelay: 5 * time.Millisecond})
	h.store.Replace(status.RepoStatus{Branch: "main", CommitsBehindTrunk: 1})
	lock := filepath.Join(h.gitDir, "index.lock")
	require.NoError(t, os.WriteFile(lock, nil, 0o644))
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.Remove(lock)
	}()

	require.NoError(t, h.eng.Pull(testContext(t)))
	assert.True(t, h.fake.Called("pull"))
}

func TestPullGivesUpOnIndexLock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gittest.New(), Config{})
	h.store.Replace(status.RepoStatus{Branch: "main", CommitsBehindTrunk: 1})
	require.NoError(t, os.WriteFile(filepath.Join(h.gitDir, "index.lock"), nil, 0o644))

	err := h.eng.Pull(testContext(t))
	require.ErrorIs(t, err, ErrIndexLocked)
	assert.False(t, h.fake.Called("pull"))
}

func TestPullRefusesDuringRebase(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gittest.New(), Config{})
	h.store.Replace(status.RepoStatus{Branch: "main", CommitsBehindTrunk: 1})
	require.NoError(t, os.MkdirAll(filepath.Join(h.gitDir, "rebase-merge"), 0o755))

	require.ErrorIs(t, h.eng.Pull(testContext(t)), ErrRebaseInProgress)
}

func TestPush(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		st       status.RepoStatus
		wantErr  error
		wantPush bool
	}{
		{name: "detached", st: status.RepoStatus{Detached: true}, wantErr: ErrDetachedHead},
		{name: "nothing to push", st: status.RepoStatus{Branch: "main", Upstream: "origin/main"}},
		{name: "ahead", st: status.RepoStatus{Branch: "main", Upstream: "origin/main", CommitsAhead: 1}, wantPush: true},
		{name: "no upstream", st: status.RepoStatus{Branch: "feature"}, wantPush: true},
		{name: "conflicts", st: status.RepoStatus{Branch: "main", CommitsAhead: 1, Conflicts: []string{"a"}}, wantErr: ErrConflicts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, gittest.New(), Config{})
			h.store.Replace(tt.st)
			err := h.eng.Push(testContext(t))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantPush, h.fake.Called("push --progress --set-upstream origin "+tt.st.Branch))
		})
	}
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	fake := gittest.New()
	fake.On("--no-pager show-ref", gittest.Response{Stdout: strings.Join([]string{
		"1111111111111111111111111111111111111111 refs/heads/main",
		"2222222222222222222222222222222222222222 refs/remotes/origin/feature/level-2",
		"",
	}, "\n")})
	h := newHarness(t, fake, Config{})
	h.store.Replace(status.RepoStatus{Branch: "main"})
	require.NoError(t, h.eng.Checkout(testContext(t), "feature/level-2"))
	assert.True(t, h.fake.Called("checkout --progress feature/level-2"))

	var pre *PreconditionError
	require.ErrorAs(t, h.eng.Checkout(testContext(t), ""), &pre)

	err := h.eng.Checkout(testContext(t), "feature/missing")
	require.ErrorIs(t, err, ErrUnknownBranch)
	assert.False(t, h.fake.Called("checkout --progress feature/missing"))
}

func TestRebaseReportsStoppedRebase(t *testing.T) {
	t.Parallel()

	var gitDir string
	fake := gittest.New().On("rebase --autostash", gittest.Response{
		ExitCode: 1,
		Stderr:   "CONFLICT (content)",
		Err:      assert.AnError,
		Do: func([]string) {
			_ = os.MkdirAll(filepath.Join(gitDir, "rebase-merge"), 0o755)
		},
	})
	h := newHarness(t, fake, Config{})
	gitDir = h.gitDir

	err := h.eng.Rebase(testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run rebase fix")
	assert.True(t, fake.Called("rebase --autostash origin/main"))
	assert.True(t, h.eng.RebaseStatus().RebaseInProgress)
}

func TestStatusWaitsForEarlierWrites(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gittest.New(), Config{})
	release := make(chan struct{})
	h.eng.Queue.SubmitDetached(queue.Func("slow write", func(context.Context) error {
		<-release
		h.store.Update(func(st *status.RepoStatus) { st.Branch = "written" })
		return nil
	}))
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	st, err := h.eng.Status(testContext(t), StatusOptions{})
	require.NoError(t, err)
	assert.Equal(t, "written", st.Branch)
}

func TestDiffRunsThroughQueue(t *testing.T) {
	t.Parallel()

	fake := gittest.New().On("diff", gittest.Response{Stdout: "diff --git a/a.txt b/a.txt\n@@ -1 +1 @@\n-a\n+b\n"})
	h := newHarness(t, fake, Config{})
	res, err := h.eng.Diff(testContext(t), git.DiffOptions{})
	require.NoError(t, err)
	require.Len(t, res.Sections, 1)
	assert.Equal(t, "a.txt", res.Sections[0].Path)
	assert.True(t, strings.HasPrefix(res.Text, "diff --git"))
}

func TestLocksUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gittest.New(), Config{})
	_, err := h.eng.Lock(testContext(t), []string{"a.uasset"})
	require.ErrorIs(t, err, ErrLocksUnavailable)
	_, err = h.eng.Unlock(testContext(t), []string{"a.uasset"}, true)
	require.ErrorIs(t, err, ErrLocksUnavailable)
	_, err = h.eng.VerifyLocks(testContext(t), lfslock.VerifyRequest{})
	require.ErrorIs(t, err, ErrLocksUnavailable)
	_, err = h.eng.VerifyAllLocks(testContext(t), "")
	require.ErrorIs(t, err, ErrLocksUnavailable)
	_, err = h.eng.ListLocks(testContext(t), "")
	require.ErrorIs(t, err, ErrLocksUnavailable)
	_, err = h.eng.ShowCommitFiles(testContext(t), "HEAD")
	require.ErrorIs(t, err, ErrFactsUnavailable)
}

func TestLockMissingCredential(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gittest.New(), Config{})
	client, err := lfslock.New(lfslock.Config{Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)
	h.eng.Locks = client
	_, err = h.eng.Lock(testContext(t), []string{"a.uasset"})
	require.ErrorIs(t, err, lfslock.ErrNoCredential)
}

func TestFixRebaseWithoutRebase(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gittest.New(), Config{})
	out, err := h.eng.FixRebase(testContext(t), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Applied)
	assert.False(t, h.fake.Called("rebase"))
	assert.Equal(t, uint64(1), h.store.Generation(), "status refreshed after fix")
}

func TestClone(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "projects", "game")
	var cloned atomic.Bool
	fake := gittest.New().On("clone", gittest.Response{Do: func([]string) {
		cloned.Store(true)
		_ = os.MkdirAll(filepath.Join(dest, ".git"), 0o755)
	}})
	progress := make(chan string, 16)
	h := newHarness(t, fake, Config{})
	h.eng.Progress = progress

	require.NoError(t, h.eng.Clone(testContext(t), "https://github.com/studio/game.git", dest))
	assert.True(t, cloned.Load())
	assert.True(t, fake.Called("clone --progress https://github.com/studio/game.git "+dest))
	assert.True(t, fake.Called("lfs install --local"))
	assert.Equal(t, "Cloning https://github.com/studio/game.git", <-progress)

	var pre *PreconditionError
	require.ErrorAs(t, h.eng.Clone(testContext(t), "https://github.com/studio/game.git", dest), &pre,
		"cloning into a non-empty directory is refused")
}

func TestSaveSnapshotWithoutChanges(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gittest.New(), Config{})
	_, err := h.eng.SaveSnapshot(testContext(t), snapshot.SaveRequest{})
	require.ErrorIs(t, err, ErrNothingToSnapshot)
}
