package lfslock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/thiagokokada/gitk-sync/internal/config"
)

func newTestClient(t *testing.T, endpoint, token string) *Client {
	t.Helper()
	c, err := New(Config{
		Endpoint:     endpoint,
		Credentials:  StaticToken(token),
		DisplayNames: map[string]string{"bob": "Bob Builder"},
		PageSize:     2,
	})
	require.NoError(t, err)
	return c
}

func TestAcquirePartialFailure(t *testing.T) {
	t.Parallel()

	srv, ts := newLockServer(t)
	srv.seed("bob", "Maps/p2.umap")
	c := newTestClient(t, ts.URL, "alice-token")

	res, err := c.Acquire(context.Background(), []string{"Maps/p1.umap", "Maps/p2.umap"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Maps/p1.umap"}, res.Paths)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "Maps/p2.umap", res.Failures[0].Path)
	assert.Equal(t, "already locked by Bob Builder", res.Failures[0].Reason)
	assert.False(t, res.OK())
}

func TestMissingCredential(t *testing.T) {
	t.Parallel()

	srv, ts := newLockServer(t)
	c := newTestClient(t, ts.URL, "")

	_, err := c.Acquire(context.Background(), []string{"a.uasset"})
	require.ErrorIs(t, err, ErrNoCredential)
	_, err = c.Release(context.Background(), []string{"a.uasset"}, true)
	require.ErrorIs(t, err, ErrNoCredential)
	_, err = c.Verify(context.Background(), VerifyRequest{})
	require.ErrorIs(t, err, ErrNoCredential)
	assert.Zero(t, srv.requestCount(), "no request may be sent without a credential")
}

func TestReleaseOwnershipAndForce(t *testing.T) {
	t.Parallel()

	srv, ts := newLockServer(t)
	srv.seed("alice", "mine.uasset")
	srv.seed("bob", "theirs.uasset")
	c := newTestClient(t, ts.URL, "alice-token")
	ctx := context.Background()

	res, err := c.Release(ctx, []string{"mine.uasset", "theirs.uasset", "free.uasset"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"mine.uasset"}, res.Paths)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, Failure{Path: "theirs.uasset", Reason: "lock owned by bob"}, res.Failures[0])
	assert.Equal(t, Failure{Path: "free.uasset", Reason: "not locked"}, res.Failures[1])

	res, err = c.Release(ctx, []string{"theirs.uasset"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"theirs.uasset"}, res.Paths)
	assert.True(t, res.OK())

	locks, err := c.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestVerifyPagination(t *testing.T) {
	t.Parallel()

	srv, ts := newLockServer(t)
	srv.seed("alice", "a1", "a2")
	srv.seed("bob", "b1", "b2", "b3")
	c := newTestClient(t, ts.URL, "alice-token")
	ctx := context.Background()

	first, err := c.Verify(ctx, VerifyRequest{})
	require.NoError(t, err)
	assert.Len(t, first.Ours, 2)
	assert.Empty(t, first.Theirs)
	require.NotEmpty(t, first.NextCursor)

	again, err := c.Verify(ctx, VerifyRequest{})
	require.NoError(t, err)
	assert.Equal(t, first, again, "missing cursor must always return the first page")

	second, err := c.Verify(ctx, VerifyRequest{Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Theirs, 2)
	assert.Equal(t, "Bob Builder", second.Theirs[0].DisplayName)

	all, err := c.VerifyAll(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all.Ours, 2)
	assert.Len(t, all.Theirs, 3)
}

func TestVerifyAllRejectsCursorLoop(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "http://unused", "tok")
	c.http = loopingClient()
	_, err := c.VerifyAll(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated cursor")
}

// Property: pages reached by following cursors are disjoint and together
// cover every lock exactly once.
func TestPropertyVerifyPagesDisjoint(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		srv, ts := newLockServer(t)
		n := rapid.IntRange(0, 30).Draw(rt, "locks")
		for i := range n {
			owner := rapid.SampledFrom([]string{"alice", "bob"}).Draw(rt, fmt.Sprintf("owner%d", i))
			srv.seed(owner, fmt.Sprintf("file-%02d", i))
		}
		limit := rapid.IntRange(1, 7).Draw(rt, "limit")
		c := newTestClient(t, ts.URL, "alice-token")

		seen := map[string]bool{}
		cursor := ""
		for {
			page, err := c.Verify(context.Background(), VerifyRequest{Cursor: cursor, Limit: limit})
			if err != nil {
				rt.Fatal(err)
			}
			for _, l := range append(page.Ours, page.Theirs...) {
				if seen[l.ID] {
					rt.Fatalf("lock %s returned twice", l.ID)
				}
				seen[l.ID] = true
			}
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		if len(seen) != n {
			rt.Fatalf("saw %d locks, want %d", len(seen), n)
		}
	})
}

func TestAPIErrorMessage(t *testing.T) {
	t.Parallel()

	err := error(&APIError{Status: 403, Message: "nope"})
	assert.Equal(t, "lfs lock api: Forbidden: nope", err.Error())
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "lfs lock api: Not Found", (&APIError{Status: 404}).Error())
}

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestDisplayNamesMatchMixedCaseLogins(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := t.TempDir()
	content := "lfs:\n  display_names:\n    JaneDoe: Jane Doe\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gitk-sync.yaml"), []byte(content), 0o644))
	cfg, err := config.Load(dir, "")
	require.NoError(t, err)

	srv, ts := newLockServer(t)
	srv.seed("JaneDoe", "Maps/arena.umap")
	c, err := New(Config{
		Endpoint:     ts.URL,
		Credentials:  StaticToken("alice-token"),
		DisplayNames: cfg.LFS.DisplayNames,
	})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := c.Acquire(ctx, []string{"Maps/arena.umap"})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "already locked by Jane Doe", res.Failures[0].Reason)

	all, err := c.VerifyAll(ctx, "")
	require.NoError(t, err)
	require.Len(t, all.Theirs, 1)
	assert.Equal(t, "Jane Doe", all.Theirs[0].DisplayName)
}
