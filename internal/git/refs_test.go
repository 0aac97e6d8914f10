package git

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShowRef(t *testing.T) {
	t.Parallel()

	out := "" +
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa refs/heads/feature/level-2\n" +
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb refs/remotes/origin/main\n" +
		"cccccccccccccccccccccccccccccccccccccccc refs/tags/release-1\n" +
		"dddddddddddddddddddddddddddddddddddddddd refs/tags/release-1^{}\n" +
		"eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee refs/stash\n" +
		"ffffffffffffffffffffffffffffffffffffffff refs/notes/commits\n"

	refs, err := parseShowRef(out)
	require.NoError(t, err)
	assert.Equal(t, []Ref{
		{Hash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Kind: RefKindBranch, Name: "feature/level-2"},
		{Hash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Kind: RefKindRemoteBranch, Name: "origin/main"},
		{Hash: "dddddddddddddddddddddddddddddddddddddddd", Kind: RefKindTag, Name: "release-1"},
	}, refs)

	assert.True(t, HasRef(refs, RefKindRemoteBranch, "origin/main"))
	assert.False(t, HasRef(refs, RefKindBranch, "origin/main"))
}

func TestParseShowRefRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := parseShowRef("refs/heads/main\n")
	assert.Error(t, err)
}

func TestRefsInEmptyRepository(t *testing.T) {
	t.Parallel()
	requireGit(t)

	dir := t.TempDir()
	r := NewRunner(dir)
	_, err := r.Run(context.Background(), []string{"init", "-q"}, RunOptions{})
	require.NoError(t, err)

	refs, err := Refs(context.Background(), r)
	require.NoError(t, err)
	assert.Empty(t, refs)
}
