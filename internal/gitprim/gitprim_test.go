package gitprim

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=gx-test", "GIT_AUTHOR_EMAIL=gx@test.local",
			"GIT_COMMITTER_NAME=gx-test", "GIT_COMMITTER_EMAIL=gx@test.local")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestCurrentBranch(t *testing.T) {
	repo := initRepo(t)
	branch, err := CurrentBranch(context.Background(), repo)
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}

func TestHeadSHALength(t *testing.T) {
	repo := initRepo(t)
	sha, err := HeadSHA(context.Background(), repo, "")
	require.NoError(t, err)
	require.Len(t, sha, 40)
}

func TestPorcelainStatusAndHasUncommittedChanges(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	clean, err := HasUncommittedChanges(ctx, repo)
	require.NoError(t, err)
	require.False(t, clean)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "new.txt"), []byte("x"), 0o644))
	dirty, err := HasUncommittedChanges(ctx, repo)
	require.NoError(t, err)
	require.True(t, dirty)

	entries, err := PorcelainStatus(ctx, repo)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, Untracked, entries[0].Kind)
	require.Equal(t, "new.txt", entries[0].Path)
}

func TestCreateBranchSwitchDeleteLocal(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	require.NoError(t, CreateBranch(ctx, repo, "feature-a"))
	branch, err := CurrentBranch(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, "feature-a", branch)

	exists, err := BranchExistsLocal(ctx, repo, "feature-a")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, SwitchBranch(ctx, repo, "main"))
	require.NoError(t, DeleteLocalBranch(ctx, repo, "feature-a"))

	exists, err = BranchExistsLocal(ctx, repo, "feature-a")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestStashSaveNoLocalChanges(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	ref, err := StashSave(ctx, repo, "gx auto-stash")
	require.NoError(t, err)
	require.Empty(t, ref)
}

func TestStashSaveAndPopRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("changed\n"), 0o644))
	ref, err := StashSave(ctx, repo, "gx auto-stash")
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	dirty, err := HasUncommittedChanges(ctx, repo)
	require.NoError(t, err)
	require.False(t, dirty)

	require.NoError(t, StashPop(ctx, repo, ref))
	dirty, err = HasUncommittedChanges(ctx, repo)
	require.NoError(t, err)
	require.True(t, dirty)
}

func TestCommitAndResetCommit(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	shaBefore, err := HeadSHA(ctx, repo, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "new.txt"), []byte("x"), 0o644))
	require.NoError(t, AddAll(ctx, repo))
	require.NoError(t, Commit(ctx, repo, "add new.txt"))

	shaAfter, err := HeadSHA(ctx, repo, "")
	require.NoError(t, err)
	require.NotEqual(t, shaBefore, shaAfter)

	require.NoError(t, ResetCommit(ctx, repo))
	shaReset, err := HeadSHA(ctx, repo, "")
	require.NoError(t, err)
	require.Equal(t, shaBefore, shaReset)

	staged, err := HasUncommittedChanges(ctx, repo)
	require.NoError(t, err)
	require.True(t, staged)
}

func TestResetHardDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("dirty\n"), 0o644))
	require.NoError(t, ResetHard(ctx, repo))

	dirty, err := HasUncommittedChanges(ctx, repo)
	require.NoError(t, err)
	require.False(t, dirty)

	content, err := os.ReadFile(filepath.Join(repo, "README.md"))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(content))
}

func TestDeleteRemoteBranchFailsWithoutOriginRemote(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	err := DeleteRemoteBranch(ctx, repo, "nonexistent")
	require.Error(t, err)
}

func TestListLocalBranchesByPrefixFindsMatchesAndIgnoresOthers(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	require.NoError(t, CreateBranch(ctx, repo, "GX-demo-a"))
	require.NoError(t, SwitchBranch(ctx, repo, "main"))
	require.NoError(t, CreateBranch(ctx, repo, "GX-demo-b"))
	require.NoError(t, SwitchBranch(ctx, repo, "main"))
	require.NoError(t, CreateBranch(ctx, repo, "unrelated"))
	require.NoError(t, SwitchBranch(ctx, repo, "main"))

	names, err := ListLocalBranchesByPrefix(ctx, repo, "GX-demo")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"GX-demo-a", "GX-demo-b"}, names)
}
