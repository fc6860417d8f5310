package change

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gx-tools/gx/internal/gitprim"
	"github.com/gx-tools/gx/internal/model"
)

// initBareAndClone creates a bare "remote" repo and a working clone with an
// initial commit, wiring the clone's origin to the bare repo so push/pull
// primitives have something real to talk to.
func initBareAndClone(t *testing.T) (clonePath string) {
	t.Helper()
	root := t.TempDir()
	bare := filepath.Join(root, "remote.git")
	clone := filepath.Join(root, "clone")

	run := func(dir string, args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=gx-test", "GIT_AUTHOR_EMAIL=gx@test.local",
			"GIT_COMMITTER_NAME=gx-test", "GIT_COMMITTER_EMAIL=gx@test.local")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
		return string(out)
	}

	require.NoError(t, os.MkdirAll(bare, 0o755))
	run(bare, "init", "--bare", "-b", "main")

	run(root, "clone", bare, "clone")
	require.NoError(t, os.WriteFile(filepath.Join(clone, "Cargo.toml"), []byte("version = \"1.0.0\"\n"), 0o644))
	run(clone, "add", "-A")
	run(clone, "commit", "-m", "initial")
	run(clone, "push", "-u", "origin", "main")

	return clone
}

func subSpec(id, commitMessage string, prMode model.PRMode) model.ChangeSpec {
	return model.ChangeSpec{
		ID:            id,
		Kind:          model.Change{Kind: model.KindSub, Literal: `version = "1.0.0"`, Replacement: `version = "1.1.0"`},
		FileGlobs:     []string{"Cargo.toml"},
		CommitMessage: commitMessage,
		PRMode:        prMode,
	}
}

func TestPipelineLiteralSubstitutionCommitsWithoutPR(t *testing.T) {
	ctx := context.Background()
	clone := initBareAndClone(t)
	repo := model.Repo{Path: clone, Name: "web", Slug: ""}

	p := &Pipeline{}
	result := p.Run(ctx, repo, subSpec("GX-test-1", "bump version", model.PRNone), []string{"Cargo.toml"}, nil)

	require.Nil(t, result.Err)
	require.Equal(t, model.ActionCommitted, result.Action)
	require.Equal(t, []string{"Cargo.toml"}, result.FilesAffected)
	require.Equal(t, 1, result.SubstitutionStat.FilesChanged)
	require.Equal(t, 1, result.SubstitutionStat.TotalMatches)

	branch, err := gitprim.CurrentBranch(ctx, clone)
	require.NoError(t, err)
	require.Equal(t, "GX-test-1", branch)

	content, err := os.ReadFile(filepath.Join(clone, "Cargo.toml"))
	require.NoError(t, err)
	require.Contains(t, string(content), "1.1.0")

	_, err = os.Stat(filepath.Join(clone, "Cargo.toml.backup"))
	require.True(t, os.IsNotExist(err), "backup sidecar must be cleaned up after commit")
}

func TestPipelineRegexNoMatchIsDryRun(t *testing.T) {
	ctx := context.Background()
	clone := initBareAndClone(t)
	repo := model.Repo{Path: clone, Name: "web"}

	spec := model.ChangeSpec{
		ID:            "GX-test-2",
		Kind:          model.Change{Kind: model.KindRegex, Pattern: `v\d+\.\d+\.\d+-nonexistent`, Replacement: "v2"},
		FileGlobs:     []string{"Cargo.toml"},
		CommitMessage: "x",
	}

	p := &Pipeline{}
	result := p.Run(ctx, repo, spec, []string{"Cargo.toml"}, nil)

	require.Nil(t, result.Err)
	require.Equal(t, model.ActionDryRun, result.Action)
	require.Empty(t, result.FilesAffected)
	require.Equal(t, 1, result.SubstitutionStat.FilesNoChange)

	branch, err := gitprim.CurrentBranch(ctx, clone)
	require.NoError(t, err)
	require.Equal(t, "main", branch, "a no-op change must not leave a change branch behind")
}

func TestPipelineDryRunLeavesTreeUnchanged(t *testing.T) {
	ctx := context.Background()
	clone := initBareAndClone(t)
	repo := model.Repo{Path: clone, Name: "web"}

	before, err := os.ReadFile(filepath.Join(clone, "Cargo.toml"))
	require.NoError(t, err)

	p := &Pipeline{}
	result := p.Run(ctx, repo, subSpec("GX-test-3", "" /* dry run */, model.PRNone), []string{"Cargo.toml"}, nil)

	require.Nil(t, result.Err)
	require.Equal(t, model.ActionDryRun, result.Action)
	require.NotEmpty(t, result.Diff.Text)

	after, err := os.ReadFile(filepath.Join(clone, "Cargo.toml"))
	require.NoError(t, err)
	require.Equal(t, before, after)

	branch, err := gitprim.CurrentBranch(ctx, clone)
	require.NoError(t, err)
	require.Equal(t, "main", branch)

	dirty, err := gitprim.HasUncommittedChanges(ctx, clone)
	require.NoError(t, err)
	require.False(t, dirty)
}

func TestPipelineInvalidRegexFailsFastWithoutTouchingFiles(t *testing.T) {
	ctx := context.Background()
	clone := initBareAndClone(t)
	repo := model.Repo{Path: clone, Name: "web"}

	spec := model.ChangeSpec{
		ID:            "GX-test-4",
		Kind:          model.Change{Kind: model.KindRegex, Pattern: "(unterminated", Replacement: "x"},
		FileGlobs:     []string{"Cargo.toml"},
		CommitMessage: "x",
	}

	before, err := os.ReadFile(filepath.Join(clone, "Cargo.toml"))
	require.NoError(t, err)

	p := &Pipeline{}
	result := p.Run(ctx, repo, spec, []string{"Cargo.toml"}, nil)

	require.Error(t, result.Err)
	var target *InvalidPatternError
	require.ErrorAs(t, result.Err, &target)

	after, err := os.ReadFile(filepath.Join(clone, "Cargo.toml"))
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestFailureCountAndProgressFormatting(t *testing.T) {
	results := []model.CreateResult{
		{Repo: model.Repo{Name: "a"}, Action: model.ActionPrCreated},
		{Repo: model.Repo{Name: "b"}, Err: context.DeadlineExceeded},
	}
	require.Equal(t, 1, FailureCount(results))

	width := NameColumnWidth([]model.Repo{{Name: "short"}, {Name: "a-much-longer-name"}})
	require.Equal(t, len("a-much-longer-name"), width)
}
