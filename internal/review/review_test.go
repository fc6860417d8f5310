package review

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gx-tools/gx/internal/ghbridge"
	"github.com/gx-tools/gx/internal/model"
	"github.com/gx-tools/gx/internal/statestore"
)

var assertErr = errors.New("boom")

func fakePR(slug string, number int) ghbridge.PRInfo {
	return ghbridge.PRInfo{RepoSlug: slug, Number: number, State: ghbridge.PRStateOpen}
}

func TestResolveAccountsPrefersExplicitFlag(t *testing.T) {
	got := ResolveAccounts([]string{"acme"}, t.TempDir(), "default-org")
	require.Equal(t, []string{"acme"}, got)
}

func TestResolveAccountsFallsBackToConfiguredDefault(t *testing.T) {
	got := ResolveAccounts(nil, t.TempDir(), "default-org")
	require.Equal(t, []string{"default-org"}, got)
}

func TestResolveAccountsAutoDetectsFromWorkingTree(t *testing.T) {
	cwd := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cwd, "acme", "widgets", ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(cwd, "src"), 0o755))

	got := ResolveAccounts(nil, cwd, "default-org")
	require.Equal(t, []string{"acme"}, got)
}

func TestResolveAccountsIgnoresNonOwnerDirNames(t *testing.T) {
	cwd := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cwd, "projects", "widgets", ".git"), 0o755))

	got := ResolveAccounts(nil, cwd, "default-org")
	require.Equal(t, []string{"default-org"}, got)
}

func TestApplyPRActionPersistsStatusAndRecomputesAggregate(t *testing.T) {
	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)

	state := &model.ChangeState{
		ChangeID: "GX-demo",
		Status:   model.StatusPrsCreated,
		Repositories: map[string]*model.RepoChangeState{
			"acme/a": {RepoSlug: "acme/a", Status: model.RepoPrOpen},
			"acme/b": {RepoSlug: "acme/b", Status: model.RepoPrOpen},
		},
	}
	require.NoError(t, store.Save(state))

	prs := []AggregatedPR{
		{PR: fakePR("acme/a", 1)},
		{PR: fakePR("acme/b", 2)},
	}

	errs := applyPRAction(context.Background(), store, "GX-demo", prs, model.RepoPrClosed, func(ctx context.Context, slug string, number int) error {
		return nil
	})
	require.Empty(t, errs)

	loaded, err := store.Load("GX-demo")
	require.NoError(t, err)
	require.Equal(t, model.RepoPrClosed, loaded.Repositories["acme/a"].Status)
	require.Equal(t, model.RepoPrClosed, loaded.Repositories["acme/b"].Status)
}

func TestApplyPRActionSkipsStatusUpdateOnFailure(t *testing.T) {
	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)

	state := &model.ChangeState{
		ChangeID: "GX-demo",
		Repositories: map[string]*model.RepoChangeState{
			"acme/a": {RepoSlug: "acme/a", Status: model.RepoPrOpen},
		},
	}
	require.NoError(t, store.Save(state))

	prs := []AggregatedPR{{PR: fakePR("acme/a", 1)}}

	errs := applyPRAction(context.Background(), store, "GX-demo", prs, model.RepoPrMerged, func(ctx context.Context, slug string, number int) error {
		return assertErr
	})
	require.Len(t, errs, 1)

	loaded, err := store.Load("GX-demo")
	require.NoError(t, err)
	require.Equal(t, model.RepoPrOpen, loaded.Repositories["acme/a"].Status)
}
