package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gx-tools/gx/internal/model"
	"github.com/stretchr/testify/require"
)

func newState(id string, createdAt time.Time) *model.ChangeState {
	return &model.ChangeState{
		ChangeID:  id,
		CreatedAt: createdAt,
		Status:    model.StatusInProgress,
		Repositories: map[string]*model.RepoChangeState{
			"acme/web": {RepoSlug: "acme/web", BranchName: id, Status: model.RepoBranchCreated},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	state := newState("GX-1", time.Now())
	require.NoError(t, store.Save(state))

	loaded, err := store.Load("GX-1")
	require.NoError(t, err)
	require.Equal(t, "GX-1", loaded.ChangeID)
	require.Equal(t, "acme/web", loaded.Repositories["acme/web"].RepoSlug)
	require.False(t, loaded.UpdatedAt.IsZero())
}

func TestLoadMissingReturnsNilNoError(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	loaded, err := store.Load("does-not-exist")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestListSortedByCreatedAtDescending(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	older := newState("GX-older", time.Now().Add(-48*time.Hour))
	newer := newState("GX-newer", time.Now())
	require.NoError(t, store.Save(older))
	require.NoError(t, store.Save(newer))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "GX-newer", list[0].ChangeID)
	require.Equal(t, "GX-older", list[1].ChangeID)
}

func TestListSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(newState("GX-good", time.Now())))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "GX-bad.json"), []byte("{not valid json"), 0o644))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "GX-good", list[0].ChangeID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(newState("GX-1", time.Now())))
	require.NoError(t, store.Delete("GX-1"))
	require.NoError(t, store.Delete("GX-1"))

	loaded, err := store.Load("GX-1")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestCleanupOldDeletesAgedFullyMergedEntries(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	stale := newState("GX-stale", time.Now().Add(-100*24*time.Hour))
	stale.Status = model.StatusFullyMerged
	require.NoError(t, store.Save(stale))
	rewriteUpdatedAt(t, dir, "GX-stale", time.Now().Add(-100*24*time.Hour))

	fresh := newState("GX-fresh", time.Now())
	fresh.Status = model.StatusFullyMerged
	require.NoError(t, store.Save(fresh))

	stillOpen := newState("GX-open", time.Now())
	stillOpen.Status = model.StatusInProgress
	require.NoError(t, store.Save(stillOpen))
	rewriteUpdatedAt(t, dir, "GX-open", time.Now().Add(-100*24*time.Hour))

	deleted, err := store.CleanupOld(30)
	require.NoError(t, err)
	require.Equal(t, []string{"GX-stale"}, deleted)

	loaded, err := store.Load("GX-stale")
	require.NoError(t, err)
	require.Nil(t, loaded)

	loaded, err = store.Load("GX-open")
	require.NoError(t, err)
	require.NotNil(t, loaded, "InProgress entries are never purged regardless of age")
}

// rewriteUpdatedAt patches a saved state file's updated_at field directly,
// bypassing Save (which always stamps the current time), to simulate an
// aged record for CleanupOld tests.
func rewriteUpdatedAt(t *testing.T, dir, changeID string, ts time.Time) {
	t.Helper()
	path := filepath.Join(dir, changeID+".json")
	var state model.ChangeState
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &state))
	state.UpdatedAt = ts
	data, err = json.MarshalIndent(&state, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
