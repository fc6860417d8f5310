package change

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fatih/color"

	"github.com/gx-tools/gx/internal/logctx"
	"github.com/gx-tools/gx/internal/model"
	"github.com/gx-tools/gx/internal/width"
)

// BatchState is the single ChangeState shared by every repo's pipeline run
// in a batch, materialized once the first repo reaches phase G per
// spec.md §4.8's "State integration" note.
type BatchState struct {
	mu    sync.Mutex
	state *model.ChangeState
}

func newBatchState(spec model.ChangeSpec) *BatchState {
	return &BatchState{
		state: &model.ChangeState{
			ChangeID:      spec.ID,
			CreatedAt:     time.Now(),
			CommitMessage: spec.CommitMessage,
			Status:        model.StatusInProgress,
			Repositories:  make(map[string]*model.RepoChangeState),
		},
	}
}

func (b *BatchState) upsert(slug string, repoState *model.RepoChangeState, store Store) {
	if slug == "" {
		return
	}
	b.mu.Lock()
	b.state.Repositories[slug] = repoState
	b.state.Status = b.state.DeriveStatus()
	snapshot := *b.state
	b.mu.Unlock()

	if store != nil {
		if err := store.Save(&snapshot); err != nil {
			logctx.G(context.Background()).Warnf("could not persist change state %s: %v", snapshot.ChangeID, err)
		}
	}
}

func (b *BatchState) recordFailure(repo model.Repo, spec model.ChangeSpec, err error) {
	if !repo.HasSlug() {
		return
	}
	b.upsert(repo.Slug, &model.RepoChangeState{
		RepoSlug:   repo.Slug,
		BranchName: spec.ID,
		Status:     model.RepoFailed,
		Error:      err.Error(),
	}, nil)
}

// Snapshot returns a copy of the batch's current ChangeState.
func (b *BatchState) Snapshot() model.ChangeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.state
}

// RunBatch drives spec against every (repo, matchingFiles) pair
// concurrently, bounded by jobs workers, per spec.md §4.8's batch
// orchestration and §5's concurrency model. Results stream back in
// completion order; the caller supplies onResult to render progress (e.g.
// with column widths pre-computed from repo.Name via internal/width).
func (p *Pipeline) RunBatch(ctx context.Context, spec model.ChangeSpec, targets map[model.Repo][]string, jobs int, onResult func(model.CreateResult)) []model.CreateResult {
	batch := newBatchState(spec)

	g, gctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}

	var mu sync.Mutex
	var results []model.CreateResult

	for repo, files := range targets {
		repo, files := repo, files
		g.Go(func() error {
			result := p.Run(gctx, repo, spec, files, batch)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			if onResult != nil {
				onResult(result)
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// FailureCount returns the number of repos whose CreateResult carries an
// error, the value spec.md §7 assigns to the batch's process exit code
// (capped at 255 by the caller).
func FailureCount(results []model.CreateResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// FormatProgressLine renders one streamed completion row, column-aligned
// via internal/width against the widest repo name in the batch.
func FormatProgressLine(result model.CreateResult, nameColumn int) string {
	name := width.Pad(result.Repo.Name, nameColumn)
	switch {
	case result.Err != nil:
		return fmt.Sprintf("%s  %s  %v", name, color.RedString("FAILED"), result.Err)
	case result.Action == model.ActionPrCreated:
		return fmt.Sprintf("%s  %s", name, color.GreenString("PR created"))
	case result.Action == model.ActionCommitted:
		return fmt.Sprintf("%s  %s", name, color.YellowString("committed (no PR)"))
	case result.Action == model.ActionDryRun:
		return fmt.Sprintf("%s  %s", name, color.CyanString("dry run"))
	default:
		return fmt.Sprintf("%s  %s", name, string(result.Action))
	}
}

// NameColumnWidth pre-scans repo names so streamed, out-of-order completion
// rows still align, per spec.md §4.8's "pre-computed from a cheap pre-scan"
// requirement.
func NameColumnWidth(repos []model.Repo) int {
	names := make([]string, len(repos))
	for i, r := range repos {
		names[i] = r.Name
	}
	return width.Columns(names)
}
