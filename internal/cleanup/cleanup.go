// Package cleanup implements spec.md §4.12: removing change branches once
// their PRs have merged or closed, and pruning state files once every repo
// in a change has been cleaned up. Grounded on the teacher's
// cmd/governctl/pr/merge.go, which already deletes its temporary push
// branch (local and remote) once a merge lands; generalized here into a
// standalone pass over a persisted ChangeState rather than an inline defer.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gx-tools/gx/internal/gitprim"
	"github.com/gx-tools/gx/internal/model"
	"github.com/gx-tools/gx/internal/statestore"
)

// RepoOutcome is one repo's cleanup result.
type RepoOutcome struct {
	RepoSlug string
	Skipped  bool
	Reason   string
	Err      error
}

// Options controls how aggressively One (and All) tear down a repo's change
// branch.
type Options struct {
	IncludeRemote bool
	Force         bool   // clean up regardless of EligibleForCleanup
	SearchRoot    string // root to search under when a repo has no recorded LocalPath
}

// locateClone finds repo's clone on disk. It trusts repo.LocalPath when set,
// per spec.md §4.12 line 194, else falls back to a heuristic search under
// root for "./name" and "./owner/name", since a record can lose its
// LocalPath across a restart or a manually-edited state file.
func locateClone(root, slug string, repo *model.RepoChangeState) string {
	if repo.LocalPath != "" {
		return repo.LocalPath
	}
	if root == "" {
		root = "."
	}

	name := slug
	if i := strings.LastIndex(slug, "/"); i >= 0 {
		name = slug[i+1:]
	}

	for _, candidate := range []string{filepath.Join(root, name), filepath.Join(root, slug)} {
		if info, err := os.Stat(filepath.Join(candidate, ".git")); err == nil && info != nil {
			return candidate
		}
	}
	return ""
}

// Eligible reports whether a change is a candidate for cleanup: every repo
// is either already cleaned up or eligible (merged/closed), per spec.md
// §4.12's "list" flow.
func Eligible(state *model.ChangeState) bool {
	if state == nil {
		return false
	}
	for _, r := range state.Repositories {
		if r.Status == model.RepoCleanedUp {
			continue
		}
		if !r.Status.EligibleForCleanup() {
			return false
		}
	}
	return true
}

// One cleans up every eligible repo within a single change, deleting local
// (and optionally remote) change branches, then persists the updated state.
// Once every repo is CleanedUp the state file itself is pruned from store.
func One(ctx context.Context, store *statestore.Store, state *model.ChangeState, opts Options) ([]RepoOutcome, error) {
	var outcomes []RepoOutcome

	for slug, repo := range state.Repositories {
		if repo.Status == model.RepoCleanedUp {
			outcomes = append(outcomes, RepoOutcome{RepoSlug: slug, Skipped: true, Reason: "already cleaned up"})
			continue
		}
		if !opts.Force && !repo.Status.EligibleForCleanup() {
			outcomes = append(outcomes, RepoOutcome{RepoSlug: slug, Skipped: true, Reason: fmt.Sprintf("status %s not eligible", repo.Status)})
			continue
		}
		localPath := locateClone(opts.SearchRoot, slug, repo)
		if localPath == "" {
			outcomes = append(outcomes, RepoOutcome{RepoSlug: slug, Skipped: true, Reason: "no local path recorded or found"})
			continue
		}

		if err := gitprim.DeleteLocalBranch(ctx, localPath, repo.BranchName); err != nil {
			outcomes = append(outcomes, RepoOutcome{RepoSlug: slug, Err: err})
			continue
		}
		if opts.IncludeRemote {
			if err := gitprim.DeleteRemoteBranch(ctx, localPath, repo.BranchName); err != nil {
				outcomes = append(outcomes, RepoOutcome{RepoSlug: slug, Err: err})
				continue
			}
		}

		repo.Status = model.RepoCleanedUp
		outcomes = append(outcomes, RepoOutcome{RepoSlug: slug})
	}

	if err := store.Save(state); err != nil {
		return outcomes, err
	}

	if allCleanedUp(state) {
		if err := store.Delete(state.ChangeID); err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

func allCleanedUp(state *model.ChangeState) bool {
	for _, r := range state.Repositories {
		if r.Status != model.RepoCleanedUp {
			return false
		}
	}
	return true
}

// All runs One across every eligible change in store, per spec.md §4.12's
// "cleanup --all" flow.
func All(ctx context.Context, store *statestore.Store, opts Options) (map[string][]RepoOutcome, error) {
	states, err := store.List()
	if err != nil {
		return nil, err
	}

	results := make(map[string][]RepoOutcome)
	for _, state := range states {
		if !opts.Force && !Eligible(state) {
			continue
		}
		outcomes, err := One(ctx, store, state, opts)
		if err != nil {
			return results, fmt.Errorf("cleaning up %s: %w", state.ChangeID, err)
		}
		results[state.ChangeID] = outcomes
	}
	return results, nil
}

// List returns every persisted change currently eligible for cleanup,
// without mutating anything, per spec.md §4.12's "cleanup --list" preview.
func List(store *statestore.Store) ([]*model.ChangeState, error) {
	states, err := store.List()
	if err != nil {
		return nil, err
	}

	var eligible []*model.ChangeState
	for _, s := range states {
		if Eligible(s) {
			eligible = append(eligible, s)
		}
	}
	return eligible, nil
}
