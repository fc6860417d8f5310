// Package review implements spec.md §4.11: account resolution, parallel
// per-account PR querying, and approve/delete/purge aggregate actions.
// Grounded on internal/ghapi/ghapi.go's paginated-list idiom (before its
// removal, see DESIGN.md), re-targeted at `gh search prs` through
// internal/ghbridge instead of an in-process REST client.
package review

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gx-tools/gx/internal/ghbridge"
	"github.com/gx-tools/gx/internal/gitprim"
	"github.com/gx-tools/gx/internal/model"
	"github.com/gx-tools/gx/internal/statestore"
)

// nonOwnerDirNames are common working-tree directory names that are never
// themselves a GitHub account, skipped during auto-detection per
// spec.md §4.11.
var nonOwnerDirNames = map[string]bool{
	"src": true, "projects": true, "workspace": true, "repos": true, "git": true,
}

// ResolveAccounts applies spec.md §4.11's precedence: explicit flag,
// auto-detection from working-tree paths, then configured default.
func ResolveAccounts(explicit []string, cwd string, configuredDefault string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	if detected := autoDetectAccounts(cwd); len(detected) > 0 {
		return detected
	}
	if configuredDefault != "" {
		return []string{configuredDefault}
	}
	return nil
}

// autoDetectAccounts scans immediate subdirectories of cwd for an
// owner/name layout, skipping common non-owner directory names.
func autoDetectAccounts(cwd string) []string {
	entries, err := os.ReadDir(cwd)
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var accounts []string
	for _, e := range entries {
		if !e.IsDir() || nonOwnerDirNames[e.Name()] {
			continue
		}
		sub, err := os.ReadDir(filepath.Join(cwd, e.Name()))
		if err != nil {
			continue
		}
		hasRepoChild := false
		for _, s := range sub {
			if s.IsDir() {
				if _, err := os.Stat(filepath.Join(cwd, e.Name(), s.Name(), ".git")); err == nil {
					hasRepoChild = true
					break
				}
			}
		}
		if hasRepoChild && !seen[e.Name()] {
			seen[e.Name()] = true
			accounts = append(accounts, e.Name())
		}
	}
	return accounts
}

// AggregatedPR correlates a PR returned by the GitHub bridge with the
// persisted per-repo state, when one exists.
type AggregatedPR struct {
	PR    ghbridge.PRInfo
	State *model.RepoChangeState
}

// ListByChangeID queries every account in parallel for PRs whose head
// branch equals changeID, correlating with store's ChangeState when
// present.
func ListByChangeID(ctx context.Context, bridge *ghbridge.Bridge, accounts []string, changeID string, store *statestore.Store) ([]AggregatedPR, error) {
	persisted, _ := store.Load(changeID)

	type partial struct {
		prs []ghbridge.PRInfo
		err error
	}
	results := make([]partial, len(accounts))

	var wg sync.WaitGroup
	for i, account := range accounts {
		wg.Add(1)
		go func(i int, account string) {
			defer wg.Done()
			prs, err := bridge.ListPRsByBranch(ctx, account, changeID)
			results[i] = partial{prs: prs, err: err}
		}(i, account)
	}
	wg.Wait()

	var aggregated []AggregatedPR
	for _, r := range results {
		if r.err != nil {
			continue
		}
		for _, pr := range r.prs {
			var state *model.RepoChangeState
			if persisted != nil {
				state = persisted.Repositories[pr.RepoSlug]
			}
			aggregated = append(aggregated, AggregatedPR{PR: pr, State: state})
		}
	}
	return aggregated, nil
}

// applyPRAction runs action against every aggregated PR, and — for any repo
// whose slug has a persisted RepoChangeState under changeID — records
// newStatus (when non-empty) and re-saves the ChangeState with its
// aggregate status recomputed. Per spec.md §3 line 58, ChangeState must be
// persisted "after each repo's PR step and on every status transition", so
// this runs even for actions (like approve) that don't carry a dedicated
// RepoStatus value, simply refreshing UpdatedAt to record the PR step.
func applyPRAction(ctx context.Context, store *statestore.Store, changeID string, prs []AggregatedPR, newStatus model.RepoStatus, action func(context.Context, string, int) error) []error {
	var errs []error

	state, err := store.Load(changeID)
	if err != nil {
		errs = append(errs, err)
	}

	touched := false
	for _, a := range prs {
		if err := action(ctx, a.PR.RepoSlug, a.PR.Number); err != nil {
			errs = append(errs, err)
			continue
		}
		touched = true
		if state == nil {
			continue
		}
		if rs, ok := state.Repositories[a.PR.RepoSlug]; ok && newStatus != "" {
			rs.Status = newStatus
		}
	}

	if touched && state != nil {
		state.Status = state.DeriveStatus()
		if err := store.Save(state); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Approve approves every aggregated PR. Approval has no dedicated
// RepoStatus in the review state machine (it precedes, rather than causes,
// a PrMerged/PrClosed transition), so the ChangeState is still reloaded and
// resaved to record the PR step per spec.md §3.
func Approve(ctx context.Context, bridge *ghbridge.Bridge, store *statestore.Store, changeID string, prs []AggregatedPR) []error {
	return applyPRAction(ctx, store, changeID, prs, "", bridge.ApprovePR)
}

// Merge merges every aggregated PR, bypassing branch protection when admin
// is set, and records the resulting PrMerged status per spec.md §4.13's
// state machine.
func Merge(ctx context.Context, bridge *ghbridge.Bridge, store *statestore.Store, changeID string, prs []AggregatedPR, admin bool) []error {
	return applyPRAction(ctx, store, changeID, prs, model.RepoPrMerged, func(ctx context.Context, slug string, number int) error {
		return bridge.MergePR(ctx, slug, number, admin)
	})
}

// Delete closes every aggregated PR without merging, recording PrClosed.
func Delete(ctx context.Context, bridge *ghbridge.Bridge, store *statestore.Store, changeID string, prs []AggregatedPR) []error {
	return applyPRAction(ctx, store, changeID, prs, model.RepoPrClosed, bridge.ClosePR)
}

// Purge closes every PR matching changeID and deletes every branch (local
// and remote) beginning with the changeID prefix across known repo paths,
// per spec.md §4.11. Branch discovery goes through gitprim's for-each-ref
// primitive so branches packed into .git/packed-refs are found too.
func Purge(ctx context.Context, bridge *ghbridge.Bridge, store *statestore.Store, changeID string, prs []AggregatedPR, repoPaths map[string]string) []error {
	var errs []error

	errs = append(errs, Delete(ctx, bridge, store, changeID, prs)...)

	for _, path := range repoPaths {
		names, err := gitprim.ListLocalBranchesByPrefix(ctx, path, changeID)
		if err != nil {
			continue
		}
		for _, name := range names {
			if !strings.HasPrefix(name, changeID) {
				continue
			}
			if err := gitprim.DeleteLocalBranch(ctx, path, name); err != nil {
				errs = append(errs, err)
			}
			if err := gitprim.DeleteRemoteBranch(ctx, path, name); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
