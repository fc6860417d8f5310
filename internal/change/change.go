// Package change implements spec.md §4.8, the per-repo change pipeline and
// its batch orchestration: this is gx's core. Grounded on the teacher's
// cmd/governctl/pr/merge.go phase-by-phase git choreography (checkout
// base, branch, push, gh pr edit/merge, defer-based rollback), generalized
// from a single "rebase PR onto synthetic branch" flow into the spec's
// preflight->stash->branch->edit->commit->push->pr pipeline, with rollback
// modeled explicitly via internal/txn instead of ad-hoc defers.
package change

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/gx-tools/gx/internal/ghbridge"
	"github.com/gx-tools/gx/internal/gitfs"
	"github.com/gx-tools/gx/internal/gitprim"
	"github.com/gx-tools/gx/internal/logctx"
	"github.com/gx-tools/gx/internal/model"
	"github.com/gx-tools/gx/internal/txn"
)

// ApplyOutcome is the uniform per-file result of applying a Change, per
// spec.md §9's "dynamic dispatch over change kinds" note: engine code
// branches on this result, not on the change kind.
type ApplyOutcome int

const (
	Changed ApplyOutcome = iota
	NoMatches
	NoChange
)

// InvalidPatternError signals a Regex change whose pattern failed to
// compile; surfaced before any file is touched, per spec.md §4.8.
type InvalidPatternError struct {
	Pattern string
	Wrapped error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid regex pattern %q: %v", e.Pattern, e.Wrapped)
}
func (e *InvalidPatternError) Unwrap() error { return e.Wrapped }

// Pipeline runs the per-repo change pipeline against repo for the files in
// matchingFiles, driving git primitives, the filesystem, and (optionally)
// the GitHub bridge, and records checkpoints into store.
type Pipeline struct {
	Bridge *ghbridge.Bridge
	Store  Store
}

// Store is the subset of statestore.Store the pipeline needs, kept as an
// interface so tests can substitute an in-memory fake.
type Store interface {
	Save(state *model.ChangeState) error
}

// newTransaction opens a recovery-backed transaction so a crashed process
// can be resumed via the rollback CLI's recovery scan; a repo whose
// recovery directory can't be created falls back to an in-memory-only
// transaction rather than failing the whole run.
func newTransaction(ctx context.Context, changeID, repoPath string) *txn.Transaction {
	dir, err := txn.RecoveryDir()
	if err != nil {
		return txn.New("")
	}
	tr, err := txn.NewWithRecovery(dir, changeID, repoPath, "preflight")
	if err != nil {
		logctx.G(ctx).Warnf("recovery record unavailable for %s: %v", repoPath, err)
		return txn.New("")
	}
	return tr
}

// Run executes the full per-repo pipeline and returns its terminal result.
// When batch is non-nil, the per-repo state is recorded into it (and saved
// through p.Store) once the repo reaches the change-branch step.
func (p *Pipeline) Run(ctx context.Context, repo model.Repo, spec model.ChangeSpec, matchingFiles []string, batch *BatchState) model.CreateResult {
	log := logctx.G(ctx).WithField("repo", repo.Name)
	tr := newTransaction(ctx, spec.ID, repo.Path)

	result := model.CreateResult{Repo: repo, ChangeID: spec.ID}

	fail := func(err error) model.CreateResult {
		tr.Rollback(ctx)
		result.Err = err
		if batch != nil {
			batch.recordFailure(repo, spec, err)
		}
		log.Warnf("pipeline failed: %v", err)
		return result
	}

	// A. Preflight.
	originalBranch, err := gitprim.CurrentBranch(ctx, repo.Path)
	if err != nil {
		return fail(fmt.Errorf("preflight: %w", err))
	}
	headBranch, err := gitprim.GetHeadBranch(ctx, repo.Path)
	if err != nil {
		return fail(fmt.Errorf("preflight: %w", err))
	}

	// B. Stash.
	dirty, err := gitprim.HasUncommittedChanges(ctx, repo.Path)
	if err != nil {
		return fail(fmt.Errorf("stash check: %w", err))
	}
	if dirty {
		ref, err := gitprim.StashSave(ctx, repo.Path, "GX auto-stash for "+spec.ID)
		if err != nil {
			return fail(fmt.Errorf("stash: %w", err))
		}
		if ref != "" {
			tr.Push(ctx, txn.Stash, "pop stash "+ref, func(ctx context.Context) error {
				return gitprim.StashPop(ctx, repo.Path, ref)
			})
		}
	}

	// C. Switch to head branch.
	if originalBranch != headBranch && originalBranch != "HEAD" {
		if err := gitprim.SwitchBranch(ctx, repo.Path, headBranch); err != nil {
			return fail(fmt.Errorf("switch to head branch: %w", err))
		}
		tr.Push(ctx, txn.Branch, "switch back to "+originalBranch, func(ctx context.Context) error {
			return gitprim.SwitchBranch(ctx, repo.Path, originalBranch)
		})
	}

	// D. Sync. No rollback: pulls are recoverable by subsequent reset.
	if err := gitprim.PullFFOnly(ctx, repo.Path); err != nil {
		return fail(fmt.Errorf("sync: %w", err))
	}

	// E. Apply edits.
	filesAffected, stats, diff, err := applyEdits(ctx, repo.Path, spec, matchingFiles, tr)
	if err != nil {
		return fail(fmt.Errorf("apply edits: %w", err))
	}

	tr.Push(ctx, txn.File, "hard reset as safety net", func(ctx context.Context) error {
		return gitprim.ResetHard(ctx, repo.Path)
	})

	result.FilesAffected = filesAffected
	result.SubstitutionStat = stats
	if diff != "" {
		result.Diff = &model.DiffSummary{Text: diff, Files: len(filesAffected)}
	}

	if len(filesAffected) == 0 {
		tr.Rollback(ctx)
		result.Action = model.ActionDryRun
		return result
	}

	// F. Dry-run gate.
	if spec.IsDryRun() {
		tr.Rollback(ctx)
		result.Action = model.ActionDryRun
		return result
	}

	tr.SetPhase(ctx, "change_branch")

	// G. Change branch.
	branchExisted, err := gitprim.BranchExistsLocal(ctx, repo.Path, spec.ID)
	if err != nil {
		return fail(fmt.Errorf("change branch: %w", err))
	}
	if err := gitprim.CreateBranch(ctx, repo.Path, spec.ID); err != nil {
		return fail(fmt.Errorf("change branch: %w", err))
	}
	tr.Push(ctx, txn.Branch, "restore branch after change-branch step", func(ctx context.Context) error {
		if err := gitprim.SwitchBranch(ctx, repo.Path, originalBranch); err != nil {
			return err
		}
		if !branchExisted {
			return gitprim.DeleteLocalBranch(ctx, repo.Path, spec.ID)
		}
		return nil
	})

	repoState := &model.RepoChangeState{
		RepoSlug:       repo.Slug,
		LocalPath:      repo.Path,
		BranchName:     spec.ID,
		OriginalBranch: originalBranch,
		FilesModified:  filesAffected,
		Status:         model.RepoBranchCreated,
	}
	if batch != nil {
		batch.upsert(repo.Slug, repoState, p.Store)
	}

	tr.SetPhase(ctx, "commit")

	// H. Commit.
	if err := gitprim.AddAll(ctx, repo.Path); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}
	if err := gitprim.Commit(ctx, repo.Path, spec.CommitMessage); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}
	tr.Push(ctx, txn.Git, "undo commit", func(ctx context.Context) error {
		return gitprim.ResetCommit(ctx, repo.Path)
	})
	result.Action = model.ActionApplied

	tr.SetPhase(ctx, "push")

	// I. Push.
	if err := gitprim.Push(ctx, repo.Path, spec.ID); err != nil {
		return fail(fmt.Errorf("push: %w", err))
	}
	tr.Push(ctx, txn.Remote, "delete remote branch "+spec.ID, func(ctx context.Context) error {
		return gitprim.DeleteRemoteBranch(ctx, repo.Path, spec.ID)
	})
	result.Action = model.ActionCommitted
	if batch != nil {
		batch.upsert(repo.Slug, repoState, p.Store)
	}

	// J. PR (optional).
	if spec.PRMode != model.PRNone && p.Bridge != nil && repo.HasSlug() {
		draft := spec.PRMode == model.PRDraft
		number, url, prErr := p.Bridge.CreatePR(ctx, repo.Slug, spec.ID, headBranch, spec.CommitMessage, spec.ID, draft)
		if prErr != nil {
			log.Warnf("pr creation failed, commit/push left in place: %v", prErr)
			repoState.Error = prErr.Error()
		} else {
			repoState.PRNumber = number
			repoState.PRURL = url
			if draft {
				repoState.Status = model.RepoPrDraft
			} else {
				repoState.Status = model.RepoPrOpen
			}
			result.Action = model.ActionPrCreated
		}
		if batch != nil {
			batch.upsert(repo.Slug, repoState, p.Store)
		}
	}

	// K. Finalize.
	tr.Commit(ctx)
	return result
}

// applyEdits gates on spec.Kind.Kind, applying the change to every matching
// file and registering per-file rollback/cleanup actions.
func applyEdits(ctx context.Context, root string, spec model.ChangeSpec, matchingFiles []string, tr *txn.Transaction) ([]string, *model.SubstitutionStats, string, error) {
	switch spec.Kind.Kind {
	case model.KindAdd:
		return applyAdd(ctx, root, spec, tr)
	case model.KindDelete:
		return applyDelete(ctx, root, matchingFiles, tr)
	case model.KindSub:
		return applySubOrRegex(ctx, root, matchingFiles, tr, func(content string) (string, int, error) {
			count := strings.Count(content, spec.Kind.Literal)
			return strings.ReplaceAll(content, spec.Kind.Literal, spec.Kind.Replacement), count, nil
		})
	case model.KindRegex:
		re, err := regexp.Compile(spec.Kind.Pattern)
		if err != nil {
			return nil, nil, "", &InvalidPatternError{Pattern: spec.Kind.Pattern, Wrapped: err}
		}
		return applySubOrRegex(ctx, root, matchingFiles, tr, func(content string) (string, int, error) {
			matches := re.FindAllStringIndex(content, -1)
			return re.ReplaceAllString(content, spec.Kind.Replacement), len(matches), nil
		})
	default:
		return nil, nil, "", fmt.Errorf("unknown change kind %q", spec.Kind.Kind)
	}
}

func applyAdd(ctx context.Context, root string, spec model.ChangeSpec, tr *txn.Transaction) ([]string, *model.SubstitutionStats, string, error) {
	path := spec.Kind.AddPath
	existing, readErr := gitfs.ReadFile(root, path)
	existed := readErr == nil

	var diff string
	if existed {
		backup, err := gitfs.BackupFile(root, path)
		if err != nil {
			return nil, nil, "", err
		}
		tr.Push(ctx, txn.File, "restore "+path+" from backup", func(ctx context.Context) error {
			return gitfs.RestoreFromBackup(root, backup, path)
		})
		tr.Push(ctx, txn.Cleanup, "delete backup for "+path, func(ctx context.Context) error {
			return gitfs.CleanupBackup(root, backup)
		})
		diff = gitfs.GenerateDiff(path, path, existing, spec.Kind.AddContent, 3)
	} else {
		tr.Push(ctx, txn.File, "delete created file "+path, func(ctx context.Context) error {
			return gitfs.DeleteFile(root, path)
		})
		diff = gitfs.GenerateDiff(path, path, nil, spec.Kind.AddContent, 3)
	}

	if err := gitfs.WriteFile(root, path, spec.Kind.AddContent); err != nil {
		return nil, nil, "", err
	}

	return []string{path}, nil, diff, nil
}

func applyDelete(ctx context.Context, root string, matchingFiles []string, tr *txn.Transaction) ([]string, *model.SubstitutionStats, string, error) {
	var affected []string
	var diffs []string

	for _, path := range matchingFiles {
		content, err := gitfs.ReadFile(root, path)
		if err != nil {
			return nil, nil, "", err
		}
		backup, err := gitfs.BackupFile(root, path)
		if err != nil {
			return nil, nil, "", err
		}
		tr.Push(ctx, txn.File, "restore deleted file "+path, func(ctx context.Context) error {
			return gitfs.RestoreFromBackup(root, backup, path)
		})
		tr.Push(ctx, txn.Cleanup, "delete backup for "+path, func(ctx context.Context) error {
			return gitfs.CleanupBackup(root, backup)
		})
		if err := gitfs.DeleteFile(root, path); err != nil {
			return nil, nil, "", err
		}
		diffs = append(diffs, gitfs.GenerateDiff(path, path, content, nil, 3))
		affected = append(affected, path)
	}

	return affected, nil, strings.Join(diffs, ""), nil
}

// applySubOrRegex runs transform against each matching file's content,
// classifying the outcome per spec.md §4.8's Sub/Regex shape.
func applySubOrRegex(ctx context.Context, root string, matchingFiles []string, tr *txn.Transaction, transform func(content string) (newContent string, matchCount int, err error)) ([]string, *model.SubstitutionStats, string, error) {
	stats := &model.SubstitutionStats{}
	var affected []string
	var diffs []string

	for _, path := range matchingFiles {
		raw, err := gitfs.ReadFile(root, path)
		if err != nil {
			return nil, nil, "", err
		}
		stats.FilesScanned++

		content := string(raw)
		newContent, count, err := transform(content)
		if err != nil {
			return nil, nil, "", err
		}

		outcome := classify(content, newContent, count)
		switch outcome {
		case NoMatches:
			stats.FilesNoChange++
			continue
		case NoChange:
			stats.FilesWithMatches++
			stats.FilesNoChange++
			continue
		case Changed:
			stats.FilesWithMatches++
			stats.FilesChanged++
			stats.TotalMatches += count

			backup, err := gitfs.BackupFile(root, path)
			if err != nil {
				return nil, nil, "", err
			}
			tr.Push(ctx, txn.File, "restore "+path+" from backup", func(ctx context.Context) error {
				return gitfs.RestoreFromBackup(root, backup, path)
			})
			tr.Push(ctx, txn.Cleanup, "delete backup for "+path, func(ctx context.Context) error {
				return gitfs.CleanupBackup(root, backup)
			})
			if err := gitfs.WriteFile(root, path, []byte(newContent)); err != nil {
				return nil, nil, "", err
			}
			diffs = append(diffs, gitfs.GenerateDiff(path, path, raw, []byte(newContent), 3))
			affected = append(affected, path)
		}
	}

	return affected, stats, strings.Join(diffs, ""), nil
}

func classify(before, after string, matchCount int) ApplyOutcome {
	if matchCount == 0 {
		return NoMatches
	}
	if before == after {
		return NoChange
	}
	return Changed
}
