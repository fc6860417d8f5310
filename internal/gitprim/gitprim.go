// Package gitprim implements spec.md §4.4: thin, typed wrappers over the
// git CLI. Every primitive shells out via internal/procrunner, following the
// teacher's pattern of treating external tools as subprocesses rather than
// linking an in-process VCS library (unikraft-governance used go-git for
// local clones, but gx needs the exact porcelain/plumbing surface the spec
// names, so every call here goes through `git` itself).
package gitprim

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gx-tools/gx/internal/procrunner"
	"github.com/gx-tools/gx/internal/sshresolve"
)

// GitErrorKind classifies a git primitive failure, per spec.md §4.4.
type GitErrorKind int

const (
	Missing GitErrorKind = iota
	CommandFailed
	ParseError
)

// GitError is the error taxonomy every primitive in this package returns.
type GitError struct {
	Kind    GitErrorKind
	Op      string
	Stderr  string
	Wrapped error
}

func (e *GitError) Error() string {
	switch e.Kind {
	case Missing:
		return fmt.Sprintf("gitprim: %s: not found", e.Op)
	case ParseError:
		return fmt.Sprintf("gitprim: %s: unexpected output: %v", e.Op, e.Wrapped)
	default:
		return fmt.Sprintf("gitprim: %s: %s", e.Op, strings.TrimSpace(e.Stderr))
	}
}

func (e *GitError) Unwrap() error { return e.Wrapped }

func run(ctx context.Context, repo, op string, args ...string) (procrunner.Result, error) {
	return runEnv(ctx, repo, op, nil, args...)
}

// runEnv behaves like run, additionally passing env through to the
// subprocess (appended to the inherited environment by procrunner).
func runEnv(ctx context.Context, repo, op string, env []string, args ...string) (procrunner.Result, error) {
	res, err := procrunner.Run(ctx, procrunner.Options{Dir: repo, Env: env}, "git", args...)
	if err != nil {
		return res, &GitError{Kind: CommandFailed, Op: op, Wrapped: err}
	}
	if !res.Succeeded() {
		return res, &GitError{Kind: CommandFailed, Op: op, Stderr: res.Stderr}
	}
	return res, nil
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when detached.
func CurrentBranch(ctx context.Context, repo string) (string, error) {
	res, err := run(ctx, repo, "current_branch", "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		if gerr, ok := err.(*GitError); ok && gerr.Kind == CommandFailed {
			return "HEAD", nil
		}
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// HeadSHA resolves ref (default "HEAD") to its full 40-character SHA.
func HeadSHA(ctx context.Context, repo, ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	res, err := run(ctx, repo, "head_sha", "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// StatusEntryKind categorizes one porcelain status line.
type StatusEntryKind int

const (
	Modified StatusEntryKind = iota
	Added
	Deleted
	Renamed
	Untracked
	Staged
)

// StatusEntry is one parsed `git status --porcelain` line.
type StatusEntry struct {
	Kind StatusEntryKind
	Path string
}

// PorcelainStatus returns the working-tree change list, excluding the
// leading branch-tracking line.
func PorcelainStatus(ctx context.Context, repo string) ([]StatusEntry, error) {
	res, err := run(ctx, repo, "porcelain_status", "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var entries []StatusEntry
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line == "" {
			continue
		}
		if len(line) < 4 {
			return nil, &GitError{Kind: ParseError, Op: "porcelain_status", Wrapped: fmt.Errorf("short line %q", line)}
		}
		x, y, path := line[0], line[1], strings.TrimSpace(line[3:])
		entries = append(entries, StatusEntry{Kind: classifyStatus(x, y), Path: path})
	}
	return entries, nil
}

func classifyStatus(x, y byte) StatusEntryKind {
	switch {
	case x == '?' && y == '?':
		return Untracked
	case x == 'R' || y == 'R':
		return Renamed
	case x == 'D' || y == 'D':
		return Deleted
	case x == 'A':
		return Added
	case x != ' ' && x != '?':
		return Staged
	default:
		return Modified
	}
}

// HasUncommittedChanges reports whether the working tree has any changes.
func HasUncommittedChanges(ctx context.Context, repo string) (bool, error) {
	entries, err := PorcelainStatus(ctx, repo)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// BranchExistsLocal reports whether a local branch ref exists.
func BranchExistsLocal(ctx context.Context, repo, name string) (bool, error) {
	res, err := procrunner.Run(ctx, procrunner.Options{Dir: repo}, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		return false, &GitError{Kind: CommandFailed, Op: "branch_exists_local", Wrapped: err}
	}
	return res.Succeeded(), nil
}

// BranchExistsRemote reports whether a branch exists on origin via ls-remote.
func BranchExistsRemote(ctx context.Context, repo, name string) (bool, error) {
	res, err := run(ctx, repo, "branch_exists_remote", "ls-remote", "--exit-code", "--heads", "origin", name)
	if err != nil {
		if gerr, ok := err.(*GitError); ok && gerr.Kind == CommandFailed {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// CreateBranch switches to name, creating it from the current HEAD if it
// exists nowhere, or checking it out tracking origin if it exists remotely.
func CreateBranch(ctx context.Context, repo, name string) error {
	existsLocal, err := BranchExistsLocal(ctx, repo, name)
	if err != nil {
		return err
	}
	if existsLocal {
		_, err := run(ctx, repo, "create_branch", "switch", name)
		return err
	}

	existsRemote, err := BranchExistsRemote(ctx, repo, name)
	if err != nil {
		return err
	}
	if existsRemote {
		_, err := run(ctx, repo, "create_branch", "switch", "--track", "-c", name, "origin/"+name)
		return err
	}

	_, err = run(ctx, repo, "create_branch", "switch", "-c", name)
	return err
}

// SwitchBranch checks out an existing local branch.
func SwitchBranch(ctx context.Context, repo, name string) error {
	_, err := run(ctx, repo, "switch_branch", "switch", name)
	return err
}

// DeleteLocalBranch force-deletes a local branch.
func DeleteLocalBranch(ctx context.Context, repo, name string) error {
	_, err := run(ctx, repo, "delete_local_branch", "branch", "-D", name)
	return err
}

// DeleteRemoteBranch deletes a branch on origin, tolerating "does not exist".
func DeleteRemoteBranch(ctx context.Context, repo, name string) error {
	res, err := procrunner.Run(ctx, procrunner.Options{Dir: repo}, "git", "push", "origin", "--delete", name)
	if err != nil {
		return &GitError{Kind: CommandFailed, Op: "delete_remote_branch", Wrapped: err}
	}
	if res.Succeeded() {
		return nil
	}
	if strings.Contains(strings.ToLower(res.Stderr), "remote ref does not exist") {
		return nil
	}
	return &GitError{Kind: CommandFailed, Op: "delete_remote_branch", Stderr: res.Stderr}
}

// StashSave stashes the working tree (including untracked files) under
// message, returning the stash reference ("stash@{0}") or "" if there was
// nothing to stash.
func StashSave(ctx context.Context, repo, message string) (string, error) {
	res, err := run(ctx, repo, "stash_save", "stash", "push", "--include-untracked", "-m", message)
	if err != nil {
		return "", err
	}
	if strings.Contains(res.Stdout, "No local changes to save") {
		return "", nil
	}
	return "stash@{0}", nil
}

// StashPop applies and drops the named stash entry.
func StashPop(ctx context.Context, repo, ref string) error {
	if ref == "" {
		return nil
	}
	_, err := run(ctx, repo, "stash_pop", "stash", "pop", ref)
	return err
}

// AddAll stages every change in the working tree.
func AddAll(ctx context.Context, repo string) error {
	_, err := run(ctx, repo, "add_all", "add", "-A")
	return err
}

// Commit creates a commit with message, assuming changes are staged.
func Commit(ctx context.Context, repo, message string) error {
	_, err := run(ctx, repo, "commit", "commit", "-m", message)
	return err
}

// Push pushes branch to origin, setting the upstream. Per spec.md §4.2,
// GIT_SSH_COMMAND is injected so an ssh:// remote resolves through the same
// command git itself would use.
func Push(ctx context.Context, repo, branch string) error {
	_, err := runEnv(ctx, repo, "push", []string{sshresolve.Env(ctx)}, "push", "-u", "origin", branch)
	return err
}

// PullFFOnly fast-forwards the current branch from its upstream.
func PullFFOnly(ctx context.Context, repo string) error {
	_, err := runEnv(ctx, repo, "pull_ff_only", []string{sshresolve.Env(ctx)}, "pull", "--ff-only")
	return err
}

// ResetHard discards all working-tree and index changes.
func ResetHard(ctx context.Context, repo string) error {
	_, err := run(ctx, repo, "reset_hard", "reset", "--hard")
	return err
}

// ResetCommit soft-resets HEAD back one commit, keeping changes staged.
func ResetCommit(ctx context.Context, repo string) error {
	_, err := run(ctx, repo, "reset_commit", "reset", "--soft", "HEAD~1")
	return err
}

// GetHeadBranch resolves the repository's default branch via
// refs/remotes/origin/HEAD, falling back to whichever of main/master
// exists on the remote.
func GetHeadBranch(ctx context.Context, repo string) (string, error) {
	res, err := procrunner.Run(ctx, procrunner.Options{Dir: repo}, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil && res.Succeeded() {
		ref := strings.TrimSpace(res.Stdout)
		if name := strings.TrimPrefix(ref, "refs/remotes/origin/"); name != ref {
			return name, nil
		}
	}

	for _, candidate := range []string{"main", "master"} {
		exists, err := BranchExistsRemote(ctx, repo, candidate)
		if err != nil {
			return "", err
		}
		if exists {
			return candidate, nil
		}
	}
	return "", &GitError{Kind: CommandFailed, Op: "get_head_branch", Stderr: "no default branch resolved"}
}

// LsRemoteSHA returns the SHA origin currently reports for branch.
func LsRemoteSHA(ctx context.Context, repo, branch string) (string, error) {
	res, err := run(ctx, repo, "ls_remote_sha", "ls-remote", "origin", "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return "", &GitError{Kind: ParseError, Op: "ls_remote_sha", Wrapped: fmt.Errorf("empty ls-remote output for %q", branch)}
	}
	return fields[0], nil
}

// ListLocalBranchesByPrefix returns every local branch whose short name
// begins with prefix, via `git for-each-ref`, so branches packed into
// .git/packed-refs are found alongside loose refs under refs/heads.
func ListLocalBranchesByPrefix(ctx context.Context, repo, prefix string) ([]string, error) {
	res, err := run(ctx, repo, "list_local_branches_by_prefix", "for-each-ref", "--format=%(refname:short)", "refs/heads/"+prefix+"*")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// CountCommits returns the number of commits reachable from to but not from
// from (i.e. `git rev-list --count from..to`).
func CountCommits(ctx context.Context, repo, from, to string) (uint32, error) {
	res, err := run(ctx, repo, "count_commits", "rev-list", "--count", from+".."+to)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.ParseUint(strings.TrimSpace(res.Stdout), 10, 32)
	if convErr != nil {
		return 0, &GitError{Kind: ParseError, Op: "count_commits", Wrapped: convErr}
	}
	return uint32(n), nil
}
