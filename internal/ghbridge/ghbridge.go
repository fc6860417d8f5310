// Package ghbridge implements spec.md §4.9: all GitHub interaction via the
// `gh` CLI subprocess, never an in-process REST/GraphQL client. Grounded on
// the teacher's cmd/governctl/pr/merge.go, which already shells to `gh auth
// token`/`gh pr view`/`gh pr edit`/`gh pr merge` — generalized here into a
// typed bridge over internal/procrunner, with the PR-body trailer concept
// reused from internal/patch/trailers.go (`change-id:` instead of
// `Signed-off-by:`).
package ghbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gx-tools/gx/internal/config"
	"github.com/gx-tools/gx/internal/procrunner"
)

// changeIDTrailer is appended to every PR body so review/cleanup can
// correlate PRs back to their originating batch without relying solely on
// the head branch name.
const changeIDTrailer = "change-id"

// PRState mirrors the GitHub CLI's upper-cased state vocabulary.
type PRState string

const (
	PRStateOpen   PRState = "OPEN"
	PRStateClosed PRState = "CLOSED"
	PRStateMerged PRState = "MERGED"
)

// PRInfo is one pull request as returned by ListPRsByBranch, parsed
// strictly from the gh CLI's JSON field names per spec.md §6.
type PRInfo struct {
	RepoSlug string
	Number   int
	Title    string
	Branch   string
	Author   string
	State    PRState
	URL      string
}

type prJSON struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	HeadRefName string `json:"headRefName"`
	Author     struct {
		Login string `json:"login"`
	} `json:"author"`
	State      string `json:"state"`
	URL        string `json:"url"`
	Repository struct {
		NameWithOwner string `json:"nameWithOwner"`
	} `json:"repository"`
}

// Bridge invokes the GitHub CLI with a per-owner authentication token
// resolved from config's token-path template.
type Bridge struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Bridge {
	return &Bridge{cfg: cfg}
}

func (b *Bridge) env(owner string) []string {
	if b.cfg == nil || b.cfg.TokenPath == "" {
		return nil
	}
	path := config.TokenPathFor(b.cfg.TokenPath, owner)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return nil
	}
	return []string{"GH_TOKEN=" + token}
}

func (b *Bridge) run(ctx context.Context, owner string, args ...string) (procrunner.Result, error) {
	res, err := procrunner.RunWithRetry(ctx, procrunner.Options{Env: b.env(owner)}, 3, "gh", args...)
	if err != nil {
		return res, err
	}
	if !res.Succeeded() {
		return res, &BridgeError{Op: args[0], Stderr: res.Stderr, Auth: isAuthFailure(res.Stderr)}
	}
	return res, nil
}

// BridgeError distinguishes auth failures (not retried) from everything
// else (retried transiently by the process runner before surfacing here).
type BridgeError struct {
	Op     string
	Stderr string
	Auth   bool
}

func (e *BridgeError) Error() string {
	kind := "tool failure"
	if e.Auth {
		kind = "auth failure"
	}
	return fmt.Sprintf("gh %s: %s: %s", e.Op, kind, strings.TrimSpace(e.Stderr))
}

func isAuthFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "authentication") || strings.Contains(lower, "not logged in") ||
		strings.Contains(lower, "bad credentials") || strings.Contains(lower, "401")
}

// ListOrgRepos lists repository slugs belonging to owner, honoring
// includeArchived.
func (b *Bridge) ListOrgRepos(ctx context.Context, owner string, includeArchived bool) ([]string, error) {
	args := []string{"repo", "list", owner, "--limit", "1000", "--json", "nameWithOwner"}
	if !includeArchived {
		args = append(args, "--no-archived")
	}
	res, err := b.run(ctx, owner, args...)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		NameWithOwner string `json:"nameWithOwner"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &rows); err != nil {
		return nil, fmt.Errorf("parsing repo list: %w", err)
	}

	slugs := make([]string, 0, len(rows))
	for _, r := range rows {
		slugs = append(slugs, r.NameWithOwner)
	}
	return slugs, nil
}

// DefaultBranch returns the repository's default branch name.
func (b *Bridge) DefaultBranch(ctx context.Context, slug string) (string, error) {
	owner := strings.SplitN(slug, "/", 2)[0]
	res, err := b.run(ctx, owner, "repo", "view", slug, "--json", "defaultBranchRef", "-q", ".defaultBranchRef.name")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// CreatePR opens a pull request; title is the first line of message, body
// is the full message plus a trailing change-id trailer line.
func (b *Bridge) CreatePR(ctx context.Context, slug, head, base, message, changeID string, draft bool) (number int, url string, err error) {
	owner := strings.SplitN(slug, "/", 2)[0]
	title, body := prTitleAndBody(message, changeID)

	args := []string{"pr", "create", "--repo", slug, "--head", head, "--base", base, "--title", title, "--body", body}
	if draft {
		args = append(args, "--draft")
	}

	res, err := b.run(ctx, owner, args...)
	if err != nil {
		return 0, "", err
	}
	url = strings.TrimSpace(res.Stdout)
	number, parseErr := prNumberFromURL(url)
	if parseErr != nil {
		return 0, url, parseErr
	}
	return number, url, nil
}

// prTitleAndBody splits message into a PR title (its first line) and a
// body carrying the full message plus a trailing change-id trailer.
func prTitleAndBody(message, changeID string) (title, body string) {
	lines := strings.SplitN(message, "\n", 2)
	title = lines[0]
	body = message + fmt.Sprintf("\n\n%s: %s\n", changeIDTrailer, changeID)
	return title, body
}

func prNumberFromURL(url string) (int, error) {
	idx := strings.LastIndex(url, "/")
	if idx < 0 || idx == len(url)-1 {
		return 0, fmt.Errorf("cannot parse PR number from url %q", url)
	}
	var n int
	if _, err := fmt.Sscanf(url[idx+1:], "%d", &n); err != nil {
		return 0, fmt.Errorf("cannot parse PR number from url %q: %w", url, err)
	}
	return n, nil
}

// ApprovePR submits an approving review.
func (b *Bridge) ApprovePR(ctx context.Context, slug string, number int) error {
	owner := strings.SplitN(slug, "/", 2)[0]
	_, err := b.run(ctx, owner, "pr", "review", "--repo", slug, fmt.Sprint(number), "--approve")
	return err
}

// MergePR merges a pull request; admin bypasses branch protection, else a
// squash-merge is requested.
func (b *Bridge) MergePR(ctx context.Context, slug string, number int, admin bool) error {
	owner := strings.SplitN(slug, "/", 2)[0]
	args := []string{"pr", "merge", "--repo", slug, fmt.Sprint(number)}
	if admin {
		args = append(args, "--admin")
	} else {
		args = append(args, "--squash")
	}
	_, err := b.run(ctx, owner, args...)
	return err
}

// ClosePR closes a pull request without merging.
func (b *Bridge) ClosePR(ctx context.Context, slug string, number int) error {
	owner := strings.SplitN(slug, "/", 2)[0]
	_, err := b.run(ctx, owner, "pr", "close", "--repo", slug, fmt.Sprint(number))
	return err
}

// ListPRsByBranch returns every PR across owner's repos whose head branch
// is headBranch.
func (b *Bridge) ListPRsByBranch(ctx context.Context, owner, headBranch string) ([]PRInfo, error) {
	res, err := b.run(ctx, owner, "search", "prs", "--owner", owner, "--head", headBranch,
		"--json", "number,title,headRefName,author,state,url,repository")
	if err != nil {
		return nil, err
	}

	var rows []prJSON
	if err := json.Unmarshal([]byte(res.Stdout), &rows); err != nil {
		return nil, fmt.Errorf("parsing PR list: %w", err)
	}

	out := make([]PRInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, PRInfo{
			RepoSlug: r.Repository.NameWithOwner,
			Number:   r.Number,
			Title:    r.Title,
			Branch:   r.HeadRefName,
			Author:   r.Author.Login,
			State:    PRState(strings.ToUpper(r.State)),
			URL:      r.URL,
		})
	}
	return out, nil
}
