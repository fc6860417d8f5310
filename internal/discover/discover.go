// Package discover implements spec.md §4.6: walking a directory tree to
// find git repositories and filtering them by name/slug patterns. Grounded
// on internal/repo/repo.go's origin-remote parsing idiom, generalized from
// a static YAML-declared repo list to a filesystem walk.
package discover

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gx-tools/gx/internal/model"
	"github.com/gx-tools/gx/internal/procrunner"
)

// defaultIgnoredNames are directory names discovery never descends into,
// per spec.md §4.6.
var defaultIgnoredNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"target":       true,
	"build":        true,
}

var sshSlugRe = regexp.MustCompile(`^[^@]+@[^:]+:(.+?)(?:\.git)?$`)
var httpsSlugRe = regexp.MustCompile(`^https?://[^/]+/(.+?)(?:\.git)?$`)

// Walk discovers every git repository under root, up to maxDepth
// directories deep, skipping defaultIgnoredNames plus any name in
// extraIgnored. Returns repos sorted by path.
func Walk(ctx context.Context, root string, maxDepth int, extraIgnored []string) ([]model.Repo, error) {
	ignored := map[string]bool{}
	for name, v := range defaultIgnoredNames {
		ignored[name] = v
	}
	for _, name := range extraIgnored {
		ignored[name] = true
	}

	var repos []model.Repo
	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}

		hasGit := false
		for _, e := range entries {
			if e.Name() == ".git" {
				hasGit = true
				break
			}
		}
		if hasGit {
			repos = append(repos, buildRepo(ctx, dir))
			return nil
		}

		if depth >= maxDepth {
			return nil
		}
		for _, e := range entries {
			if !e.IsDir() || ignored[e.Name()] {
				continue
			}
			if err := walk(filepath.Join(dir, e.Name()), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, 0); err != nil {
		return nil, err
	}

	sort.Slice(repos, func(i, j int) bool { return repos[i].Path < repos[j].Path })
	return repos, nil
}

func buildRepo(ctx context.Context, path string) model.Repo {
	name := filepath.Base(path)
	slug := originSlug(ctx, path)
	return model.Repo{Path: path, Name: name, Slug: slug}
}

// originSlug extracts "owner/name" from the origin remote URL, returning
// "" when there is no origin remote (a local-only repo).
func originSlug(ctx context.Context, path string) string {
	res, err := procrunner.Run(ctx, procrunner.Options{Dir: path}, "git", "remote", "get-url", "origin")
	if err != nil || !res.Succeeded() {
		return ""
	}
	url := strings.TrimSpace(res.Stdout)

	if m := sshSlugRe.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	if m := httpsSlugRe.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// Filter applies spec.md §4.6's four-level pattern filter: the result is
// the first non-empty level among exact-name, prefix-name, exact-slug,
// prefix-slug matches. Empty patterns means no filtering (every repo
// passes).
func Filter(repos []model.Repo, patterns []string) []model.Repo {
	if len(patterns) == 0 {
		return repos
	}

	levels := []func(model.Repo, string) bool{
		func(r model.Repo, p string) bool { return r.Name == p },
		func(r model.Repo, p string) bool { return strings.HasPrefix(r.Name, p) },
		func(r model.Repo, p string) bool { return r.HasSlug() && r.Slug == p },
		func(r model.Repo, p string) bool { return r.HasSlug() && strings.HasPrefix(r.Slug, p) },
	}

	for _, match := range levels {
		var out []model.Repo
		for _, repo := range repos {
			for _, p := range patterns {
				if match(repo, p) {
					out = append(out, repo)
					break
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
