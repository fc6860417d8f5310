// Package sshresolve converts repo slugs to SSH URLs and resolves the git
// SSH command to use for clone/push, per spec.md §4.2. No direct teacher
// analogue exists (governctl clones over HTTPS with basic auth); grounded on
// git's own core.sshCommand semantics, read via internal/procrunner the same
// way every other git-config read in this module works.
package sshresolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/gx-tools/gx/internal/procrunner"
)

// ErrInvalidSlug is returned when a slug isn't a single "owner/name" pair.
type ErrInvalidSlug struct {
	Slug string
}

func (e *ErrInvalidSlug) Error() string {
	return fmt.Sprintf("invalid repo slug %q: expected exactly one '/'", e.Slug)
}

// BuildSSHURL converts "owner/name" into "git@github.com:owner/name.git".
func BuildSSHURL(slug string) (string, error) {
	owner, name, err := splitSlug(slug)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("git@github.com:%s/%s.git", owner, name), nil
}

func splitSlug(slug string) (owner, name string, err error) {
	parts := strings.Split(slug, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &ErrInvalidSlug{Slug: slug}
	}
	return parts[0], parts[1], nil
}

// ResolveSSHCommand consults the local git configuration's
// core.sshCommand, defaulting to "ssh" when unset.
func ResolveSSHCommand(ctx context.Context) string {
	res, err := procrunner.Run(ctx, procrunner.Options{}, "git", "config", "--get", "core.sshCommand")
	if err != nil || !res.Succeeded() {
		return "ssh"
	}
	cmd := strings.TrimSpace(res.Stdout)
	if cmd == "" {
		return "ssh"
	}
	return cmd
}

// Env returns the GIT_SSH_COMMAND environment assignment that should be
// injected into a clone/push subprocess's environment so the resolved SSH
// command is honored.
func Env(ctx context.Context) string {
	return "GIT_SSH_COMMAND=" + ResolveSSHCommand(ctx)
}
