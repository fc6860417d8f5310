// Package remotestatus implements spec.md §4.5: classifying a repo's
// relationship to its upstream from `git status --porcelain --branch`,
// with an optional ls-remote/rev-list verification path for callers who
// distrust the local tracking ref's freshness. Grounded on
// thorstenhirsch-gitbatch's upstream fast-forward check (other_examples),
// adapted to the spec's explicit status vocabulary.
package remotestatus

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/gx-tools/gx/internal/gitprim"
	"github.com/gx-tools/gx/internal/procrunner"
)

// Kind enumerates the classification outcomes spec.md §4.5 names.
type Kind int

const (
	UpToDate Kind = iota
	Ahead
	Behind
	Diverged
	NoUpstream
	DetachedHead
	StatusError
)

// Status is the result of classifying one repo's upstream relationship.
type Status struct {
	Kind    Kind
	AheadN  int
	BehindN int
	Err     error
}

func (s Status) String() string {
	switch s.Kind {
	case UpToDate:
		return "UpToDate"
	case Ahead:
		return fmt.Sprintf("Ahead(%d)", s.AheadN)
	case Behind:
		return fmt.Sprintf("Behind(%d)", s.BehindN)
	case Diverged:
		return fmt.Sprintf("Diverged(%d,%d)", s.AheadN, s.BehindN)
	case NoUpstream:
		return "NoUpstream"
	case DetachedHead:
		return "DetachedHead"
	default:
		return fmt.Sprintf("Error(%v)", s.Err)
	}
}

// Option configures Check.
type Option func(*options)

type options struct {
	verify     bool
	verifyWait time.Duration
}

// WithVerify enables the secondary ls-remote+rev-list path: when the
// locally cached upstream ref's SHA differs from what ls-remote reports
// live, ahead/behind counts are recomputed from the live SHA instead of
// trusting the (possibly stale) local tracking branch.
func WithVerify() Option {
	return func(o *options) { o.verify = true }
}

// WithVerifyTimeout overrides the default 10s soft timeout for the
// verification path's remote calls.
func WithVerifyTimeout(d time.Duration) Option {
	return func(o *options) { o.verifyWait = d }
}

var branchLineRe = regexp.MustCompile(`^## (?:(?P<local>\S+?)\.\.\.(?P<remote>\S+)(?: \[(?P<info>[^\]]+)\])?|(?P<detached>HEAD \(no branch\))|(?P<lonely>\S+))$`)

var aheadRe = regexp.MustCompile(`ahead (\d+)`)
var behindRe = regexp.MustCompile(`behind (\d+)`)

// Check classifies repo's upstream relationship per spec.md §4.5.
func Check(ctx context.Context, repo string, opts ...Option) Status {
	cfg := options{verifyWait: 10 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	res, err := procrunner.Run(ctx, procrunner.Options{Dir: repo}, "git", "status", "--porcelain", "--branch")
	if err != nil {
		return Status{Kind: StatusError, Err: err}
	}
	if !res.Succeeded() {
		return Status{Kind: StatusError, Err: fmt.Errorf("git status failed: %s", res.Stderr)}
	}

	var firstLine string
	for i := 0; i < len(res.Stdout); i++ {
		if res.Stdout[i] == '\n' {
			firstLine = res.Stdout[:i]
			break
		}
	}
	if firstLine == "" {
		firstLine = res.Stdout
	}

	status := parseBranchLine(firstLine)
	if status.Kind != Ahead && status.Kind != Behind && status.Kind != Diverged && status.Kind != UpToDate {
		return status
	}
	if !cfg.verify {
		return status
	}

	verified, err := verify(ctx, repo, cfg.verifyWait, status)
	if err != nil {
		return Status{Kind: StatusError, Err: err}
	}
	return verified
}

// parseBranchLine parses the first line of `git status --porcelain --branch`
// output into a Status, per spec.md §4.5's three grammar cases.
func parseBranchLine(line string) Status {
	m := branchLineRe.FindStringSubmatch(line)
	if m == nil {
		return Status{Kind: StatusError, Err: fmt.Errorf("unrecognized branch line %q", line)}
	}

	names := branchLineRe.SubexpNames()
	groups := make(map[string]string, len(names))
	for i, n := range names {
		if n != "" && i < len(m) {
			groups[n] = m[i]
		}
	}

	if groups["detached"] != "" {
		return Status{Kind: DetachedHead}
	}
	if groups["lonely"] != "" {
		return Status{Kind: NoUpstream}
	}

	info := groups["info"]
	aheadMatch := aheadRe.FindStringSubmatch(info)
	behindMatch := behindRe.FindStringSubmatch(info)

	switch {
	case aheadMatch != nil && behindMatch != nil:
		return Status{Kind: Diverged, AheadN: atoi(aheadMatch[1]), BehindN: atoi(behindMatch[1])}
	case aheadMatch != nil:
		return Status{Kind: Ahead, AheadN: atoi(aheadMatch[1])}
	case behindMatch != nil:
		return Status{Kind: Behind, BehindN: atoi(behindMatch[1])}
	default:
		return Status{Kind: UpToDate}
	}
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// verify re-derives ahead/behind counts from a live ls-remote SHA when it
// differs from the locally cached upstream ref, bounding remote calls to
// wait. When the two SHAs agree, parsed (the tracking-line result) is
// returned unchanged.
func verify(ctx context.Context, repo string, wait time.Duration, parsed Status) (Status, error) {
	vctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	branch, err := gitprim.CurrentBranch(vctx, repo)
	if err != nil {
		return Status{}, err
	}

	localSHA, err := gitprim.HeadSHA(vctx, repo, "refs/remotes/origin/"+branch)
	if err != nil {
		return Status{}, err
	}
	remoteSHA, err := gitprim.LsRemoteSHA(vctx, repo, branch)
	if err != nil {
		if vctx.Err() != nil {
			return Status{Kind: StatusError, Err: fmt.Errorf("timeout")}, nil
		}
		return Status{}, err
	}

	if localSHA == remoteSHA {
		return parsed, nil
	}

	ahead, err := gitprim.CountCommits(vctx, repo, remoteSHA, "HEAD")
	if err != nil {
		return Status{}, err
	}
	behind, err := gitprim.CountCommits(vctx, repo, "HEAD", remoteSHA)
	if err != nil {
		return Status{}, err
	}

	switch {
	case ahead > 0 && behind > 0:
		return Status{Kind: Diverged, AheadN: int(ahead), BehindN: int(behind)}, nil
	case ahead > 0:
		return Status{Kind: Ahead, AheadN: int(ahead)}, nil
	case behind > 0:
		return Status{Kind: Behind, BehindN: int(behind)}, nil
	default:
		return Status{Kind: UpToDate}, nil
	}
}
