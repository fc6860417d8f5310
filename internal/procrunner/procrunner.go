// Package procrunner executes external commands (git, gh) capturing their
// output, and retries recognized-transient failures with exponential
// backoff, per spec.md §4.1. Grounded on the teacher's pervasive
// exec.Command + log.G(ctx).WriterLevel(...) call sites
// (cmd/governctl/pr/merge.go, internal/checkpatch/checkpatch.go) and on
// thorstenhirsch-gitbatch's exit-code classification for transient vs fatal
// git errors.
package procrunner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gx-tools/gx/internal/logctx"
)

// Result is the captured outcome of a subprocess invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Succeeded reports whether the process exited zero.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Options configures a single Run invocation.
type Options struct {
	Env []string // additional environment variables, appended to os.Environ()
	Dir string    // working directory; empty means inherit
}

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 10 * time.Second
	backoffFactor  = 2
	defaultMaxAttempts = 3
)

// transientPatterns are matched case-insensitively against stderr to decide
// whether a failed command is worth retrying, per spec.md §4.1.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"network unreachable",
	"temporary failure",
	"rate limit",
	"502",
	"503",
	"504",
}

// IsTransient reports whether stderr text matches a recognized transient
// failure pattern.
func IsTransient(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Run executes cmd with args, capturing stdout/stderr and exit code. A
// non-zero exit is reported in Result, not as a Go error, so callers can
// inspect Result.ExitCode/Stderr uniformly; a non-nil error indicates the
// process could not be started at all.
func Run(ctx context.Context, opts Options, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err == nil {
		res.ExitCode = 0
		return res, nil
	}

	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	return res, err
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// RunWithRetry behaves like Run, but makes up to maxAttempts attempts in
// total (waiting with exponential backoff starting at 1s, factor 2, capped
// at 10s, between them) when the
// command fails with a non-zero exit and IsTransient(stderr) is true. The
// final failed Result is returned once retries are exhausted.
func RunWithRetry(ctx context.Context, opts Options, maxAttempts int, name string, args ...string) (Result, error) {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	backoff := initialBackoff
	var res Result
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err = Run(ctx, opts, name, args...)
		if err != nil {
			return res, err
		}
		if res.Succeeded() {
			return res, nil
		}
		if !IsTransient(res.Stderr) {
			return res, nil
		}
		if attempt == maxAttempts {
			break
		}

		logctx.G(ctx).WithField("attempt", attempt).
			WithField("backoff", backoff).
			Warnf("transient failure running %s, retrying", name)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return res, ctx.Err()
		}

		backoff *= backoffFactor
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return res, nil
}
