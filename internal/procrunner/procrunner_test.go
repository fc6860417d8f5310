package procrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		stderr string
		want   bool
	}{
		{"fatal: unable to access: Connection timed out", true},
		{"error: RPC failed; curl 56 Connection reset by peer", true},
		{"remote: You have exceeded a secondary rate limit", true},
		{"fatal: 503 Service Unavailable", true},
		{"fatal: repository not found", false},
		{"fatal: pathspec 'foo' did not match any files", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, IsTransient(c.stderr), c.stderr)
	}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	res, err := Run(context.Background(), Options{}, "sh", "-c", "echo out; echo err 1>&2; exit 7")
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
	require.Equal(t, "out\n", res.Stdout)
	require.Equal(t, "err\n", res.Stderr)
}

func TestRunWithRetryStopsOnNonTransientFailure(t *testing.T) {
	res, err := RunWithRetry(context.Background(), Options{}, 3, "sh", "-c", "echo 'fatal: pathspec did not match' 1>&2; exit 1")
	require.NoError(t, err)
	require.Equal(t, 1, res.ExitCode)
}

func TestRunWithRetryRetriesTransientFailureUntilExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	res, err := RunWithRetry(ctx, Options{}, 2, "sh", "-c", "echo 'fatal: Connection timed out' 1>&2; exit 1")
	require.NoError(t, err)
	require.Equal(t, 1, res.ExitCode)
	require.Contains(t, res.Stderr, "timed out")
}
