package ghbridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPRTitleAndBodyUsesFirstLineAndAppendsTrailer(t *testing.T) {
	title, body := prTitleAndBody("bump dependency\n\nSee upstream changelog.", "GX-2026-07-31T120000Z")
	require.Equal(t, "bump dependency", title)
	require.Contains(t, body, "See upstream changelog.")
	require.Contains(t, body, "change-id: GX-2026-07-31T120000Z")
}

func TestPRNumberFromURL(t *testing.T) {
	n, err := prNumberFromURL("https://github.com/acme/web/pull/42")
	require.NoError(t, err)
	require.Equal(t, 42, n)

	_, err = prNumberFromURL("https://github.com/acme/web/pull/")
	require.Error(t, err)
}

func TestIsAuthFailure(t *testing.T) {
	require.True(t, isAuthFailure("HTTP 401: Bad credentials"))
	require.True(t, isAuthFailure("gh: To use GitHub CLI in a GitHub Actions workflow, set the GH_TOKEN... not logged in"))
	require.False(t, isAuthFailure("fatal: Connection timed out"))
}

func TestBridgeErrorMessage(t *testing.T) {
	err := &BridgeError{Op: "pr", Stderr: "bad credentials", Auth: true}
	require.Contains(t, err.Error(), "auth failure")
}
