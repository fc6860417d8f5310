package sshresolve

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSSHURL(t *testing.T) {
	url, err := BuildSSHURL("acme/web")
	require.NoError(t, err)
	require.Equal(t, "git@github.com:acme/web.git", url)
}

func TestBuildSSHURLInvalidSlug(t *testing.T) {
	_, err := BuildSSHURL("not-a-slug")
	require.Error(t, err)
	var target *ErrInvalidSlug
	require.ErrorAs(t, err, &target)

	_, err = BuildSSHURL("too/many/parts")
	require.Error(t, err)
}
