package width

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringASCII(t *testing.T) {
	require.Equal(t, 5, String("hello"))
}

func TestStringUsesOverrideForKnownEmoji(t *testing.T) {
	require.Equal(t, 2, String("✅"))
	require.Equal(t, 2, String("🚀"))
}

func TestPadExtendsToTargetWidth(t *testing.T) {
	require.Equal(t, "ab   ", Pad("ab", 5))
	require.Equal(t, "abcde", Pad("abcde", 3))
}

func TestColumnsReturnsMaxWidth(t *testing.T) {
	require.Equal(t, 7, Columns([]string{"short", "a-longer-one"[:7], "x"}))
}
