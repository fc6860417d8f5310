package gitfs

import (
	"github.com/pmezard/go-difflib/difflib"
)

// GenerateDiff produces a unified diff with `context` lines of surrounding
// context between before and after, labeled with fromPath/toPath. Returns
// an empty string when the inputs are byte-identical, per spec.md §4.3.
//
// Hunk grouping and rendering are delegated to go-difflib, which implements
// the same algorithm as Python's difflib.get_grouped_opcodes (the teacher
// reaches for github.com/sergi/go-diff for its own diffing needs; go-difflib
// is already pulled in transitively here and exposes the line-oriented,
// difflib-compatible unified-diff API gx needs instead of a character-level
// Myers diff).
func GenerateDiff(fromPath, toPath string, before, after []byte, context int) string {
	if string(before) == string(after) {
		return ""
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		FromFile: fromPath,
		B:        difflib.SplitLines(string(after)),
		ToFile:   toPath,
		Context:  context,
	}

	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return out
}
