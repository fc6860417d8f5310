package gitfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func TestFindFilesMatchesGlobAndSkipsVCSDirs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":           "a",
		"sub/b.txt":       "b",
		"sub/c.md":        "c",
		".git/HEAD":       "ref: refs/heads/main",
		".git/objects/x":  "junk",
	})

	matches, err := FindFiles(root, "**/*.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, matches)
}

func TestFindFilesMultiDeduplicatesAndSorts(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt": "a",
		"b.md":  "b",
		"c.yml": "c",
	})

	matches, err := FindFilesMulti(root, []string{"*.txt", "*.md", "*.txt"})
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "b.md"}, matches)
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"f.txt": "original"})

	backup, err := BackupFile(root, "f.txt")
	require.NoError(t, err)
	require.Equal(t, "f.txt.backup", backup)

	require.NoError(t, WriteFile(root, "f.txt", []byte("mutated")))
	got, err := ReadFile(root, "f.txt")
	require.NoError(t, err)
	require.Equal(t, "mutated", string(got))

	require.NoError(t, RestoreFromBackup(root, backup, "f.txt"))
	got, err = ReadFile(root, "f.txt")
	require.NoError(t, err)
	require.Equal(t, "original", string(got))

	_, err = os.Stat(filepath.Join(root, backup))
	require.True(t, os.IsNotExist(err))
}

func TestCleanupBackupToleratesMissingFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, CleanupBackup(root, "never-existed.backup"))
}

func TestGenerateDiffEmptyWhenIdentical(t *testing.T) {
	diff := GenerateDiff("a", "b", []byte("same\ncontent\n"), []byte("same\ncontent\n"), 3)
	require.Empty(t, diff)
}

func TestGenerateDiffSingleHunk(t *testing.T) {
	before := []byte("one\ntwo\nthree\n")
	after := []byte("one\nTWO\nthree\n")

	diff := GenerateDiff("before.txt", "after.txt", before, after, 3)
	require.Contains(t, diff, "--- before.txt\n")
	require.Contains(t, diff, "+++ after.txt\n")
	require.Contains(t, diff, "-two\n")
	require.Contains(t, diff, "+TWO\n")
	require.Contains(t, diff, " one\n")
	require.Contains(t, diff, " three\n")
}

func TestGenerateDiffSplitsDistantHunks(t *testing.T) {
	var beforeLines, afterLines []string
	for i := 0; i < 40; i++ {
		beforeLines = append(beforeLines, "line")
		afterLines = append(afterLines, "line")
	}
	beforeLines[0] = "start-before"
	afterLines[0] = "start-after"
	beforeLines[39] = "end-before"
	afterLines[39] = "end-after"

	join := func(lines []string) []byte {
		out := ""
		for _, l := range lines {
			out += l + "\n"
		}
		return []byte(out)
	}

	diff := GenerateDiff("a", "b", join(beforeLines), join(afterLines), 2)
	hunkCount := 0
	for _, r := range diff {
		if r == '@' {
			hunkCount++
		}
	}
	// Each "@@ ... @@" hunk header holds four '@' runes; two separate hunks expected.
	require.Equal(t, 8, hunkCount)
}
