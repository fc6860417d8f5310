// Package gitfs implements spec.md §4.3: glob-based file discovery, file
// read/write, backup sidecars, and unified-diff generation. Glob matching is
// grounded on internal/label/label.go's doublestar.Match use in the teacher;
// diff generation is grounded on internal/patch/patch.go's git-diff-shelling
// style, adapted to a pure-Go unified-diff generator since gx diffs
// in-memory byte buffers, not commit ranges.
package gitfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultIgnoredDirs are VCS metadata directories skipped during glob walks.
var defaultIgnoredDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// FindFiles returns every path under root matching glob, relative to root,
// in deterministic lexicographic order. VCS metadata directories are
// skipped.
func FindFiles(root, glob string) ([]string, error) {
	var matches []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if defaultIgnoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel = filepath.ToSlash(rel)
		ok, matchErr := doublestar.Match(glob, rel)
		if matchErr != nil {
			return matchErr
		}
		if ok {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(matches)
	return matches, nil
}

// FindFilesMulti resolves and de-duplicates matches across several globs,
// preserving FindFiles' deterministic ordering.
func FindFilesMulti(root string, globs []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for _, g := range globs {
		matches, err := FindFiles(root, g)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}

	sort.Strings(out)
	return out, nil
}

// ReadFile reads the full contents of path (relative to root) as raw bytes.
func ReadFile(root, path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(root, path))
}

// WriteFile writes data to path (relative to root), preserving the
// original file's permissions when it already exists.
func WriteFile(root, path string, data []byte) error {
	full := filepath.Join(root, path)
	mode := os.FileMode(0o644)
	if info, err := os.Stat(full); err == nil {
		mode = info.Mode()
	}
	return os.WriteFile(full, data, mode)
}

// BackupPath derives the sidecar backup path for original by appending
// ".backup" to its extension, per spec.md §4.3.
func BackupPath(original string) string {
	return original + ".backup"
}

// BackupFile copies original (relative to root) to its backup sidecar and
// returns the backup's root-relative path.
func BackupFile(root, original string) (string, error) {
	backup := BackupPath(original)
	if err := copyFile(filepath.Join(root, original), filepath.Join(root, backup)); err != nil {
		return "", err
	}
	return backup, nil
}

// RestoreFromBackup copies backup over original and deletes backup.
func RestoreFromBackup(root, backup, original string) error {
	if err := copyFile(filepath.Join(root, backup), filepath.Join(root, original)); err != nil {
		return err
	}
	return os.Remove(filepath.Join(root, backup))
}

// CleanupBackup deletes a backup sidecar without restoring it. A missing
// backup is not an error: cleanup may run after a restore already removed
// it.
func CleanupBackup(root, backup string) error {
	return DeleteFile(root, backup)
}

// DeleteFile removes path (relative to root). A missing file is not an
// error, so a rollback that deletes a file created earlier in the same
// pipeline run is safe to call twice.
func DeleteFile(root, path string) error {
	err := os.Remove(filepath.Join(root, path))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
