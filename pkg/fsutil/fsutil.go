// Package fsutil holds the small filesystem helpers shared by the server,
// scanner and shrink engines: path splitting for the hash cache's
// (directory, basename) key and the floating-point mtime the cache's
// staleness check compares against.
package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SplitPath returns the absolute (directory, basename) split the hash
// cache keys its file relation by.
func SplitPath(path string) (directory, basename string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return filepath.Dir(abs), filepath.Base(abs)
}

// MTime returns a file's modification time as seconds since epoch, the
// floating-point representation the hash cache's staleness check compares
// against.
func MTime(fi fs.FileInfo) float64 {
	return float64(fi.ModTime().UnixNano()) / 1e9
}

// Stat wraps os.Stat, returning (nil, nil) for a path that no longer
// exists rather than propagating a "path gone" error as a hard failure —
// mirroring the original's stat-and-swallow-ENOENT helper.
func Stat(path string) (fs.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return fi, nil
}

// SizeOK reports whether path currently exists as a regular file of
// exactly the given size.
func SizeOK(path string, size int64) bool {
	fi, err := Stat(path)
	if err != nil || fi == nil {
		return false
	}
	return fi.Mode().IsRegular() && fi.Size() == size
}

// IsParentDir reports whether dir is an ancestor directory of path (or dir
// itself once cleaned and made absolute), the sweep-root-priority ordering
// the shrink planner sorts deletion candidates by.
func IsParentDir(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = filepath.Clean(dir)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = filepath.Clean(path)
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
