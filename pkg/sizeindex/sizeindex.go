// Package sizeindex builds the server's in-memory size->paths grouping,
// immutable after build, used to seed each candidate-elimination session.
package sizeindex

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// excludedComponent is the Synology metadata directory every walk ignores.
const excludedComponent = "@eaDir"

// Index is an immutable size->sorted-paths grouping built once at startup.
type Index struct {
	bySize map[int64][]string
}

// Build walks every root, retaining regular files of positive size whose
// path does not contain the "@eaDir" component, and groups them by size.
func Build(roots []string) (*Index, error) {
	idx := &Index{bySize: make(map[int64][]string)}

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if strings.Contains(path, excludedComponent) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if !info.Mode().IsRegular() || info.Size() <= 0 {
				return nil
			}
			idx.bySize[info.Size()] = append(idx.bySize[info.Size()], path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	for size := range idx.bySize {
		sort.Strings(idx.bySize[size])
	}

	return idx, nil
}

// Count returns the number of known files of the given size.
func (idx *Index) Count(size int64) int {
	return len(idx.bySize[size])
}

// Snapshot returns a sorted copy of the paths known at the given size, safe
// for the caller to mutate (e.g. to pop candidates during a session).
func (idx *Index) Snapshot(size int64) []string {
	paths := idx.bySize[size]
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}

// Sizes returns every known size in descending order, the order the
// scanner engine processes size groups in (bigger files first).
func (idx *Index) Sizes() []int64 {
	sizes := make([]int64, 0, len(idx.bySize))
	for size := range idx.bySize {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })
	return sizes
}

// IsExcluded reports whether a path falls under an excluded component.
func IsExcluded(path string) bool {
	return strings.Contains(path, excludedComponent)
}
