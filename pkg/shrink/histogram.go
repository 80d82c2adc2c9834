package shrink

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hsp501/sweeper/pkg/report"
)

// DirectoryHistogram counts, per directory, how many duplicate-group
// entries a report names there — the "--parse" reporting mode, useful for
// spotting which directories accumulate the most duplication before
// committing to a shrink run.
func DirectoryHistogram(rep *report.Report, localMode bool) map[string]int {
	counts := make(map[string]int)

	for _, scanResult := range rep.Duplicate {
		if len(scanResult) < 2 {
			continue
		}

		if localMode {
			if _, fileOriginal, ok := report.ParseOriginal(scanResult[1]); ok {
				counts[filepath.Dir(fileOriginal)]++
			}
		}

		for _, file := range scanResult[2:] {
			counts[filepath.Dir(file)]++
		}
	}

	return counts
}

// FormatDirectoryHistogram renders a histogram in the numbered, zero-padded
// form the shrinker's "--parse" mode prints, one line per directory in
// directory-name order (not ordered by count).
func FormatDirectoryHistogram(counts map[string]int) []string {
	dirs := make([]string, 0, len(counts))
	for d := range counts {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	lines := make([]string, 0, len(dirs))
	for i, d := range dirs {
		lines = append(lines, fmt.Sprintf("%03d: [%04d] %s", i+1, counts[d], d))
	}
	return lines
}
