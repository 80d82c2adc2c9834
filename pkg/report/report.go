// Package report implements the YAML-shaped scan report the scanner writes
// at shutdown and the shrinker reads to plan deletions, together with the
// duplicate-record registration and merge logic that builds it.
package report

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"

	"github.com/hsp501/sweeper/pkg/chunkhash"
)

// SweepDirsPlaceholder is written into a freshly generated report's
// sweep_dirs field: a hint for the operator to hand-edit down to the real
// directories duplicates should be deleted from before running sweepshrink
// --erase, never the scanner's own scanned directories.
const SweepDirsPlaceholder = "*** absolute path in which duplicate files will be deleted ***"

// Report is the top-level scan report document, §6's YAML shape.
type Report struct {
	ID              string              `yaml:"id"`
	LocalMode       bool                `yaml:"local_mode"`
	Server          string              `yaml:"server"`
	SweepDirs       []string            `yaml:"sweep_dirs"`
	Stat            map[string]string   `yaml:"stat"`
	ScannedDirs     []string            `yaml:"scanned_dirs"`
	FileExtensions  []string            `yaml:"file_extensions"`
	Error           []string            `yaml:"error"`
	Blank           []string            `yaml:"blank"`
	Duplicate       map[string][]string `yaml:"duplicate"`
}

// Load reads a scan report from path.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: read %s: %w", path, err)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("report: parse %s: %w", path, err)
	}
	return &r, nil
}

// Save writes the report as YAML to path.
func (r *Report) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

var originalPrefix = regexp.MustCompile(`^original@(.+?):(.*)$`)

// ParseOriginal splits an "original@<server_id>:<path>" token into its
// server id and path. ok is false if the token doesn't match that shape.
func ParseOriginal(token string) (serverID, path string, ok bool) {
	m := originalPrefix.FindStringSubmatch(token)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Builder accumulates a duplicate-record map and supporting statistics
// during a scan run, keyed by the MD5 of the matched chunk-digest sequence,
// and is serialized into a Report at shutdown.
type Builder struct {
	mu sync.Mutex

	important int
	scanned   int
	deleted   int
	shrinkB   int64
	hashB     int64

	maxDelete, maxScan int

	blank      []string
	errored    map[string]struct{}
	extensions map[string]struct{}
	duplicate  map[string][]string
}

// NewBuilder constructs a Builder. maxDelete/maxScan of 0 mean unlimited.
func NewBuilder(maxDelete, maxScan int) *Builder {
	return &Builder{
		maxDelete:  maxDelete,
		maxScan:    maxScan,
		errored:    make(map[string]struct{}),
		extensions: make(map[string]struct{}),
		duplicate:  make(map[string][]string),
	}
}

// OnScan records that n more files were considered for scanning.
func (b *Builder) OnScan(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanned += n
}

// OnImportant records that a regular, non-empty, non-excluded file was
// found while grouping by size (used for the report's "total" line).
func (b *Builder) OnImportant() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.important++
}

// OnHash records that n bytes were freshly chunk-hashed.
func (b *Builder) OnHash(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hashB += n
}

// OnEmpty records a zero-byte file for the blank list.
func (b *Builder) OnEmpty(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blank = append(b.blank, path)
}

// OnError records a path that failed to process.
func (b *Builder) OnError(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errored[path] = struct{}{}
}

// OnExtension records a file extension seen during the walk.
func (b *Builder) OnExtension(ext string) {
	if ext == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.extensions[strings.ToLower(ext)] = struct{}{}
}

// ReachLimit reports whether the configured scan or delete limit has been
// hit.
func (b *Builder) ReachLimit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return (b.maxScan > 0 && b.scanned >= b.maxScan) || (b.maxDelete > 0 && b.deleted >= b.maxDelete)
}

// SkipScan reports whether path already appears as some duplicate group's
// registered original, stripped of its "original@id:" prefix — such a path
// is never re-offered as a candidate against itself.
func (b *Builder) SkipScan(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, group := range b.duplicate {
		if len(group) < 2 {
			continue
		}
		if _, stripped, ok := ParseOriginal(group[1]); ok && stripped == path {
			return true
		}
		if group[1] == path {
			return true
		}
	}
	return false
}

// OnDuplicate registers a duplicate match between the scanner's client path
// and the server's matched original path, keyed by the MD5 of the matched
// chunk sequence. The group's original token at index 1 always keeps its
// "original@id:" prefix in the stored report; in local mode a client path
// equal to the bare original path is treated as already present rather than
// appended again, the same de-dup rule the shrink planner later relies on
// when it folds the original back into its own copy pool. Returns true if
// client_path was newly added as a copy.
func (b *Builder) OnDuplicate(serverID, serverPath string, chunks []chunkhash.Chunk, clientPath string, freeSpace int64, localMode bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := chunkhash.DigestConcat(chunks)

	group, exists := b.duplicate[key]
	if !exists {
		group = []string{
			fmt.Sprintf("%s-%d", humanize.Bytes(uint64(freeSpace)), freeSpace),
			fmt.Sprintf("original@%s:%s", serverID, serverPath),
		}
		b.duplicate[key] = group
	}

	added := false
	if len(group) == 2 || !localMode {
		group = append(group, clientPath)
		added = true
	} else if localMode {
		// group[1] keeps its "original@id:" prefix in the stored report
		// forever; only this local originalPath is the bare form, used
		// solely for the membership check below.
		originalPath := group[1]
		if _, p, ok := ParseOriginal(originalPath); ok {
			originalPath = p
		}

		present := clientPath == originalPath
		for _, existing := range group[2:] {
			if existing == clientPath {
				present = true
				break
			}
		}
		if !present {
			group = append(group, clientPath)
			added = true
		}
	}

	b.duplicate[key] = group

	if added {
		b.deleted++
		b.shrinkB += freeSpace
	}

	return added
}

// Build assembles the final Report from everything recorded so far.
// SweepDirs is always written as the SweepDirsPlaceholder hint, never
// scannedDirs: it is the operator's input to sweepshrink, hand-edited down
// to the real directories duplicates should be deleted from, not a record
// of where the scan actually looked.
func (b *Builder) Build(id string, localMode bool, server string, scannedDirs []string) *Report {
	b.mu.Lock()
	defer b.mu.Unlock()

	errored := make([]string, 0, len(b.errored))
	for p := range b.errored {
		errored = append(errored, p)
	}

	exts := make([]string, 0, len(b.extensions))
	for e := range b.extensions {
		exts = append(exts, e)
	}

	return &Report{
		ID:             id,
		LocalMode:      localMode,
		Server:         server,
		SweepDirs:      []string{SweepDirsPlaceholder},
		Stat: map[string]string{
			"total":  fmt.Sprintf("%d files", b.important),
			"freed":  fmt.Sprintf("%s from %d files", humanize.Bytes(uint64(b.shrinkB)), b.deleted),
			"hashed": humanize.Bytes(uint64(b.hashB)),
		},
		ScannedDirs:    scannedDirs,
		FileExtensions: exts,
		Error:          errored,
		Blank:          b.blank,
		Duplicate:      b.duplicate,
	}
}

// ChunkKey returns the lower-case hex MD5 digest key for a debug/log context
// without needing a full Builder.
func ChunkKey(chunks []chunkhash.Chunk) string {
	return chunkhash.DigestConcat(chunks)
}

// md5Hex is a small helper retained for callers that need to key off of an
// arbitrary string rather than a chunk sequence (e.g. the scanner's
// per-file request id, computed from device id + path).
func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RequestID derives the stable per-file request id used to correlate a
// scanner file's progressive round-trips, grounded on the original
// scanner's `md5(device_id+path)+session_id` composition.
func RequestID(deviceID, path, sessionID string) string {
	return fmt.Sprintf("%s-%s", md5Hex(deviceID+"-"+path), sessionID)
}
