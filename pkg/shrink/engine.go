// Package shrink implements the shrink planner (§4.8): given a scan report,
// it walks every duplicate group through the size sieve, an optional
// whole-file-digest sieve in erase mode, and the deletion-priority sort, and
// finally deletes (or, in dry run, only logs) every candidate but the chosen
// original.
package shrink

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/hsp501/sweeper/pkg/chunkhash"
	"github.com/hsp501/sweeper/pkg/fsutil"
	"github.com/hsp501/sweeper/pkg/netconn"
	"github.com/hsp501/sweeper/pkg/report"
	"github.com/hsp501/sweeper/pkg/wire"
)

// Config configures an Engine.
type Config struct {
	ID         string
	SweepDirs  []string
	ServerAddr string
	LocalMode  bool
	EraseMode  bool
	StepMode   bool
	EraseBlank bool
	MaxDelete  int
	Decider    Decider
	Logger     *logrus.Logger
}

// Engine is the shrinker role's one-shot planner, built fresh for each run
// against a loaded Report.
type Engine struct {
	cfg     Config
	logger  *logrus.Logger
	decider Decider
	conn    net.Conn
	ch      *wire.Channel

	deleted     int
	shrinkBytes int64
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Decider == nil {
		if cfg.StepMode {
			cfg.Decider = NewPromptDecider(os.Stdin, os.Stdout)
		} else {
			cfg.Decider = AutoDecider{}
		}
	}
	return &Engine{cfg: cfg, logger: cfg.Logger, decider: cfg.Decider}
}

// Run executes the shrink plan against rep. In erase mode it dials the
// server once, up front, to serve CALC_FILE_HASH requests for the
// whole-file-digest sieve; dry run never opens a connection.
func (e *Engine) Run(rep *report.Report) error {
	if len(rep.SweepDirs) == 0 {
		return fmt.Errorf("shrink: report has no sweep dirs, nothing to do")
	}

	if e.cfg.EraseMode {
		conn, err := netconn.Dial(e.cfg.ServerAddr)
		if err != nil {
			return fmt.Errorf("shrink: dial server %s: %w", e.cfg.ServerAddr, err)
		}
		e.conn = conn
		e.ch = wire.NewChannel(conn, e.logger, "shrinker")
		defer conn.Close()
	}

	if e.cfg.EraseBlank {
		e.removeBlanks(rep.Blank)
	}

	keys := make([]string, 0, len(rep.Duplicate))
	for k := range rep.Duplicate {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, chunkHash := range keys {
		if e.reachLimit() {
			e.logger.Info("shrink limit reached")
			break
		}
		e.removeDuplicates(chunkHash, rep.Duplicate[chunkHash])
	}

	if e.deleted > 0 {
		e.logger.WithFields(logrus.Fields{
			"freed":   humanize.Bytes(uint64(e.shrinkBytes)),
			"deleted": e.deleted,
		}).Info("shrink completed")
	} else {
		e.logger.Info("shrink completed, nothing removed")
	}

	return nil
}

func (e *Engine) reachLimit() bool {
	return e.cfg.MaxDelete > 0 && e.deleted >= e.cfg.MaxDelete
}

func (e *Engine) removeBlanks(blank []string) {
	for _, file := range blank {
		if !fsutil.SizeOK(file, 0) {
			continue
		}
		if !e.cfg.StepMode || e.decider.Confirm(fmt.Sprintf("[ZERO]delete:  %s ? (yes/no) [no]: ", file)) {
			e.deleteFile(file, true)
		}
	}
}

// removeDuplicates runs the four-sieve plan for one duplicate group:
// size sieve (entries must still match the recorded size), an optional
// whole-file-digest sieve in erase mode, deletion-priority sort, then
// deletion of every copy but the one kept in local mode.
func (e *Engine) removeDuplicates(chunkHash string, scanResult []string) int {
	if len(scanResult) < 2 {
		return 0
	}

	size, err := sizeFromToken(scanResult[0])
	if err != nil {
		return 0
	}

	serverID, fileOriginal, ok := report.ParseOriginal(scanResult[1])
	if !ok {
		return 0
	}

	if e.cfg.LocalMode && !fsutil.SizeOK(fileOriginal, size) {
		return 0
	}

	copies := make([]string, 0, len(scanResult)-2)
	for _, p := range scanResult[2:] {
		if fsutil.SizeOK(p, size) {
			copies = append(copies, p)
		}
	}
	if len(copies) == 0 {
		return 0
	}

	if e.cfg.EraseMode {
		digest, ok := e.originalFileHash(chunkHash, serverID, fileOriginal, size)
		if !ok {
			return 0
		}
		filtered := copies[:0:0]
		for _, p := range copies {
			if sameFileDigest(p, size, digest) {
				filtered = append(filtered, p)
			}
		}
		copies = filtered
		if len(copies) == 0 {
			return 0
		}
	}

	if e.cfg.LocalMode {
		copies = append(copies, fileOriginal)
	}

	keep := 0
	if e.cfg.LocalMode {
		keep = 1
	}
	toDelete := len(copies) - keep

	copies = sortByDeletionPriority(e.cfg.SweepDirs, copies)

	deleted := 0
	for deleted < toDelete && len(copies) > 0 {
		file := copies[0]
		copies = copies[1:]

		if !e.cfg.StepMode || e.decider.Confirm(fmt.Sprintf("[DUPL]delete:  %s ? (yes/no) [no]: ", file)) {
			deleted++
			if e.deleteFile(file, false) {
				e.deleted++
				e.shrinkBytes += size
			}
		}
	}

	return deleted
}

func (e *Engine) deleteFile(file string, blank bool) bool {
	tag := "DUPL"
	if blank {
		tag = "ZERO"
	}

	if e.cfg.EraseMode {
		if err := os.Remove(file); err != nil {
			e.logger.WithError(err).WithField("path", file).Warnf("[%s]failed to remove", tag)
			return false
		}
		e.logger.WithField("path", file).Infof("[%s]removed", tag)
		return true
	}

	e.logger.WithField("path", file).Infof("[%s]removed-dry", tag)
	return true
}

func (e *Engine) originalFileHash(requestID, serverID, path string, size int64) (string, bool) {
	if err := e.ch.Send(wire.Message{
		Command:   wire.CalcFileHash,
		DeviceID:  e.cfg.ID,
		ServerID:  serverID,
		RequestID: requestID,
		Path:      path,
		Size:      size,
	}); err != nil {
		return "", false
	}

	resp, err := e.ch.Recv()
	if err != nil || resp.Command != wire.EchoCalcFileHash || resp.RequestID != requestID {
		return "", false
	}

	digest, ok := resp.Result.(string)
	return digest, ok && digest != ""
}

func sameFileDigest(path string, size int64, digest string) bool {
	if !fsutil.SizeOK(path, size) {
		return false
	}
	got, err := chunkhash.FileHash(path)
	return err == nil && got == digest
}

func sortByDeletionPriority(sweepDirs, files []string) []string {
	sorted := make([]string, 0, len(files))
	seen := make(map[string]bool, len(files))

	for _, dir := range sweepDirs {
		for _, file := range files {
			if seen[file] {
				continue
			}
			if fsutil.IsParentDir(dir, file) {
				sorted = append(sorted, file)
				seen[file] = true
			}
		}
	}

	return sorted
}

// sizeFromToken parses a "<human readable>-<bytes>" token (e.g. "1.0 kB-1024")
// into its exact byte count, the tail after the last "-".
func sizeFromToken(token string) (int64, error) {
	idx := strings.LastIndex(token, "-")
	if idx < 0 || idx == len(token)-1 {
		return 0, fmt.Errorf("shrink: malformed size token %q", token)
	}
	return strconv.ParseInt(token[idx+1:], 10, 64)
}
