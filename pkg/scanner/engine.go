// Package scanner implements the scanner engine (§4.6): it walks the sweep
// roots, talks to the server over the framed channel to narrow candidates,
// and records duplicates into the shared report builder.
package scanner

import (
	"fmt"
	"net"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hsp501/sweeper/pkg/chunkhash"
	"github.com/hsp501/sweeper/pkg/fsutil"
	"github.com/hsp501/sweeper/pkg/hashcache"
	"github.com/hsp501/sweeper/pkg/netconn"
	"github.com/hsp501/sweeper/pkg/report"
	"github.com/hsp501/sweeper/pkg/sizeindex"
	"github.com/hsp501/sweeper/pkg/wire"
)

// Config configures an Engine.
type Config struct {
	ID         string
	SessionID  string
	Dirs       []string
	ServerAddr string
	HashDB     string
	LocalMode  bool
	MaxDelete  int
	MaxScan    int
	Logger     *logrus.Logger
}

// Engine is the scanner role's process-long engine object.
type Engine struct {
	cfg     Config
	logger  *logrus.Logger
	cache   *hashcache.Cache
	builder *report.Builder
	conn    net.Conn
	ch      *wire.Channel
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Engine{
		cfg:     cfg,
		logger:  cfg.Logger,
		builder: report.NewBuilder(cfg.MaxDelete, cfg.MaxScan),
	}
}

// Start connects to the server, walks every sweep root grouped by size
// (largest first), and proposes each file for deduplication. It returns
// without error when the run completes or a limit is reached. Stop only
// releases the connection and cache; whatever was recorded stays in Builder
// for the caller to persist.
func (e *Engine) Start() error {
	cache, err := hashcache.Open(e.cfg.HashDB)
	if err != nil {
		return fmt.Errorf("scanner: open hash cache: %w", err)
	}
	e.cache = cache

	conn, err := netconn.Dial(e.cfg.ServerAddr)
	if err != nil {
		cache.Close()
		return fmt.Errorf("scanner: dial server %s: %w", e.cfg.ServerAddr, err)
	}
	e.conn = conn
	e.ch = wire.NewChannel(conn, e.logger, "scanner")

	idx, err := sizeindex.Build(e.cfg.Dirs)
	if err != nil {
		return fmt.Errorf("scanner: build size index: %w", err)
	}
	e.recordExtensions(idx)

	for _, size := range idx.Sizes() {
		files := idx.Snapshot(size)

		if !e.cfg.LocalMode {
			requestID := fmt.Sprintf("%s:%s-size inquiry-[%d]", e.cfg.ID, e.cfg.SessionID, size)
			if !e.compareSize(requestID, requestID, size) {
				e.builder.OnScan(len(files))
				continue
			}
		}

		reachLimit := e.shrinkGroup(files)
		if reachLimit {
			break
		}
	}

	return nil
}

// Stop closes the connection and hash cache; Builder returns whatever was
// accumulated so the caller can persist the report.
func (e *Engine) Stop() {
	if e.conn != nil {
		e.conn.Close()
	}
	if e.cache != nil {
		e.cache.Close()
	}
}

// Builder exposes the accumulated report builder for the caller to persist.
func (e *Engine) Builder() *report.Builder {
	return e.builder
}

func (e *Engine) recordExtensions(idx *sizeindex.Index) {
	for _, size := range idx.Sizes() {
		for _, p := range idx.Snapshot(size) {
			e.builder.OnImportant()
			e.builder.OnExtension(filepath.Ext(p))
		}
	}
}

func (e *Engine) shrinkGroup(files []string) (reachLimit bool) {
	sort.Strings(files)

	for _, path := range files {
		if e.builder.ReachLimit() {
			return true
		}

		e.builder.OnScan(1)

		if e.cfg.LocalMode && e.builder.SkipScan(path) {
			e.logger.WithField("path", path).Debug("skip, already a registered original")
			continue
		}

		fi, err := fsutil.Stat(path)
		if err != nil || fi == nil {
			continue
		}

		requestID := report.RequestID(e.cfg.ID, path, e.cfg.SessionID)

		if !e.compareSize(requestID, path, fi.Size()) {
			continue
		}

		e.compareHash(requestID, path, fi.Size(), fsutil.MTime(fi))
	}

	return false
}

func (e *Engine) compareSize(requestID, path string, size int64) bool {
	if err := e.ch.Send(wire.Message{
		Command:   wire.CheckSize,
		DeviceID:  e.cfg.ID,
		RequestID: requestID,
		LocalMode: e.cfg.LocalMode,
		Path:      path,
		Size:      size,
	}); err != nil {
		return false
	}

	resp, err := e.ch.Recv()
	if err != nil || resp.Command != wire.EchoCheckSize || resp.RequestID != requestID || resp.Size != size {
		e.logger.Debug("unexpected echo message for check_size")
		return false
	}

	count, _ := resp.Result.(float64)
	return count > 0
}

// compareHash runs the client side of progressive candidate elimination
// (§4.6/§4.7): it grows path's chunk list one block at a time, asking the
// server to narrow its candidate set after each extension, until either the
// server reports no surviving candidate (no duplicate) or the client's
// chunk list covers the whole file (duplicate confirmed against the
// returned server path).
func (e *Engine) compareHash(requestID, path string, size int64, mtime float64) {
	directory, basename := fsutil.SplitPath(path)
	fid, chunks, err := e.cache.GetFileDetails(directory, basename, size, mtime)
	if err != nil {
		e.recordError(path)
		return
	}
	if fid == -1 {
		fid = e.cache.AddFile(directory, basename, size, mtime)
		if fid == -1 {
			e.recordError(path)
			return
		}
	}

	blocks := chunkhash.Blocks(size)

	if len(chunks) == 0 {
		chunk, ok := e.nextChunk(fid, path, size, 1)
		if !ok {
			e.recordError(path)
			return
		}
		chunks = []chunkhash.Chunk{chunk}
	}

	for {
		resp, err := e.exchangeHash(requestID, path, size, chunks)
		if err != nil {
			e.recordError(path)
			return
		}

		serverPath, matched := resp.Result.(string)
		if !matched || serverPath == "" {
			return
		}

		if len(chunks) >= blocks {
			e.builder.OnDuplicate(resp.DeviceID, serverPath, chunks, path, size, e.cfg.LocalMode)
			return
		}

		chunk, ok := e.nextChunk(fid, path, size, len(chunks)+1)
		if !ok {
			e.recordError(path)
			return
		}
		chunks = append(chunks, chunk)
	}
}

func (e *Engine) nextChunk(fid int64, path string, size int64, serial int) (chunkhash.Chunk, bool) {
	digest, blockSize, err := chunkhash.BlockHash(path, size, serial)
	if err != nil {
		return chunkhash.Chunk{}, false
	}
	chunk := chunkhash.Chunk{Serial: serial, BlockSize: blockSize, Hash: digest}
	e.builder.OnHash(blockSize)
	e.cache.AddChunkHashes(fid, []chunkhash.Chunk{chunk})
	return chunk, true
}

func (e *Engine) exchangeHash(requestID, path string, size int64, chunks []chunkhash.Chunk) (*wire.Message, error) {
	if err := e.ch.Send(wire.Message{
		Command:   wire.CheckHash,
		DeviceID:  e.cfg.ID,
		RequestID: requestID,
		LocalMode: e.cfg.LocalMode,
		Path:      path,
		Size:      size,
		Hashes:    chunks,
	}); err != nil {
		return nil, err
	}

	resp, err := e.ch.Recv()
	if err != nil {
		return nil, err
	}
	if resp.Command != wire.EchoCheckHash || resp.RequestID != requestID {
		return nil, fmt.Errorf("scanner: unexpected echo message for check_hash")
	}
	return resp, nil
}

func (e *Engine) recordError(path string) {
	e.builder.OnError(path)
	e.logger.WithField("path", path).Warn("error processing file")
}
