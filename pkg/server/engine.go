// Package server implements the server engine (§4.7) and its per-connection
// session state (§4.5): it holds the reference population of files, serves
// CHECK_SIZE/CHECK_HASH/CALC_FILE_HASH requests, and owns every I/O
// resource (listener, size index, hash cache) behind a single idempotent
// Start/Stop pair, the "explicit engine object" shape this codebase's
// supervisor uses for its own agent lifecycle.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hsp501/sweeper/pkg/chunkhash"
	"github.com/hsp501/sweeper/pkg/fsutil"
	"github.com/hsp501/sweeper/pkg/hashcache"
	"github.com/hsp501/sweeper/pkg/netconn"
	"github.com/hsp501/sweeper/pkg/sizeindex"
	"github.com/hsp501/sweeper/pkg/wire"
)

// Config configures an Engine.
type Config struct {
	ID     string
	Dirs   []string
	Bind   string
	HashDB string
	Logger *logrus.Logger
}

// Engine is the server role's process-long engine object: built once at
// startup, torn down once, idempotently, at shutdown.
type Engine struct {
	cfg    Config
	logger *logrus.Logger

	mu       sync.Mutex
	running  bool
	listener *netconn.Listener
	cache    *hashcache.Cache
	index    *sizeindex.Index
	cancel   context.CancelFunc
	done     chan struct{}
}

// New constructs an Engine from cfg. It does not yet own any I/O resource;
// call Start to scan the reference population and begin listening.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Engine{cfg: cfg, logger: cfg.Logger, done: make(chan struct{})}
}

// Start scans the configured directories into the size index, opens the
// hash cache, and begins accepting connections. It blocks until ctx is
// canceled or an unrecoverable error occurs.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("server: engine already running")
	}

	idx, err := sizeindex.Build(e.cfg.Dirs)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("server: build size index: %w", err)
	}
	e.index = idx

	cache, err := hashcache.Open(e.cfg.HashDB)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("server: open hash cache: %w", err)
	}
	e.cache = cache

	listener, err := netconn.Listen(e.cfg.Bind)
	if err != nil {
		cache.Close()
		e.mu.Unlock()
		return fmt.Errorf("server: listen on %s: %w", e.cfg.Bind, err)
	}
	e.listener = listener

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	go func() {
		<-runCtx.Done()
		listener.Close()
	}()

	e.logger.WithField("bind", e.cfg.Bind).Info("server listening")

	defer close(e.done)
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-runCtx.Done():
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		e.logger.WithField("remote", conn.RemoteAddr()).Info("client connected")
		e.handleClient(conn)
	}
}

// Stop cancels the accept loop and releases every owned resource exactly
// once; calling Stop more than once, or before Start, is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return fmt.Errorf("server: timeout waiting for shutdown")
	}

	if e.cache != nil {
		e.cache.Close()
	}
	return nil
}

// handleClient serves one connection, one command at a time, until the
// connection closes or a malformed frame or unknown command is seen. The
// server accepts one client at a time: this call runs synchronously on the
// accept loop's goroutine, matching the single-threaded cooperative model.
func (e *Engine) handleClient(conn net.Conn) {
	defer conn.Close()

	ch := wire.NewChannel(conn, e.logger, "server")
	sess := newSession()

	for {
		msg, err := ch.Recv()
		if err != nil {
			e.logger.WithError(err).Debug("frame error, closing connection")
			return
		}

		switch msg.Command {
		case wire.CheckSize:
			e.handleCheckSize(ch, msg)
		case wire.CheckHash:
			e.handleCheckHash(ch, msg, sess)
		case wire.CalcFileHash:
			e.handleCalcFileHash(ch, msg)
		default:
			e.logger.WithField("command", msg.Command).Debug("unknown command, closing connection")
			return
		}
	}
}

func (e *Engine) handleCheckSize(ch *wire.Channel, msg *wire.Message) {
	count := e.index.Count(msg.Size)
	if msg.LocalMode {
		for _, p := range e.index.Snapshot(msg.Size) {
			if p == msg.Path {
				count--
				break
			}
		}
	}

	ch.Send(wire.Message{
		Command:   wire.EchoCheckSize,
		DeviceID:  e.cfg.ID,
		RequestID: msg.RequestID,
		Size:      msg.Size,
		Result:    count,
	})
}

func (e *Engine) handleCheckHash(ch *wire.Channel, msg *wire.Message, sess *session) {
	var result interface{}

	if chunkhash.IsDenseSerialPrefix(msg.Hashes) {
		if p := sess.checkHash(msg.RequestID, msg.Size, msg.Hashes, msg.LocalMode, msg.Path, e.index, e.cache); p != "" {
			result = p
		}
	}

	ch.Send(wire.Message{
		Command:   wire.EchoCheckHash,
		DeviceID:  e.cfg.ID,
		RequestID: msg.RequestID,
		Result:    result,
	})
}

func (e *Engine) handleCalcFileHash(ch *wire.Channel, msg *wire.Message) {
	var result interface{}

	if msg.ServerID == e.cfg.ID && fsutil.SizeOK(msg.Path, msg.Size) {
		if digest, err := chunkhash.FileHash(msg.Path); err == nil {
			result = digest
		}
	}

	ch.Send(wire.Message{
		Command:   wire.EchoCalcFileHash,
		DeviceID:  e.cfg.ID,
		RequestID: msg.RequestID,
		Result:    result,
	})
}
