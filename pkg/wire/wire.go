// Package wire implements the length-prefixed JSON framed channel shared by
// the server, scanner and shrinker: a 32-bit big-endian length prefix
// followed by that many bytes of a single JSON object, adapted from this
// codebase's CBOR envelope framing down to the protocol's fixed JSON
// contract.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/hsp501/sweeper/pkg/chunkhash"
	"github.com/hsp501/sweeper/pkg/sweeperr"
	"github.com/sirupsen/logrus"
)

// Command identifies the kind of a framed message.
type Command string

const (
	CheckSize         Command = "check_size"
	EchoCheckSize      Command = "echo_check_size"
	CheckHash          Command = "check_hash"
	EchoCheckHash      Command = "echo_check_hash"
	CalcFileHash       Command = "calc_file_hash"
	EchoCalcFileHash   Command = "echo_calc_file_hash"
)

// Message is the single JSON object carried by one frame. Result is
// deliberately untyped: it is an integer for a size echo, a string or null
// for a hash echo, and a string or null for a file-hash echo.
type Message struct {
	Command   Command           `json:"command"`
	DeviceID  string            `json:"device_id,omitempty"`
	ServerID  string            `json:"server_id,omitempty"`
	RequestID string            `json:"request_id"`
	LocalMode bool              `json:"local_mode,omitempty"`
	Path      string            `json:"path,omitempty"`
	Size      int64             `json:"size,omitempty"`
	Hashes    []chunkhash.Chunk `json:"hashes,omitempty"`
	Result    interface{}       `json:"result,omitempty"`
}

// Channel is a framed JSON message channel over a stream connection. It is
// used synchronously: one outstanding request at a time, matching the
// single-threaded cooperative concurrency model of every caller.
type Channel struct {
	conn   net.Conn
	logger *logrus.Logger
	peer   string
}

// NewChannel wraps conn in a framed JSON channel. logger may be nil to
// disable debug tracing; peer is used only in trace lines.
func NewChannel(conn net.Conn, logger *logrus.Logger, peer string) *Channel {
	return &Channel{conn: conn, logger: logger, peer: peer}
}

// Send marshals msg to JSON and writes it as one length-prefixed frame.
func (c *Channel) Send(msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: marshal message: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))

	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := c.conn.Write(raw); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}

	c.trace(msg, true)
	return nil
}

// Recv reads exactly one frame and unmarshals it. A clean EOF before any
// bytes are read returns (nil, io.EOF) to signal the session ended; a
// short read mid-frame or invalid JSON returns a sweeperr.Error wrapping the
// cause, per the "malformed or partial frame closes the session" rule.
func (c *Channel) Recv() (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, sweeperr.FrameError(err)
		}
		return nil, err
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, size)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, sweeperr.FrameError(err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, sweeperr.FrameError(err)
	}

	c.trace(msg, false)
	return &msg, nil
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

func (c *Channel) trace(msg Message, send bool) {
	if c.logger == nil {
		return
	}
	arrow := "<<<---"
	if send {
		arrow = "--->>>"
	}
	c.logger.WithFields(logrus.Fields{
		"peer":       c.peer,
		"command":    msg.Command,
		"request_id": msg.RequestID,
		"path":       msg.Path,
		"chunks":     len(msg.Hashes),
	}).Debugf("%s %s", c.peer, arrow)
}
