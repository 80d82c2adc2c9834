// Package netconn provides plain-TCP listen/dial helpers, adapted from this
// codebase's TLS-wrapped TCP transport with the TLS handshake stripped out:
// the protocol carries no cryptographic integrity claims, so the channel is
// a bare net.Conn over net.TCPListener/net.Dial.
package netconn

import (
	"fmt"
	"net"
	"time"
)

// DialTimeout is the connect timeout used by Dial.
const DialTimeout = 30 * time.Second

// Listener wraps a *net.TCPListener. The server accepts one client at a
// time; Accept blocks until a connection arrives or the listener closes.
type Listener struct {
	listener *net.TCPListener
}

// Listen starts listening for TCP connections on addr ("host:port").
func Listen(addr string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netconn: resolve %s: %w", addr, err)
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("netconn: listen %s: %w", addr, err)
	}

	return &Listener{listener: listener}, nil
}

// Accept waits for and returns the next connection.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close closes the listener.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Dial establishes a plain TCP connection to addr ("host:port").
func Dial(addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netconn: dial %s: %w", addr, err)
	}
	return conn, nil
}
