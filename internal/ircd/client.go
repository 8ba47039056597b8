// Package ircd implements spec.md §4.1/§4.2/§4.5/§4.9: the framed IRC
// listener, the pre-auth handshake, the outbound queue writer, and the
// inbound command dispatcher. Its login state machine is in login.go.
package ircd

import (
	"fmt"
	"net"
	"sync"

	"gopkg.in/irc.v3"

	"github.com/martinetd/matrirc/internal/ircproto"
	"github.com/martinetd/matrirc/internal/mapping"
)

// outboundCapacity is the bounded MPSC queue capacity (spec §3
// IrcClient, §5 "fixed capacity 100; producers await capacity").
const outboundCapacity = 100

// Logger is the minimal logging capability this package depends on,
// mirroring the teacher's own small Logger interface rather than a
// concrete logging library.
type Logger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
}

// Client is one downstream IRC connection. It implements
// mapping.IrcSink so the mapping engine and its handlers can enqueue
// frames without depending on this package (avoiding an import cycle).
type Client struct {
	conn   net.Conn
	codec  *irc.Conn
	logger Logger

	outgoing chan *irc.Message
	closed   chan struct{}
	closeMu  sync.Mutex

	mu   sync.RWMutex
	nick string
	user string
}

var _ mapping.IrcSink = (*Client)(nil)

func NewClient(conn net.Conn, logger Logger) *Client {
	return &Client{
		conn:     conn,
		codec:    irc.NewConn(conn),
		logger:   logger,
		outgoing: make(chan *irc.Message, outboundCapacity),
		closed:   make(chan struct{}),
	}
}

// Enqueue implements mapping.IrcSink. It blocks when the queue is at
// capacity (spec §5 backpressure policy).
func (c *Client) Enqueue(msg *irc.Message) {
	select {
	case c.outgoing <- msg:
	case <-c.closed:
	}
}

func (c *Client) Nick() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nick
}

func (c *Client) User() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Client) setNick(nick string) {
	c.mu.Lock()
	c.nick = nick
	c.user = ircproto.PrefixUser(nick)
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Stop flips the running flag and enqueues a terminal ERROR frame
// (spec §5 "stop(reason)"). Safe to call more than once.
func (c *Client) Stop(reason string) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.isClosed() {
		return
	}
	select {
	case c.outgoing <- ircproto.Error(reason):
	default:
		// queue is full; the writer is about to observe closed anyway.
	}
	close(c.closed)
}

func (c *Client) readMessage() (*irc.Message, error) {
	return c.codec.ReadMessage()
}

func (c *Client) writeMessage(msg *irc.Message) error {
	return c.codec.WriteMessage(msg)
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// prefixError is a small helper mirroring the teacher's own
// "wrap error with a short label" idiom used throughout downstream.go.
func prefixError(label string, err error) error {
	return fmt.Errorf("%s: %w", label, err)
}
