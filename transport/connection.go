// Package transport implements the relay connection pool: dialing,
// reconnecting with backoff, filter-based subscription with
// deduplication, and publish-with-acks across one or more relay URIs.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/askexperts/askexperts/log"
)

// backoffInitial and backoffCap bound the per-relay exponential backoff
// used by Connection.run between reconnect attempts (§4.2).
const (
	backoffInitial = 500 * time.Millisecond
	backoffCap     = 30 * time.Second
)

// Connection owns one relay's websocket, reconnecting for as long as it is
// referenced. All state is guarded by mu; callers never touch conn
// directly.
type Connection struct {
	uri string

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	backoff time.Duration

	onEvent func(raw []byte)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newConnection(ctx context.Context, uri string, onEvent func(raw []byte)) *Connection {
	cctx, cancel := context.WithCancel(ctx)
	c := &Connection{
		uri:     uri,
		backoff: backoffInitial,
		onEvent: onEvent,
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// run dials and redials c.uri for the connection's lifetime, delivering
// every inbound frame to onEvent until the connection is closed.
func (c *Connection) run() {
	defer close(c.done)
	for {
		if c.ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.uri, nil)
		if err != nil {
			log.Warnw("relay dial failed", "uri", c.uri, "error", err, "backoff", c.backoff)
			if !c.sleepBackoff() {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.backoff = backoffInitial
		log.Infow("relay connected", "uri", c.uri)

		stop := context.AfterFunc(c.ctx, func() { _ = conn.Close() })
		c.readLoop(conn)
		stop()

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if c.ctx.Err() != nil {
			return
		}
		if !c.sleepBackoff() {
			return
		}
	}
}

func (c *Connection) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debugw("relay read error", "uri", c.uri, "error", err)
			return
		}
		c.onEvent(raw)
	}
}

// sleepBackoff waits the current backoff (doubling it, capped at
// backoffCap) and reports whether the connection is still alive.
func (c *Connection) sleepBackoff() bool {
	wait := c.backoff
	c.backoff *= 2
	if c.backoff > backoffCap {
		c.backoff = backoffCap
	}
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

// Send writes raw JSON to the relay if currently connected, reporting an
// error otherwise (the caller decides whether to retry or drop).
func (c *Connection) Send(raw []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("relay %s: not connected", c.uri)
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// Connected reports whether the underlying socket is currently up.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close stops reconnecting and releases the underlying socket.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-c.done
	return nil
}
