package websocket

import (
	"context"
	"sync"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	// writeTimeout bounds every frame write and ping round trip. A subscriber
	// that cannot keep up within it is disconnected.
	writeTimeout = 10 * time.Second
)

// Client is one feed subscriber. The hub fills send; the write loop drains it
// onto the connection.
type Client struct {
	hub     *Hub
	conn    *ws.Conn
	send    chan []byte
	evicted chan struct{}
	once    sync.Once
}

func NewClient(hub *Hub, conn *ws.Conn) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		evicted: make(chan struct{}),
	}
}

// evict tells the write loop to close the connection. Safe to call repeatedly.
func (c *Client) evict() {
	c.once.Do(func() { close(c.evicted) })
}

// Run registers the client and serves it until the peer leaves, the write
// loop gives up, or ctx ends.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		c.writeLoop(ctx)
		// Unblocks the reader when writing failed or the client was evicted.
		c.conn.CloseNow()
	}()
	c.discardInbound(ctx)
}

// discardInbound reads and drops client frames. Reading is still required so
// pings see their pongs and close frames are answered.
func (c *Client) discardInbound(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			if err := c.writeFrame(ctx, msg); err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case <-c.evicted:
			c.conn.Close(ws.StatusPolicyViolation, "subscriber too slow")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) writeFrame(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}
