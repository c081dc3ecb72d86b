package hub

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	pingEvery    = idleTimeout * 9 / 10
	readLimit    = 64 * 1024
)

// Conn is the slice of a websocket connection a Client needs. Both the
// gofiber and gorilla connection types satisfy it.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithInitial sends msgs before anything broadcast after the client joins.
func WithInitial(msgs ...Message) ClientOption {
	return func(c *Client) { c.initial = append(c.initial, msgs...) }
}

// Client is one renderer connection attached to a Hub.
type Client struct {
	ID string

	hub     *Hub
	conn    Conn
	initial []Message

	mu     sync.Mutex
	send   chan Message
	closed bool
}

// NewClient attaches conn to h. If the hub has already stopped the
// client comes back with its queue closed.
func NewClient(h *Hub, conn Conn, opts ...ClientOption) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan Message, queueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, m := range c.initial {
		c.send <- m
	}
	c.initial = nil

	if !h.join(c) {
		c.closeSend()
	}
	return c
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Run pumps the connection and returns once it is gone.
func (c *Client) Run() {
	go c.write()
	c.read()
}

// read drains inbound frames so pongs and close frames are seen.
// Renderers have nothing to say.
func (c *Client) read() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// write is the only goroutine that writes to conn.
func (c *Client) write() {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(msg.opcode(), msg.Data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
