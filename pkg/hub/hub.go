package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/amber-eyes/internal/log"
)

const queueSize = 256

// Hub tracks connected renderers and copies every broadcast to each of them.
type Hub struct {
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	outbox  chan Message
	joins   chan *Client
	leaves  chan *Client
	stopped chan struct{}

	running atomic.Bool
	dropped atomic.Int64
}

// New returns an idle hub. Call Run to start delivering.
func New(name string, logger *slog.Logger) *Hub {
	return &Hub{
		name:    name,
		logger:  log.Or(logger).With("component", "hub", "hub", name),
		clients: make(map[*Client]struct{}),
		outbox:  make(chan Message, queueSize),
		joins:   make(chan *Client),
		leaves:  make(chan *Client),
		stopped: make(chan struct{}),
	}
}

// Run delivers broadcasts until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.joins:
			h.add(c)
		case c := <-h.leaves:
			h.remove(c)
		case msg := <-h.outbox:
			h.fanout(msg)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("renderer joined", "client", c.ID, "clients", n)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.closeSend()
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("renderer left", "client", c.ID, "clients", n)
}

// fanout never blocks: a renderer whose queue is full is cut loose.
func (h *Hub) fanout(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			c.closeSend()
			h.logger.Warn("renderer too slow, disconnecting", "client", c.ID)
		}
	}
}

func (h *Hub) stop() {
	h.running.Store(false)
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.closeSend()
	}
	h.mu.Unlock()
	close(h.stopped)
}

// Broadcast queues msg for every client. When the queue is full the
// message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.outbox <- msg:
	default:
		if n := h.dropped.Add(1); n == 1 || n%100 == 0 {
			h.logger.Warn("broadcast queue full", "dropped", n)
		}
	}
}

// BroadcastJSON marshals v and sends it as a text frame.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(Text(data))
	return nil
}

// ClientCount reports how many renderers are attached.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped reports how many broadcasts were discarded on a full queue.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.joins <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.leaves <- c:
	case <-h.stopped:
	}
}
