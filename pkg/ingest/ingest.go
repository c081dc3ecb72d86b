// Package ingest accepts camera frames, microphone audio and permission
// results from browser clients over a websocket.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/protocol"
)

// Connection represents a connected browser
type Connection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send sends a message to the browser
func (c *Connection) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// FrameHandler consumes a camera frame.
type FrameHandler func(clientID string, frame *protocol.FrameData) error

// MicHandler consumes a block of microphone audio.
type MicHandler func(clientID string, mic *protocol.MicData) error

// PermissionHandler consumes a permission prompt result.
type PermissionHandler func(clientID string, p *protocol.PermissionData) error

// Hub manages WebSocket connections from browsers
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Connection
	logger  *slog.Logger

	// Callbacks
	onFrame      FrameHandler
	onMic        MicHandler
	onPermission PermissionHandler

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	micReceived      atomic.Uint64
	rejected         atomic.Uint64
}

// NewHub creates a new ingest hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Connection),
		logger:  log.Or(logger).With("component", "ingest"),
	}
}

// OnFrame sets the callback for incoming camera frames
func (h *Hub) OnFrame(callback FrameHandler) {
	h.mu.Lock()
	h.onFrame = callback
	h.mu.Unlock()
}

// OnMic sets the callback for incoming microphone data
func (h *Hub) OnMic(callback MicHandler) {
	h.mu.Lock()
	h.onMic = callback
	h.mu.Unlock()
}

// OnPermission sets the callback for permission results
func (h *Hub) OnPermission(callback PermissionHandler) {
	h.mu.Lock()
	h.onPermission = callback
	h.mu.Unlock()
}

// RegisterRoutes registers the ingest WebSocket route on a Fiber app
func (h *Hub) RegisterRoutes(app fiber.Router) {
	app.Use("/ws/ingest", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/ingest", websocket.New(h.handleClient))
}

// handleClient handles a browser WebSocket connection
func (h *Hub) handleClient(c *websocket.Conn) {
	client := &Connection{
		ID:        uuid.NewString(),
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ingest client connected", "client", client.ID, "clients", count)

	defer func() {
		h.mu.Lock()
		delete(h.clients, client.ID)
		count := len(h.clients)
		h.mu.Unlock()
		h.logger.Info("ingest client disconnected", "client", client.ID, "clients", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("ingest read ended", "client", client.ID, "err", err)
			return
		}

		client.mu.Lock()
		client.LastSeen = time.Now()
		client.mu.Unlock()

		h.messagesReceived.Add(1)
		if err := h.handleMessage(client, data); err != nil {
			h.reject(client, err)
		}
	}
}

// MessageError is a rejected inbound message.
type MessageError struct {
	Type protocol.MessageType
	Err  error
}

func (e *MessageError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("ingest: %v", e.Err)
	}
	return fmt.Sprintf("ingest: %s: %v", e.Type, e.Err)
}

func (e *MessageError) Unwrap() error { return e.Err }

// handleMessage processes an incoming message from a browser
func (h *Hub) handleMessage(client *Connection, data []byte) error {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return &MessageError{Err: err}
	}
	fail := func(err error) error {
		if err == nil {
			return nil
		}
		return &MessageError{Type: msg.Type, Err: err}
	}

	h.mu.RLock()
	frameCb := h.onFrame
	micCb := h.onMic
	permCb := h.onPermission
	h.mu.RUnlock()

	switch msg.Type {
	case protocol.TypeFrame:
		h.framesReceived.Add(1)
		frame, err := msg.GetFrameData()
		if err != nil {
			return fail(err)
		}
		if frameCb != nil {
			return fail(frameCb(client.ID, frame))
		}

	case protocol.TypeMic:
		h.micReceived.Add(1)
		mic, err := msg.GetMicData()
		if err != nil {
			return fail(err)
		}
		if micCb != nil {
			return fail(micCb(client.ID, mic))
		}

	case protocol.TypePermission:
		perm, err := msg.GetPermissionData()
		if err != nil {
			return fail(err)
		}
		h.logger.Info("permission result", "client", client.ID, "device", perm.Device, "granted", perm.Granted)
		if permCb != nil {
			return fail(permCb(client.ID, perm))
		}

	case protocol.TypePing:
		return fail(h.sendPong(client, msg))

	default:
		return fail(errors.New("unexpected message type"))
	}
	return nil
}

func (h *Hub) reject(client *Connection, err error) {
	n := h.rejected.Add(1)
	if n == 1 || n%50 == 0 {
		h.logger.Warn("rejected ingest message", "client", client.ID, "rejected", n, "err", err)
	}
	var typ protocol.MessageType
	var me *MessageError
	if errors.As(err, &me) {
		typ = me.Type
	}
	msg, merr := protocol.NewErrorMessage(typ, err)
	if merr != nil {
		return
	}
	h.messagesSent.Add(1)
	client.Send(msg)
}

// sendPong answers a ping
func (h *Hub) sendPong(client *Connection, ping *protocol.Message) error {
	var id string
	if data, err := ping.GetPingData(); err == nil {
		id = data.ID
	}
	msg, err := protocol.NewPongMessage(id, ping.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	h.messagesSent.Add(1)
	return client.Send(msg)
}

// ClientCount returns the number of connected browsers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats contains hub statistics
type Stats struct {
	ClientCount      int    `json:"client_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	FramesReceived   uint64 `json:"frames_received"`
	MicReceived      uint64 `json:"mic_received"`
	Rejected         uint64 `json:"rejected"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		ClientCount:      h.ClientCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		FramesReceived:   h.framesReceived.Load(),
		MicReceived:      h.micReceived.Load(),
		Rejected:         h.rejected.Load(),
	}
}

// ClientInfo contains info about a connected browser
type ClientInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// GetClientInfos returns info about all connected browsers
func (h *Hub) GetClientInfos() []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		c.mu.Lock()
		infos = append(infos, ClientInfo{
			ID:        c.ID,
			Connected: c.Connected,
			LastSeen:  c.LastSeen,
		})
		c.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers API routes for ingest monitoring
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	g := api.Group("/ingest")

	g.Get("/clients", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"clients": h.GetClientInfos(),
			"count":   h.ClientCount(),
		})
	})

	g.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})
}
