package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/protocol"
)

func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })
	return "ws://" + ln.Addr().String() + "/ws/ingest"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg *protocol.Message) {
	t.Helper()
	data, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func receive(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	return msg
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(log.Discard())
	if hub.ClientCount() != 0 {
		t.Error("ClientCount should be 0 initially")
	}
	stats := hub.GetStats()
	if stats.MessagesReceived != 0 || stats.Rejected != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
	if len(hub.GetClientInfos()) != 0 {
		t.Error("GetClientInfos should return empty slice initially")
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	hub := NewHub(log.Discard())
	url := startServer(t, hub)

	ws := dial(t, url)
	eventually(t, "client registered", func() bool { return hub.ClientCount() == 1 })

	infos := hub.GetClientInfos()
	if len(infos) != 1 || infos[0].ID == "" {
		t.Errorf("infos = %+v, want one client with an id", infos)
	}

	ws.Close()
	eventually(t, "client removed", func() bool { return hub.ClientCount() == 0 })
}

func TestFrameCallback(t *testing.T) {
	hub := NewHub(log.Discard())
	var got atomic.Value
	hub.OnFrame(func(clientID string, frame *protocol.FrameData) error {
		data, err := frame.DecodeFrameData()
		if err != nil {
			return err
		}
		got.Store(string(data))
		return nil
	})
	ws := dial(t, startServer(t, hub))

	msg, _ := protocol.NewFrameMessage(640, 480, []byte("jpeg bytes"), 1)
	send(t, ws, msg)

	eventually(t, "frame callback", func() bool { return got.Load() != nil })
	if got.Load().(string) != "jpeg bytes" {
		t.Errorf("frame = %q", got.Load())
	}
	if hub.GetStats().FramesReceived != 1 {
		t.Errorf("FramesReceived = %d, want 1", hub.GetStats().FramesReceived)
	}
}

func TestMicAndPermissionCallbacks(t *testing.T) {
	hub := NewHub(log.Discard())
	var micBytes atomic.Int64
	var denied atomic.Bool
	hub.OnMic(func(_ string, mic *protocol.MicData) error {
		pcm, err := mic.DecodeMicData()
		micBytes.Add(int64(len(pcm)))
		return err
	})
	hub.OnPermission(func(_ string, p *protocol.PermissionData) error {
		if p.Device == protocol.DeviceMicrophone && !p.Granted {
			denied.Store(true)
		}
		return nil
	})
	ws := dial(t, startServer(t, hub))

	mic, _ := protocol.NewMicMessage(make([]byte, 640), 16000)
	send(t, ws, mic)
	perm, _ := protocol.NewPermissionMessage(protocol.DeviceMicrophone, false)
	send(t, ws, perm)

	eventually(t, "callbacks", func() bool { return micBytes.Load() == 640 && denied.Load() })
}

func TestRejectedMessageGetsError(t *testing.T) {
	hub := NewHub(log.Discard())
	hub.OnMic(func(string, *protocol.MicData) error { return errors.New("microphone not running") })
	ws := dial(t, startServer(t, hub))

	mic, _ := protocol.NewMicMessage([]byte{0, 0}, 16000)
	send(t, ws, mic)

	reply := receive(t, ws)
	if reply.Type != protocol.TypeError {
		t.Fatalf("Type = %s, want error", reply.Type)
	}
	var data protocol.ErrorData
	reply.ParseData(&data)
	if data.Type != protocol.TypeMic || !strings.Contains(data.Message, "microphone not running") {
		t.Errorf("error = %+v", data)
	}

	ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	if reply := receive(t, ws); reply.Type != protocol.TypeError {
		t.Errorf("Type = %s, want error for garbage", reply.Type)
	}
	if n := hub.GetStats().Rejected; n != 2 {
		t.Errorf("Rejected = %d, want 2", n)
	}
}

func TestPingPong(t *testing.T) {
	hub := NewHub(log.Discard())
	ws := dial(t, startServer(t, hub))

	ping, _ := protocol.NewPingMessage("p-1")
	send(t, ws, ping)

	resp := receive(t, ws)
	if resp.Type != protocol.TypePong {
		t.Fatalf("Type = %s, want pong", resp.Type)
	}
	pong, err := resp.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pong.ID != "p-1" {
		t.Errorf("pong id = %q, want p-1", pong.ID)
	}
}

func TestAPIRoutes(t *testing.T) {
	hub := NewHub(log.Discard())
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/ingest/clients", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil || out["count"] != float64(0) {
		t.Errorf("body = %s", body)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/ingest/stats", nil))
	if err != nil || resp.StatusCode != 200 {
		t.Errorf("stats: %v %v", err, resp)
	}

	// Plain HTTP on the websocket route is refused.
	resp, err = app.Test(httptest.NewRequest("GET", "/ws/ingest", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("Status = %d, want %d", resp.StatusCode, fiber.StatusUpgradeRequired)
	}
}
