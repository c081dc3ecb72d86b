package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/teslashibe/amber-eyes/pkg/audioio"
)

// liveServer is a scripted BidiGenerateContent endpoint.
type liveServer struct {
	srv      *httptest.Server
	setups   chan map[string]any
	requests chan *http.Request
	inbound  chan map[string]any
	script   func(conn *websocket.Conn)
	reject   bool
}

func newLiveServer(t *testing.T, script func(conn *websocket.Conn)) *liveServer {
	return startLiveServer(t, script, false)
}

func startLiveServer(t *testing.T, script func(conn *websocket.Conn), reject bool) *liveServer {
	t.Helper()
	ls := &liveServer{
		setups:   make(chan map[string]any, 1),
		requests: make(chan *http.Request, 1),
		inbound:  make(chan map[string]any, 16),
		script:   script,
		reject:   reject,
	}
	upgrader := websocket.Upgrader{}
	ls.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ls.requests <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setup map[string]any
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		ls.setups <- setup

		if ls.reject {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "API key not valid"))
			return
		}
		conn.WriteMessage(websocket.BinaryMessage, []byte(`{"setupComplete":{}}`))

		if ls.script != nil {
			go ls.script(conn)
		}
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			ls.inbound <- msg
		}
	}))
	t.Cleanup(ls.srv.Close)
	return ls
}

func (ls *liveServer) url() string {
	return "ws" + strings.TrimPrefix(ls.srv.URL, "http")
}

func send(conn *websocket.Conn, v string) {
	conn.WriteMessage(websocket.TextMessage, []byte(v))
}

func connectTo(t *testing.T, ls *liveServer, opts ...Option) *GeminiLive {
	t.Helper()
	opts = append([]Option{WithAPIKey("test-key"), WithBaseURL(ls.url()), WithTimeout(2 * time.Second)}, opts...)
	g, err := NewGeminiLive(opts...)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGeminiLiveSetup(t *testing.T) {
	ls := newLiveServer(t, nil)
	tool := Tool{Name: "update_eyes", Description: "d", Parameters: map[string]any{"type": "OBJECT"}}
	g := connectTo(t, ls,
		WithModel("test-model"),
		WithSystemPrompt("You are the eyes."),
		WithVoice(VoicePuck),
		WithTools(tool),
	)

	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer g.Close()

	if !g.IsConnected() {
		t.Fatal("not connected after Connect")
	}
	if err := g.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v", err)
	}

	req := <-ls.requests
	if req.URL.Query().Get("key") != "test-key" {
		t.Errorf("key query = %q", req.URL.RawQuery)
	}

	setup := (<-ls.setups)["setup"].(map[string]any)
	if setup["model"] != "models/test-model" {
		t.Errorf("model = %v", setup["model"])
	}
	gen := setup["generationConfig"].(map[string]any)
	if mods := gen["responseModalities"].([]any); len(mods) != 1 || mods[0] != "AUDIO" {
		t.Errorf("responseModalities = %v", mods)
	}
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)["voiceName"]
	if voice != VoicePuck {
		t.Errorf("voice = %v", voice)
	}
	if _, ok := setup["outputAudioTranscription"]; !ok {
		t.Error("outputAudioTranscription missing")
	}
	text := setup["systemInstruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"]
	if text != "You are the eyes." {
		t.Errorf("system instruction = %v", text)
	}
	decls := setup["tools"].([]any)[0].(map[string]any)["functionDeclarations"].([]any)
	if decls[0].(map[string]any)["name"] != "update_eyes" {
		t.Errorf("declarations = %v", decls)
	}
}

func TestGeminiLiveDispatch(t *testing.T) {
	pcm1 := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})
	pcm2 := base64.StdEncoding.EncodeToString([]byte{3, 0})

	ls := newLiveServer(t, func(conn *websocket.Conn) {
		send(conn, `{"toolCall":{"functionCalls":[{"id":"c1","name":"update_eyes","args":{"left":"happy","right":"sad"}}]}}`)
		send(conn, `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"`+pcm1+`"}},{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"!!!"}},{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"`+pcm2+`"}}]}}}`)
		send(conn, `{"serverContent":{"outputTranscription":{"text":"Hello "}}}`)
		send(conn, `{"serverContent":{"interrupted":true}}`)
		send(conn, `{"serverContent":{"turnComplete":true}}`)
	})
	g := connectTo(t, ls)

	events := make(chan string, 16)
	var audio [][]byte
	var call ToolCall
	g.OnToolCall(func(c ToolCall) { call = c; events <- "tool" })
	g.OnAudio(func(pcm []byte) { audio = append(audio, pcm); events <- "audio" })
	g.OnTranscript(func(text string, final bool) { events <- "transcript:" + text })
	g.OnInterruption(func() { events <- "interrupted" })
	g.OnTurnComplete(func() { events <- "turn" })

	if err := g.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	want := []string{"tool", "audio", "audio", "transcript:Hello ", "interrupted", "turn"}
	for i, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Fatalf("event %d = %q, want %q", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}

	if left, _ := call.StringArg("left"); left != "happy" || call.ID != "c1" {
		t.Errorf("tool call = %+v", call)
	}
	if len(audio) != 2 || len(audio[0]) != 4 || len(audio[1]) != 2 {
		t.Errorf("audio parts = %v", audio)
	}
	m := g.Metrics()
	if m.DecodeErrors != 1 || m.ToolCallsReceived != 1 || m.AudioBytesReceived != 6 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestGeminiLiveOutbound(t *testing.T) {
	ls := newLiveServer(t, nil)
	g := connectTo(t, ls)
	if err := g.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	if err := g.SendAudio(audioio.EmptyChunk()); err != nil {
		t.Fatal(err)
	}
	if err := g.SubmitToolResult(ToolResult{ID: "c1", Name: "update_eyes", Response: map[string]any{"result": "Expressions updated."}}); err != nil {
		t.Fatal(err)
	}

	msg := <-ls.inbound
	chunks := msg["realtimeInput"].(map[string]any)["mediaChunks"].([]any)
	chunk := chunks[0].(map[string]any)
	if chunk["mimeType"] != "audio/pcm;rate=16000" || chunk["data"] != "" {
		t.Errorf("priming chunk = %v", chunk)
	}

	msg = <-ls.inbound
	resp := msg["toolResponse"].(map[string]any)["functionResponses"].([]any)[0].(map[string]any)
	if resp["id"] != "c1" || resp["name"] != "update_eyes" {
		t.Errorf("function response = %v", resp)
	}
	if resp["response"].(map[string]any)["result"] != "Expressions updated." {
		t.Errorf("response body = %v", resp["response"])
	}
}

func TestGeminiLiveSetupRejected(t *testing.T) {
	ls := startLiveServer(t, nil, true)
	g := connectTo(t, ls)

	err := g.Connect(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect = %v, want ConnectionError", err)
	}
	if connErr.IsRetryable() {
		t.Error("rejected setup should not be retryable")
	}
	if g.IsConnected() {
		t.Error("connected after rejected setup")
	}
}

func TestGeminiLiveVertexAuth(t *testing.T) {
	ls := newLiveServer(t, nil)
	g, err := NewGeminiLive(
		WithVertex("proj", "europe-west4"),
		WithModel("m"),
		WithBaseURL(ls.url()),
		WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok", TokenType: "Bearer"})),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	req := <-ls.requests
	if got := req.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
	setup := (<-ls.setups)["setup"].(map[string]any)
	if setup["model"] != "projects/proj/locations/europe-west4/publishers/google/models/m" {
		t.Errorf("model = %v", setup["model"])
	}
}

func TestGeminiLiveServerClose(t *testing.T) {
	ls := newLiveServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	g := connectTo(t, ls)

	closed := make(chan struct{})
	errored := false
	g.OnClose(func() { close(closed) })
	g.OnError(func(error) { errored = true })

	if err := g.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
	if errored {
		t.Error("normal closure reported as error")
	}
	if g.IsConnected() {
		t.Error("still connected after server close")
	}
}

func TestGeminiLiveQuietSessionStaysOpen(t *testing.T) {
	ls := newLiveServer(t, func(conn *websocket.Conn) {
		time.Sleep(300 * time.Millisecond)
		send(conn, `{"serverContent":{"turnComplete":true}}`)
	})
	// The setup deadline is shorter than the silence.
	g := connectTo(t, ls, WithTimeout(100*time.Millisecond))

	turn := make(chan struct{}, 1)
	g.OnTurnComplete(func() { turn <- struct{}{} })
	g.OnError(func(err error) { t.Errorf("unexpected error: %v", err) })

	if err := g.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	select {
	case <-turn:
	case <-time.After(2 * time.Second):
		t.Fatal("message after silence never arrived")
	}
	if !g.IsConnected() {
		t.Error("quiet session was torn down")
	}
}

func TestGeminiLiveReadTimeout(t *testing.T) {
	ls := newLiveServer(t, nil)
	g := connectTo(t, ls, WithReadTimeout(100*time.Millisecond))

	errs := make(chan error, 1)
	g.OnError(func(err error) { errs <- err })

	if err := g.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	select {
	case err := <-errs:
		if !IsRetryable(err) {
			t.Errorf("idle timeout error = %v, want retryable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle deadline never fired")
	}
}

func TestGeminiLiveLocalClose(t *testing.T) {
	ls := newLiveServer(t, nil)
	g := connectTo(t, ls)

	closed := make(chan struct{})
	g.OnClose(func() { close(closed) })
	g.OnError(func(err error) { t.Errorf("unexpected error: %v", err) })

	if err := g.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called after Close")
	}
	if err := g.SendAudio(audioio.EmptyChunk()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendAudio after Close = %v", err)
	}
}

func TestBuildSetupOmitsEmpty(t *testing.T) {
	data, err := json.Marshal(clientMessage{Setup: buildSetup("models/m", SessionOptions{})})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, absent := range []string{"speechConfig", "systemInstruction", "tools", "outputAudioTranscription"} {
		if strings.Contains(s, absent) {
			t.Errorf("setup %s contains %q", s, absent)
		}
	}
}
