package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/playback"
)

var _ playback.Sink = (*Broadcaster)(nil)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	l1 := b.Subscribe()
	l2 := b.Subscribe()
	if b.ListenerCount() != 2 {
		t.Errorf("After 2 subscribes: ListenerCount = %d, want 2", b.ListenerCount())
	}

	b.Unsubscribe(l1)
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 unsubscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}
	select {
	case <-l1.Done():
	default:
		t.Error("unsubscribed listener not stopped")
	}

	b.Unsubscribe(l2)
	b.Unsubscribe(l2) // second call is harmless
	if b.ListenerCount() != 0 {
		t.Errorf("After all unsubscribed: ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestWriteFrameDelivers(t *testing.T) {
	b := NewBroadcaster()
	listeners := []*Listener{b.Subscribe(), b.Subscribe(), b.Subscribe()}

	frame := []int16{100, 200, 300, 400}
	if err := b.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	for i, l := range listeners {
		select {
		case got := <-l.C:
			if len(got) != len(frame) || got[2] != 300 {
				t.Errorf("listener %d got %v, want %v", i, got, frame)
			}
		case <-time.After(time.Second):
			t.Fatalf("listener %d: timeout waiting for frame", i)
		}
	}
}

func TestSlowListenerDropsFrames(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe()
	_ = slow

	for i := 0; i < ListenerBuffer+10; i++ {
		b.WriteFrame([]int16{int16(i)})
	}

	frames, dropped := b.Stats()
	if frames != ListenerBuffer+10 {
		t.Errorf("frames = %d, want %d", frames, ListenerBuffer+10)
	}
	if dropped != 10 {
		t.Errorf("dropped = %d, want 10", dropped)
	}
}

func TestCloseStopsListeners(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-l.Done():
	default:
		t.Error("listener not stopped by Close")
	}
	if b.ListenerCount() != 0 {
		t.Errorf("ListenerCount = %d after Close", b.ListenerCount())
	}

	late := b.Subscribe()
	select {
	case <-late.Done():
	default:
		t.Error("listener subscribed after Close is running")
	}
}

type fakeEncoder struct {
	fail map[int16]bool
}

func (e fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	if len(pcm) > 0 && e.fail[pcm[0]] {
		return 0, errors.New("bad frame")
	}
	data[0] = byte(len(pcm) / 10)
	return 1, nil
}

func TestPump(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	var mu sync.Mutex
	var samples []media.Sample
	write := func(s media.Sample) error {
		mu.Lock()
		defer mu.Unlock()
		samples = append(samples, s)
		return nil
	}

	done := make(chan struct{})
	go func() {
		Pump(l, fakeEncoder{fail: map[int16]bool{7: true}}, write, log.Discard())
		close(done)
	}()

	full := make([]int16, playback.FrameSamples)
	bad := make([]int16, playback.FrameSamples)
	bad[0] = 7
	b.WriteFrame(full)
	b.WriteFrame(bad)
	b.WriteFrame(make([]int16, 240))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(samples)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d samples, want 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Unsubscribe(l)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pump did not stop after Unsubscribe")
	}

	mu.Lock()
	defer mu.Unlock()
	if samples[0].Duration != 20*time.Millisecond {
		t.Errorf("sample 0 duration = %v, want 20ms", samples[0].Duration)
	}
	if samples[1].Duration != 10*time.Millisecond {
		t.Errorf("sample 1 duration = %v, want 10ms", samples[1].Duration)
	}
	if samples[0].Data[0] != 48 {
		t.Errorf("sample 0 data = %v", samples[0].Data)
	}
}

func TestPumpStopsOnWriteError(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	done := make(chan struct{})
	go func() {
		Pump(l, fakeEncoder{}, func(media.Sample) error { return errors.New("closed pipe") }, nil)
		close(done)
	}()

	b.WriteFrame(make([]int16, playback.FrameSamples))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pump kept running after a write error")
	}
}

func TestAnswerOffer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ICE gathering in short mode")
	}
	b := NewBroadcaster()
	peers := NewPeers(b, WithEncoder(func() (FrameEncoder, error) { return fakeEncoder{}, nil }), WithLogger(log.Discard()))
	defer peers.Close()

	offerer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection() error = %v", err)
	}
	defer offerer.Close()
	if _, err := offerer.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		t.Fatalf("AddTransceiverFromKind() error = %v", err)
	}
	offer, err := offerer.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(offerer)
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription() error = %v", err)
	}
	<-gathered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answer, err := peers.Answer(ctx, *offerer.LocalDescription())
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer || answer.SDP == "" {
		t.Errorf("answer = %v, want a non-empty SDP answer", answer.Type)
	}
	if peers.PeerCount() != 1 || b.ListenerCount() != 1 {
		t.Errorf("peers/listeners = %d/%d, want 1/1", peers.PeerCount(), b.ListenerCount())
	}

	if err := peers.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if peers.PeerCount() != 0 {
		t.Errorf("PeerCount = %d after Close", peers.PeerCount())
	}
	if _, err := peers.Answer(ctx, *offerer.LocalDescription()); !errors.Is(err, ErrClosed) {
		t.Errorf("Answer() after Close error = %v, want ErrClosed", err)
	}
}

func TestAnswerDeliversAudio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping peer connection loopback in short mode")
	}
	b := NewBroadcaster()
	peers := NewPeers(b, WithEncoder(func() (FrameEncoder, error) { return fakeEncoder{}, nil }), WithLogger(log.Discard()))
	defer peers.Close()

	offerer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection() error = %v", err)
	}
	defer offerer.Close()
	if _, err := offerer.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		t.Fatalf("AddTransceiverFromKind() error = %v", err)
	}

	packets := make(chan *rtp.Packet, 1)
	offerer.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		buf := make([]byte, 1500)
		for {
			n, _, err := track.Read(buf)
			if err != nil {
				return
			}
			pkt := &rtp.Packet{}
			if err := pkt.Unmarshal(buf[:n]); err != nil {
				continue
			}
			select {
			case packets <- pkt:
			default:
			}
		}
	})

	offer, err := offerer.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(offerer)
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription() error = %v", err)
	}
	<-gathered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answer, err := peers.Answer(ctx, *offerer.LocalDescription())
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if err := offerer.SetRemoteDescription(*answer); err != nil {
		t.Fatalf("SetRemoteDescription() error = %v", err)
	}

	frame := make([]int16, playback.FrameSamples)
	ticker := time.NewTicker(playback.FrameDuration)
	defer ticker.Stop()
	for {
		select {
		case pkt := <-packets:
			if len(pkt.Payload) != 1 || pkt.Payload[0] != byte(playback.FrameSamples/10) {
				t.Errorf("payload = %v, want the encoded frame", pkt.Payload)
			}
			return
		case <-ticker.C:
			b.WriteFrame(frame)
		case <-ctx.Done():
			t.Fatal("no RTP packet received before timeout")
		}
	}
}

func TestAnswerRejectsBadOffer(t *testing.T) {
	peers := NewPeers(NewBroadcaster(), WithEncoder(func() (FrameEncoder, error) { return fakeEncoder{}, nil }))
	defer peers.Close()

	_, err := peers.Answer(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"})
	if err == nil {
		t.Fatal("Answer() with garbage SDP succeeded")
	}
	if peers.PeerCount() != 0 {
		t.Errorf("PeerCount = %d, want 0", peers.PeerCount())
	}
}
