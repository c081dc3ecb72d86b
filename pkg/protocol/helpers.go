package protocol

import (
	"encoding/base64"
	"fmt"
	"time"
)

var b64 = base64.StdEncoding

// NewFrameMessage wraps one JPEG camera frame.
func NewFrameMessage(width, height int, jpegData []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:   width,
		Height:  height,
		Format:  "jpeg",
		Data:    b64.EncodeToString(jpegData),
		FrameID: frameID,
	})
}

// NewMicMessage wraps mono little-endian PCM16.
func NewMicMessage(pcmData []byte, sampleRate int) (*Message, error) {
	return NewMessage(TypeMic, MicData{
		Format:     FormatPCM16,
		SampleRate: sampleRate,
		Channels:   1,
		Data:       b64.EncodeToString(pcmData),
	})
}

func NewPermissionMessage(device string, granted bool) (*Message, error) {
	return NewMessage(TypePermission, PermissionData{Device: device, Granted: granted})
}

func NewStateMessage(state RenderState) (*Message, error) {
	return NewMessage(TypeState, state)
}

// NewErrorMessage tells the sender why a message of type rejected was refused.
func NewErrorMessage(rejected MessageType, err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Type: rejected, Message: err.Error()})
}

func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: time.Now().UnixMilli()})
}

// NewPongMessage answers ping id. Latency is pongTS minus pingTS.
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

func decode[T any](m *Message) (*T, error) {
	v := new(T)
	if err := m.ParseData(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (m *Message) GetFrameData() (*FrameData, error) { return decode[FrameData](m) }

func (m *Message) GetStateData() (*RenderState, error) { return decode[RenderState](m) }

func (m *Message) GetPingData() (*PingData, error) { return decode[PingData](m) }

func (m *Message) GetPongData() (*PongData, error) { return decode[PongData](m) }

// GetMicData decodes a mic payload, defaulting the format to pcm16 and
// the channel count to mono.
func (m *Message) GetMicData() (*MicData, error) {
	mic, err := decode[MicData](m)
	if err != nil {
		return nil, err
	}
	switch mic.Format {
	case "":
		mic.Format = FormatPCM16
	case FormatPCM16, FormatF32:
	default:
		return nil, fmt.Errorf("unsupported mic format %q", mic.Format)
	}
	if mic.Channels <= 0 {
		mic.Channels = 1
	}
	return mic, nil
}

// GetPermissionData decodes a permission result for a known device.
func (m *Message) GetPermissionData() (*PermissionData, error) {
	p, err := decode[PermissionData](m)
	if err != nil {
		return nil, err
	}
	if p.Device != DeviceCamera && p.Device != DeviceMicrophone {
		return nil, fmt.Errorf("unknown device %q", p.Device)
	}
	return p, nil
}

// DecodeFrameData returns the raw image bytes.
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return b64.DecodeString(f.Data)
}

// DecodeMicData returns the raw sample bytes.
func (mic *MicData) DecodeMicData() ([]byte, error) {
	return b64.DecodeString(mic.Data)
}
