// Package protocol defines the WebSocket message types exchanged with
// the browser: render state going out, camera frames, microphone audio
// and permission results coming in.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Browser → server messages
	TypeFrame      MessageType = "frame"      // Camera frame
	TypeMic        MessageType = "mic"        // Microphone audio
	TypePermission MessageType = "permission" // Device permission result

	// Server → browser messages
	TypeState MessageType = "state" // Render state
	TypeError MessageType = "error" // Rejected inbound message

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Browser → Server Message Types
// =============================================================================

// FrameData contains a camera frame
type FrameData struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Format  string `json:"format"` // "jpeg", "png"
	Data    string `json:"data"`   // base64 encoded
	FrameID uint64 `json:"frame_id,omitempty"`
}

// Mic sample formats.
const (
	FormatPCM16 = "pcm16" // little-endian int16
	FormatF32   = "f32"   // little-endian float32, as a Float32Array
)

// MicData contains microphone audio
type MicData struct {
	Format     string `json:"format"`      // FormatPCM16 or FormatF32
	SampleRate int    `json:"sample_rate"` // e.g., 48000
	Channels   int    `json:"channels"`    // 1 for mono
	Data       string `json:"data"`        // base64 encoded
}

// Devices named in PermissionData.
const (
	DeviceCamera     = "camera"
	DeviceMicrophone = "microphone"
)

// PermissionData reports the outcome of a browser permission prompt
type PermissionData struct {
	Device  string `json:"device"`
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// =============================================================================
// Server → Browser Message Types
// =============================================================================

// Point is a normalized gaze target, each axis in [-1, 1]
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Alert is a user-facing failure notice
type Alert struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RenderState is everything the eye renderer draws from
type RenderState struct {
	ExpressionLeft  string `json:"expressionLeft"`
	ExpressionRight string `json:"expressionRight"`
	LookAt          Point  `json:"lookAt"`
	IsTracking      bool   `json:"isTracking"`
	IsConnected     bool   `json:"isConnected"`
	IsRecording     bool   `json:"isRecording"`
	State           string `json:"state"`
	Transcription   string `json:"transcription"`
	Alert           *Alert `json:"alert,omitempty"`
}

// ErrorData explains why an inbound message was rejected
type ErrorData struct {
	Type    MessageType `json:"type,omitempty"`
	Message string      `json:"message"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
