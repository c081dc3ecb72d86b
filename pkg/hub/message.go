// Package hub fans outbound websocket frames out to every connected
// renderer. A single Run goroutine owns the client set.
package hub

import "github.com/gofiber/websocket/v2"

// Message is one outbound websocket frame.
type Message struct {
	Data   []byte
	Binary bool
}

// Text wraps pre-encoded JSON as a text frame.
func Text(data []byte) Message {
	return Message{Data: data}
}

// Raw wraps data as a binary frame.
func Raw(data []byte) Message {
	return Message{Data: data, Binary: true}
}

func (m Message) opcode() int {
	if m.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
