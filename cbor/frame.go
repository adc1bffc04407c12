// Package cbor implements the framed wire format used when a card editor
// plugin runs outside a browser and talks to the host over a byte stream
// (process stdio, a socket). Each frame is a length-prefixed CBOR map with
// integer keys; bridge messages travel CBOR-encoded inside MESSAGE frames.
package cbor

import "fmt"

// Protocol version. Version 1: HELLO with origin and limits, MESSAGE, HEARTBEAT, CLOSE.
const ProtocolVersion uint8 = 1

// Default maximum frame size (1 MB)
const DefaultMaxFrame int = 1_048_576

// Hard limit on frame size (16 MB) - prevents DoS
const MaxFrameHardLimit int = 16_777_216

// FrameType represents the type of CBOR frame
type FrameType uint8

const (
	FrameTypeHello     FrameType = 0 // MUST be 0 - first frame in each direction
	FrameTypeMessage   FrameType = 1 // One bridge message
	FrameTypeHeartbeat FrameType = 2
	FrameTypeClose     FrameType = 3 // Orderly shutdown, optional reason in Meta
)

// String returns the frame type name
func (ft FrameType) String() string {
	switch ft {
	case FrameTypeHello:
		return "HELLO"
	case FrameTypeMessage:
		return "MESSAGE"
	case FrameTypeHeartbeat:
		return "HEARTBEAT"
	case FrameTypeClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", ft)
	}
}

// Frame represents a CBOR protocol frame
type Frame struct {
	Version   uint8          // Protocol version (always 1)
	FrameType FrameType      // Frame type discriminator
	Seq       uint64         // Per-direction sequence number
	Origin    *string        // HELLO: sender origin; MESSAGE: target origin
	Meta      map[string]any // HELLO limits, CLOSE reason
	Payload   []byte         // MESSAGE: CBOR-encoded bridge message
}

func newFrame(frameType FrameType, seq uint64) *Frame {
	return &Frame{
		Version:   ProtocolVersion,
		FrameType: frameType,
		Seq:       seq,
	}
}

// NewHello creates a HELLO frame advertising origin and the sender's max frame size.
func NewHello(origin string, maxFrame int) *Frame {
	frame := newFrame(FrameTypeHello, 0)
	frame.Origin = &origin
	frame.Meta = map[string]any{
		"max_frame": maxFrame,
	}
	return frame
}

// NewMessage creates a MESSAGE frame carrying an encoded bridge message.
func NewMessage(seq uint64, targetOrigin string, payload []byte) *Frame {
	frame := newFrame(FrameTypeMessage, seq)
	frame.Origin = &targetOrigin
	frame.Payload = payload
	return frame
}

// NewHeartbeat creates a HEARTBEAT frame.
func NewHeartbeat(seq uint64) *Frame {
	return newFrame(FrameTypeHeartbeat, seq)
}

// NewClose creates a CLOSE frame.
func NewClose(reason string) *Frame {
	frame := newFrame(FrameTypeClose, 0)
	if reason != "" {
		frame.Meta = map[string]any{"reason": reason}
	}
	return frame
}

// OriginValue returns the origin, or "" when absent.
func (f *Frame) OriginValue() string {
	if f.Origin == nil {
		return ""
	}
	return *f.Origin
}

// CloseReason returns the reason carried by a CLOSE frame.
func (f *Frame) CloseReason() string {
	if f.Meta == nil {
		return ""
	}
	if reason, ok := f.Meta["reason"].(string); ok {
		return reason
	}
	return ""
}

// HelloMaxFrame returns the max_frame advertised in a HELLO frame, or 0.
func (f *Frame) HelloMaxFrame() int {
	return extractIntFromMeta(f.Meta, "max_frame")
}

// extractIntFromMeta extracts an integer value from the Meta map
func extractIntFromMeta(meta map[string]any, key string) int {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
