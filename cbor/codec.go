package cbor

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys
const (
	keyVersion   = 0 // version (u8, always 1)
	keyFrameType = 1 // frame_type (u8)
	keySeq       = 2 // seq (u64)
	keyOrigin    = 3 // origin (tstr, optional)
	keyMeta      = 4 // meta (map, optional)
	keyPayload   = 5 // payload (bstr, optional)
)

var (
	messageEnc cbor.EncMode
	messageDec cbor.DecMode
)

func init() {
	var err error
	messageEnc, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: enc mode: %v", err))
	}
	messageDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: dec mode: %v", err))
	}
}

// EncodeFrame encodes a Frame to CBOR bytes using integer keys
func EncodeFrame(frame *Frame) ([]byte, error) {
	m := make(map[int]any)

	// 0: version
	m[keyVersion] = ProtocolVersion

	// 1: frame_type
	m[keyFrameType] = uint8(frame.FrameType)

	// 2: seq
	if frame.Seq != 0 {
		m[keySeq] = frame.Seq
	}

	// 3: origin (optional)
	if frame.Origin != nil {
		m[keyOrigin] = *frame.Origin
	}

	// 4: meta (optional)
	if len(frame.Meta) > 0 {
		m[keyMeta] = frame.Meta
	}

	// 5: payload (optional)
	if frame.Payload != nil {
		m[keyPayload] = frame.Payload
	}

	return cbor.Marshal(m)
}

// DecodeFrame decodes CBOR bytes to a Frame using integer keys
func DecodeFrame(data []byte) (*Frame, error) {
	var m map[int]any
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, &FrameError{Type: FrameErrorTypeCbor, Message: err.Error()}
	}

	frame := &Frame{}

	// 0: version (required - must be ProtocolVersion)
	verVal, ok := m[keyVersion]
	if !ok {
		return nil, protocolError("missing version (key 0)")
	}
	ver, ok := verVal.(uint64)
	if !ok {
		return nil, protocolError("version must be uint")
	}
	frame.Version = uint8(ver)
	if frame.Version != ProtocolVersion {
		return nil, protocolError(fmt.Sprintf("invalid version %d, expected %d", frame.Version, ProtocolVersion))
	}

	// 1: frame_type (required)
	ftVal, ok := m[keyFrameType]
	if !ok {
		return nil, protocolError("missing frame_type (key 1)")
	}
	ft, ok := ftVal.(uint64)
	if !ok {
		return nil, protocolError("frame_type must be uint")
	}
	if FrameType(ft) > FrameTypeClose {
		return nil, protocolError(fmt.Sprintf("invalid frame_type %d", ft))
	}
	frame.FrameType = FrameType(ft)

	// 2: seq (optional)
	if seqVal, ok := m[keySeq]; ok {
		if seq, ok := seqVal.(uint64); ok {
			frame.Seq = seq
		}
	}

	// 3: origin (optional)
	if originVal, ok := m[keyOrigin]; ok {
		if origin, ok := originVal.(string); ok {
			frame.Origin = &origin
		}
	}

	// 4: meta (optional)
	if metaVal, ok := m[keyMeta]; ok {
		if meta, ok := metaVal.(map[any]any); ok {
			frame.Meta = make(map[string]any, len(meta))
			for k, v := range meta {
				if ks, ok := k.(string); ok {
					frame.Meta[ks] = v
				}
			}
		}
	}

	// 5: payload (optional)
	if payloadVal, ok := m[keyPayload]; ok {
		if payload, ok := payloadVal.([]byte); ok {
			frame.Payload = payload
		}
	}

	// Validate required fields based on frame type
	switch frame.FrameType {
	case FrameTypeHello:
		if frame.Origin == nil {
			return nil, protocolError("HELLO frame missing required field: origin")
		}
	case FrameTypeMessage:
		if frame.Payload == nil {
			return nil, protocolError("MESSAGE frame missing required field: payload")
		}
	}

	return frame, nil
}

// EncodeMessage encodes a bridge message for a MESSAGE frame payload.
func EncodeMessage(msg any) ([]byte, error) {
	data, err := messageEnc.Marshal(msg)
	if err != nil {
		return nil, &FrameError{Type: FrameErrorTypeCbor, Message: err.Error()}
	}
	return data, nil
}

// DecodeMessage decodes a MESSAGE frame payload. Maps decode as map[string]any.
func DecodeMessage(data []byte) (any, error) {
	var msg any
	if err := messageDec.Unmarshal(data, &msg); err != nil {
		return nil, &FrameError{Type: FrameErrorTypeCbor, Message: err.Error()}
	}
	return msg, nil
}

// FrameError represents errors from the frame layer
type FrameError struct {
	Type    FrameErrorType
	Message string
}

// FrameErrorType discriminates FrameError values
type FrameErrorType int

const (
	FrameErrorTypeCbor FrameErrorType = iota
	FrameErrorTypeProtocol
	FrameErrorTypeTooLarge
	FrameErrorTypeHandshake
)

func (e *FrameError) Error() string {
	switch e.Type {
	case FrameErrorTypeCbor:
		return fmt.Sprintf("CBOR error: %s", e.Message)
	case FrameErrorTypeProtocol:
		return fmt.Sprintf("Protocol error: %s", e.Message)
	case FrameErrorTypeTooLarge:
		return fmt.Sprintf("Frame too large: %s", e.Message)
	case FrameErrorTypeHandshake:
		return fmt.Sprintf("Handshake failed: %s", e.Message)
	default:
		return fmt.Sprintf("Unknown error: %s", e.Message)
	}
}

func protocolError(msg string) error {
	return &FrameError{Type: FrameErrorTypeProtocol, Message: msg}
}

// IsFrameError reports whether err is a FrameError of the given type.
func IsFrameError(err error, typ FrameErrorType) bool {
	var fe *FrameError
	return errors.As(err, &fe) && fe.Type == typ
}
