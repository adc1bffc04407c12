package cbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST200: Frame type discriminators are stable wire values
func TestFrameTypeWireProtocolValues(t *testing.T) {
	assert.Equal(t, uint8(0), uint8(FrameTypeHello), "HELLO must be 0")
	assert.Equal(t, uint8(1), uint8(FrameTypeMessage))
	assert.Equal(t, uint8(2), uint8(FrameTypeHeartbeat))
	assert.Equal(t, uint8(3), uint8(FrameTypeClose))
	assert.Equal(t, "MESSAGE", FrameTypeMessage.String())
	assert.Equal(t, "UNKNOWN(9)", FrameType(9).String())
}

// TEST201: HELLO roundtrip keeps origin and limits
func TestHelloFrameRoundtrip(t *testing.T) {
	encoded, err := EncodeFrame(NewHello("chips://card", 4096))
	require.NoError(t, err)

	decoded, err := DecodeFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, FrameTypeHello, decoded.FrameType)
	assert.Equal(t, "chips://card", decoded.OriginValue())
	assert.Equal(t, 4096, decoded.HelloMaxFrame())
}

// TEST202: MESSAGE roundtrip keeps seq, target origin and payload
func TestMessageFrameRoundtrip(t *testing.T) {
	encoded, err := EncodeFrame(NewMessage(7, "*", []byte{0xa0}))
	require.NoError(t, err)

	decoded, err := DecodeFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), decoded.Seq)
	assert.Equal(t, "*", decoded.OriginValue())
	assert.Equal(t, []byte{0xa0}, decoded.Payload)
}

// TEST203: CLOSE carries an optional reason
func TestCloseFrameReason(t *testing.T) {
	encoded, err := EncodeFrame(NewClose("unloaded"))
	require.NoError(t, err)
	decoded, err := DecodeFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, "unloaded", decoded.CloseReason())

	assert.Equal(t, "", NewClose("").CloseReason())
}

// TEST204: Missing required fields are protocol errors
func TestDecodeFrameRejectsIncompleteFrames(t *testing.T) {
	hello := NewHello("x", 1)
	hello.Origin = nil
	encoded, err := EncodeFrame(hello)
	require.NoError(t, err)
	_, err = DecodeFrame(encoded)
	assert.True(t, IsFrameError(err, FrameErrorTypeProtocol), "got %v", err)

	msg := NewMessage(1, "*", nil)
	encoded, err = EncodeFrame(msg)
	require.NoError(t, err)
	_, err = DecodeFrame(encoded)
	assert.True(t, IsFrameError(err, FrameErrorTypeProtocol), "got %v", err)

	_, err = DecodeFrame([]byte{0xff, 0x00})
	assert.True(t, IsFrameError(err, FrameErrorTypeCbor), "got %v", err)
}

// TEST205: Bridge messages decode with string-keyed maps
func TestMessageCodec(t *testing.T) {
	data, err := EncodeMessage(map[string]any{
		"type":   "bridge-request",
		"params": map[string]any{"count": 3},
	})
	require.NoError(t, err)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	msg, ok := decoded.(map[string]any)
	require.True(t, ok, "expected map[string]any, got %T", decoded)
	assert.Equal(t, "bridge-request", msg["type"])
	params, ok := msg["params"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, uint64(3), params["count"])
}

func TestNegotiateLimits(t *testing.T) {
	assert.Equal(t, 10, NegotiateLimits(Limits{MaxFrame: 10}, Limits{MaxFrame: 20}).MaxFrame)
	assert.Equal(t, 20, NegotiateLimits(Limits{}, Limits{MaxFrame: 20}).MaxFrame)
	assert.Equal(t, 10, NegotiateLimits(Limits{MaxFrame: 10}, Limits{}).MaxFrame)
}
