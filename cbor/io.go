package cbor

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// FrameReader reads length-prefixed CBOR frames from a stream
type FrameReader struct {
	reader io.Reader
	limits Limits
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		reader: r,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits
}

// ReadFrame reads a single frame from the stream
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	// 4-byte big-endian length prefix
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.reader, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := int(binary.BigEndian.Uint32(lengthBuf[:]))

	if length > fr.limits.MaxFrame {
		return nil, &FrameError{
			Type:    FrameErrorTypeTooLarge,
			Message: fmt.Sprintf("frame size %d exceeds max_frame limit %d", length, fr.limits.MaxFrame),
		}
	}
	if length > MaxFrameHardLimit {
		return nil, &FrameError{
			Type:    FrameErrorTypeTooLarge,
			Message: fmt.Sprintf("frame size %d exceeds hard limit %d", length, MaxFrameHardLimit),
		}
	}

	frameBuf := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, frameBuf); err != nil {
		return nil, err
	}

	return DecodeFrame(frameBuf)
}

// FrameWriter writes length-prefixed CBOR frames to a stream. WriteFrame is
// safe for concurrent use.
type FrameWriter struct {
	mu     sync.Mutex
	writer io.Writer
	limits Limits
	seq    uint64
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.mu.Lock()
	fw.limits = limits
	fw.mu.Unlock()
}

// WriteFrame writes a single frame to the stream
func (fw *FrameWriter) WriteFrame(frame *Frame) error {
	frameBuf, err := EncodeFrame(frame)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if len(frameBuf) > fw.limits.MaxFrame {
		return &FrameError{
			Type:    FrameErrorTypeTooLarge,
			Message: fmt.Sprintf("encoded frame size %d exceeds max_frame limit %d", len(frameBuf), fw.limits.MaxFrame),
		}
	}
	if len(frameBuf) > MaxFrameHardLimit {
		return &FrameError{
			Type:    FrameErrorTypeTooLarge,
			Message: fmt.Sprintf("encoded frame size %d exceeds hard limit %d", len(frameBuf), MaxFrameHardLimit),
		}
	}

	// Single write so concurrent writers never interleave prefix and body.
	out := make([]byte, 4+len(frameBuf))
	binary.BigEndian.PutUint32(out[:4], uint32(len(frameBuf)))
	copy(out[4:], frameBuf)
	_, err = fw.writer.Write(out)
	return err
}

// WriteMessage encodes msg and writes it as the next MESSAGE frame.
func (fw *FrameWriter) WriteMessage(targetOrigin string, msg any) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	fw.mu.Lock()
	fw.seq++
	seq := fw.seq
	fw.mu.Unlock()
	return fw.WriteFrame(NewMessage(seq, targetOrigin, payload))
}

// HandshakeAccept performs the handshake from the plugin side: read the
// host's HELLO, answer with our own HELLO carrying origin. Returns the host
// origin and the negotiated limits.
func HandshakeAccept(reader *FrameReader, writer *FrameWriter, origin string) (string, Limits, error) {
	hello, err := reader.ReadFrame()
	if err != nil {
		return "", Limits{}, handshakeError("failed to read HELLO: %v", err)
	}
	if hello.FrameType != FrameTypeHello {
		return "", Limits{}, handshakeError("expected HELLO frame, got %s", hello.FrameType)
	}

	if err := writer.WriteFrame(NewHello(origin, DefaultMaxFrame)); err != nil {
		return "", Limits{}, handshakeError("failed to write HELLO response: %v", err)
	}

	negotiated := NegotiateLimits(DefaultLimits(), Limits{MaxFrame: hello.HelloMaxFrame()})
	reader.SetLimits(negotiated)
	writer.SetLimits(negotiated)
	return hello.OriginValue(), negotiated, nil
}

// HandshakeInitiate performs the handshake from the host side: send HELLO
// with the host origin, read the plugin's HELLO. Returns the origin the
// plugin announced and the negotiated limits.
func HandshakeInitiate(reader *FrameReader, writer *FrameWriter, hostOrigin string) (string, Limits, error) {
	if err := writer.WriteFrame(NewHello(hostOrigin, DefaultMaxFrame)); err != nil {
		return "", Limits{}, handshakeError("failed to write HELLO: %v", err)
	}

	response, err := reader.ReadFrame()
	if err != nil {
		return "", Limits{}, handshakeError("failed to read HELLO response: %v", err)
	}
	if response.FrameType != FrameTypeHello {
		return "", Limits{}, handshakeError("expected HELLO frame, got %s", response.FrameType)
	}

	negotiated := NegotiateLimits(DefaultLimits(), Limits{MaxFrame: response.HelloMaxFrame()})
	reader.SetLimits(negotiated)
	writer.SetLimits(negotiated)
	return response.OriginValue(), negotiated, nil
}

func handshakeError(format string, args ...any) error {
	return &FrameError{Type: FrameErrorTypeHandshake, Message: fmt.Sprintf(format, args...)}
}
