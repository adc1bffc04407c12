// Package stream carries the bridge over a byte stream (process stdio, a TCP
// socket) using length-prefixed CBOR frames. The HELLO handshake tells the
// host which origin the plugin runs as.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/cbor"
)

// ErrClosed is returned when posting on a closed connection.
var ErrClosed = errors.New("stream connection closed")

// ErrOriginMismatch is returned when a message targets another origin than
// the peer's.
var ErrOriginMismatch = errors.New("target origin does not match peer origin")

// MessageHandler receives decoded messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, ev bridge.MessageEvent) bool
}

// Conn is one end of a framed bridge stream. It implements bridge.Window.
type Conn struct {
	reader *cbor.FrameReader
	writer *cbor.FrameWriter
	closer io.Closer
	peer   string // origin announced by the other side
	limits cbor.Limits
	log    *slog.Logger
	closed atomic.Bool

	// host side answers heartbeats; plugin side only sends them
	answerHeartbeats bool
}

// Connect performs the host side of the handshake: it announces hostOrigin and
// learns the plugin's origin.
func Connect(r io.Reader, w io.Writer, closer io.Closer, hostOrigin string, logger *slog.Logger) (*Conn, error) {
	c := newConn(r, w, closer, logger)
	c.answerHeartbeats = true
	peer, limits, err := cbor.HandshakeInitiate(c.reader, c.writer, hostOrigin)
	if err != nil {
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	c.peer, c.limits = peer, limits
	return c, nil
}

// Accept performs the plugin side of the handshake.
func Accept(r io.Reader, w io.Writer, closer io.Closer, pluginOrigin string, logger *slog.Logger) (*Conn, error) {
	c := newConn(r, w, closer, logger)
	peer, limits, err := cbor.HandshakeAccept(c.reader, c.writer, pluginOrigin)
	if err != nil {
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	c.peer, c.limits = peer, limits
	return c, nil
}

func newConn(r io.Reader, w io.Writer, closer io.Closer, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Conn{
		reader: cbor.NewFrameReader(r),
		writer: cbor.NewFrameWriter(w),
		closer: closer,
		log:    logger,
	}
}

// PeerOrigin returns the origin the other side announced.
func (c *Conn) PeerOrigin() string { return c.peer }

// Limits returns the negotiated frame limits.
func (c *Conn) Limits() cbor.Limits { return c.limits }

// PostMessage sends payload as a MESSAGE frame.
func (c *Conn) PostMessage(payload any, targetOrigin string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if targetOrigin != bridge.WildcardTarget && targetOrigin != c.peer {
		return ErrOriginMismatch
	}
	return c.writer.WriteMessage(targetOrigin, payload)
}

// Heartbeat sends a HEARTBEAT frame.
func (c *Conn) Heartbeat(seq uint64) error {
	return c.writer.WriteFrame(cbor.NewHeartbeat(seq))
}

// Close sends CLOSE with reason and closes the underlying stream.
func (c *Conn) Close(reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = c.writer.WriteFrame(cbor.NewClose(reason))
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Serve reads frames until the peer closes the stream, delivering every
// MESSAGE to h with the peer origin as sender origin.
func (c *Conn) Serve(ctx context.Context, h MessageHandler) error {
	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if c.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}

		switch frame.FrameType {
		case cbor.FrameTypeMessage:
			data, err := cbor.DecodeMessage(frame.Payload)
			if err != nil {
				c.log.Debug("undecodable message frame dropped", "seq", frame.Seq, "error", err)
				continue
			}
			h.HandleMessage(ctx, bridge.MessageEvent{Source: c, Origin: c.peer, Data: data})

		case cbor.FrameTypeHeartbeat:
			if !c.answerHeartbeats {
				continue
			}
			if err := c.writer.WriteFrame(cbor.NewHeartbeat(frame.Seq)); err != nil {
				return err
			}

		case cbor.FrameTypeClose:
			c.log.Debug("peer closed stream", "reason", frame.CloseReason())
			c.closed.Store(true)
			if c.closer != nil {
				_ = c.closer.Close()
			}
			return nil

		case cbor.FrameTypeHello:
			// HELLO after the handshake is a protocol violation; ignore it
			continue
		}
	}
}
