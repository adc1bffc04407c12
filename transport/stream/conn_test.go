package stream

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/cbor"
)

type inbox struct {
	mu     sync.Mutex
	events []bridge.MessageEvent
	ch     chan map[string]any
}

func newInbox() *inbox { return &inbox{ch: make(chan map[string]any, 16)} }

func (b *inbox) HandleMessage(_ context.Context, ev bridge.MessageEvent) bool {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	if msg, ok := ev.Data.(map[string]any); ok {
		b.ch <- msg
	}
	return true
}

func (b *inbox) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-b.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func connectPair(t *testing.T) (hostConn, pluginConn *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	type result struct {
		c   *Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := Accept(b, b, b, "file://", nil)
		done <- result{c, err}
	}()
	hostConn, err := Connect(a, a, a, "chips://host", nil)
	require.NoError(t, err)
	r := <-done
	require.NoError(t, r.err)
	return hostConn, r.c
}

// TEST400: handshake exchanges origins and negotiates limits
func Test400_HandshakeExchangesOrigins(t *testing.T) {
	hostConn, pluginConn := connectPair(t)
	assert.Equal(t, "file://", hostConn.PeerOrigin())
	assert.Equal(t, "chips://host", pluginConn.PeerOrigin())
	assert.Equal(t, cbor.DefaultMaxFrame, hostConn.Limits().MaxFrame)
}

// TEST401: messages arrive with the announced peer origin as sender origin
func Test401_MessagesCarryPeerOrigin(t *testing.T) {
	hostConn, pluginConn := connectPair(t)
	ctx := context.Background()

	hostInbox, pluginInbox := newInbox(), newInbox()
	go hostConn.Serve(ctx, hostInbox)
	go pluginConn.Serve(ctx, pluginInbox)

	require.NoError(t, pluginConn.PostMessage(map[string]any{"type": "resize", "height": 240}, bridge.WildcardTarget))
	msg := hostInbox.next(t)
	assert.Equal(t, "resize", msg["type"])
	assert.EqualValues(t, 240, msg["height"])

	hostInbox.mu.Lock()
	ev := hostInbox.events[0]
	hostInbox.mu.Unlock()
	assert.Equal(t, "file://", ev.Origin)
	assert.Same(t, hostConn, ev.Source)

	require.NoError(t, hostConn.PostMessage(map[string]any{"type": "theme-change"}, "file://"))
	assert.Equal(t, "theme-change", pluginInbox.next(t)["type"])
}

// TEST402: posting to a foreign target origin is refused
func Test402_PostMessageChecksTarget(t *testing.T) {
	hostConn, _ := connectPair(t)
	assert.ErrorIs(t, hostConn.PostMessage(map[string]any{}, "https://other.example"), ErrOriginMismatch)
}

// TEST403: CLOSE ends Serve on the peer and later posts fail
func Test403_CloseEndsServe(t *testing.T) {
	hostConn, pluginConn := connectPair(t)
	ctx := context.Background()

	served := make(chan error, 1)
	go func() { served <- pluginConn.Serve(ctx, newInbox()) }()

	require.NoError(t, hostConn.Close("done"))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after CLOSE")
	}
	assert.ErrorIs(t, hostConn.PostMessage(map[string]any{}, bridge.WildcardTarget), ErrClosed)
	assert.NoError(t, hostConn.Close("again"))
}

// TEST404: heartbeats are answered by the host side only
func Test404_HostAnswersHeartbeat(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		hostConn, err := Connect(a, a, a, "chips://host", nil)
		if err == nil {
			_ = hostConn.Serve(context.Background(), newInbox())
		}
	}()

	reader, writer := cbor.NewFrameReader(b), cbor.NewFrameWriter(b)
	origin, _, err := cbor.HandshakeAccept(reader, writer, "file://")
	require.NoError(t, err)
	assert.Equal(t, "chips://host", origin)

	require.NoError(t, writer.WriteFrame(cbor.NewHeartbeat(7)))
	frame, err := reader.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, cbor.FrameTypeHeartbeat, frame.FrameType)
	assert.Equal(t, uint64(7), frame.Seq)
}
