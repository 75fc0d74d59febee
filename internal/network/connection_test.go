package network

import (
	"context"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/conduit/internal/admission"
	"github.com/energizer-project/conduit/internal/compression"
	"github.com/energizer-project/conduit/internal/protocol"
)

type recordingHandler struct {
	NopHandler
	packets      chan protocol.Packet
	unknown      chan protocol.Packet
	deactivated  atomic.Bool
	disconnected chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		packets:      make(chan protocol.Packet, 16),
		unknown:      make(chan protocol.Packet, 16),
		disconnected: make(chan struct{}),
	}
}

func (h *recordingHandler) Handle(_ context.Context, p protocol.Packet) (bool, error) {
	h.packets <- p
	return true, nil
}

func (h *recordingHandler) HandleUnknown(_ context.Context, p protocol.Packet) error {
	h.unknown <- p
	return nil
}

func (h *recordingHandler) Deactivated()  { h.deactivated.Store(true) }
func (h *recordingHandler) Disconnected() { close(h.disconnected) }

type legacyHandler struct {
	*recordingHandler
}

func (legacyHandler) HandleLegacyPing(format protocol.LegacyPingFormat) []byte {
	return protocol.LegacyPingResponse(format, protocol.LegacyPingInfo{
		Protocol: 127, Version: "1.7.2", MOTD: "hello", Online: 1, Max: 20,
	})
}

func encodeFrame(t *testing.T, state protocol.State, v protocol.Version, p protocol.Packet) []byte {
	t.Helper()
	b := protocol.NewPacketBuilder()
	require.NoError(t, protocol.DefaultRegistry.Encode(b, state, protocol.Serverbound, v, p))
	frame, err := AppendFrame(nil, b.Build())
	require.NoError(t, err)
	return frame
}

func waitClosed(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not tear down")
	}
}

func TestConnectionDispatchesHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := newRecordingHandler()
	conn := NewConnection(server, Options{Inbound: protocol.Serverbound}, h)

	ctx, cancel := context.WithCancel(context.Background())
	go conn.Run(ctx)

	hs := &protocol.Handshake{ProtocolVersion: 340, ServerAddress: "localhost", Port: 25565, NextStatus: protocol.NextStateLogin}
	_, err := client.Write(encodeFrame(t, protocol.StateHandshake, protocol.VersionUnknown, hs))
	require.NoError(t, err)

	select {
	case p := <-h.packets:
		assert.Equal(t, hs, p)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake not dispatched")
	}

	// An unregistered id reaches HandleUnknown.
	_, err = client.Write([]byte{0x02, 0x7F, 0x01})
	require.NoError(t, err)
	select {
	case p := <-h.unknown:
		assert.Equal(t, &protocol.Unknown{ID: 0x7F, Data: []byte{0x01}}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("unknown packet not dispatched")
	}

	cancel()
	waitClosed(t, h)
	assert.True(t, conn.Closed())
	assert.ErrorIs(t, conn.Write(&protocol.StatusRequest{}), ErrClosed)
}

func TestConnectionClosesOnViolation(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := newRecordingHandler()
	conn := NewConnection(server, Options{Inbound: protocol.Serverbound}, h)
	go conn.Run(context.Background())

	_, err := client.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	waitClosed(t, h)
	assert.Empty(t, h.packets)
}

func TestConnectionLegacyPing(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := legacyHandler{newRecordingHandler()}
	conn := NewConnection(server, Options{Inbound: protocol.Serverbound}, h)
	go conn.Run(context.Background())

	_, err := client.Write([]byte{0xFE, 0x01})
	require.NoError(t, err)

	reply, err := io.ReadAll(client)
	require.NoError(t, err)
	require.NotEmpty(t, reply)
	assert.Equal(t, protocol.LegacyKickID, reply[0])
	waitClosed(t, h.recordingHandler)
}

func TestConnectionLegacyPingUnsupported(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := newRecordingHandler()
	conn := NewConnection(server, Options{Inbound: protocol.Serverbound}, h)
	go conn.Run(context.Background())

	_, err := client.Write([]byte{0xFE})
	require.NoError(t, err)
	reply, _ := io.ReadAll(client)
	assert.Empty(t, reply, "closed without a reply")
	waitClosed(t, h)
}

func TestConnectionReadTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := newRecordingHandler()
	conn := NewConnection(server, Options{Inbound: protocol.Serverbound, ReadTimeout: 50 * time.Millisecond}, h)
	go conn.Run(context.Background())

	waitClosed(t, h)
	assert.Empty(t, h.packets)
}

type switchingHandler struct {
	NopHandler
	conn *Connection
	next SessionHandler
	done chan struct{}
}

func (h *switchingHandler) Handle(_ context.Context, _ protocol.Packet) (bool, error) {
	h.conn.SetState(protocol.StateStatus)
	return true, h.conn.SetSessionHandler(h.next)
}

func (h *switchingHandler) Disconnected() { close(h.done) }

func TestConnectionSwitchesHandler(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	next := newRecordingHandler()
	first := &switchingHandler{next: next, done: make(chan struct{})}
	conn := NewConnection(server, Options{Inbound: protocol.Serverbound}, first)
	first.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	go conn.Run(ctx)

	hs := &protocol.Handshake{ProtocolVersion: 340, ServerAddress: "h", Port: 1, NextStatus: protocol.NextStateStatus}
	stream := encodeFrame(t, protocol.StateHandshake, protocol.VersionUnknown, hs)
	stream = append(stream, encodeFrame(t, protocol.StateStatus, protocol.Version1_12_2, &protocol.StatusRequest{})...)
	_, err := client.Write(stream)
	require.NoError(t, err)

	select {
	case p := <-next.packets:
		assert.IsType(t, &protocol.StatusRequest{}, p, "second frame decoded in the new state by the new handler")
	case <-time.After(2 * time.Second):
		t.Fatal("status request not dispatched")
	}

	cancel()
	waitClosed(t, next)
	select {
	case <-first.done:
		t.Fatal("replaced handler must not see the disconnect")
	default:
	}
}

func TestConnectionPipelineCompressedEncrypted(t *testing.T) {
	a, b := net.Pipe()
	_, factory, err := compression.Select(compression.ImplementationPortable)
	require.NoError(t, err)

	opts := func(dir protocol.Direction) Options {
		return Options{
			Inbound:          dir,
			Compression:      factory,
			CompressionLevel: -1,
			MaxUncompressed:  compression.DefaultMaxUncompressed,
		}
	}
	proxySide := newRecordingHandler()
	proxy := NewConnection(a, opts(protocol.Serverbound), proxySide)
	clientSide := newRecordingHandler()
	client := NewConnection(b, opts(protocol.Clientbound), clientSide)

	secret := []byte("fedcba9876543210")
	for _, c := range []*Connection{proxy, client} {
		c.SetState(protocol.StatePlay)
		c.SetProtocolVersion(protocol.Version1_12_2)
		require.NoError(t, c.SetCompressionThreshold(64))
		require.NoError(t, c.EnableEncryption(secret))
		assert.True(t, c.Encrypted())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go proxy.Run(ctx)
	go client.Run(ctx)

	long := strings.Repeat("compress me ", 30)
	require.NoError(t, client.Write(&protocol.Chat{Message: long[:protocol.MaxChatLength]}))
	require.NoError(t, client.Write(&protocol.Chat{Message: "short"}))

	for _, want := range []string{long[:protocol.MaxChatLength], "short"} {
		select {
		case p := <-proxySide.packets:
			require.IsType(t, &protocol.Chat{}, p)
			assert.Equal(t, want, p.(*protocol.Chat).Message)
		case <-time.After(2 * time.Second):
			t.Fatal("chat not delivered")
		}
	}

	require.NoError(t, proxy.Write(&protocol.KeepAlive{RandomID: 99}))
	select {
	case p := <-clientSide.packets:
		assert.Equal(t, &protocol.KeepAlive{RandomID: 99}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("keepalive not delivered")
	}

	proxy.Close()
	waitClosed(t, proxySide)
	waitClosed(t, clientSide)
}

type denyAll struct{}

func (denyAll) Admit(string) admission.Decision { return admission.DecisionThrottled }

func TestListenerDeniesSilently(t *testing.T) {
	var denied atomic.Int32
	registry := NewConnectionRegistry()
	l := NewTCPListener(ListenerConfig{
		Addr:     "127.0.0.1:0",
		Gate:     denyAll{},
		Handler:  func(*Connection) SessionHandler { return NopHandler{} },
		OnDenied: func(string, admission.Decision) { denied.Add(1) },
	}, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Listen(ctx))
	go l.Serve(ctx)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(make([]byte, 1))
	assert.Zero(t, n)
	assert.Error(t, err)
	assert.Equal(t, int32(1), denied.Load())
	assert.Zero(t, registry.Count())
}

func TestListenerRegistersConnections(t *testing.T) {
	registry := NewConnectionRegistry()
	h := newRecordingHandler()
	l := NewTCPListener(ListenerConfig{
		Addr:    "127.0.0.1:0",
		Gate:    admission.NewGate(admission.Config{}),
		Handler: func(*Connection) SessionHandler { return h },
	}, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Listen(ctx))
	go l.Serve(ctx)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	for _, c := range registry.GetAll() {
		assert.Equal(t, "127.0.0.1", c.RemoteIP())
	}

	registry.CloseAll()
	waitClosed(t, h)
	assert.Eventually(t, func() bool { return registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
