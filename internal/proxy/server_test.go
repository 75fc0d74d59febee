package proxy

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/conduit/internal/config"
	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/protocol"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Proxy.Bind = "127.0.0.1:0"
	cfg.Proxy.OnlineMode = false
	cfg.API.Enabled = false
	cfg.MQTT.Enabled = false
	cfg.Database.Path = filepath.Join(t.TempDir(), "conduit.db")
	return cfg
}

// startServer runs srv in the background. The returned channel closes once
// Run has returned.
func startServer(t *testing.T, cfg *config.Config) (*Server, <-chan struct{}) {
	t.Helper()
	srv, err := New(cfg, Options{Version: "test"})
	require.NoError(t, err)

	require.NoError(t, srv.Listen(context.Background()))
	require.NotNil(t, srv.Addr())

	stopped := make(chan struct{})
	go func() {
		assert.NoError(t, srv.Run(context.Background()))
		close(stopped)
	}()
	t.Cleanup(func() {
		srv.Shutdown()
		<-stopped
		srv.Close()
	})
	return srv, stopped
}

func TestServerAnswersLegacyPing(t *testing.T) {
	srv, _ := startServer(t, testConfig(t))

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte{0xFE, 0x01})
	require.NoError(t, err)

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.NotEmpty(t, reply)
	assert.Equal(t, protocol.LegacyKickID, reply[0])
}

func TestServerReportsDeniedConnections(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admission.IntervalMs = 60000

	srv, err := New(cfg, Options{Version: "test"})
	require.NoError(t, err)
	defer srv.Close()

	denied := make(chan events.ConnectionDeniedPayload, 4)
	srv.Events().Subscribe(events.EventConnectionDenied, "test", func(_ context.Context, ev events.Event) error {
		denied <- ev.Payload.(events.ConnectionDeniedPayload)
		return nil
	})

	require.NoError(t, srv.Listen(context.Background()))
	stopped := make(chan struct{})
	go func() {
		_ = srv.Run(context.Background())
		close(stopped)
	}()
	defer func() {
		srv.Shutdown()
		<-stopped
	}()

	for i := 0; i < 2; i++ {
		conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
		require.NoError(t, err)
		defer conn.Close()
	}

	select {
	case p := <-denied:
		assert.Equal(t, "127.0.0.1", p.RemoteIP)
		assert.NotEmpty(t, p.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("no ConnectionDenied event")
	}
}

func TestShutdownStopsRun(t *testing.T) {
	srv, stopped := startServer(t, testConfig(t))

	srv.Shutdown()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	_, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	assert.Error(t, err, "listener closed")
}

func TestShutdownBeforeRun(t *testing.T) {
	srv, err := New(testConfig(t), Options{Version: "test"})
	require.NoError(t, err)
	defer srv.Close()

	srv.Shutdown()
	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run ignored an earlier Shutdown")
	}
}

func TestContextCancelStopsRun(t *testing.T) {
	srv, err := New(testConfig(t), Options{Version: "test"})
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
