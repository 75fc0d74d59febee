package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/conduit/internal/compression"
	"github.com/energizer-project/conduit/internal/config"
	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/network"
	"github.com/energizer-project/conduit/internal/protocol"
	"github.com/energizer-project/conduit/internal/util"
)

const testVersion = protocol.Version1_12_2

var (
	testKeyOnce sync.Once
	testKey     *util.ServerKey
)

func serverKey(t *testing.T) *util.ServerKey {
	t.Helper()
	testKeyOnce.Do(func() {
		k, err := util.GenerateServerKey()
		require.NoError(t, err)
		testKey = k
	})
	require.NotNil(t, testKey)
	return testKey
}

type fakeVerifier struct {
	calls    atomic.Int32
	serverID atomic.Value
	fn       func(ctx context.Context, username string) (*protocol.GameProfile, error)
}

func (v *fakeVerifier) HasJoined(ctx context.Context, username, serverID, _ string) (*protocol.GameProfile, error) {
	v.calls.Add(1)
	v.serverID.Store(serverID)
	return v.fn(ctx, username)
}

type fakeCommands struct {
	lines chan string
}

func (c *fakeCommands) Execute(_ context.Context, source CommandSource, line string) (bool, error) {
	if line != "list" {
		return false, nil
	}
	c.lines <- source.Name() + ":" + line
	return true, nil
}

func newTestEnv(t *testing.T, mutate func(p *config.ProxyConfig)) (*Environment, *events.EventBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	proxy := cfg.GetProxy()
	proxy.KeepAliveSec = 0
	proxy.OnlineMode = false
	if mutate != nil {
		mutate(&proxy)
	}
	cfg.SetProxy(proxy)

	_, factory, err := compression.Select(compression.ImplementationPortable)
	require.NoError(t, err)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	return &Environment{
		Config:      cfg,
		Events:      bus,
		Key:         serverKey(t),
		Players:     NewPlayerRegistry(),
		Registry:    protocol.DefaultRegistry,
		Compression: factory,
		Version:     "test",
	}, bus
}

// fakeClient plays the client side of a connection.
type fakeClient struct {
	network.NopHandler
	conn    *network.Connection
	packets chan protocol.Packet
	done    chan struct{}

	// respond answers an EncryptionRequest; secret is installed after it.
	respond func(req *protocol.EncryptionRequest) *protocol.EncryptionResponse
	secret  []byte
}

func (c *fakeClient) Handle(_ context.Context, p protocol.Packet) (bool, error) {
	switch pkt := p.(type) {
	case *protocol.SetCompression:
		if err := c.conn.SetCompressionThreshold(pkt.Threshold); err != nil {
			return true, err
		}
	case *protocol.EncryptionRequest:
		if c.respond != nil {
			if err := c.conn.Write(c.respond(pkt)); err != nil {
				return true, err
			}
			if c.secret != nil {
				if err := c.conn.EnableEncryption(c.secret); err != nil {
					return true, err
				}
			}
		}
	case *protocol.ServerLoginSuccess:
		c.conn.SetState(protocol.StatePlay)
	}
	c.packets <- p
	return true, nil
}

func (c *fakeClient) HandleUnknown(_ context.Context, p protocol.Packet) error {
	c.packets <- p
	return nil
}

func (c *fakeClient) Disconnected() { close(c.done) }

func (c *fakeClient) next(t *testing.T) protocol.Packet {
	t.Helper()
	select {
	case p := <-c.packets:
		return p
	case <-c.done:
		select {
		case p := <-c.packets:
			return p
		default:
		}
		t.Fatal("connection closed while waiting for a packet")
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a packet")
	}
	return nil
}

func (c *fakeClient) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(3 * time.Second):
		t.Fatal("connection was not closed")
	}
}

func connect(t *testing.T, env *Environment, v protocol.Version) (*network.Connection, *fakeClient) {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	comp := env.Config.GetCompression()
	server := network.NewConnection(serverSide, network.Options{
		Registry:         env.Registry,
		Inbound:          protocol.Serverbound,
		Compression:      env.Compression,
		CompressionLevel: comp.Level,
		MaxUncompressed:  comp.MaxUncompressed,
	}, nil)
	require.NoError(t, server.SetSessionHandler(env.NewClientHandler(server)))

	client := &fakeClient{
		packets: make(chan protocol.Packet, 32),
		done:    make(chan struct{}),
	}
	client.conn = network.NewConnection(clientSide, network.Options{
		Inbound:         protocol.Clientbound,
		Compression:     env.Compression,
		MaxUncompressed: comp.MaxUncompressed,
	}, client)
	client.conn.SetProtocolVersion(v)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go server.Run(ctx)
	go client.conn.Run(ctx)
	return server, client
}

func (c *fakeClient) handshake(t *testing.T, v protocol.Version, next int) {
	t.Helper()
	require.NoError(t, c.conn.Write(&protocol.Handshake{
		ProtocolVersion: int(v),
		ServerAddress:   "localhost",
		Port:            25577,
		NextStatus:      next,
	}))
	switch next {
	case protocol.NextStateStatus:
		c.conn.SetState(protocol.StateStatus)
	case protocol.NextStateLogin:
		c.conn.SetState(protocol.StateLogin)
	}
}

func (c *fakeClient) login(t *testing.T, name string) {
	t.Helper()
	c.handshake(t, testVersion, protocol.NextStateLogin)
	require.NoError(t, c.conn.Write(&protocol.ServerLogin{Username: name}))
}

// encryptResponse builds an EncryptionResponse under the request's key with
// the given token and secret.
func encryptResponse(t *testing.T, req *protocol.EncryptionRequest, token, secret []byte) *protocol.EncryptionResponse {
	pub, err := x509.ParsePKIXPublicKey(req.PublicKey)
	if err != nil {
		t.Errorf("bad public key: %v", err)
		return &protocol.EncryptionResponse{}
	}
	rsaPub := pub.(*rsa.PublicKey)
	encToken, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, token)
	if err != nil {
		t.Errorf("encrypt token: %v", err)
	}
	encSecret, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, secret)
	if err != nil {
		t.Errorf("encrypt secret: %v", err)
	}
	return &protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken}
}

func TestOfflineLoginReachesPlay(t *testing.T) {
	env, bus := newTestEnv(t, nil)
	postLogin := make(chan events.PostLoginPayload, 1)
	bus.Subscribe(events.EventPostLogin, "test", func(_ context.Context, e events.Event) error {
		postLogin <- e.Payload.(events.PostLoginPayload)
		return nil
	})

	server, client := connect(t, env, testVersion)
	client.login(t, "Steve")

	setComp, ok := client.next(t).(*protocol.SetCompression)
	require.True(t, ok, "expected SetCompression first")
	assert.Equal(t, 256, setComp.Threshold)

	success, ok := client.next(t).(*protocol.ServerLoginSuccess)
	require.True(t, ok, "expected ServerLoginSuccess")
	assert.Equal(t, util.OfflineUUID("Steve"), success.UUID)
	assert.Equal(t, "Steve", success.Username)

	require.Eventually(t, func() bool { return env.Players.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	player, ok := env.Players.Get("steve")
	require.True(t, ok)
	assert.False(t, player.OnlineMode())
	assert.False(t, player.HasPermission("conduit.command.list"))
	assert.Equal(t, protocol.StatePlay, server.State())

	select {
	case p := <-postLogin:
		assert.Equal(t, "Steve", p.Profile.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("post login event not fired")
	}
}

func TestLegacyClientLoginSkipsCompression(t *testing.T) {
	env, _ := newTestEnv(t, nil)
	_, client := connect(t, env, protocol.Version1_7_6)

	client.handshake(t, protocol.Version1_7_6, protocol.NextStateLogin)
	require.NoError(t, client.conn.Write(&protocol.ServerLogin{Username: "Old"}))

	_, ok := client.next(t).(*protocol.ServerLoginSuccess)
	assert.True(t, ok, "1.7 clients never receive SetCompression")
}

func TestOnlineLoginWithEncryption(t *testing.T) {
	profileID := uuid.New()
	verifier := &fakeVerifier{fn: func(_ context.Context, username string) (*protocol.GameProfile, error) {
		return &protocol.GameProfile{ID: profileID, Name: username}, nil
	}}
	env, _ := newTestEnv(t, func(p *config.ProxyConfig) { p.OnlineMode = true })
	env.Identity = verifier

	server, client := connect(t, env, testVersion)
	secret := []byte("0123456789abcdef")
	client.secret = secret
	client.respond = func(req *protocol.EncryptionRequest) *protocol.EncryptionResponse {
		return encryptResponse(t, req, req.VerifyToken, secret)
	}
	client.login(t, "Notch")

	req, ok := client.next(t).(*protocol.EncryptionRequest)
	require.True(t, ok, "expected EncryptionRequest")
	assert.Len(t, req.VerifyToken, 4)
	assert.Empty(t, req.ServerID)

	_, ok = client.next(t).(*protocol.SetCompression)
	require.True(t, ok)
	success, ok := client.next(t).(*protocol.ServerLoginSuccess)
	require.True(t, ok)
	assert.Equal(t, profileID, success.UUID)

	assert.True(t, server.Encrypted())
	assert.Equal(t, int32(1), verifier.calls.Load())
	assert.Equal(t, util.ServerIDHash("", secret, env.Key.PublicDER), verifier.serverID.Load())

	require.Eventually(t, func() bool { return env.Players.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	player, _ := env.Players.GetByID(profileID)
	require.NotNil(t, player)
	assert.True(t, player.OnlineMode())
}

func TestVerifyTokenMismatchClosesBeforePlay(t *testing.T) {
	for flip := 0; flip < 4; flip++ {
		flip := flip
		verifier := &fakeVerifier{fn: func(context.Context, string) (*protocol.GameProfile, error) {
			return &protocol.GameProfile{ID: uuid.New(), Name: "Notch"}, nil
		}}
		env, bus := newTestEnv(t, func(p *config.ProxyConfig) { p.OnlineMode = true })
		env.Identity = verifier
		failed := make(chan events.LoginFailedPayload, 1)
		bus.Subscribe(events.EventLoginFailed, "test", func(_ context.Context, e events.Event) error {
			failed <- e.Payload.(events.LoginFailedPayload)
			return nil
		})

		server, client := connect(t, env, testVersion)
		client.respond = func(req *protocol.EncryptionRequest) *protocol.EncryptionResponse {
			token := append([]byte(nil), req.VerifyToken...)
			token[flip] ^= 0x01
			return encryptResponse(t, req, token, []byte("0123456789abcdef"))
		}
		client.login(t, "Notch")

		_, ok := client.next(t).(*protocol.EncryptionRequest)
		require.True(t, ok)
		client.waitClosed(t)

		assert.Zero(t, verifier.calls.Load(), "identity service must not be called")
		assert.Zero(t, env.Players.Count())
		assert.NotEqual(t, protocol.StatePlay, server.State())
		assert.False(t, server.Encrypted())
		select {
		case p := <-client.packets:
			t.Fatalf("unexpected packet after mismatch: %T", p)
		default:
		}
		select {
		case p := <-failed:
			assert.Equal(t, ErrTokenMismatch.Error(), p.Reason)
		case <-time.After(2 * time.Second):
			t.Fatal("login failure not reported")
		}
	}
}

func TestAuthTimeoutDisconnectsWithReason(t *testing.T) {
	verifier := &fakeVerifier{fn: func(ctx context.Context, _ string) (*protocol.GameProfile, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	env, _ := newTestEnv(t, func(p *config.ProxyConfig) {
		p.OnlineMode = true
		p.AuthTimeoutMs = 50
	})
	env.Identity = verifier

	_, client := connect(t, env, testVersion)
	secret := []byte("fedcba9876543210")
	client.secret = secret
	client.respond = func(req *protocol.EncryptionRequest) *protocol.EncryptionResponse {
		return encryptResponse(t, req, req.VerifyToken, secret)
	}
	client.login(t, "Notch")

	_, ok := client.next(t).(*protocol.EncryptionRequest)
	require.True(t, ok)
	disconnect, ok := client.next(t).(*protocol.Disconnect)
	require.True(t, ok, "expected Disconnect")
	assert.Contains(t, disconnect.Reason, "did not respond in time")
	client.waitClosed(t)
	assert.Zero(t, env.Players.Count())
}

func TestAuthFailureDisconnects(t *testing.T) {
	verifier := &fakeVerifier{fn: func(context.Context, string) (*protocol.GameProfile, error) {
		return nil, ErrAuthFailure
	}}
	env, _ := newTestEnv(t, func(p *config.ProxyConfig) { p.OnlineMode = true })
	env.Identity = verifier

	_, client := connect(t, env, testVersion)
	secret := []byte("fedcba9876543210")
	client.secret = secret
	client.respond = func(req *protocol.EncryptionRequest) *protocol.EncryptionResponse {
		return encryptResponse(t, req, req.VerifyToken, secret)
	}
	client.login(t, "Notch")

	_, ok := client.next(t).(*protocol.EncryptionRequest)
	require.True(t, ok)
	disconnect, ok := client.next(t).(*protocol.Disconnect)
	require.True(t, ok)
	assert.Contains(t, disconnect.Reason, "Failed to verify username")
}

func TestPreLoginDenialDisconnects(t *testing.T) {
	env, bus := newTestEnv(t, nil)
	bus.Subscribe(events.EventPreLogin, "ban", func(_ context.Context, e events.Event) error {
		if e.Payload.(*events.PreLoginPayload).Username == "Griefer" {
			return events.Deny("You are banned")
		}
		return nil
	})

	_, client := connect(t, env, testVersion)
	client.login(t, "Griefer")

	disconnect, ok := client.next(t).(*protocol.Disconnect)
	require.True(t, ok)
	assert.JSONEq(t, `{"text":"You are banned"}`, disconnect.Reason)
	client.waitClosed(t)
	assert.Zero(t, env.Players.Count())
}

func TestPreLoginCanForceOfflineMode(t *testing.T) {
	env, bus := newTestEnv(t, func(p *config.ProxyConfig) { p.OnlineMode = true })
	bus.Subscribe(events.EventPreLogin, "offline", func(_ context.Context, e events.Event) error {
		e.Payload.(*events.PreLoginPayload).Result = events.PreLoginForceOffline
		return nil
	})

	_, client := connect(t, env, testVersion)
	client.login(t, "Steve")

	_, ok := client.next(t).(*protocol.SetCompression)
	require.True(t, ok, "no encryption request expected")
	success, ok := client.next(t).(*protocol.ServerLoginSuccess)
	require.True(t, ok)
	assert.Equal(t, util.OfflineUUID("Steve"), success.UUID)
}

func TestDuplicateNameIsRejected(t *testing.T) {
	env, _ := newTestEnv(t, nil)

	_, first := connect(t, env, testVersion)
	first.login(t, "Steve")
	first.next(t)
	first.next(t)
	require.Eventually(t, func() bool { return env.Players.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, second := connect(t, env, testVersion)
	second.login(t, "STEVE")
	disconnect, ok := second.next(t).(*protocol.Disconnect)
	require.True(t, ok)
	assert.Contains(t, disconnect.Reason, "already connected")
	assert.Equal(t, 1, env.Players.Count())
}

func TestFullServerIsRejected(t *testing.T) {
	env, _ := newTestEnv(t, func(p *config.ProxyConfig) { p.MaxPlayers = 1 })

	_, first := connect(t, env, testVersion)
	first.login(t, "Steve")
	first.next(t)
	first.next(t)
	require.Eventually(t, func() bool { return env.Players.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, second := connect(t, env, testVersion)
	second.login(t, "Alex")
	disconnect, ok := second.next(t).(*protocol.Disconnect)
	require.True(t, ok)
	assert.Contains(t, disconnect.Reason, "full")
}

func TestUnsupportedVersionIsTurnedAway(t *testing.T) {
	env, _ := newTestEnv(t, nil)
	_, client := connect(t, env, protocol.MaximumVersion)

	client.handshake(t, protocol.Version(3), protocol.NextStateLogin)
	disconnect, ok := client.next(t).(*protocol.Disconnect)
	require.True(t, ok)
	assert.Contains(t, disconnect.Reason, "Outdated client")
	client.waitClosed(t)
}

func TestUnknownNextStateCloses(t *testing.T) {
	env, _ := newTestEnv(t, nil)
	_, client := connect(t, env, testVersion)

	client.handshake(t, testVersion, 3)
	client.waitClosed(t)
}

func TestStatusRequestAndPing(t *testing.T) {
	env, _ := newTestEnv(t, func(p *config.ProxyConfig) {
		p.MOTD = "Hello there"
		p.MaxPlayers = 42
	})
	_, client := connect(t, env, testVersion)

	client.handshake(t, testVersion, protocol.NextStateStatus)
	require.NoError(t, client.conn.Write(&protocol.StatusRequest{}))

	resp, ok := client.next(t).(*protocol.StatusResponse)
	require.True(t, ok)
	var ping Ping
	require.NoError(t, json.Unmarshal([]byte(resp.Status), &ping))
	assert.Equal(t, "Hello there", ping.Description.Text)
	assert.Equal(t, 42, ping.Players.Max)
	assert.Equal(t, 0, ping.Players.Online)
	assert.Equal(t, int(testVersion), ping.Version.Protocol)

	require.NoError(t, client.conn.Write(&protocol.StatusPing{RandomID: 1234}))
	pong, ok := client.next(t).(*protocol.StatusPing)
	require.True(t, ok)
	assert.Equal(t, int64(1234), pong.RandomID)
	client.waitClosed(t)
}

func TestDuplicateStatusRequestCloses(t *testing.T) {
	env, _ := newTestEnv(t, nil)
	_, client := connect(t, env, testVersion)

	client.handshake(t, testVersion, protocol.NextStateStatus)
	require.NoError(t, client.conn.Write(&protocol.StatusRequest{}))
	_, ok := client.next(t).(*protocol.StatusResponse)
	require.True(t, ok)

	require.NoError(t, client.conn.Write(&protocol.StatusRequest{}))
	client.waitClosed(t)
	select {
	case p := <-client.packets:
		t.Fatalf("unexpected second answer %T", p)
	default:
	}
}

func TestPlayChatCommandsAreExecuted(t *testing.T) {
	env, _ := newTestEnv(t, nil)
	commands := &fakeCommands{lines: make(chan string, 1)}
	env.Commands = commands

	_, client := connect(t, env, testVersion)
	client.login(t, "Steve")
	client.next(t)
	client.next(t)

	require.NoError(t, client.conn.Write(&protocol.Chat{Message: "/list"}))
	select {
	case line := <-commands.lines:
		assert.Equal(t, "Steve:list", line)
	case <-time.After(2 * time.Second):
		t.Fatal("command not executed")
	}
}

func TestDisconnectUnregistersPlayer(t *testing.T) {
	env, bus := newTestEnv(t, nil)
	left := make(chan events.DisconnectPayload, 1)
	bus.Subscribe(events.EventDisconnect, "test", func(_ context.Context, e events.Event) error {
		left <- e.Payload.(events.DisconnectPayload)
		return nil
	})

	_, client := connect(t, env, testVersion)
	client.login(t, "Steve")
	client.next(t)
	client.next(t)
	require.Eventually(t, func() bool { return env.Players.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	client.conn.Close()
	require.Eventually(t, func() bool { return env.Players.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	select {
	case p := <-left:
		assert.Equal(t, "Steve", p.Profile.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect event not fired")
	}
}

func TestLegacyPingAnswer(t *testing.T) {
	env, _ := newTestEnv(t, func(p *config.ProxyConfig) { p.MOTD = "legacy" })
	h := newHandshakeHandler(nil, env)

	out := h.HandleLegacyPing(protocol.LegacyPing14)
	require.NotEmpty(t, out)
	assert.Equal(t, protocol.LegacyKickID, out[0])
}

func TestKeepAliveRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	conn := network.NewConnection(a, network.Options{}, network.NopHandler{})
	p := newPlayer(conn, protocol.GameProfile{ID: uuid.New(), Name: "Steve"}, false)

	assert.Equal(t, time.Duration(-1), p.Ping())
	assert.False(t, p.noteKeepAliveReply(7), "nothing outstanding")

	p.noteKeepAliveSent(7)
	assert.False(t, p.noteKeepAliveReply(8))
	assert.True(t, p.noteKeepAliveReply(7))
	assert.GreaterOrEqual(t, p.Ping(), time.Duration(0))
	assert.False(t, p.noteKeepAliveReply(7), "a reply counts once")
}

// fakeBackend accepts the proxy's login and then pushes one tab list add.
type fakeBackend struct {
	network.NopHandler
	conn  *network.Connection
	entry protocol.PlayerListEntry
}

func (b *fakeBackend) Handle(_ context.Context, p protocol.Packet) (bool, error) {
	switch pkt := p.(type) {
	case *protocol.Handshake:
		b.conn.SetProtocolVersion(protocol.Version(pkt.ProtocolVersion))
		b.conn.SetState(protocol.StateLogin)
	case *protocol.ServerLogin:
		if err := b.conn.Write(&protocol.ServerLoginSuccess{UUID: util.OfflineUUID(pkt.Username), Username: pkt.Username}); err != nil {
			return true, err
		}
		b.conn.SetState(protocol.StatePlay)
		return true, b.conn.Write(&protocol.PlayerListItem{
			Action: protocol.ActionAddPlayer,
			Items:  []protocol.PlayerListEntry{b.entry},
		})
	}
	return true, nil
}

func TestBackendTabListIsTracked(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	entry := protocol.PlayerListEntry{
		UUID:       uuid.New(),
		Name:       "Alex",
		Properties: []protocol.ProfileProperty{{Name: "textures", Value: "abc"}},
		Latency:    25,
	}
	go func() {
		sock, err := ln.Accept()
		if err != nil {
			return
		}
		backend := &fakeBackend{entry: entry}
		backend.conn = network.NewConnection(sock, network.Options{Inbound: protocol.Serverbound}, backend)
		backend.conn.Run(context.Background())
	}()

	env, bus := newTestEnv(t, func(p *config.ProxyConfig) { p.Backend = ln.Addr().String() })
	connected := make(chan events.BackendConnectedPayload, 1)
	bus.Subscribe(events.EventBackendConnected, "test", func(_ context.Context, e events.Event) error {
		connected <- e.Payload.(events.BackendConnectedPayload)
		return nil
	})

	_, client := connect(t, env, testVersion)
	client.login(t, "Steve")
	client.next(t)
	client.next(t)

	item, ok := client.next(t).(*protocol.PlayerListItem)
	require.True(t, ok, "tab list add relayed to the client")
	require.Len(t, item.Items, 1)
	assert.Equal(t, entry.UUID, item.Items[0].UUID)

	player, ok := env.Players.Get("Steve")
	require.True(t, ok)
	require.Eventually(t, func() bool { return player.TabList().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	tracked, ok := player.TabList().Entry(entry.UUID)
	require.True(t, ok)
	assert.Equal(t, 25, tracked.Latency())

	select {
	case p := <-connected:
		assert.Equal(t, ln.Addr().String(), p.Backend)
	case <-time.After(2 * time.Second):
		t.Fatal("backend connected event not fired")
	}
	require.NotNil(t, player.Backend())
}

func TestBackendMalformedTabListAddClosesLink(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	backendClosed := make(chan struct{})
	go func() {
		defer close(backendClosed)
		sock, err := ln.Accept()
		if err != nil {
			return
		}
		backend := &fakeBackend{entry: protocol.PlayerListEntry{UUID: uuid.New(), Name: ""}}
		backend.conn = network.NewConnection(sock, network.Options{Inbound: protocol.Serverbound}, backend)
		backend.conn.Run(context.Background())
	}()

	env, _ := newTestEnv(t, func(p *config.ProxyConfig) { p.Backend = ln.Addr().String() })
	_, client := connect(t, env, testVersion)
	client.login(t, "Steve")
	client.next(t)
	client.next(t)

	disconnect, ok := client.next(t).(*protocol.Disconnect)
	require.True(t, ok, "the malformed add is not relayed and the player is dropped")
	assert.Contains(t, disconnect.Reason, "Lost connection to the server")

	select {
	case <-backendClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("backend link stayed open")
	}
	require.Eventually(t, func() bool { return env.Players.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
