package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/network"
	"github.com/energizer-project/conduit/internal/protocol"
)

// BackendLink is the proxy's own connection to the server a player is
// bridged to.
type BackendLink struct {
	conn   *network.Connection
	player *Player
	addr   string
}

func (b *BackendLink) Addr() string                    { return b.addr }
func (b *BackendLink) Connection() *network.Connection { return b.conn }

// Close drops the backend connection. The player stays connected.
func (b *BackendLink) Close() { b.conn.Close() }

// ConnectBackend dials addr and logs player in to it in offline mode. The link
// is attached to the player once the backend reaches Play; any failure after
// the dial disconnects the player. The link lives no longer than ctx.
func ConnectBackend(ctx context.Context, env *Environment, player *Player, addr string) error {
	proxy := env.Config.GetProxy()
	dialer := net.Dialer{Timeout: proxy.ConnectTimeout()}
	sock, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial backend %s: %w", addr, err)
	}

	comp := env.Config.GetCompression()
	link := &BackendLink{player: player, addr: addr}
	link.conn = network.NewConnection(sock, network.Options{
		Registry:         env.Registry,
		Inbound:          protocol.Clientbound,
		ReadTimeout:      proxy.ReadTimeout(),
		Compression:      env.Compression,
		CompressionLevel: comp.Level,
		MaxUncompressed:  comp.MaxUncompressed,
		Metrics:          env.Metrics,
	}, &backendLoginHandler{link: link, env: env})
	link.conn.SetProtocolVersion(player.ProtocolVersion())
	link.conn.WithLogFields(func(c zerolog.Context) zerolog.Context {
		return c.Str("backend", addr).Str("username", player.Name())
	})

	go link.conn.Run(ctx)
	return nil
}

// backendLoginHandler logs the proxy in to the backend on the player's behalf.
type backendLoginHandler struct {
	network.NopHandler
	link     *BackendLink
	env      *Environment
	attached bool
}

func (h *backendLoginHandler) Activated(context.Context) error {
	c := h.link.conn
	host, portText, err := net.SplitHostPort(h.link.addr)
	if err != nil {
		return fmt.Errorf("bad backend address %q: %w", h.link.addr, err)
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return fmt.Errorf("bad backend port %q: %w", portText, err)
	}

	if err := c.Write(&protocol.Handshake{
		ProtocolVersion: int(c.ProtocolVersion()),
		ServerAddress:   host,
		Port:            uint16(port),
		NextStatus:      protocol.NextStateLogin,
	}); err != nil {
		return err
	}
	c.SetState(protocol.StateLogin)
	return c.Write(&protocol.ServerLogin{Username: h.link.player.Name()})
}

func (h *backendLoginHandler) Handle(ctx context.Context, p protocol.Packet) (bool, error) {
	c := h.link.conn
	switch pkt := p.(type) {
	case *protocol.SetCompression:
		return true, c.SetCompressionThreshold(pkt.Threshold)

	case *protocol.EncryptionRequest:
		return true, errors.New("backend requested encryption; it must run in offline mode")

	case *protocol.Disconnect:
		h.link.player.conn.Logger().Info().Str("reason", pkt.Reason).Msg("backend refused login")
		_ = h.link.player.conn.CloseWith(&protocol.Disconnect{Reason: pkt.Reason})
		return true, nil

	case *protocol.ServerLoginSuccess:
		c.SetState(protocol.StatePlay)
		if !h.link.player.backend.CompareAndSwap(nil, h.link) {
			c.Close()
			return true, nil
		}
		h.attached = true
		h.env.emit(ctx, events.EventBackendConnected, events.BackendConnectedPayload{
			Username: h.link.player.Name(),
			Backend:  h.link.addr,
		})
		c.Logger().Info().Msg("backend connected")
		return true, c.SetSessionHandler(&backendPlayHandler{link: h.link})
	}
	return false, nil
}

func (h *backendLoginHandler) Disconnected() {
	if !h.attached {
		disconnectWith(h.link.player.conn, "Could not connect to the server")
	}
}

// backendPlayHandler relays backend traffic to the player and keeps the
// player's tab list in step with it.
type backendPlayHandler struct {
	network.NopHandler
	link *BackendLink
}

func (h *backendPlayHandler) Handle(_ context.Context, p protocol.Packet) (bool, error) {
	player := h.link.player
	switch pkt := p.(type) {
	case *protocol.Disconnect:
		_ = player.conn.CloseWith(&protocol.Disconnect{Reason: pkt.Reason})
		return true, nil

	case *protocol.KeepAlive:
		player.noteKeepAliveSent(pkt.RandomID)

	case *protocol.PlayerListItem:
		// A malformed add means the backend stream cannot be trusted; the
		// error closes the link and the player with it.
		if err := player.tabList.ProcessBackendPacket(pkt); err != nil {
			return true, fmt.Errorf("backend tab list update: %w", err)
		}
		h.relay(pkt)
		return true, nil
	}
	h.relay(p)
	return true, nil
}

func (h *backendPlayHandler) HandleUnknown(_ context.Context, p protocol.Packet) error {
	h.relay(p)
	return nil
}

func (h *backendPlayHandler) relay(p protocol.Packet) {
	if err := h.link.player.conn.Write(p); err != nil && !errors.Is(err, network.ErrClosed) {
		h.link.conn.Logger().Debug().Err(err).Msg("failed to relay packet to player")
	}
}

func (h *backendPlayHandler) Disconnected() {
	player := h.link.player
	if player.backend.CompareAndSwap(h.link, nil) {
		disconnectWith(player.conn, "Lost connection to the server")
	}
}
