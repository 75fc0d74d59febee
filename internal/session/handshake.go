package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/energizer-project/conduit/internal/network"
	"github.com/energizer-project/conduit/internal/protocol"
)

// handshakeHandler reads the one Handshake packet and hands the connection to
// the status or login handler.
type handshakeHandler struct {
	network.NopHandler
	conn *network.Connection
	env  *Environment
}

func newHandshakeHandler(conn *network.Connection, env *Environment) *handshakeHandler {
	return &handshakeHandler{conn: conn, env: env}
}

func (h *handshakeHandler) Handle(ctx context.Context, p protocol.Packet) (bool, error) {
	hs, ok := p.(*protocol.Handshake)
	if !ok {
		return false, nil
	}

	version := protocol.Version(hs.ProtocolVersion)
	h.conn.WithLogFields(func(c zerolog.Context) zerolog.Context {
		return c.Int("protocol", hs.ProtocolVersion)
	})

	switch hs.NextStatus {
	case protocol.NextStateStatus:
		h.conn.SetProtocolVersion(version)
		h.conn.SetState(protocol.StateStatus)
		return true, h.conn.SetSessionHandler(newStatusHandler(h.conn, h.env))

	case protocol.NextStateLogin:
		h.conn.SetState(protocol.StateLogin)
		if !version.Supported() {
			// The disconnect below is encoded with the newest layout, which
			// every client shares for this packet.
			h.conn.SetProtocolVersion(protocol.MaximumVersion)
			reason := "Outdated client! Please use " + protocol.SupportedRange()
			if version > protocol.MaximumVersion {
				reason = "Outdated server! I'm still on " + protocol.MaximumVersion.Name()
			}
			h.conn.Logger().Debug().Int("protocol", hs.ProtocolVersion).Msg("unsupported protocol version")
			disconnectWith(h.conn, reason)
			return true, nil
		}
		h.conn.SetProtocolVersion(version)
		return true, h.conn.SetSessionHandler(newLoginHandler(h.conn, h.env))

	default:
		return true, protocol.Violationf("unknown next state %d", hs.NextStatus)
	}
}

// HandleLegacyPing answers clients older than 1.7 with a kick packet carrying
// the server list entry.
func (h *handshakeHandler) HandleLegacyPing(format protocol.LegacyPingFormat) []byte {
	proxy := h.env.Config.GetProxy()
	return protocol.LegacyPingResponse(format, protocol.LegacyPingInfo{
		Protocol: int(protocol.MaximumVersion),
		Version:  fmt.Sprintf("Conduit %s", protocol.SupportedRange()),
		MOTD:     proxy.MOTD,
		Online:   h.env.Players.Count(),
		Max:      proxy.MaxPlayers,
	})
}
