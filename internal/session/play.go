package session

import (
	"context"
	"encoding/binary"
	"strings"
	"time"

	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/network"
	"github.com/energizer-project/conduit/internal/protocol"
	"github.com/energizer-project/conduit/internal/util"
)

// playHandler serves a logged-in player. Commands are run locally and
// everything else goes to the backend link when one is attached.
type playHandler struct {
	network.NopHandler
	player *Player
	env    *Environment
	stop   chan struct{}
}

func newPlayHandler(player *Player, env *Environment) *playHandler {
	return &playHandler{player: player, env: env, stop: make(chan struct{})}
}

func (h *playHandler) Activated(ctx context.Context) error {
	interval := h.env.Config.GetProxy().KeepAliveInterval()
	if interval > 0 {
		go h.keepAliveLoop(ctx, interval)
	}
	return nil
}

// keepAliveLoop pings the client while no backend is attached; a backend
// sends its own keep-alives which are passed through.
func (h *playHandler) keepAliveLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			if h.player.Backend() != nil {
				continue
			}
			raw, err := util.RandomBytes(4)
			if err != nil {
				continue
			}
			id := int64(binary.BigEndian.Uint32(raw) >> 1)
			h.player.noteKeepAliveSent(id)
			if err := h.player.conn.Write(&protocol.KeepAlive{RandomID: id}); err != nil {
				return
			}
		}
	}
}

func (h *playHandler) Handle(ctx context.Context, p protocol.Packet) (bool, error) {
	switch pkt := p.(type) {
	case *protocol.KeepAlive:
		if h.player.noteKeepAliveReply(pkt.RandomID) && h.player.Backend() == nil {
			return true, nil
		}

	case *protocol.Chat:
		if strings.HasPrefix(pkt.Message, "/") && h.env.Commands != nil {
			handled, err := h.env.Commands.Execute(ctx, h.player, strings.TrimPrefix(pkt.Message, "/"))
			if err != nil {
				_ = h.player.SendMessage("An error occurred while running this command.")
				h.player.conn.Logger().Warn().Err(err).Str("command", pkt.Message).Msg("command failed")
				return true, nil
			}
			if handled {
				return true, nil
			}
		}

	case *protocol.ClientSettings:
		settings := *pkt
		h.player.settings.Store(&settings)
	}

	h.forward(p)
	return true, nil
}

func (h *playHandler) HandleUnknown(_ context.Context, p protocol.Packet) error {
	if h.env.Config.GetProxy().ForwardUnknown {
		h.forward(p)
	}
	return nil
}

// forward relays p to the backend. Without a backend it is dropped.
func (h *playHandler) forward(p protocol.Packet) {
	link := h.player.Backend()
	if link == nil {
		return
	}
	if err := link.conn.Write(p); err != nil {
		h.player.conn.Logger().Debug().Err(err).Msg("failed to forward packet to backend")
	}
}

func (h *playHandler) Disconnected() {
	close(h.stop)

	p := h.player
	if link := p.backend.Swap(nil); link != nil {
		link.Close()
	}
	if !h.env.Players.Remove(p) {
		return
	}
	online := time.Since(p.JoinedAt())
	h.env.Metrics.SetOnlinePlayers(h.env.Players.Count())
	p.conn.Logger().Info().Dur("online", online).Msg("player disconnected")
	h.env.emit(context.Background(), events.EventDisconnect, events.DisconnectPayload{
		Profile:  p.Profile(),
		RemoteIP: p.RemoteIP(),
		Online:   int64(online / time.Second),
	})
}
