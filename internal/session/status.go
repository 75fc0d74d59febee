package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/energizer-project/conduit/internal/network"
	"github.com/energizer-project/conduit/internal/protocol"
)

// Ping is the JSON document answering a status request.
type Ping struct {
	Version     PingVersion `json:"version"`
	Players     PingPlayers `json:"players"`
	Description PingText    `json:"description"`
}

type PingVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

type PingPlayers struct {
	Max    int          `json:"max"`
	Online int          `json:"online"`
	Sample []PingSample `json:"sample"`
}

type PingSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type PingText struct {
	Text string `json:"text"`
}

const maxPingSample = 12

// statusHandler answers one status request and one ping, then closes.
type statusHandler struct {
	network.NopHandler
	conn     *network.Connection
	env      *Environment
	answered bool
}

func newStatusHandler(conn *network.Connection, env *Environment) *statusHandler {
	return &statusHandler{conn: conn, env: env}
}

func (h *statusHandler) Handle(_ context.Context, p protocol.Packet) (bool, error) {
	switch pkt := p.(type) {
	case *protocol.StatusRequest:
		if h.answered {
			return true, protocol.Violationf("duplicate status request")
		}
		h.answered = true

		data, err := json.Marshal(h.env.buildPing(h.conn.ProtocolVersion()))
		if err != nil {
			return true, fmt.Errorf("failed to encode status: %w", err)
		}
		return true, h.conn.Write(&protocol.StatusResponse{Status: string(data)})

	case *protocol.StatusPing:
		return true, h.conn.CloseWith(&protocol.StatusPing{RandomID: pkt.RandomID})
	}
	return false, nil
}

// buildPing describes the proxy to a client speaking v. Clients on a version
// the proxy supports are told their own number so they show as compatible.
func (e *Environment) buildPing(v protocol.Version) Ping {
	proxy := e.Config.GetProxy()
	reported := protocol.MaximumVersion
	if v.Supported() {
		reported = v
	}

	players := e.Players.All()
	sample := make([]PingSample, 0, min(len(players), maxPingSample))
	for _, p := range players {
		if len(sample) == maxPingSample {
			break
		}
		sample = append(sample, PingSample{Name: p.Name(), ID: p.UUID().String()})
	}

	return Ping{
		Version: PingVersion{
			Name:     "Conduit " + protocol.SupportedRange(),
			Protocol: int(reported),
		},
		Players: PingPlayers{
			Max:    proxy.MaxPlayers,
			Online: len(players),
			Sample: sample,
		},
		Description: PingText{Text: proxy.MOTD},
	}
}
