// Package protocol implements the versioned packet codec spoken between game
// clients, the proxy and backend servers. All multi-byte integers are
// big-endian; lengths and ids use the 7-bit VarInt encoding. Packet ids are
// scoped to (state, direction, protocol version) and resolved through a
// Registry.
package protocol

import (
	"bytes"
	"fmt"
)

// Direction is the flow of a packet relative to the proxy's client side.
type Direction uint8

const (
	// Serverbound packets travel from a client towards a server.
	Serverbound Direction = iota
	// Clientbound packets travel from a server towards a client.
	Clientbound
)

func (d Direction) String() string {
	switch d {
	case Serverbound:
		return "serverbound"
	case Clientbound:
		return "clientbound"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// State is the protocol phase of a connection. Each state has its own id space.
type State uint8

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StatePlay
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StatePlay:
		return "play"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Handshake next-state values.
const (
	NextStateStatus = 1
	NextStateLogin  = 2
)

// Packet is a typed protocol unit. Encode must be a pure function of the
// packet's fields, the direction and the version.
type Packet interface {
	Decode(r *bytes.Reader, dir Direction, v Version) error
	Encode(b *PacketBuilder, dir Direction, v Version) error
}

// Unknown carries a packet whose id has no registration for the current
// (state, direction, version). It is never fatal.
type Unknown struct {
	ID   int
	Data []byte
}

// Size limits shared by several packets.
const (
	MaxUsernameLength     = 16
	MaxServerAddress      = 255
	MaxServerIDLength     = 20
	MaxJSONLength         = 262144
	MaxLegacyChatLength   = 100
	MaxChatLength         = 256
	MaxChannelLength      = 20
	MaxSharedSecretLength = 256
	MaxVerifyTokenLength  = 128
	MaxPublicKeyLength    = 256
	MaxDefaultString      = 32767
	MaxPluginMessageSize  = 32767
)
