package protocol

import (
	"bytes"
	"fmt"
	"reflect"
)

// mapping assigns an id to a packet from a version onwards, until the next
// mapping of the same packet takes over.
type mapping struct {
	from Version
	id   int
}

func m(from Version, id int) mapping { return mapping{from: from, id: id} }

type packetKey struct {
	state   State
	dir     Direction
	version Version
	id      int
}

type typeKey struct {
	state   State
	dir     Direction
	version Version
	typ     reflect.Type
}

// Registry resolves packet ids to types and back for every supported version.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	factories map[packetKey]func() Packet
	ids       map[typeKey]int
}

// DefaultRegistry holds every packet this proxy understands.
var DefaultRegistry = NewRegistry()

// NewRegistry builds the packet table.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[packetKey]func() Packet),
		ids:       make(map[typeKey]int),
	}

	r.register(StateHandshake, Serverbound, func() Packet { return &Handshake{} }, m(Version1_7_2, 0x00))

	r.register(StateStatus, Serverbound, func() Packet { return &StatusRequest{} }, m(Version1_7_2, 0x00))
	r.register(StateStatus, Serverbound, func() Packet { return &StatusPing{} }, m(Version1_7_2, 0x01))
	r.register(StateStatus, Clientbound, func() Packet { return &StatusResponse{} }, m(Version1_7_2, 0x00))
	r.register(StateStatus, Clientbound, func() Packet { return &StatusPing{} }, m(Version1_7_2, 0x01))

	r.register(StateLogin, Serverbound, func() Packet { return &ServerLogin{} }, m(Version1_7_2, 0x00))
	r.register(StateLogin, Serverbound, func() Packet { return &EncryptionResponse{} }, m(Version1_7_2, 0x01))
	r.register(StateLogin, Clientbound, func() Packet { return &Disconnect{} }, m(Version1_7_2, 0x00))
	r.register(StateLogin, Clientbound, func() Packet { return &EncryptionRequest{} }, m(Version1_7_2, 0x01))
	r.register(StateLogin, Clientbound, func() Packet { return &ServerLoginSuccess{} }, m(Version1_7_2, 0x02))
	r.register(StateLogin, Clientbound, func() Packet { return &SetCompression{} }, m(Version1_8, 0x03))

	r.register(StatePlay, Serverbound, func() Packet { return &Chat{} },
		m(Version1_7_2, 0x01), m(Version1_9, 0x02), m(Version1_12, 0x03), m(Version1_12_1, 0x02), m(Version1_14, 0x03))
	r.register(StatePlay, Serverbound, func() Packet { return &ClientSettings{} },
		m(Version1_7_2, 0x15), m(Version1_9, 0x04), m(Version1_12, 0x05), m(Version1_12_1, 0x04), m(Version1_14, 0x05))
	r.register(StatePlay, Serverbound, func() Packet { return &PluginMessage{} },
		m(Version1_7_2, 0x17), m(Version1_9, 0x09), m(Version1_12, 0x0A), m(Version1_12_1, 0x09), m(Version1_13, 0x0A), m(Version1_14, 0x0B))
	r.register(StatePlay, Serverbound, func() Packet { return &KeepAlive{} },
		m(Version1_7_2, 0x00), m(Version1_9, 0x0B), m(Version1_12, 0x0C), m(Version1_12_1, 0x0B), m(Version1_13, 0x0E), m(Version1_14, 0x0F))

	r.register(StatePlay, Clientbound, func() Packet { return &Chat{} },
		m(Version1_7_2, 0x02), m(Version1_9, 0x0F), m(Version1_13, 0x0E))
	r.register(StatePlay, Clientbound, func() Packet { return &PluginMessage{} },
		m(Version1_7_2, 0x3F), m(Version1_9, 0x18), m(Version1_13, 0x19), m(Version1_14, 0x18))
	r.register(StatePlay, Clientbound, func() Packet { return &Disconnect{} },
		m(Version1_7_2, 0x40), m(Version1_9, 0x1A), m(Version1_13, 0x1B), m(Version1_14, 0x1A))
	r.register(StatePlay, Clientbound, func() Packet { return &KeepAlive{} },
		m(Version1_7_2, 0x00), m(Version1_9, 0x1F), m(Version1_13, 0x21), m(Version1_14, 0x20))
	r.register(StatePlay, Clientbound, func() Packet { return &HeaderAndFooter{} },
		m(Version1_8, 0x47), m(Version1_9, 0x48), m(Version1_9_4, 0x47), m(Version1_12, 0x49), m(Version1_12_1, 0x4A), m(Version1_13, 0x4E), m(Version1_14, 0x53))
	r.register(StatePlay, Clientbound, func() Packet { return &PlayerListItem{} },
		m(Version1_7_2, 0x38), m(Version1_9, 0x2D), m(Version1_12_1, 0x2E), m(Version1_13, 0x30), m(Version1_14, 0x33))

	return r
}

// register expands mappings over SupportedVersions. Conflicting ids are a
// programming error.
func (r *Registry) register(state State, dir Direction, factory func() Packet, mappings ...mapping) {
	typ := reflect.TypeOf(factory())
	for _, v := range SupportedVersions {
		id := -1
		for _, mp := range mappings {
			if mp.from <= v {
				id = mp.id
			}
		}
		if id < 0 {
			continue
		}
		key := packetKey{state: state, dir: dir, version: v, id: id}
		if _, dup := r.factories[key]; dup {
			panic(fmt.Sprintf("protocol: duplicate id 0x%02X for %s %s at %s", id, state, dir, v))
		}
		r.factories[key] = factory
		r.ids[typeKey{state: state, dir: dir, version: v, typ: typ}] = id
	}
}

// lookupVersion maps versions outside the table onto the newest one, so the
// handshake and status states work for clients we do not otherwise support.
func lookupVersion(v Version) Version {
	if v.Supported() {
		return v
	}
	return MaximumVersion
}

// New returns an empty packet for id, or false when unregistered.
func (r *Registry) New(state State, dir Direction, v Version, id int) (Packet, bool) {
	factory, ok := r.factories[packetKey{state: state, dir: dir, version: lookupVersion(v), id: id}]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// ID returns the wire id of p, or false when p has no id in this context.
func (r *Registry) ID(state State, dir Direction, v Version, p Packet) (int, bool) {
	id, ok := r.ids[typeKey{state: state, dir: dir, version: lookupVersion(v), typ: reflect.TypeOf(p)}]
	return id, ok
}

// Decode parses one frame body. Unregistered ids come back as *Unknown. A
// registered packet must consume the whole frame.
func (r *Registry) Decode(state State, dir Direction, v Version, frame []byte) (Packet, error) {
	reader := bytes.NewReader(frame)
	id, err := ReadVarInt(reader)
	if err != nil {
		return nil, err
	}

	p, ok := r.New(state, dir, v, id)
	if !ok {
		return &Unknown{ID: id, Data: ReadRemaining(reader)}, nil
	}

	corrupted := func(err error) error {
		return &CorruptedFrameError{State: state, Direction: dir, Version: v, PacketID: id, Err: err}
	}
	if err := p.Decode(reader, dir, v); err != nil {
		return nil, corrupted(err)
	}
	if reader.Len() > 0 {
		return nil, corrupted(fmt.Errorf("%d bytes left over", reader.Len()))
	}
	return p, nil
}

// Encode serializes p with its id prefix into b. *Unknown packets are written
// back verbatim.
func (r *Registry) Encode(b *PacketBuilder, state State, dir Direction, v Version, p Packet) error {
	if u, ok := p.(*Unknown); ok {
		b.WriteVarInt(u.ID).WriteBytes(u.Data)
		return nil
	}
	id, ok := r.ID(state, dir, v, p)
	if !ok {
		return fmt.Errorf("no id for %T in %s %s at %s", p, state, dir, v)
	}
	b.WriteVarInt(id)
	if err := p.Encode(b, dir, v); err != nil {
		return fmt.Errorf("failed to encode %T: %w", p, err)
	}
	return nil
}

// Decode/Encode make Unknown satisfy Packet so it can flow through handlers.
func (p *Unknown) Decode(r *bytes.Reader, _ Direction, _ Version) error {
	p.Data = ReadRemaining(r)
	return nil
}

func (p *Unknown) Encode(b *PacketBuilder, _ Direction, _ Version) error {
	b.WriteBytes(p.Data)
	return nil
}
