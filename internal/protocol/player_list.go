package protocol

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// PlayerListItem actions.
const (
	ActionAddPlayer         = 0
	ActionUpdateGameMode    = 1
	ActionUpdateLatency     = 2
	ActionUpdateDisplayName = 3
	ActionRemovePlayer      = 4
)

// PlayerListEntry is one row of a PlayerListItem packet. Which fields travel
// on the wire depends on the packet's action.
type PlayerListEntry struct {
	UUID        uuid.UUID
	Name        string
	Properties  []ProfileProperty
	GameMode    int
	Latency     int
	DisplayName string // JSON component, empty when unset
}

// PlayerListItem adds, updates or removes tab list rows. Before 1.8 the packet
// names a single player and carries only an online flag and a ping.
type PlayerListItem struct {
	Action int
	Items  []PlayerListEntry
}

func (p *PlayerListItem) Decode(r *bytes.Reader, _ Direction, v Version) error {
	if v.Legacy() {
		return p.decodeLegacy(r)
	}

	var err error
	if p.Action, err = ReadVarInt(r); err != nil {
		return err
	}
	if p.Action < ActionAddPlayer || p.Action > ActionRemovePlayer {
		return Violationf("unknown player list action %d", p.Action)
	}
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count < 0 || count*16 > r.Len() {
		return Violationf("bad player list count %d", count)
	}

	p.Items = make([]PlayerListEntry, 0, count)
	for i := 0; i < count; i++ {
		var item PlayerListEntry
		if item.UUID, err = ReadUUID(r); err != nil {
			return err
		}
		switch p.Action {
		case ActionAddPlayer:
			if item.Name, err = ReadString(r, MaxUsernameLength); err != nil {
				return err
			}
			if item.Properties, err = ReadProperties(r); err != nil {
				return err
			}
			if item.GameMode, err = ReadVarInt(r); err != nil {
				return err
			}
			if item.Latency, err = ReadVarInt(r); err != nil {
				return err
			}
			if item.DisplayName, err = readOptionalComponent(r); err != nil {
				return err
			}
		case ActionUpdateGameMode:
			if item.GameMode, err = ReadVarInt(r); err != nil {
				return err
			}
		case ActionUpdateLatency:
			if item.Latency, err = ReadVarInt(r); err != nil {
				return err
			}
		case ActionUpdateDisplayName:
			if item.DisplayName, err = readOptionalComponent(r); err != nil {
				return err
			}
		}
		p.Items = append(p.Items, item)
	}
	return nil
}

func (p *PlayerListItem) decodeLegacy(r *bytes.Reader) error {
	name, err := ReadString(r, MaxDefaultString)
	if err != nil {
		return err
	}
	online, err := ReadBool(r)
	if err != nil {
		return err
	}
	ping, err := ReadInt16(r)
	if err != nil {
		return err
	}
	p.Action = ActionRemovePlayer
	if online {
		p.Action = ActionAddPlayer
	}
	p.Items = []PlayerListEntry{{Name: name, Latency: int(ping)}}
	return nil
}

func readOptionalComponent(r *bytes.Reader) (string, error) {
	present, err := ReadBool(r)
	if err != nil || !present {
		return "", err
	}
	return ReadString(r, MaxJSONLength)
}

func (p *PlayerListItem) Encode(b *PacketBuilder, _ Direction, v Version) error {
	if v.Legacy() {
		return p.encodeLegacy(b)
	}
	if p.Action < ActionAddPlayer || p.Action > ActionRemovePlayer {
		return fmt.Errorf("unknown player list action %d", p.Action)
	}

	b.WriteVarInt(p.Action).WriteVarInt(len(p.Items))
	for _, item := range p.Items {
		b.WriteUUID(item.UUID)
		switch p.Action {
		case ActionAddPlayer:
			if err := checkString(item.Name, MaxUsernameLength, "player name"); err != nil {
				return err
			}
			b.WriteString(item.Name).
				WriteProperties(item.Properties).
				WriteVarInt(item.GameMode).
				WriteVarInt(item.Latency)
			writeOptionalComponent(b, item.DisplayName)
		case ActionUpdateGameMode:
			b.WriteVarInt(item.GameMode)
		case ActionUpdateLatency:
			b.WriteVarInt(item.Latency)
		case ActionUpdateDisplayName:
			writeOptionalComponent(b, item.DisplayName)
		}
	}
	return nil
}

func (p *PlayerListItem) encodeLegacy(b *PacketBuilder) error {
	if len(p.Items) != 1 {
		return fmt.Errorf("legacy player list item needs exactly one entry, got %d", len(p.Items))
	}
	item := p.Items[0]
	b.WriteString(item.Name).
		WriteBool(p.Action != ActionRemovePlayer).
		WriteUint16(uint16(int16(item.Latency)))
	return nil
}

func writeOptionalComponent(b *PacketBuilder, component string) {
	b.WriteBool(component != "")
	if component != "" {
		b.WriteString(component)
	}
}
