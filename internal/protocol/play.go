package protocol

import "bytes"

// KeepAlive is echoed by the client; the payload type widened over time.
type KeepAlive struct {
	RandomID int64
}

func (p *KeepAlive) Decode(r *bytes.Reader, _ Direction, v Version) error {
	switch {
	case v >= Version1_12_2:
		id, err := ReadInt64(r)
		p.RandomID = id
		return err
	case v >= Version1_8:
		id, err := ReadVarInt(r)
		p.RandomID = int64(id)
		return err
	default:
		id, err := ReadInt32(r)
		p.RandomID = int64(id)
		return err
	}
}

func (p *KeepAlive) Encode(b *PacketBuilder, _ Direction, v Version) error {
	switch {
	case v >= Version1_12_2:
		b.WriteInt64(p.RandomID)
	case v >= Version1_8:
		b.WriteVarInt(int(p.RandomID))
	default:
		b.WriteInt32(int32(p.RandomID))
	}
	return nil
}

// Chat positions for clientbound messages.
const (
	ChatPositionChat   byte = 0
	ChatPositionSystem byte = 1
	ChatPositionAction byte = 2
)

// Chat is a plain message serverbound and a JSON component clientbound.
type Chat struct {
	Message  string
	Position byte
}

// MaxServerboundChat returns the longest message a client of v may send.
func MaxServerboundChat(v Version) int {
	if v >= Version1_11 {
		return MaxChatLength
	}
	return MaxLegacyChatLength
}

func (p *Chat) Decode(r *bytes.Reader, dir Direction, v Version) error {
	max := MaxJSONLength
	if dir == Serverbound {
		max = MaxServerboundChat(v)
	}
	var err error
	if p.Message, err = ReadString(r, max); err != nil {
		return err
	}
	if dir == Clientbound && v >= Version1_8 {
		p.Position, err = ReadByte(r)
	}
	return err
}

func (p *Chat) Encode(b *PacketBuilder, dir Direction, v Version) error {
	if dir == Serverbound {
		if err := checkString(p.Message, MaxServerboundChat(v), "chat message"); err != nil {
			return err
		}
	}
	b.WriteString(p.Message)
	if dir == Clientbound && v >= Version1_8 {
		b.WriteByte(p.Position)
	}
	return nil
}

// ClientSettings reports locale and rendering preferences.
type ClientSettings struct {
	Locale         string
	ViewDistance   byte
	ChatVisibility int
	ChatColors     bool
	Difficulty     byte // 1.7 only
	SkinParts      byte
	MainHand       int // 1.9+
}

func (p *ClientSettings) Decode(r *bytes.Reader, _ Direction, v Version) error {
	var err error
	if p.Locale, err = ReadString(r, 16); err != nil {
		return err
	}
	if p.ViewDistance, err = ReadByte(r); err != nil {
		return err
	}
	if p.ChatVisibility, err = ReadVarInt(r); err != nil {
		return err
	}
	if p.ChatColors, err = ReadBool(r); err != nil {
		return err
	}
	if v <= Version1_7_6 {
		if p.Difficulty, err = ReadByte(r); err != nil {
			return err
		}
	}
	if p.SkinParts, err = ReadByte(r); err != nil {
		return err
	}
	if v >= Version1_9 {
		p.MainHand, err = ReadVarInt(r)
	}
	return err
}

func (p *ClientSettings) Encode(b *PacketBuilder, _ Direction, v Version) error {
	if err := checkString(p.Locale, 16, "locale"); err != nil {
		return err
	}
	b.WriteString(p.Locale).
		WriteByte(p.ViewDistance).
		WriteVarInt(p.ChatVisibility).
		WriteBool(p.ChatColors)
	if v <= Version1_7_6 {
		b.WriteByte(p.Difficulty)
	}
	b.WriteByte(p.SkinParts)
	if v >= Version1_9 {
		b.WriteVarInt(p.MainHand)
	}
	return nil
}

// PluginMessage is an opaque channel payload.
type PluginMessage struct {
	Channel string
	Data    []byte
}

func (p *PluginMessage) Decode(r *bytes.Reader, _ Direction, v Version) error {
	var err error
	if p.Channel, err = ReadString(r, MaxDefaultString); err != nil {
		return err
	}
	if v.Legacy() {
		p.Data, err = ReadLegacyByteArray(r, MaxPluginMessageSize)
		return err
	}
	p.Data = ReadRemaining(r)
	return nil
}

func (p *PluginMessage) Encode(b *PacketBuilder, _ Direction, v Version) error {
	b.WriteString(p.Channel)
	if v.Legacy() {
		if err := checkArray(p.Data, MaxPluginMessageSize, "plugin message"); err != nil {
			return err
		}
		b.WriteLegacyByteArray(p.Data)
		return nil
	}
	b.WriteBytes(p.Data)
	return nil
}

// HeaderAndFooter sets the tab list header and footer (1.8+). Both are JSON
// components.
type HeaderAndFooter struct {
	Header string
	Footer string
}

// EmptyComponent is the JSON text component that renders nothing.
const EmptyComponent = `{"translate":""}`

func (p *HeaderAndFooter) Decode(r *bytes.Reader, _ Direction, _ Version) error {
	var err error
	if p.Header, err = ReadString(r, MaxJSONLength); err != nil {
		return err
	}
	p.Footer, err = ReadString(r, MaxJSONLength)
	return err
}

func (p *HeaderAndFooter) Encode(b *PacketBuilder, _ Direction, _ Version) error {
	b.WriteString(p.Header).WriteString(p.Footer)
	return nil
}
