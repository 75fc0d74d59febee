package protocol

import "bytes"

// Handshake opens every connection and selects the next state.
type Handshake struct {
	ProtocolVersion int
	ServerAddress   string
	Port            uint16
	NextStatus      int
}

func (p *Handshake) Decode(r *bytes.Reader, _ Direction, _ Version) error {
	var err error
	if p.ProtocolVersion, err = ReadVarInt(r); err != nil {
		return err
	}
	if p.ServerAddress, err = ReadString(r, MaxServerAddress); err != nil {
		return err
	}
	if p.Port, err = ReadUint16(r); err != nil {
		return err
	}
	p.NextStatus, err = ReadVarInt(r)
	return err
}

func (p *Handshake) Encode(b *PacketBuilder, _ Direction, _ Version) error {
	if err := checkString(p.ServerAddress, MaxServerAddress, "server address"); err != nil {
		return err
	}
	b.WriteVarInt(p.ProtocolVersion).
		WriteString(p.ServerAddress).
		WriteUint16(p.Port).
		WriteVarInt(p.NextStatus)
	return nil
}
