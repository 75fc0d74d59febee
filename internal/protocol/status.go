package protocol

import "bytes"

// StatusRequest asks for the server list ping document. It has no body.
type StatusRequest struct{}

func (p *StatusRequest) Decode(*bytes.Reader, Direction, Version) error { return nil }

func (p *StatusRequest) Encode(*PacketBuilder, Direction, Version) error { return nil }

// StatusResponse carries the JSON ping document.
type StatusResponse struct {
	Status string
}

func (p *StatusResponse) Decode(r *bytes.Reader, _ Direction, _ Version) error {
	var err error
	p.Status, err = ReadString(r, MaxDefaultString)
	return err
}

func (p *StatusResponse) Encode(b *PacketBuilder, _ Direction, _ Version) error {
	if err := checkString(p.Status, MaxDefaultString, "status"); err != nil {
		return err
	}
	b.WriteString(p.Status)
	return nil
}

// StatusPing is echoed back verbatim by the server.
type StatusPing struct {
	RandomID int64
}

func (p *StatusPing) Decode(r *bytes.Reader, _ Direction, _ Version) error {
	var err error
	p.RandomID, err = ReadInt64(r)
	return err
}

func (p *StatusPing) Encode(b *PacketBuilder, _ Direction, _ Version) error {
	b.WriteInt64(p.RandomID)
	return nil
}
