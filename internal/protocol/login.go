package protocol

import (
	"bytes"

	"github.com/google/uuid"
)

// ServerLogin starts the login sequence with the client's chosen name.
type ServerLogin struct {
	Username string
}

func (p *ServerLogin) Decode(r *bytes.Reader, _ Direction, _ Version) error {
	var err error
	p.Username, err = ReadString(r, MaxUsernameLength)
	return err
}

func (p *ServerLogin) Encode(b *PacketBuilder, _ Direction, _ Version) error {
	if err := checkString(p.Username, MaxUsernameLength, "username"); err != nil {
		return err
	}
	b.WriteString(p.Username)
	return nil
}

// EncryptionRequest hands the client the server's public key and a verify
// token to encrypt.
type EncryptionRequest struct {
	ServerID    string
	PublicKey   []byte
	VerifyToken []byte
}

func (p *EncryptionRequest) Decode(r *bytes.Reader, _ Direction, v Version) error {
	var err error
	if p.ServerID, err = ReadString(r, MaxServerIDLength); err != nil {
		return err
	}
	if p.PublicKey, err = ReadVersionedByteArray(r, v, MaxPublicKeyLength); err != nil {
		return err
	}
	p.VerifyToken, err = ReadVersionedByteArray(r, v, MaxVerifyTokenLength)
	return err
}

func (p *EncryptionRequest) Encode(b *PacketBuilder, _ Direction, v Version) error {
	if err := checkString(p.ServerID, MaxServerIDLength, "server id"); err != nil {
		return err
	}
	if err := checkArray(p.PublicKey, MaxPublicKeyLength, "public key"); err != nil {
		return err
	}
	if err := checkArray(p.VerifyToken, MaxVerifyTokenLength, "verify token"); err != nil {
		return err
	}
	b.WriteString(p.ServerID).
		WriteVersionedByteArray(p.PublicKey, v).
		WriteVersionedByteArray(p.VerifyToken, v)
	return nil
}

// EncryptionResponse returns the RSA-encrypted shared secret and verify token.
// Both arrays are capped in every version; 1.7 prefixes them with an unsigned
// short instead of a VarInt.
type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
}

func (p *EncryptionResponse) Decode(r *bytes.Reader, _ Direction, v Version) error {
	var err error
	if p.SharedSecret, err = ReadVersionedByteArray(r, v, MaxSharedSecretLength); err != nil {
		return err
	}
	p.VerifyToken, err = ReadVersionedByteArray(r, v, MaxVerifyTokenLength)
	return err
}

func (p *EncryptionResponse) Encode(b *PacketBuilder, _ Direction, v Version) error {
	if err := checkArray(p.SharedSecret, MaxSharedSecretLength, "shared secret"); err != nil {
		return err
	}
	if err := checkArray(p.VerifyToken, MaxVerifyTokenLength, "verify token"); err != nil {
		return err
	}
	b.WriteVersionedByteArray(p.SharedSecret, v).
		WriteVersionedByteArray(p.VerifyToken, v)
	return nil
}

// ServerLoginSuccess ends the login state.
type ServerLoginSuccess struct {
	UUID     uuid.UUID
	Username string
}

func (p *ServerLoginSuccess) Decode(r *bytes.Reader, _ Direction, _ Version) error {
	raw, err := ReadString(r, 36)
	if err != nil {
		return err
	}
	if p.UUID, err = uuid.Parse(raw); err != nil {
		return Violationf("bad uuid %q: %v", raw, err)
	}
	p.Username, err = ReadString(r, MaxUsernameLength)
	return err
}

func (p *ServerLoginSuccess) Encode(b *PacketBuilder, _ Direction, _ Version) error {
	if err := checkString(p.Username, MaxUsernameLength, "username"); err != nil {
		return err
	}
	b.WriteString(p.UUID.String()).WriteString(p.Username)
	return nil
}

// SetCompression enables compression for every later frame in both
// directions. Only sent to 1.8+ clients.
type SetCompression struct {
	Threshold int
}

func (p *SetCompression) Decode(r *bytes.Reader, _ Direction, _ Version) error {
	var err error
	p.Threshold, err = ReadVarInt(r)
	return err
}

func (p *SetCompression) Encode(b *PacketBuilder, _ Direction, _ Version) error {
	b.WriteVarInt(p.Threshold)
	return nil
}

// Disconnect carries a JSON text component. It is registered in both the
// login and play states.
type Disconnect struct {
	Reason string
}

func (p *Disconnect) Decode(r *bytes.Reader, _ Direction, _ Version) error {
	var err error
	p.Reason, err = ReadString(r, MaxJSONLength)
	return err
}

func (p *Disconnect) Encode(b *PacketBuilder, _ Direction, _ Version) error {
	b.WriteString(p.Reason)
	return nil
}
