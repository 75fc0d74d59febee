package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// PacketBuilder constructs packet bodies. Writes never fail; size checks that
// depend on the protocol are made by the packet's Encode before writing.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteByte(1)
	}
	return b.WriteByte(0)
}

func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.buf.Write(tmp[:])
	return b
}

func (b *PacketBuilder) WriteInt64(v int64) *PacketBuilder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteVarInt writes v in 7-bit groups, low group first.
func (b *PacketBuilder) WriteVarInt(v int) *PacketBuilder {
	b.buf.Write(AppendVarInt(nil, v))
	return b
}

// WriteString writes a VarInt-prefixed UTF-8 string.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.WriteVarInt(len(s))
	b.buf.WriteString(s)
	return b
}

// WriteByteArray writes a VarInt-prefixed byte array.
func (b *PacketBuilder) WriteByteArray(data []byte) *PacketBuilder {
	b.WriteVarInt(len(data))
	b.buf.Write(data)
	return b
}

// WriteLegacyByteArray writes the 1.7 unsigned-short-prefixed byte array.
func (b *PacketBuilder) WriteLegacyByteArray(data []byte) *PacketBuilder {
	b.WriteUint16(uint16(len(data)))
	b.buf.Write(data)
	return b
}

// WriteVersionedByteArray picks the array layout for v.
func (b *PacketBuilder) WriteVersionedByteArray(data []byte, v Version) *PacketBuilder {
	if v.Legacy() {
		return b.WriteLegacyByteArray(data)
	}
	return b.WriteByteArray(data)
}

func (b *PacketBuilder) WriteUUID(id uuid.UUID) *PacketBuilder {
	b.buf.Write(id[:])
	return b
}

func (b *PacketBuilder) WriteProperties(props []ProfileProperty) *PacketBuilder {
	b.WriteVarInt(len(props))
	for _, p := range props {
		b.WriteString(p.Name)
		b.WriteString(p.Value)
		b.WriteBool(p.Signature != "")
		if p.Signature != "" {
			b.WriteString(p.Signature)
		}
	}
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed bytes. The slice aliases the builder.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// AppendVarInt appends the VarInt encoding of v to dst.
func AppendVarInt(dst []byte, v int) []byte {
	u := uint32(v)
	for {
		if u&^0x7F == 0 {
			return append(dst, byte(u))
		}
		dst = append(dst, byte(u&0x7F)|0x80)
		u >>= 7
	}
}

// VarIntSize returns the number of bytes AppendVarInt would write.
func VarIntSize(v int) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

func checkString(s string, max int, field string) error {
	if n := utf8.RuneCountInString(s); n > max {
		return fmt.Errorf("%s too long: %d chars (max %d)", field, n, max)
	}
	return nil
}

func checkArray(data []byte, max int, field string) error {
	if len(data) > max {
		return fmt.Errorf("%s too long: %d bytes (max %d)", field, len(data), max)
	}
	return nil
}
