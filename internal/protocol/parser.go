package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxVarIntBytes is the longest legal VarInt encoding.
const MaxVarIntBytes = 5

// ReadVarInt reads a 7-bit group VarInt of at most five bytes.
func ReadVarInt(r io.ByteReader) (int, error) {
	var result uint32
	for i := 0; i < MaxVarIntBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, Violationf("failed to read varint: %v", err)
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int(int32(result)), nil
		}
	}
	return 0, Violationf("varint too big")
}

// ReadString reads a VarInt-prefixed UTF-8 string of at most max characters.
func ReadString(r *bytes.Reader, max int) (string, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", Violationf("negative string length %d", length)
	}
	if length > max*4 {
		return "", Violationf("string too long: %d bytes (max %d chars)", length, max)
	}
	if length > r.Len() {
		return "", Violationf("string length %d exceeds remaining %d bytes", length, r.Len())
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", Violationf("failed to read string: %v", err)
	}
	if n := utf8.RuneCount(buf); n > max {
		return "", Violationf("string too long: %d chars (max %d)", n, max)
	}
	return string(buf), nil
}

// ReadByteArray reads a VarInt-prefixed byte array capped at max bytes.
func ReadByteArray(r *bytes.Reader, max int) ([]byte, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	return readArrayBody(r, length, max)
}

// ReadLegacyByteArray reads the 1.7 form of a byte array: an unsigned short
// length prefix. The same cap applies as for ReadByteArray.
func ReadLegacyByteArray(r *bytes.Reader, max int) ([]byte, error) {
	length, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	return readArrayBody(r, int(length), max)
}

func readArrayBody(r *bytes.Reader, length, max int) ([]byte, error) {
	if length < 0 {
		return nil, Violationf("negative array length %d", length)
	}
	if length > max {
		return nil, Violationf("byte array too long: %d (max %d)", length, max)
	}
	if length > r.Len() {
		return nil, Violationf("array length %d exceeds remaining %d bytes", length, r.Len())
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, Violationf("failed to read array: %v", err)
	}
	return buf, nil
}

// ReadVersionedByteArray picks the array layout for v.
func ReadVersionedByteArray(r *bytes.Reader, v Version, max int) ([]byte, error) {
	if v.Legacy() {
		return ReadLegacyByteArray(r, max)
	}
	return ReadByteArray(r, max)
}

func ReadByte(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, Violationf("failed to read byte: %v", err)
	}
	return b, nil
}

func ReadBool(r *bytes.Reader) (bool, error) {
	b, err := ReadByte(r)
	return b != 0, err
}

func ReadUint16(r *bytes.Reader) (uint16, error) {
	var v uint16
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, Violationf("failed to read short: %v", err)
	}
	return v, nil
}

func ReadInt16(r *bytes.Reader) (int16, error) {
	v, err := ReadUint16(r)
	return int16(v), err
}

func ReadInt32(r *bytes.Reader) (int32, error) {
	var v int32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, Violationf("failed to read int: %v", err)
	}
	return v, nil
}

func ReadInt64(r *bytes.Reader) (int64, error) {
	var v int64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, Violationf("failed to read long: %v", err)
	}
	return v, nil
}

// ReadUUID reads a UUID as two big-endian longs.
func ReadUUID(r *bytes.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return uuid.Nil, Violationf("failed to read uuid: %v", err)
	}
	return id, nil
}

// ReadProperties reads a VarInt-counted list of signed profile properties.
func ReadProperties(r *bytes.Reader) ([]ProfileProperty, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count < 0 || count > r.Len() {
		return nil, Violationf("bad property count %d", count)
	}
	props := make([]ProfileProperty, 0, count)
	for i := 0; i < count; i++ {
		var p ProfileProperty
		if p.Name, err = ReadString(r, MaxDefaultString); err != nil {
			return nil, err
		}
		if p.Value, err = ReadString(r, MaxDefaultString); err != nil {
			return nil, err
		}
		signed, err := ReadBool(r)
		if err != nil {
			return nil, err
		}
		if signed {
			if p.Signature, err = ReadString(r, MaxDefaultString); err != nil {
				return nil, err
			}
		}
		props = append(props, p)
	}
	return props, nil
}

// ReadRemaining drains the reader.
func ReadRemaining(r *bytes.Reader) []byte {
	buf := make([]byte, r.Len())
	_, _ = io.ReadFull(r, buf)
	return buf
}
