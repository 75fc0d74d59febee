package network

import (
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/energizer-project/conduit/internal/protocol"
)

// MaxFrameLength is the largest length a three byte VarInt prefix can carry.
const MaxFrameLength = 1<<21 - 1

const maxPrefixBytes = 3

// FrameDecoder splits an inbound byte stream into length-prefixed frames.
// Bytes may be fed in arbitrary fragments; frames are only emitted whole.
// It is owned by a single goroutine.
type FrameDecoder struct {
	buf   []byte
	start int

	seenFirst    bool
	legacy       bool
	legacyFormat protocol.LegacyPingFormat
}

// NewFrameDecoder creates a decoder with an empty buffer.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{buf: make([]byte, 0, 4096)}
}

// Feed appends freshly read bytes. The first byte of the connection decides
// whether it is a legacy server list ping.
func (d *FrameDecoder) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	if !d.seenFirst {
		d.seenFirst = true
		if p[0] == protocol.LegacyPingMagic {
			d.legacy = true
			d.legacyFormat = protocol.DetectLegacyPing(p[1:])
			return
		}
	}
	if d.legacy {
		return
	}

	// Compact once the consumed prefix dominates the buffer.
	if d.start > 0 && d.start >= len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.start:])
		d.buf = d.buf[:n]
		d.start = 0
	}
	d.buf = append(d.buf, p...)
}

// Legacy reports whether the connection opened with a legacy ping.
func (d *FrameDecoder) Legacy() (protocol.LegacyPingFormat, bool) {
	return d.legacyFormat, d.legacy
}

// Next returns the next complete frame payload, or ok=false when more bytes
// are needed. The returned slice aliases the decoder's buffer and is only
// valid until the next call to Feed. Zero-length frames are skipped.
func (d *FrameDecoder) Next() (frame []byte, ok bool, err error) {
	for {
		pending := d.buf[d.start:]
		length, prefix, err := readFramePrefix(pending)
		if err != nil || prefix == 0 {
			return nil, false, err
		}
		if len(pending)-prefix < length {
			return nil, false, nil
		}
		d.start += prefix + length
		if length == 0 {
			continue
		}
		return pending[prefix : prefix+length], true, nil
	}
}

// Pending returns the number of buffered bytes not yet emitted.
func (d *FrameDecoder) Pending() int {
	return len(d.buf) - d.start
}

// DecryptPending runs s over the buffered bytes in place. It is used when
// encryption starts while bytes the peer sent after enabling it are already
// buffered.
func (d *FrameDecoder) DecryptPending(s cipher.Stream) {
	pending := d.buf[d.start:]
	s.XORKeyStream(pending, pending)
}

// readFramePrefix parses a VarInt length. prefix is 0 when more bytes are
// needed.
func readFramePrefix(p []byte) (length, prefix int, err error) {
	var value int
	for i := 0; i < maxPrefixBytes; i++ {
		if i >= len(p) {
			return 0, 0, nil
		}
		b := p[i]
		value |= int(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, protocol.Violationf("VarInt too big")
}

// AppendFrame appends payload with its length prefix to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameLength {
		return dst, fmt.Errorf("frame of %d bytes exceeds %d", len(payload), MaxFrameLength)
	}
	dst = protocol.AppendVarInt(dst, len(payload))
	return append(dst, payload...), nil
}

// WriteFrame writes one framed payload to w.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := AppendFrame(make([]byte, 0, len(payload)+maxPrefixBytes), payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
