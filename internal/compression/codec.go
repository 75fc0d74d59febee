package compression

import (
	"bytes"
	"fmt"

	"github.com/energizer-project/conduit/internal/protocol"
)

// DefaultMaxUncompressed is the ceiling applied to a claimed decompressed size.
const DefaultMaxUncompressed = 8 * 1024 * 1024

// Codec applies the compressed frame convention: every frame body starts with
// a VarInt uncompressed size, 0 meaning the rest is stored as is.
type Codec struct {
	compressor Compressor
	threshold  int
	ceiling    int
	inflated   bytes.Buffer
}

// NewCodec wraps c. Bodies of at least threshold bytes are deflated; claimed
// sizes above ceiling are rejected before inflating.
func NewCodec(c Compressor, threshold, ceiling int) *Codec {
	if ceiling <= 0 {
		ceiling = DefaultMaxUncompressed
	}
	return &Codec{compressor: c, threshold: threshold, ceiling: ceiling}
}

// Threshold returns the negotiated size threshold.
func (c *Codec) Threshold() int { return c.threshold }

// Encode appends the compressed-frame form of body to dst.
func (c *Codec) Encode(dst *bytes.Buffer, body []byte) error {
	if len(body) < c.threshold {
		dst.Write(protocol.AppendVarInt(nil, 0))
		dst.Write(body)
		return nil
	}
	dst.Write(protocol.AppendVarInt(nil, len(body)))
	return c.compressor.Deflate(body, dst)
}

// Decode returns the packet body carried by frame. The returned slice is only
// valid until the next call.
func (c *Codec) Decode(frame []byte) ([]byte, error) {
	r := bytes.NewReader(frame)
	claimed, err := protocol.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	rest := frame[len(frame)-r.Len():]

	if claimed == 0 {
		return rest, nil
	}
	if claimed < 0 {
		return nil, protocol.Violationf("negative uncompressed size %d", claimed)
	}
	if claimed < c.threshold {
		return nil, protocol.Violationf("uncompressed size %d is below threshold %d", claimed, c.threshold)
	}
	if claimed > c.ceiling {
		return nil, fmt.Errorf("%w: claimed size %d exceeds ceiling %d", ErrSizeLimitExceeded, claimed, c.ceiling)
	}

	c.inflated.Reset()
	if err := c.compressor.Inflate(rest, &c.inflated, claimed); err != nil {
		return nil, err
	}
	if c.inflated.Len() != claimed {
		return nil, fmt.Errorf("%w: inflated %d bytes, claimed %d", ErrMalformedStream, c.inflated.Len(), claimed)
	}
	return c.inflated.Bytes(), nil
}

// Dispose releases the underlying compressor.
func (c *Codec) Dispose() {
	c.compressor.Dispose()
}
