package compression

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/conduit/internal/protocol"
)

var implementations = []struct {
	name string
	new  Factory
}{
	{ImplementationPortable, NewPortable},
	{ImplementationAccelerated, NewAccelerated},
}

// fixedWriter hides bytes.Buffer's Grow so Deflate takes the staging path.
type fixedWriter struct {
	buf bytes.Buffer
}

func (w *fixedWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

// countingWriter records how many bytes reached it.
type countingWriter struct {
	n int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += len(p)
	return len(p), nil
}

func samples() map[string][]byte {
	rng := rand.New(rand.NewSource(7))
	random := make([]byte, 70000)
	rng.Read(random)
	return map[string][]byte{
		"empty":      {},
		"one byte":   {0x2A},
		"repetitive": bytes.Repeat([]byte("conduit "), 4096),
		"random":     random,
	}
}

func TestRoundTrip(t *testing.T) {
	for _, impl := range implementations {
		for name, data := range samples() {
			t.Run(impl.name+"/"+name, func(t *testing.T) {
				c, err := impl.new(-1)
				require.NoError(t, err)
				defer c.Dispose()

				var growable bytes.Buffer
				require.NoError(t, c.Deflate(data, &growable))

				var staged fixedWriter
				require.NoError(t, c.Deflate(data, &staged))
				assert.Equal(t, growable.Bytes(), staged.buf.Bytes(), "both destination paths produce the same stream")

				var out bytes.Buffer
				require.NoError(t, c.Inflate(growable.Bytes(), &out, len(data)))
				assert.Equal(t, len(data), out.Len())
				assert.True(t, bytes.Equal(data, out.Bytes()))

				// Reusable after a call.
				out.Reset()
				require.NoError(t, c.Inflate(staged.buf.Bytes(), &out, len(data)+1))
				assert.True(t, bytes.Equal(data, out.Bytes()))
			})
		}
	}
}

func TestImplementationsInterchangeable(t *testing.T) {
	data := bytes.Repeat([]byte("tab list entry "), 500)

	portable, err := NewPortable(6)
	require.NoError(t, err)
	accelerated, err := NewAccelerated(6)
	require.NoError(t, err)

	var a, b bytes.Buffer
	require.NoError(t, portable.Deflate(data, &a))
	require.NoError(t, accelerated.Deflate(data, &b))

	var out bytes.Buffer
	require.NoError(t, accelerated.Inflate(a.Bytes(), &out, len(data)))
	assert.Equal(t, data, out.Bytes())
	out.Reset()
	require.NoError(t, portable.Inflate(b.Bytes(), &out, len(data)))
	assert.Equal(t, data, out.Bytes())
}

func TestInflateSizeLimit(t *testing.T) {
	for _, impl := range implementations {
		t.Run(impl.name, func(t *testing.T) {
			c, err := impl.new(-1)
			require.NoError(t, err)
			defer c.Dispose()

			data := bytes.Repeat([]byte{0}, 1<<20)
			var compressed bytes.Buffer
			require.NoError(t, c.Deflate(data, &compressed))

			for _, max := range []int{0, 1, BufferSize - 1, BufferSize, len(data) - 1} {
				var sink countingWriter
				err := c.Inflate(compressed.Bytes(), &sink, max)
				assert.ErrorIs(t, err, ErrSizeLimitExceeded, "max %d", max)
				assert.LessOrEqual(t, sink.n, max)
			}
		})
	}
}

func TestInflateMalformed(t *testing.T) {
	for _, impl := range implementations {
		t.Run(impl.name, func(t *testing.T) {
			c, err := impl.new(-1)
			require.NoError(t, err)
			defer c.Dispose()

			err = c.Inflate([]byte{0xDE, 0xAD, 0xBE, 0xEF}, io.Discard, 1024)
			assert.ErrorIs(t, err, ErrMalformedStream)

			var good bytes.Buffer
			require.NoError(t, c.Deflate([]byte("hello, world"), &good))
			truncated := good.Bytes()[:good.Len()-3]
			err = c.Inflate(truncated, io.Discard, 1024)
			assert.ErrorIs(t, err, ErrMalformedStream)

			// A failed call leaves the instance usable.
			var out bytes.Buffer
			require.NoError(t, c.Inflate(good.Bytes(), &out, 1024))
			assert.Equal(t, "hello, world", out.String())
		})
	}
}

func TestDispose(t *testing.T) {
	for _, impl := range implementations {
		t.Run(impl.name, func(t *testing.T) {
			c, err := impl.new(-1)
			require.NoError(t, err)

			c.Dispose()
			c.Dispose()

			assert.ErrorIs(t, c.Deflate([]byte("x"), &bytes.Buffer{}), ErrDisposed)
			assert.ErrorIs(t, c.Inflate([]byte{0x78, 0x9C}, &bytes.Buffer{}, 10), ErrDisposed)
		})
	}
}

func TestSelect(t *testing.T) {
	name, f, err := Select("auto")
	require.NoError(t, err)
	assert.Equal(t, ImplementationAccelerated, name)
	assert.NotNil(t, f)

	name, _, err = Select("Portable")
	require.NoError(t, err)
	assert.Equal(t, ImplementationPortable, name)

	_, _, err = Select("lz4")
	assert.Error(t, err)
}

func TestCodec(t *testing.T) {
	c, err := NewPortable(-1)
	require.NoError(t, err)
	codec := NewCodec(c, 256, 4096)
	defer codec.Dispose()

	small := []byte("short body")
	var frame bytes.Buffer
	require.NoError(t, codec.Encode(&frame, small))
	assert.Equal(t, byte(0x00), frame.Bytes()[0], "below threshold is tagged uncompressed")
	got, err := codec.Decode(frame.Bytes())
	require.NoError(t, err)
	assert.Equal(t, small, got)

	large := bytes.Repeat([]byte("x"), 1000)
	frame.Reset()
	require.NoError(t, codec.Encode(&frame, large))
	assert.Less(t, frame.Len(), len(large))
	got, err = codec.Decode(frame.Bytes())
	require.NoError(t, err)
	assert.Equal(t, large, got)
}

func TestCodecRejectsBadClaims(t *testing.T) {
	c, err := NewAccelerated(-1)
	require.NoError(t, err)
	codec := NewCodec(c, 256, 4096)
	defer codec.Dispose()

	var body bytes.Buffer
	require.NoError(t, c.Deflate(bytes.Repeat([]byte("y"), 5000), &body))

	overCeiling := append(protocol.AppendVarInt(nil, 5000), body.Bytes()...)
	_, err = codec.Decode(overCeiling)
	assert.ErrorIs(t, err, ErrSizeLimitExceeded)

	// Peer lies low about the size; inflation stops at the claim.
	lying := append(protocol.AppendVarInt(nil, 300), body.Bytes()...)
	_, err = codec.Decode(lying)
	assert.ErrorIs(t, err, ErrSizeLimitExceeded)

	belowThreshold := append(protocol.AppendVarInt(nil, 10), body.Bytes()...)
	_, err = codec.Decode(belowThreshold)
	assert.ErrorIs(t, err, protocol.ErrProtocolViolation)
}
